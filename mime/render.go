package mime

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/synqronlabs/courier/message"
	"github.com/synqronlabs/courier/utils"
)

// Options controls rendering.
type Options struct {
	// LineWidth wraps base64 attachment bodies at this many characters.
	// Zero leaves them unwrapped.
	LineWidth int
}

// ErrUnknownBody is returned when an Email carries no recognised Body.
var ErrUnknownBody = errors.New("mime: unknown body type")

var headerSanitizer = strings.NewReplacer("\r", " ", "\n", " ")

// Render produces the complete message submitted after DATA, with CRLF line
// endings. The output is not dot-stuffed.
func Render(e *message.Email, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	writeEnvelopeHeaders(&buf, e)

	if !e.IsMultipart() {
		if err := writeSinglePart(&buf, e.Body); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	boundary := NewBoundary(bodyContents(e.Body)...)
	writeHeader(&buf, "Content-Type", mime.FormatMediaType("multipart/mixed", map[string]string{"boundary": boundary}))
	buf.WriteString("\r\n")

	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary(boundary); err != nil {
		return nil, fmt.Errorf("mime: boundary: %w", err)
	}

	if err := writeBodyPart(mw, e.Body); err != nil {
		return nil, err
	}
	for _, a := range e.Attachments {
		if err := writeAttachment(mw, a, opts.LineWidth); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, name, value string) {
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(headerSanitizer.Replace(value))
	buf.WriteString("\r\n")
}

func formatAddress(c message.Contact) string {
	a := mail.Address{Name: c.Name, Address: c.Address}
	return a.String()
}

func formatAddressList(contacts []message.Contact) string {
	formatted := make([]string, len(contacts))
	for i, c := range contacts {
		formatted[i] = formatAddress(c)
	}
	return strings.Join(formatted, ", ")
}

func writeEnvelopeHeaders(buf *bytes.Buffer, e *message.Email) {
	writeHeader(buf, "From", formatAddress(e.Sender))
	if e.ReplyTo != nil {
		writeHeader(buf, "Reply-To", formatAddress(*e.ReplyTo))
	}
	writeHeader(buf, "To", formatAddressList(e.Recipients))
	if len(e.CC) > 0 {
		writeHeader(buf, "Cc", formatAddressList(e.CC))
	}
	writeHeader(buf, "Subject", mime.BEncoding.Encode("utf-8", e.Subject))

	id := e.ID
	if id == "" {
		id = message.NewMessageID(e.Sender.Domain())
	}
	writeHeader(buf, "Message-ID", id)
	if e.InReplyTo != "" {
		writeHeader(buf, "In-Reply-To", e.InReplyTo)
	}

	date := e.Date
	if date.IsZero() {
		date = time.Now()
	}
	writeHeader(buf, "Date", date.Format(time.RFC1123Z))
	writeHeader(buf, "MIME-Version", "1.0")
}

// encodeText picks a transfer encoding for text and applies it.
func encodeText(text string) (ContentTransferEncoding, string, error) {
	normalized := utils.NormalizeLineEndings(text)
	if !needsQuotedPrintable(normalized) {
		return Encoding7Bit, normalized, nil
	}

	var b strings.Builder
	qp := quotedprintable.NewWriter(&b)
	if _, err := qp.Write([]byte(normalized)); err != nil {
		return "", "", err
	}
	if err := qp.Close(); err != nil {
		return "", "", err
	}
	return EncodingQuotedPrintable, b.String(), nil
}

func textHeader(mediaType string, cte ContentTransferEncoding) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", mime.FormatMediaType(mediaType, map[string]string{"charset": "utf-8"}))
	h.Set("Content-Transfer-Encoding", string(cte))
	return h
}

func writeSinglePart(buf *bytes.Buffer, body message.Body) error {
	var mediaType, text string
	switch b := body.(type) {
	case message.PlainBody:
		mediaType, text = "text/plain", b.Text
	case message.HTMLBody:
		mediaType, text = "text/html", b.HTML
	case message.UniversalBody:
		return errors.New("mime: universal body requires multipart rendering")
	default:
		return ErrUnknownBody
	}

	cte, encoded, err := encodeText(text)
	if err != nil {
		return err
	}
	h := textHeader(mediaType, cte)
	writeHeader(buf, "Content-Type", h.Get("Content-Type"))
	writeHeader(buf, "Content-Transfer-Encoding", h.Get("Content-Transfer-Encoding"))
	buf.WriteString("\r\n")
	buf.WriteString(encoded)
	return nil
}

func writeTextPart(mw *multipart.Writer, mediaType, text string) error {
	cte, encoded, err := encodeText(text)
	if err != nil {
		return err
	}
	w, err := mw.CreatePart(textHeader(mediaType, cte))
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, encoded)
	return err
}

func writeBodyPart(mw *multipart.Writer, body message.Body) error {
	switch b := body.(type) {
	case message.PlainBody:
		return writeTextPart(mw, "text/plain", b.Text)
	case message.HTMLBody:
		return writeTextPart(mw, "text/html", b.HTML)
	case message.UniversalBody:
		boundary := NewBoundary([]byte(b.Text), []byte(b.HTML), []byte(mw.Boundary()))
		h := make(textproto.MIMEHeader)
		h.Set("Content-Type", mime.FormatMediaType("multipart/alternative", map[string]string{"boundary": boundary}))
		w, err := mw.CreatePart(h)
		if err != nil {
			return err
		}

		alt := multipart.NewWriter(w)
		if err := alt.SetBoundary(boundary); err != nil {
			return err
		}
		if err := writeTextPart(alt, "text/plain", b.Text); err != nil {
			return err
		}
		if err := writeTextPart(alt, "text/html", b.HTML); err != nil {
			return err
		}
		return alt.Close()
	default:
		return ErrUnknownBody
	}
}

func writeAttachment(mw *multipart.Writer, a message.Attachment, width int) error {
	mediaType, params, err := mime.ParseMediaType(a.ContentType)
	if err != nil {
		mediaType, params = "application/octet-stream", map[string]string{}
	}
	name := a.Name
	if name == "" {
		name = "attachment"
	}
	params["name"] = name

	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", mime.FormatMediaType(mediaType, params))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	h.Set("Content-Transfer-Encoding", string(EncodingBase64))

	w, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, EncodeBase64(a.Data, width))
	return err
}

func bodyContents(body message.Body) [][]byte {
	switch b := body.(type) {
	case message.PlainBody:
		return [][]byte{[]byte(b.Text)}
	case message.HTMLBody:
		return [][]byte{[]byte(b.HTML)}
	case message.UniversalBody:
		return [][]byte{[]byte(b.Text), []byte(b.HTML)}
	default:
		return nil
	}
}
