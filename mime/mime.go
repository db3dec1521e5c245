// Package mime renders outgoing messages into RFC 2045/2046 MIME and parses
// them back into a part tree.
package mime

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
)

// ContentTransferEncoding represents the encoding used for the MIME part's body.
type ContentTransferEncoding string

const (
	// Encoding7Bit is for 7-bit ASCII data (RFC 2045 default).
	Encoding7Bit ContentTransferEncoding = "7bit"
	// Encoding8Bit is for 8-bit data (requires 8BITMIME).
	Encoding8Bit ContentTransferEncoding = "8bit"
	// EncodingQuotedPrintable is for quoted-printable encoding.
	EncodingQuotedPrintable ContentTransferEncoding = "quoted-printable"
	// EncodingBase64 is for base64 encoding.
	EncodingBase64 ContentTransferEncoding = "base64"
)

// ErrInvalidCompositeEncoding is returned for composite parts that declare a
// transfer encoding other than 7bit, 8bit or binary (RFC 2045).
var ErrInvalidCompositeEncoding = errors.New("composite types (multipart, message) can only use 7bit, 8bit, or binary encoding")

// IsCompositeType returns true if the media type is a composite type (multipart or message).
func IsCompositeType(mediaType string) bool {
	return strings.HasPrefix(mediaType, "multipart/") || strings.HasPrefix(mediaType, "message/")
}

// Part represents a MIME body part (RFC 2045, RFC 2046). Body holds the
// content with its transfer encoding removed.
type Part struct {
	ContentType             string
	ContentTransferEncoding ContentTransferEncoding
	Charset                 string
	Filename                string
	Body                    []byte
	Parts                   []*Part
}

// IsMultipart returns true if this part is a multipart container.
func (p *Part) IsMultipart() bool {
	return strings.HasPrefix(p.ContentType, "multipart/") && len(p.Parts) > 0
}

// Walk calls fn for p and every descendant, depth first.
func (p *Part) Walk(fn func(*Part)) {
	fn(p)
	for _, child := range p.Parts {
		child.Walk(fn)
	}
}

// Message is a parsed message: its top-level header and body part tree.
type Message struct {
	Header mail.Header
	// Subject is the decoded Subject header.
	Subject string
	Root    *Part
}

// Text returns the body of the first leaf part with the given media type
// that is not an attachment.
func (m *Message) Text(mediaType string) (string, bool) {
	var found *Part
	m.Root.Walk(func(p *Part) {
		if found == nil && p.ContentType == mediaType && p.Filename == "" && len(p.Parts) == 0 {
			found = p
		}
	})
	if found == nil {
		return "", false
	}
	return string(found.Body), true
}

// Attachments returns every leaf part carrying a filename, in order.
func (m *Message) Attachments() []*Part {
	var parts []*Part
	m.Root.Walk(func(p *Part) {
		if p.Filename != "" {
			parts = append(parts, p)
		}
	})
	return parts
}

// Parse parses a complete RFC 5322 message.
func Parse(raw []byte) (*Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("reading message header: %w", err)
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("reading message body: %w", err)
	}

	root, err := parsePart(textproto.MIMEHeader(msg.Header), body)
	if err != nil {
		return nil, err
	}

	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		return nil, fmt.Errorf("decoding subject: %w", err)
	}

	return &Message{Header: msg.Header, Subject: subject, Root: root}, nil
}

// parsePart builds a Part from a header and raw body. Missing or invalid
// Content-Type defaults to text/plain; charset=us-ascii per RFC 2045
// Section 5.2.
func parsePart(header textproto.MIMEHeader, body []byte) (*Part, error) {
	part := &Part{
		ContentType:             "text/plain",
		Charset:                 "us-ascii",
		ContentTransferEncoding: Encoding7Bit,
	}

	params := map[string]string{}
	if ct := header.Get("Content-Type"); ct != "" {
		if mediaType, p, err := mime.ParseMediaType(ct); err == nil {
			part.ContentType = mediaType
			part.Charset = p["charset"]
			params = p
		}
	}

	if cte := header.Get("Content-Transfer-Encoding"); cte != "" {
		part.ContentTransferEncoding = ContentTransferEncoding(strings.ToLower(strings.TrimSpace(cte)))
	}

	if cd := header.Get("Content-Disposition"); cd != "" {
		if _, p, err := mime.ParseMediaType(cd); err == nil {
			part.Filename = p["filename"]
		}
	}

	if IsCompositeType(part.ContentType) {
		switch part.ContentTransferEncoding {
		case Encoding7Bit, Encoding8Bit, "binary":
		default:
			return nil, ErrInvalidCompositeEncoding
		}
	}

	if strings.HasPrefix(part.ContentType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, errors.New("multipart Content-Type missing boundary parameter")
		}
		children, err := parseMultipart(body, boundary)
		if err != nil {
			return nil, err
		}
		part.Parts = children
		return part, nil
	}

	decoded, err := decodeBody(part.ContentTransferEncoding, body)
	if err != nil {
		return nil, err
	}
	part.Body = decoded
	return part, nil
}

func parseMultipart(body []byte, boundary string) ([]*Part, error) {
	reader := multipart.NewReader(bytes.NewReader(body), boundary)

	var parts []*Part
	for {
		// NextRawPart leaves quoted-printable bodies alone so every encoding
		// goes through decodeBody.
		raw, err := reader.NextRawPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading multipart section: %w", err)
		}

		data, err := io.ReadAll(raw)
		if err != nil {
			return nil, fmt.Errorf("error reading part body: %w", err)
		}

		part, err := parsePart(raw.Header, data)
		if err != nil {
			return nil, fmt.Errorf("error parsing multipart section: %w", err)
		}
		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return nil, errors.New("multipart message contains no parts")
	}
	return parts, nil
}

func decodeBody(cte ContentTransferEncoding, body []byte) ([]byte, error) {
	switch cte {
	case EncodingBase64:
		stripped := bytes.Map(func(r rune) rune {
			if r == '\r' || r == '\n' || r == ' ' || r == '\t' {
				return -1
			}
			return r
		}, body)
		decoded, err := base64.StdEncoding.DecodeString(string(stripped))
		if err != nil {
			return nil, fmt.Errorf("invalid base64 body: %w", err)
		}
		return decoded, nil
	case EncodingQuotedPrintable:
		decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("invalid quoted-printable body: %w", err)
		}
		return decoded, nil
	default:
		return body, nil
	}
}
