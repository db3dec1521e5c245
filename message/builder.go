package message

import (
	"errors"
	"fmt"
	"time"
)

// Builder provides a fluent API for constructing an Email. Address parse
// errors are collected and reported by Build.
type Builder struct {
	email  Email
	text   *string
	html   *string
	errors []error
}

// NewBuilder creates a new Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) parse(field, s string) (Contact, bool) {
	c, err := ParseContact(s)
	if err != nil {
		b.errors = append(b.errors, fmt.Errorf("%s: %w", field, err))
		return Contact{}, false
	}
	return c, true
}

// From sets the sender.
func (b *Builder) From(address string) *Builder {
	if c, ok := b.parse("from", address); ok {
		b.email.Sender = c
	}
	return b
}

// ReplyTo sets the Reply-To contact.
func (b *Builder) ReplyTo(address string) *Builder {
	if c, ok := b.parse("reply-to", address); ok {
		b.email.ReplyTo = &c
	}
	return b
}

// To adds primary recipients.
func (b *Builder) To(addresses ...string) *Builder {
	for _, a := range addresses {
		if c, ok := b.parse("to", a); ok {
			b.email.Recipients = append(b.email.Recipients, c)
		}
	}
	return b
}

// Cc adds carbon-copy recipients.
func (b *Builder) Cc(addresses ...string) *Builder {
	for _, a := range addresses {
		if c, ok := b.parse("cc", a); ok {
			b.email.CC = append(b.email.CC, c)
		}
	}
	return b
}

// Bcc adds blind carbon-copy recipients. They appear in the envelope only.
func (b *Builder) Bcc(addresses ...string) *Builder {
	for _, a := range addresses {
		if c, ok := b.parse("bcc", a); ok {
			b.email.BCC = append(b.email.BCC, c)
		}
	}
	return b
}

// Subject sets the subject.
func (b *Builder) Subject(subject string) *Builder {
	b.email.Subject = subject
	return b
}

// MessageID overrides the generated Message-ID.
func (b *Builder) MessageID(id string) *Builder {
	b.email.ID = id
	return b
}

// InReplyTo sets the Message-ID being replied to.
func (b *Builder) InReplyTo(messageID string) *Builder {
	b.email.InReplyTo = messageID
	return b
}

// Date sets the origination date.
func (b *Builder) Date(t time.Time) *Builder {
	b.email.Date = t
	return b
}

// TextBody sets the plain text rendition.
func (b *Builder) TextBody(text string) *Builder {
	b.text = &text
	return b
}

// HTMLBody sets the HTML rendition. Combined with TextBody the message is
// sent as multipart/alternative.
func (b *Builder) HTMLBody(html string) *Builder {
	b.html = &html
	return b
}

// Attach adds an attachment.
func (b *Builder) Attach(name string, data []byte, contentType string) *Builder {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	b.email.Attachments = append(b.email.Attachments, Attachment{
		Name:        name,
		ContentType: contentType,
		Data:        data,
	})
	return b
}

// Build validates and returns the Email, filling in Date and Message-ID
// when they were not set.
func (b *Builder) Build() (*Email, error) {
	if len(b.errors) > 0 {
		return nil, fmt.Errorf("message builder: %w", errors.Join(b.errors...))
	}

	e := b.email
	switch {
	case b.text != nil && b.html != nil:
		e.Body = UniversalBody{Text: *b.text, HTML: *b.html}
	case b.html != nil:
		e.Body = HTMLBody{HTML: *b.html}
	case b.text != nil:
		e.Body = PlainBody{Text: *b.text}
	}

	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.Date.IsZero() {
		e.Date = time.Now()
	}
	if e.ID == "" {
		e.ID = NewMessageID(e.Sender.Domain())
	}
	return &e, nil
}
