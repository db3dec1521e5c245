// Package message defines the email value handed to the client for delivery.
package message

import (
	"errors"
	"fmt"
	"time"

	"github.com/synqronlabs/courier/utils"
)

// Attachment is a file carried in its own MIME part.
type Attachment struct {
	Name string
	// ContentType defaults to application/octet-stream when empty.
	ContentType string
	Data        []byte
}

// Email is an outgoing message. It is read, never modified, by the client.
type Email struct {
	// ID is the Message-ID including angle brackets.
	ID string
	// InReplyTo is an optional Message-ID this message answers.
	InReplyTo string

	Sender     Contact
	ReplyTo    *Contact
	Recipients []Contact
	CC         []Contact
	BCC        []Contact

	Subject     string
	Body        Body
	Attachments []Attachment
	Date        time.Time
}

var (
	ErrNoSender     = errors.New("message: sender is required")
	ErrNoRecipients = errors.New("message: at least one recipient is required")
	ErrNoBody       = errors.New("message: body is required")
)

// NewMessageID returns a unique Message-ID for the given domain.
func NewMessageID(domain string) string {
	if domain == "" {
		domain = "localhost"
	}
	return fmt.Sprintf("<%s@%s>", utils.GenerateID(), domain)
}

// AllRecipients returns the envelope recipients: Recipients, then CC, then
// BCC, in order.
func (e *Email) AllRecipients() []Contact {
	all := make([]Contact, 0, len(e.Recipients)+len(e.CC)+len(e.BCC))
	all = append(all, e.Recipients...)
	all = append(all, e.CC...)
	all = append(all, e.BCC...)
	return all
}

// IsMultipart reports whether the rendered message needs a multipart
// structure.
func (e *Email) IsMultipart() bool {
	if len(e.Attachments) > 0 {
		return true
	}
	_, universal := e.Body.(UniversalBody)
	return universal
}

// Validate checks the fields required to send the message.
func (e *Email) Validate() error {
	if e.Sender.Address == "" {
		return ErrNoSender
	}
	if err := e.Sender.validate(); err != nil {
		return fmt.Errorf("message: sender: %w", err)
	}
	if len(e.Recipients) == 0 {
		return ErrNoRecipients
	}
	for _, c := range e.AllRecipients() {
		if err := c.validate(); err != nil {
			return fmt.Errorf("message: recipient: %w", err)
		}
	}
	if e.Body == nil {
		return ErrNoBody
	}
	return nil
}
