package message

import (
	"fmt"
	"net/mail"

	"github.com/synqronlabs/courier/utils"
)

// Contact is a mailbox with an optional display name.
type Contact struct {
	Name    string
	Address string
}

// ParseContact parses "user@domain" or an RFC 5322 name-addr such as
// "Jane Doe <jane@example.com>".
func ParseContact(s string) (Contact, error) {
	parsed, err := mail.ParseAddress(s)
	if err != nil {
		return Contact{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return Contact{Name: parsed.Name, Address: parsed.Address}, nil
}

// Domain returns the part of the address after the last '@'.
func (c Contact) Domain() string {
	_, domain, err := utils.SplitAddress(c.Address)
	if err != nil {
		return ""
	}
	return domain
}

func (c Contact) validate() error {
	_, _, err := utils.SplitAddress(c.Address)
	return err
}
