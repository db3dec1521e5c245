// Package sasl provides the client side of SMTP AUTH mechanisms (RFC 4954).
//
// Mechanisms implement github.com/emersion/go-sasl's Client interface so the
// session can drive any of them through the same challenge loop.
package sasl

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	gosasl "github.com/emersion/go-sasl"
)

// Mechanism names.
const (
	Plain = "PLAIN"
	Login = "LOGIN"
)

// DefaultPreference is the order in which mechanisms are tried when the
// caller does not restrict them.
var DefaultPreference = []string{Plain, Login}

var (
	// ErrUnsupportedMechanism is returned for mechanism names this package
	// does not implement.
	ErrUnsupportedMechanism = errors.New("sasl: unsupported mechanism")

	// ErrUnexpectedChallenge is returned when the server keeps challenging
	// after the exchange should have completed.
	ErrUnexpectedChallenge = errors.New("sasl: unexpected server challenge")
)

// Client is a client-side SASL mechanism.
type Client = gosasl.Client

// NewClient returns a client for the named mechanism.
func NewClient(mechanism, username, password string) (Client, error) {
	switch strings.ToUpper(mechanism) {
	case Plain:
		return NewPlainClient(username, password), nil
	case Login:
		return NewLoginClient(username, password), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMechanism, mechanism)
	}
}

// Select picks the first mechanism in preferred that the server advertised
// and this package implements. A nil preferred list uses DefaultPreference.
// Matching is case-insensitive; the returned name is upper case.
func Select(advertised, preferred []string) (string, bool) {
	if len(preferred) == 0 {
		preferred = DefaultPreference
	}

	offered := make([]string, len(advertised))
	for i, m := range advertised {
		offered[i] = strings.ToUpper(m)
	}

	for _, m := range preferred {
		m = strings.ToUpper(m)
		if slices.Contains(offered, m) && slices.Contains(DefaultPreference, m) {
			return m, true
		}
	}
	return "", false
}
