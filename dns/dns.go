// Package dns resolves mail server host names to addresses.
//
// Two implementations of Resolver are provided: DNSResolver talks to
// nameservers directly through github.com/miekg/dns, StdResolver goes through
// the standard library resolver. MockResolver serves fixed records in tests.
package dns

import (
	"context"
	"errors"
	"net"
)

// Resolver looks up the addresses of a host.
type Resolver interface {
	LookupIP(ctx context.Context, host string) (Result[net.IP], error)
}

// Result holds the records returned by a lookup.
type Result[T any] struct {
	Records []T

	// Authentic is true when the answer was DNSSEC validated by the upstream
	// resolver.
	Authentic bool
}

var (
	ErrDNSNotFound = errors.New("dns: no such host")
	ErrDNSTimeout  = errors.New("dns: lookup timed out")
	ErrDNSServFail = errors.New("dns: server failure")
	ErrDNSRefused  = errors.New("dns: query refused")
	ErrDNSBogus    = errors.New("dns: DNSSEC validation failed")
)

// IsNotFound reports whether err means the name does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDNSNotFound)
}

// IsTimeout reports whether err is a lookup timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrDNSTimeout)
}

// IsTemporary reports whether the lookup may succeed when retried later.
func IsTemporary(err error) bool {
	return errors.Is(err, ErrDNSTimeout) || errors.Is(err, ErrDNSServFail)
}
