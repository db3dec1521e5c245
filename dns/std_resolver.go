package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// StdResolver implements Resolver on top of net.Resolver. Authentic is
// always false.
type StdResolver struct {
	resolver *net.Resolver
}

// NewStdResolver creates a resolver using the standard library.
func NewStdResolver() *StdResolver {
	return &StdResolver{resolver: net.DefaultResolver}
}

// LookupIP retrieves A and AAAA records using the standard library.
func (r *StdResolver) LookupIP(ctx context.Context, host string) (Result[net.IP], error) {
	ips, err := r.resolver.LookupIP(ctx, "ip", strings.TrimSuffix(host, "."))
	if err != nil {
		return Result[net.IP]{}, convertError(err)
	}
	if len(ips) == 0 {
		return Result[net.IP]{}, ErrDNSNotFound
	}
	return Result[net.IP]{Records: ips}, nil
}

// convertError maps standard library DNS errors to package errors.
func convertError(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return ErrDNSNotFound
		case dnsErr.IsTimeout:
			return ErrDNSTimeout
		case dnsErr.IsTemporary:
			return ErrDNSServFail
		}
	}
	return fmt.Errorf("dns lookup failed: %w", err)
}
