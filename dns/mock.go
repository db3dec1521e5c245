package dns

import (
	"context"
	"net"
	"slices"
)

// MockResolver is a Resolver used for testing. A and AAAA map FQDNs (with
// trailing dot) to textual addresses.
type MockResolver struct {
	A    map[string][]string
	AAAA map[string][]string

	// Fail lists names whose lookup returns ErrDNSServFail.
	Fail []string

	AllAuthentic bool
}

var _ Resolver = MockResolver{}

func ensureFQDN(name string) string {
	if len(name) == 0 || name[len(name)-1] != '.' {
		return name + "."
	}
	return name
}

// LookupIP returns A then AAAA records for host.
func (r MockResolver) LookupIP(ctx context.Context, host string) (Result[net.IP], error) {
	result := Result[net.IP]{Authentic: r.AllAuthentic}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	fqdn := ensureFQDN(host)
	if slices.Contains(r.Fail, fqdn) {
		return result, ErrDNSServFail
	}

	for _, s := range append(slices.Clone(r.A[fqdn]), r.AAAA[fqdn]...) {
		if ip := net.ParseIP(s); ip != nil {
			result.Records = append(result.Records, ip)
		}
	}
	if len(result.Records) == 0 {
		return result, ErrDNSNotFound
	}
	return result, nil
}
