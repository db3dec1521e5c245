package utils

import (
	"fmt"
	"net"
	"strings"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"golang.org/x/net/idna"
)

// GetIPFromAddr extracts the IP from a network address.
func GetIPFromAddr(addr net.Addr) (net.IP, error) {
	if addr == nil {
		return nil, fmt.Errorf("address is nil")
	}

	var ip net.IP
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip = a.IP
	case *net.UDPAddr:
		ip = a.IP
	case *net.IPAddr:
		ip = a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			host = addr.String()
		}
		ip = net.ParseIP(host)
		if ip == nil {
			return nil, fmt.Errorf("unable to extract IP from address: %v", addr)
		}
	}
	return ip, nil
}

// ContainsNonASCII checks if a string contains any non-ASCII characters (bytes > 127).
func ContainsNonASCII(s string) bool {
	for _, v := range s {
		if v >= utf8.RuneSelf {
			return true
		}
	}
	return false
}

// GenerateID returns a new lexically sortable unique identifier.
func GenerateID() string {
	return ulid.Make().String()
}

// ToASCIIDomain converts an internationalized domain name to its A-label
// form. ASCII input is returned unchanged apart from lowercasing.
func ToASCIIDomain(domain string) (string, error) {
	if !ContainsNonASCII(domain) {
		return strings.ToLower(domain), nil
	}
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", fmt.Errorf("invalid domain %q: %w", domain, err)
	}
	return ascii, nil
}

// SplitAddress splits "local@domain" at the last '@'.
func SplitAddress(addr string) (local, domain string, err error) {
	i := strings.LastIndexByte(addr, '@')
	if i <= 0 || i == len(addr)-1 {
		return "", "", fmt.Errorf("invalid address %q", addr)
	}
	// The address ends up inside <...> on a command line.
	if strings.ContainsAny(addr, "\r\n<>") {
		return "", "", fmt.Errorf("invalid character in address %q", addr)
	}
	return addr[:i], addr[i+1:], nil
}

// ToASCIIAddress converts the domain part of an address to its A-label form.
// The local part is left untouched.
func ToASCIIAddress(addr string) (string, error) {
	local, domain, err := SplitAddress(addr)
	if err != nil {
		return "", err
	}
	ascii, err := ToASCIIDomain(domain)
	if err != nil {
		return "", err
	}
	return local + "@" + ascii, nil
}

// NormalizeLineEndings converts LF, CR and CRLF line endings to CRLF.
func NormalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
