package courier

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultHost              = "127.0.0.1"
	DefaultConnectionTimeout = 10 * time.Second
	DefaultCommandTimeout    = 5 * time.Minute
)

// StartTLSMode says whether STARTTLS is optional or mandatory.
type StartTLSMode int

const (
	// IfAvailable upgrades when the server offers STARTTLS and otherwise
	// continues in plaintext.
	IfAvailable StartTLSMode = iota
	// Always fails the send unless the session is upgraded.
	Always
)

// Encryption is one of Plain, SSL or StartTLS.
type Encryption interface {
	isEncryption()
	String() string
}

// Plain sends everything unencrypted.
type Plain struct{}

// SSL negotiates TLS as soon as the TCP connection is open (implicit TLS,
// RFC 8314).
type SSL struct{}

// StartTLS upgrades a plaintext session with the STARTTLS command
// (RFC 3207).
type StartTLS struct {
	Mode StartTLSMode
}

func (Plain) isEncryption()    {}
func (SSL) isEncryption()      {}
func (StartTLS) isEncryption() {}

func (Plain) String() string { return "plain" }
func (SSL) String() string   { return "ssl" }
func (s StartTLS) String() string {
	if s.Mode == Always {
		return "starttls_always"
	}
	return "starttls"
}

// ParseEncryption parses plain, ssl, starttls or starttls_always.
func ParseEncryption(s string) (Encryption, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain", "none":
		return Plain{}, nil
	case "ssl", "tls":
		return SSL{}, nil
	case "starttls":
		return StartTLS{Mode: IfAvailable}, nil
	case "starttls_always":
		return StartTLS{Mode: Always}, nil
	default:
		return nil, fmt.Errorf("unknown encryption %q", s)
	}
}

// Server identifies the mail server to connect to.
type Server struct {
	Hostname string
	// Port overrides the encryption default when non-zero.
	Port int
	// Encryption defaults to Plain when nil.
	Encryption Encryption
}

func (s Server) encryption() Encryption {
	if s.Encryption == nil {
		return Plain{}
	}
	return s.Encryption
}

// EffectivePort returns Port, or 25 for Plain and StartTLS and 465 for SSL.
func (s Server) EffectivePort() int {
	if s.Port != 0 {
		return s.Port
	}
	switch s.encryption().(type) {
	case SSL:
		return 465
	case Plain, StartTLS:
		return 25
	default:
		return 25
	}
}

// Address returns host:port.
func (s Server) Address() string {
	return net.JoinHostPort(s.Hostname, strconv.Itoa(s.EffectivePort()))
}

// Credentials enable the AUTH step.
type Credentials struct {
	Username string
	Password string
	// Mechanisms restricts and orders the SASL mechanisms tried. Empty means
	// PLAIN then LOGIN.
	Mechanisms []string
}

// FeatureFlags is a set of optional behaviours.
type FeatureFlags uint8

const (
	// Base64Line64 wraps base64 bodies at 64 characters.
	Base64Line64 FeatureFlags = 1 << iota
	// Base64Line76 wraps base64 bodies at 76 characters (RFC 2045 Section 6.8).
	Base64Line76
)

// Has reports whether every flag in flag is set.
func (f FeatureFlags) Has(flag FeatureFlags) bool {
	return f&flag == flag
}

// Validate rejects mutually exclusive flags.
func (f FeatureFlags) Validate() error {
	if f.Has(Base64Line64 | Base64Line76) {
		return errors.New("Base64Line64 and Base64Line76 are mutually exclusive")
	}
	return nil
}

// LineWidth returns the base64 wrap width selected by the flags, or 0 for
// no wrapping.
func (f FeatureFlags) LineWidth() int {
	switch {
	case f.Has(Base64Line64):
		return 64
	case f.Has(Base64Line76):
		return 76
	default:
		return 0
	}
}

// Configuration holds everything needed to send through one server.
type Configuration struct {
	Server Server

	// ConnectionTimeout bounds name resolution, TCP connect and, for SSL,
	// the TLS handshake. Zero selects DefaultConnectionTimeout.
	ConnectionTimeout time.Duration

	// CommandTimeout bounds each wait for a server reply and each write.
	// Zero selects DefaultCommandTimeout; a negative value disables it.
	CommandTimeout time.Duration

	// Credentials enable AUTH when non-nil.
	Credentials *Credentials

	Features FeatureFlags

	// LocalName is the EHLO/HELO identity. Defaults to the host name.
	LocalName string

	// TLSConfig is used for SSL and STARTTLS. ServerName defaults to
	// Server.Hostname in A-label form.
	TLSConfig *tls.Config
}

// DefaultConfiguration returns a plaintext configuration for DefaultHost.
func DefaultConfiguration() Configuration {
	return Configuration{
		Server: Server{
			Hostname:   DefaultHost,
			Encryption: Plain{},
		},
		ConnectionTimeout: DefaultConnectionTimeout,
		CommandTimeout:    DefaultCommandTimeout,
	}
}

// Validate checks the configuration for values that can never work.
func (c Configuration) Validate() error {
	if c.Server.Hostname == "" {
		return errors.New("courier: server hostname is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("courier: invalid port %d", c.Server.Port)
	}
	if err := c.Features.Validate(); err != nil {
		return fmt.Errorf("courier: %w", err)
	}
	if c.Credentials != nil && c.Credentials.Username == "" {
		return errors.New("courier: credentials without username")
	}
	if strings.ContainsAny(c.LocalName, " \t\r\n") {
		return fmt.Errorf("courier: invalid local name %q", c.LocalName)
	}
	return nil
}

func (c Configuration) connectionTimeout() time.Duration {
	if c.ConnectionTimeout <= 0 {
		return DefaultConnectionTimeout
	}
	return c.ConnectionTimeout
}

func (c Configuration) commandTimeout() time.Duration {
	switch {
	case c.CommandTimeout == 0:
		return DefaultCommandTimeout
	case c.CommandTimeout < 0:
		return 0
	default:
		return c.CommandTimeout
	}
}

// tlsConfig returns a TLS configuration with ServerName defaulting to
// serverName.
func (c Configuration) tlsConfig(serverName string) *tls.Config {
	cfg := c.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg = cfg.Clone()
		cfg.ServerName = serverName
	}
	return cfg
}
