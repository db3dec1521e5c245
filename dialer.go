package courier

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/synqronlabs/courier/dns"
	"github.com/synqronlabs/courier/utils"
)

// bootstrapper opens the transport for one send and installs the layers the
// configured Encryption calls for.
type bootstrapper struct {
	cfg      Configuration
	resolver dns.Resolver
	dialer   *net.Dialer
	log      zerolog.Logger
}

// open connects to the server. ConnectionTimeout covers resolution, TCP
// connect and the implicit TLS handshake.
func (b *bootstrapper) open(ctx context.Context) (stream, error) {
	dialCtx, cancel := context.WithTimeout(ctx, b.cfg.connectionTimeout())
	defer cancel()

	host, err := utils.ToASCIIDomain(b.cfg.Server.Hostname)
	if err != nil {
		return nil, &ConnectionError{Kind: Unreachable, Err: err}
	}
	port := strconv.Itoa(b.cfg.Server.EffectivePort())

	addrs, err := b.resolve(dialCtx, host, port)
	if err != nil {
		return nil, b.classify(ctx, err)
	}

	conn, err := b.dial(dialCtx, addrs)
	if err != nil {
		return nil, b.classify(ctx, err)
	}

	tlsConfig := b.cfg.tlsConfig(host)
	timeout := b.cfg.commandTimeout()

	switch enc := b.cfg.Server.encryption().(type) {
	case Plain:
		return newCodecStream(newLineConn(conn, timeout), b.log), nil

	case SSL:
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			conn.Close()
			if dialCtx.Err() != nil {
				return nil, b.classify(ctx, err)
			}
			return nil, &ConnectionError{Kind: TLSFailure, Err: err}
		}
		return newCodecStream(newLineConn(tlsConn, timeout), b.log), nil

	case StartTLS:
		inner := newCodecStream(newLineConn(conn, timeout), b.log)
		return newUpgradeAdapter(ctx, inner, tlsConfig), nil

	default:
		conn.Close()
		return nil, fmt.Errorf("courier: unsupported encryption %T", enc)
	}
}

// resolve returns the addresses to try in order. Without a resolver, or for
// IP literals, the host is handed to the dialer unchanged.
func (b *bootstrapper) resolve(ctx context.Context, host, port string) ([]string, error) {
	if b.resolver == nil || net.ParseIP(host) != nil {
		return []string{net.JoinHostPort(host, port)}, nil
	}

	res, err := b.resolver.LookupIP(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("resolve %s: %w", host, dns.ErrDNSNotFound)
	}

	addrs := make([]string, 0, len(res.Records))
	for _, ip := range res.Records {
		addrs = append(addrs, net.JoinHostPort(ip.String(), port))
	}
	return addrs, nil
}

func (b *bootstrapper) dial(ctx context.Context, addrs []string) (net.Conn, error) {
	var lastErr error
	for _, addr := range addrs {
		conn, err := b.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			event := b.log.Info().Str("remote", conn.RemoteAddr().String())
			if ip, err := utils.GetIPFromAddr(conn.RemoteAddr()); err == nil {
				event = event.IPAddr("remote_ip", ip)
			}
			event.Str("encryption", b.cfg.Server.encryption().String()).Msg("connected")
			return conn, nil
		}
		b.log.Debug().Err(err).Str("addr", addr).Msg("dial failed")
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no address to dial")
	}
	return nil, lastErr
}

// classify maps a connection-phase failure to a ConnectionError. Cancellation
// of the caller's context is passed through unchanged.
func (b *bootstrapper) classify(parent context.Context, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("courier: connect: %w", parent.Err())
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout(),
		dns.IsTimeout(err):
		return &ConnectionError{Kind: Timeout, Err: err}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &ConnectionError{Kind: Refused, Err: err}
	default:
		return &ConnectionError{Kind: Unreachable, Err: err}
	}
}
