package courier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/rs/zerolog"

	"github.com/synqronlabs/courier/dns"
	"github.com/synqronlabs/courier/message"
	"github.com/synqronlabs/courier/mime"
	"github.com/synqronlabs/courier/utils"
)

// Client sends messages through the server named by its Configuration.
// Every Send opens its own connection, so a Client is safe for concurrent
// use.
type Client struct {
	cfg      Configuration
	log      zerolog.Logger
	resolver dns.Resolver
	dialer   *net.Dialer
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Protocol traffic is logged at debug level.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithResolver resolves the server host name through r instead of the
// dialer's built-in resolver.
func WithResolver(r dns.Resolver) Option {
	return func(c *Client) {
		c.resolver = r
	}
}

// WithDialer sets the dialer used for TCP connections, for example to bind a
// local address.
func WithDialer(d *net.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// NewClient validates cfg and returns a Client for it.
func NewClient(cfg Configuration, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:    cfg,
		log:    zerolog.Nop(),
		dialer: &net.Dialer{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the client's configuration.
func (c *Client) Config() Configuration {
	return c.cfg
}

// Result describes a message the server accepted.
type Result struct {
	// MessageID is the Message-ID header sent with the message.
	MessageID string
	// QueueID is the server's identifier for the message, if its final reply
	// carried one.
	QueueID string
	// Accepted lists recipients the server accepted, in envelope order.
	Accepted []string
	// Rejected lists recipients refused at RCPT TO.
	Rejected []RecipientRejection
	// Reply is the final reply to the message data.
	Reply *Reply

	Encrypted     bool
	Authenticated bool
}

// Partial reports whether some recipients were rejected.
func (r *Result) Partial() bool {
	return len(r.Rejected) > 0
}

// Outcome is the single value delivered by SendAsync.
type Outcome struct {
	Result *Result
	Err    error
}

// Send delivers email in one SMTP session. It returns once the session has
// ended: with a Result when the server accepted the message, or with an
// error from the taxonomy in this package.
//
// When some recipients were refused but the message was still accepted for
// the others, both a Result and a *DeliveryError of kind
// PartialRecipientsRejected are returned.
//
// Cancelling ctx closes the connection; the error then wraps ctx.Err().
func (c *Client) Send(ctx context.Context, email *message.Email) (*Result, error) {
	if email == nil {
		return nil, errors.New("courier: nil email")
	}
	if err := email.Validate(); err != nil {
		return nil, fmt.Errorf("courier: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("courier: %w", err)
	}

	msg := *email
	if msg.ID == "" {
		msg.ID = message.NewMessageID(msg.Sender.Domain())
	}
	payload, err := mime.Render(&msg, mime.Options{LineWidth: c.cfg.Features.LineWidth()})
	if err != nil {
		return nil, fmt.Errorf("courier: rendering message: %w", err)
	}

	log := c.log.With().Str("message_id", msg.ID).Logger()

	boot := &bootstrapper{cfg: c.cfg, resolver: c.resolver, dialer: c.dialer, log: log}
	st, err := boot.open(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	stop := context.AfterFunc(ctx, func() {
		st.Close()
	})
	defer stop()

	s := newSession(ctx, c.cfg, st, c.localName(), log)
	result, err := s.run(&msg, payload)
	if ctx.Err() == nil {
		s.quit()
	}

	if err != nil && result == nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("courier: %s: %w", s.phase, ctxErr)
		}
		log.Debug().Err(err).Msg("send failed")
		return nil, err
	}

	log.Info().
		Str("queue_id", result.QueueID).
		Int("accepted", len(result.Accepted)).
		Int("rejected", len(result.Rejected)).
		Bool("encrypted", result.Encrypted).
		Msg("message accepted")
	return result, err
}

// SendAsync runs Send in a new goroutine. The returned channel receives
// exactly one Outcome and is then closed.
func (c *Client) SendAsync(ctx context.Context, email *message.Email) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		result, err := c.Send(ctx, email)
		out <- Outcome{Result: result, Err: err}
	}()
	return out
}

// localName returns the EHLO identity: the configured name, else the host
// name, else "localhost".
func (c *Client) localName() string {
	if c.cfg.LocalName != "" {
		if name, err := utils.ToASCIIDomain(c.cfg.LocalName); err == nil {
			return name
		}
		return c.cfg.LocalName
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		if name, err := utils.ToASCIIDomain(host); err == nil {
			return name
		}
	}
	return "localhost"
}
