package courier

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode/utf8"

	units "github.com/docker/go-units"
	"github.com/rs/zerolog"

	smtpio "github.com/synqronlabs/courier/io"
	"github.com/synqronlabs/courier/message"
	"github.com/synqronlabs/courier/sasl"
	"github.com/synqronlabs/courier/utils"
)

// phase is a step of the SMTP dialogue. Phases only move forward.
type phase int

const (
	phaseConnecting phase = iota
	phaseGreeting
	phaseHello
	phaseStartTLS
	phaseRehello
	phaseAuth
	phaseMailFrom
	phaseRcptTo
	phaseData
	phaseTerminated
)

func (p phase) String() string {
	switch p {
	case phaseConnecting:
		return "connecting"
	case phaseGreeting:
		return "greeting"
	case phaseHello:
		return "hello"
	case phaseStartTLS:
		return "starttls"
	case phaseRehello:
		return "rehello"
	case phaseAuth:
		return "auth"
	case phaseMailFrom:
		return "mail from"
	case phaseRcptTo:
		return "rcpt to"
	case phaseData:
		return "data"
	case phaseTerminated:
		return "terminated"
	default:
		return "phase(" + strconv.Itoa(int(p)) + ")"
	}
}

// session conducts one SMTP dialogue over an open stream.
type session struct {
	ctx       context.Context
	cfg       Configuration
	stream    stream
	log       zerolog.Logger
	localName string

	phase         phase
	caps          Capabilities
	encrypted     bool
	authenticated bool
	// broken is set once the stream can no longer be trusted to be in step
	// with the server.
	broken bool
}

func newSession(ctx context.Context, cfg Configuration, st stream, localName string, log zerolog.Logger) *session {
	_, encrypted := st.TLSState()
	return &session{
		ctx:       ctx,
		cfg:       cfg,
		stream:    st,
		log:       log,
		localName: localName,
		encrypted: encrypted,
	}
}

func (s *session) advance(to phase) error {
	if to <= s.phase {
		return &ProtocolError{
			Kind: UnexpectedState,
			Err:  fmt.Errorf("cannot move from %s to %s", s.phase, to),
		}
	}
	s.phase = to
	return nil
}

// transportError converts a failure of the underlying stream into the
// error reported to the caller and marks the session unusable.
func (s *session) transportError(err error) error {
	s.broken = true

	var protoErr *ProtocolError
	var connErr *ConnectionError
	if errors.As(err, &protoErr) || errors.As(err, &connErr) {
		return err
	}
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return fmt.Errorf("courier: %s: %w", s.phase, ctxErr)
	}
	if errors.Is(err, smtpio.ErrLineTooLong) || errors.Is(err, smtpio.ErrBadLineEnding) {
		return &ProtocolError{Kind: MalformedReply, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ConnectionError{Kind: Timeout, Err: fmt.Errorf("waiting in %s: %w", s.phase, err)}
	}
	return &ConnectionError{Kind: Unreachable, Err: fmt.Errorf("connection lost in %s: %w", s.phase, err)}
}

func (s *session) receive() (*Reply, error) {
	reply, err := s.stream.Receive()
	if err != nil {
		return reply, s.transportError(err)
	}
	return reply, nil
}

// cmd sends one command and waits for its complete reply.
func (s *session) cmd(command string) (*Reply, error) {
	return s.cmdLogged(command, command)
}

// cmdLogged is cmd with a different rendering of the command for the log.
func (s *session) cmdLogged(command, logged string) (*Reply, error) {
	if err := smtpio.CheckLine(command); err != nil {
		return nil, fmt.Errorf("courier: %s: %w", s.phase, err)
	}
	s.log.Debug().Msgf("C: %s", logged)
	if err := s.stream.Send(command); err != nil {
		return nil, s.transportError(err)
	}
	return s.receive()
}

// greet waits for the 220 service ready greeting.
func (s *session) greet() error {
	if err := s.advance(phaseGreeting); err != nil {
		return err
	}
	reply, err := s.receive()
	if err != nil {
		return err
	}
	if reply.Code != 220 {
		return &ConnectionError{Kind: ServerRejected, Reply: reply}
	}
	return nil
}

func (s *session) requiresTLS() bool {
	enc, ok := s.cfg.Server.encryption().(StartTLS)
	return ok && enc.Mode == Always && !s.encrypted
}

// hello sends EHLO, falling back to HELO when the server refuses it.
func (s *session) hello(p phase) error {
	if err := s.advance(p); err != nil {
		return err
	}

	reply, err := s.cmd(EncodeCommand("EHLO", s.localName))
	if err != nil {
		return err
	}
	if reply.IsSuccess() {
		s.caps = parseCapabilities(reply)
		return nil
	}

	if s.requiresTLS() {
		return &ConnectionError{
			Kind:  EncryptionUnavailable,
			Reply: reply,
			Err:   errors.New("EHLO refused, STARTTLS cannot be negotiated"),
		}
	}

	reply, err = s.cmd(EncodeCommand("HELO", s.localName))
	if err != nil {
		return err
	}
	if !reply.IsSuccess() {
		return &ConnectionError{Kind: ServerRejected, Reply: reply}
	}
	s.caps = Capabilities{}
	return nil
}

// startTLS negotiates the STARTTLS upgrade when the encryption mode asks
// for it, then re-issues EHLO over the encrypted channel.
func (s *session) startTLS() error {
	switch enc := s.cfg.Server.encryption().(type) {
	case Plain, SSL:
		return nil

	case StartTLS:
		if !s.caps.Has(ExtSTARTTLS) {
			if enc.Mode == Always {
				return &ConnectionError{
					Kind: EncryptionUnavailable,
					Err:  errors.New("server does not advertise STARTTLS"),
				}
			}
			s.log.Warn().Msg("server does not advertise STARTTLS, continuing in plaintext")
			return nil
		}

		if err := s.advance(phaseStartTLS); err != nil {
			return err
		}
		reply, err := s.cmd("STARTTLS")
		if err != nil {
			return err
		}
		if reply.Code != 220 {
			if enc.Mode == Always {
				return &ConnectionError{Kind: EncryptionUnavailable, Reply: reply}
			}
			s.log.Warn().Str("reply", reply.String()).Msg("STARTTLS refused, continuing in plaintext")
			return nil
		}

		s.encrypted = true
		if state, ok := s.stream.TLSState(); ok {
			s.log.Info().Str("tls_version", tls.VersionName(state.Version)).Msg("connection upgraded")
		}
		return s.hello(phaseRehello)

	default:
		return fmt.Errorf("courier: unsupported encryption %T", enc)
	}
}

// authenticate runs the AUTH exchange when credentials are configured.
func (s *session) authenticate() error {
	creds := s.cfg.Credentials
	if creds == nil {
		return nil
	}
	if err := s.advance(phaseAuth); err != nil {
		return err
	}

	if !s.caps.Has(ExtAuth) {
		return &AuthenticationError{
			Kind: UnsupportedMechanism,
			Err:  errors.New("server does not advertise AUTH"),
		}
	}
	mechanism, ok := sasl.Select(s.caps.AuthMechanisms(), creds.Mechanisms)
	if !ok {
		return &AuthenticationError{
			Kind: UnsupportedMechanism,
			Err:  fmt.Errorf("no usable mechanism among %v", s.caps.AuthMechanisms()),
		}
	}

	client, err := sasl.NewClient(mechanism, creds.Username, creds.Password)
	if err != nil {
		return &AuthenticationError{Kind: UnsupportedMechanism, Mechanism: mechanism, Err: err}
	}
	name, ir, err := client.Start()
	if err != nil {
		return &AuthenticationError{Kind: BadCredentials, Mechanism: name, Err: err}
	}

	command := EncodeCommand("AUTH", name)
	logged := command
	if ir != nil {
		encoded := "="
		if len(ir) > 0 {
			encoded = base64.StdEncoding.EncodeToString(ir)
		}
		command = EncodeCommand("AUTH", name, encoded)
		logged = EncodeCommand("AUTH", name, "****")
	}

	reply, err := s.cmdLogged(command, logged)
	for err == nil {
		switch {
		case reply.IsSuccess():
			s.authenticated = true
			s.log.Debug().Str("mechanism", name).Msg("authenticated")
			return nil

		case reply.Code == 334:
			var challenge, response []byte
			challenge, err = base64.StdEncoding.DecodeString(strings.TrimSpace(reply.Message()))
			if err != nil {
				s.abortAuth()
				return &ProtocolError{Kind: MalformedReply, Err: fmt.Errorf("invalid AUTH challenge: %w", err)}
			}
			response, err = client.Next(challenge)
			if err != nil {
				s.abortAuth()
				return &AuthenticationError{Kind: BadCredentials, Mechanism: name, Reply: reply, Err: err}
			}
			reply, err = s.cmdLogged(base64.StdEncoding.EncodeToString(response), "****")

		case reply.Code == 504:
			return &AuthenticationError{Kind: UnsupportedMechanism, Mechanism: name, Reply: reply}

		default:
			return &AuthenticationError{Kind: BadCredentials, Mechanism: name, Reply: reply}
		}
	}
	return err
}

// abortAuth cancels an AUTH exchange with "*" (RFC 4954 Section 4).
func (s *session) abortAuth() {
	if _, err := s.cmd("*"); err != nil {
		s.log.Debug().Err(err).Msg("cancelling AUTH failed")
	}
}

// mailFrom opens the transaction, declaring the size when SIZE is offered
// and SMTPUTF8 when an envelope address has a non-ASCII local part.
func (s *session) mailFrom(sender message.Contact, recipients []message.Contact, size int) error {
	if err := s.advance(phaseMailFrom); err != nil {
		return err
	}

	if limit, ok := s.caps.MaxSize(); ok && int64(size) > limit {
		return &DeliveryError{
			Kind: MessageRejected,
			Err: fmt.Errorf("message size %s exceeds server limit %s",
				units.HumanSize(float64(size)), units.HumanSize(float64(limit))),
		}
	}

	from, err := utils.ToASCIIAddress(sender.Address)
	if err != nil {
		return &DeliveryError{Kind: SenderRejected, Err: err}
	}

	args := []string{"FROM:<" + from + ">"}
	if s.caps.Has(ExtSize) {
		args = append(args, "SIZE="+strconv.Itoa(size))
	}
	if needsSMTPUTF8(sender, recipients) {
		if s.caps.Has(ExtSMTPUTF8) {
			args = append(args, "SMTPUTF8")
		} else {
			s.log.Warn().Str("sender", sender.Address).Msg("non-ASCII address but server does not offer SMTPUTF8")
		}
	}
	reply, err := s.cmd(EncodeCommand("MAIL", args...))
	if err != nil {
		return err
	}
	if !reply.IsSuccess() {
		return &DeliveryError{Kind: SenderRejected, Reply: reply}
	}
	return nil
}

// rcptTo issues one RCPT TO per recipient, in order, and sorts them into
// accepted and rejected.
func (s *session) rcptTo(recipients []message.Contact) (accepted []string, rejected []RecipientRejection, err error) {
	if err := s.advance(phaseRcptTo); err != nil {
		return nil, nil, err
	}

	for _, rcpt := range recipients {
		addr, convErr := utils.ToASCIIAddress(rcpt.Address)
		if convErr != nil {
			s.log.Warn().Err(convErr).Str("recipient", rcpt.Address).Msg("recipient skipped")
			rejected = append(rejected, RecipientRejection{Address: rcpt.Address})
			continue
		}

		reply, err := s.cmd(EncodeCommand("RCPT", "TO:<"+addr+">"))
		if err != nil {
			return nil, nil, err
		}
		if reply.IsSuccess() {
			accepted = append(accepted, rcpt.Address)
			continue
		}
		s.log.Warn().Str("recipient", rcpt.Address).Str("reply", reply.String()).Msg("recipient rejected")
		rejected = append(rejected, RecipientRejection{Address: rcpt.Address, Reply: reply})
	}

	if len(accepted) == 0 {
		return nil, rejected, &DeliveryError{Kind: AllRecipientsRejected, Rejected: rejected}
	}
	return accepted, rejected, nil
}

// data transmits the message and returns the server's final reply.
func (s *session) data(payload []byte) (*Reply, error) {
	if err := s.advance(phaseData); err != nil {
		return nil, err
	}

	reply, err := s.cmd("DATA")
	if err != nil {
		return nil, err
	}
	if reply.Code != 354 {
		return nil, &DeliveryError{Kind: MessageRejected, Reply: reply}
	}

	s.log.Debug().Msgf("C: <%d bytes of message data>", len(payload))
	if err := s.stream.SendData(EncodeData(payload)); err != nil {
		return nil, s.transportError(err)
	}

	reply, err = s.receive()
	if err != nil {
		return nil, err
	}
	if reply.Code != 250 {
		return nil, &DeliveryError{Kind: MessageRejected, Reply: reply}
	}
	return reply, nil
}

// quit ends the session politely. Its outcome never changes the result of
// the send.
func (s *session) quit() {
	if s.broken || s.phase == phaseTerminated {
		return
	}
	s.phase = phaseTerminated
	if _, err := s.cmd("QUIT"); err != nil {
		s.log.Debug().Err(err).Msg("QUIT failed")
	}
}

// run conducts the whole dialogue for one message.
func (s *session) run(email *message.Email, payload []byte) (*Result, error) {
	if err := s.greet(); err != nil {
		return nil, err
	}
	if err := s.hello(phaseHello); err != nil {
		return nil, err
	}
	if err := s.startTLS(); err != nil {
		return nil, err
	}
	if err := s.authenticate(); err != nil {
		return nil, err
	}
	recipients := email.AllRecipients()
	if err := s.mailFrom(email.Sender, recipients, len(payload)); err != nil {
		return nil, err
	}
	accepted, rejected, err := s.rcptTo(recipients)
	if err != nil {
		return nil, err
	}
	reply, err := s.data(payload)
	if err != nil {
		return nil, err
	}

	result := &Result{
		MessageID:     email.ID,
		QueueID:       extractQueueID(reply.Message()),
		Accepted:      accepted,
		Rejected:      rejected,
		Reply:         reply,
		Encrypted:     s.encrypted,
		Authenticated: s.authenticated,
	}
	if result.Partial() {
		return result, &DeliveryError{Kind: PartialRecipientsRejected, Reply: reply, Rejected: rejected}
	}
	return result, nil
}

// needsSMTPUTF8 reports whether any envelope address has a non-ASCII local
// part. Domains are sent as A-labels and never need it.
func needsSMTPUTF8(sender message.Contact, recipients []message.Contact) bool {
	for _, c := range append([]message.Contact{sender}, recipients...) {
		local, _, err := utils.SplitAddress(c.Address)
		if err != nil {
			continue
		}
		for i := 0; i < len(local); i++ {
			if local[i] >= utf8.RuneSelf {
				return true
			}
		}
	}
	return false
}

// extractQueueID pulls the server's queue identifier out of the final DATA
// reply. Common forms: "queued as ABC123", "id=ABC123", "<ABC123@server>".
func extractQueueID(msg string) string {
	msg = strings.TrimSpace(msg)

	if start := strings.Index(msg, "<"); start != -1 {
		if end := strings.Index(msg[start:], ">"); end != -1 {
			return msg[start : start+end+1]
		}
	}

	lower := strings.ToLower(msg)
	for _, marker := range []string{"queued as ", "id="} {
		if idx := strings.Index(lower, marker); idx != -1 {
			if parts := strings.Fields(msg[idx+len(marker):]); len(parts) > 0 {
				return strings.TrimRight(parts[0], ".,;)")
			}
		}
	}
	return ""
}
