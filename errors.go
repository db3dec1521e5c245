package courier

import (
	"fmt"
	"strings"
)

// ConnectionErrorKind classifies a ConnectionError.
type ConnectionErrorKind int

const (
	Timeout ConnectionErrorKind = iota + 1
	Refused
	Unreachable
	ServerRejected
	EncryptionUnavailable
	TLSFailure
)

func (k ConnectionErrorKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case Refused:
		return "connection refused"
	case Unreachable:
		return "unreachable"
	case ServerRejected:
		return "rejected by server"
	case EncryptionUnavailable:
		return "encryption unavailable"
	case TLSFailure:
		return "TLS failure"
	default:
		return fmt.Sprintf("ConnectionErrorKind(%d)", int(k))
	}
}

// AuthenticationErrorKind classifies an AuthenticationError.
type AuthenticationErrorKind int

const (
	BadCredentials AuthenticationErrorKind = iota + 1
	UnsupportedMechanism
)

func (k AuthenticationErrorKind) String() string {
	switch k {
	case BadCredentials:
		return "bad credentials"
	case UnsupportedMechanism:
		return "unsupported mechanism"
	default:
		return fmt.Sprintf("AuthenticationErrorKind(%d)", int(k))
	}
}

// DeliveryErrorKind classifies a DeliveryError.
type DeliveryErrorKind int

const (
	SenderRejected DeliveryErrorKind = iota + 1
	AllRecipientsRejected
	// PartialRecipientsRejected accompanies a successful Result: the message
	// was delivered to the accepted recipients only.
	PartialRecipientsRejected
	MessageRejected
)

func (k DeliveryErrorKind) String() string {
	switch k {
	case SenderRejected:
		return "sender rejected"
	case AllRecipientsRejected:
		return "all recipients rejected"
	case PartialRecipientsRejected:
		return "some recipients rejected"
	case MessageRejected:
		return "message rejected"
	default:
		return fmt.Sprintf("DeliveryErrorKind(%d)", int(k))
	}
}

// ProtocolErrorKind classifies a ProtocolError.
type ProtocolErrorKind int

const (
	MalformedReply ProtocolErrorKind = iota + 1
	UnexpectedState
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case MalformedReply:
		return "malformed reply"
	case UnexpectedState:
		return "unexpected state"
	default:
		return fmt.Sprintf("ProtocolErrorKind(%d)", int(k))
	}
}

// Sentinels for errors.Is. They match any error of the same type and kind.
var (
	ErrTimeout               = &ConnectionError{Kind: Timeout}
	ErrRefused               = &ConnectionError{Kind: Refused}
	ErrUnreachable           = &ConnectionError{Kind: Unreachable}
	ErrServerRejected        = &ConnectionError{Kind: ServerRejected}
	ErrEncryptionUnavailable = &ConnectionError{Kind: EncryptionUnavailable}
	ErrTLSFailure            = &ConnectionError{Kind: TLSFailure}

	ErrBadCredentials       = &AuthenticationError{Kind: BadCredentials}
	ErrUnsupportedMechanism = &AuthenticationError{Kind: UnsupportedMechanism}

	ErrSenderRejected            = &DeliveryError{Kind: SenderRejected}
	ErrAllRecipientsRejected     = &DeliveryError{Kind: AllRecipientsRejected}
	ErrPartialRecipientsRejected = &DeliveryError{Kind: PartialRecipientsRejected}
	ErrMessageRejected           = &DeliveryError{Kind: MessageRejected}

	ErrMalformedReply  = &ProtocolError{Kind: MalformedReply}
	ErrUnexpectedState = &ProtocolError{Kind: UnexpectedState}
)

func formatError(category, kind string, reply *Reply, cause error) string {
	var b strings.Builder
	b.WriteString("smtp: ")
	b.WriteString(category)
	b.WriteString(": ")
	b.WriteString(kind)
	if reply != nil {
		b.WriteString(": ")
		b.WriteString(reply.String())
	}
	if cause != nil {
		b.WriteString(": ")
		b.WriteString(cause.Error())
	}
	return b.String()
}

// ConnectionError reports a failure to establish or keep a usable session.
type ConnectionError struct {
	Kind  ConnectionErrorKind
	Reply *Reply
	Err   error
}

func (e *ConnectionError) Error() string {
	return formatError("connection", e.Kind.String(), e.Reply, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool {
	t, ok := target.(*ConnectionError)
	return ok && t.Kind == e.Kind
}

// AuthenticationError reports a failed AUTH exchange.
type AuthenticationError struct {
	Kind      AuthenticationErrorKind
	Mechanism string
	Reply     *Reply
	Err       error
}

func (e *AuthenticationError) Error() string {
	kind := e.Kind.String()
	if e.Mechanism != "" {
		kind += " (" + e.Mechanism + ")"
	}
	return formatError("authentication", kind, e.Reply, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

func (e *AuthenticationError) Is(target error) bool {
	t, ok := target.(*AuthenticationError)
	return ok && t.Kind == e.Kind
}

// RecipientRejection records a recipient the server refused at RCPT TO.
type RecipientRejection struct {
	Address string
	Reply   *Reply
}

// DeliveryError reports the server refusing the envelope or the message.
type DeliveryError struct {
	Kind  DeliveryErrorKind
	Reply *Reply
	// Rejected lists refused recipients for AllRecipientsRejected and
	// PartialRecipientsRejected.
	Rejected []RecipientRejection
	Err      error
}

func (e *DeliveryError) Error() string {
	if len(e.Rejected) > 0 {
		parts := make([]string, len(e.Rejected))
		for i, r := range e.Rejected {
			parts[i] = r.Address
			if r.Reply != nil {
				parts[i] += " (" + r.Reply.String() + ")"
			}
		}
		return formatError("delivery", e.Kind.String(), nil, nil) + ": " + strings.Join(parts, ", ")
	}
	return formatError("delivery", e.Kind.String(), e.Reply, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool {
	t, ok := target.(*DeliveryError)
	return ok && t.Kind == e.Kind
}

// ProtocolError reports a reply that violates the SMTP grammar or a command
// issued out of order.
type ProtocolError struct {
	Kind ProtocolErrorKind
	// Line is the offending reply line, when there is one.
	Line string
	Err  error
}

func (e *ProtocolError) Error() string {
	msg := formatError("protocol", e.Kind.String(), nil, e.Err)
	if e.Line != "" {
		msg += fmt.Sprintf(": %q", e.Line)
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	return ok && t.Kind == e.Kind
}
