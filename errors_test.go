package courier

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrors_IsMatchesKind(t *testing.T) {
	reply := &Reply{Code: 554, Lines: []string{"5.7.1 No thanks"}}

	tests := []struct {
		name     string
		err      error
		matches  error
		excludes error
	}{
		{
			name:     "connection",
			err:      &ConnectionError{Kind: ServerRejected, Reply: reply},
			matches:  ErrServerRejected,
			excludes: ErrTimeout,
		},
		{
			name:     "authentication",
			err:      &AuthenticationError{Kind: BadCredentials, Mechanism: "PLAIN", Reply: reply},
			matches:  ErrBadCredentials,
			excludes: ErrUnsupportedMechanism,
		},
		{
			name:     "delivery",
			err:      &DeliveryError{Kind: MessageRejected, Reply: reply},
			matches:  ErrMessageRejected,
			excludes: ErrSenderRejected,
		},
		{
			name:     "protocol",
			err:      &ProtocolError{Kind: MalformedReply, Line: "bogus"},
			matches:  ErrMalformedReply,
			excludes: ErrUnexpectedState,
		},
		{
			name:     "wrapped",
			err:      fmt.Errorf("sending: %w", &ConnectionError{Kind: Timeout}),
			matches:  ErrTimeout,
			excludes: ErrMessageRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.matches)
			assert.NotErrorIs(t, tt.err, tt.excludes)
		})
	}
}

func TestErrors_MessageCarriesReplyText(t *testing.T) {
	reply := &Reply{Code: 535, Lines: []string{"5.7.8 Authentication credentials invalid"}}
	err := &AuthenticationError{Kind: BadCredentials, Mechanism: "LOGIN", Reply: reply}

	assert.Equal(t,
		"smtp: authentication: bad credentials (LOGIN): 535 5.7.8 Authentication credentials invalid",
		err.Error())
}

func TestErrors_Unwrap(t *testing.T) {
	err := &ConnectionError{Kind: Unreachable, Err: io.EOF}
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "smtp: connection: unreachable: EOF", err.Error())
}

func TestDeliveryError_ListsRejectedRecipients(t *testing.T) {
	err := &DeliveryError{
		Kind: AllRecipientsRejected,
		Rejected: []RecipientRejection{
			{Address: "a@example.com", Reply: &Reply{Code: 550, Lines: []string{"No such user"}}},
			{Address: "b@exämple.com"},
		},
	}

	assert.Equal(t,
		"smtp: delivery: all recipients rejected: a@example.com (550 No such user), b@exämple.com",
		err.Error())

	var delivery *DeliveryError
	assert.True(t, errors.As(error(err), &delivery))
	assert.Len(t, delivery.Rejected, 2)
}

func TestProtocolError_QuotesLine(t *testing.T) {
	err := &ProtocolError{Kind: MalformedReply, Line: "2x0 hi", Err: errors.New("non-numeric reply code")}
	assert.Equal(t, `smtp: protocol: malformed reply: non-numeric reply code: "2x0 hi"`, err.Error())
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "encryption unavailable", EncryptionUnavailable.String())
	assert.Equal(t, "unsupported mechanism", UnsupportedMechanism.String())
	assert.Equal(t, "some recipients rejected", PartialRecipientsRejected.String())
	assert.Equal(t, "unexpected state", UnexpectedState.String())
	assert.Equal(t, "ConnectionErrorKind(42)", ConnectionErrorKind(42).String())
}
