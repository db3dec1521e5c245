package sasl

import (
	gosasl "github.com/emersion/go-sasl"
)

// NewPlainClient returns a PLAIN (RFC 4616) client. The credentials go out
// in the initial response, so it should only be used over TLS.
func NewPlainClient(username, password string) Client {
	return gosasl.NewPlainClient("", username, password)
}
