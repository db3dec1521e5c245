package sasl

import (
	"strings"
)

const (
	loginStateInitial = iota
	loginStateUsername
	loginStatePassword
	loginStateDone
)

// Decoded LOGIN challenges. Servers are not required to send these exact
// prompts; they only disambiguate when present.
const (
	LoginPromptUsername = "Username:"
	LoginPromptPassword = "Password:"
)

// loginClient implements the LOGIN mechanism: the username and the password
// are each sent in reply to a separate 334 challenge.
type loginClient struct {
	state    int
	username string
	password string
}

// NewLoginClient returns a LOGIN client.
func NewLoginClient(username, password string) Client {
	return &loginClient{
		state:    loginStateInitial,
		username: username,
		password: password,
	}
}

func (l *loginClient) Start() (string, []byte, error) {
	l.state = loginStateUsername
	return Login, nil, nil
}

func (l *loginClient) Next(challenge []byte) ([]byte, error) {
	prompt := strings.TrimSpace(string(challenge))

	switch {
	case l.state == loginStateUsername && !strings.EqualFold(prompt, LoginPromptPassword):
		l.state = loginStatePassword
		return []byte(l.username), nil
	case l.state == loginStateUsername, l.state == loginStatePassword:
		l.state = loginStateDone
		return []byte(l.password), nil
	default:
		return nil, ErrUnexpectedChallenge
	}
}
