package courier

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	units "github.com/docker/go-units"
	"github.com/emersion/go-smtp"
	"github.com/flashmob/go-guerrilla/tests/testcert"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synqronlabs/courier/dns"
	"github.com/synqronlabs/courier/message"
	"github.com/synqronlabs/courier/mime"
)

func TestNewClient(t *testing.T) {
	_, err := NewClient(Configuration{})
	assert.Error(t, err, "empty hostname must be rejected")

	cfg := DefaultConfiguration()
	cfg.Features = Base64Line64 | Base64Line76
	_, err = NewClient(cfg)
	assert.Error(t, err)

	client, err := NewClient(DefaultConfiguration(), WithLogger(zerolog.Nop()), WithDialer(nil))
	require.NoError(t, err)
	assert.NotNil(t, client.dialer)
	assert.Equal(t, DefaultHost, client.Config().Server.Hostname)
}

func TestClient_LocalName(t *testing.T) {
	cfg := DefaultConfiguration()
	cfg.LocalName = "Bücher.example"
	client, err := NewClient(cfg)
	require.NoError(t, err)
	assert.Equal(t, "xn--bcher-kva.example", client.localName())

	client, err = NewClient(DefaultConfiguration())
	require.NoError(t, err)
	assert.NotEmpty(t, client.localName())
}

func TestSend_InvalidEmail(t *testing.T) {
	client, err := NewClient(DefaultConfiguration())
	require.NoError(t, err)

	_, err = client.Send(context.Background(), nil)
	assert.Error(t, err)

	_, err = client.Send(context.Background(), &message.Email{
		Sender: message.Contact{Address: "sender@example.com"},
		Body:   message.PlainBody{Text: "hi"},
	})
	assert.ErrorIs(t, err, message.ErrNoRecipients)
}

func TestSend_DoesNotModifyEmail(t *testing.T) {
	srv := newFakeServer(t, nil)

	email := &message.Email{
		Sender:     message.Contact{Address: "sender@example.com"},
		Recipients: []message.Contact{{Address: "rcpt@example.com"}},
		Body:       message.PlainBody{Text: "hi"},
	}

	result, err := send(t, srv.config(Plain{}), email)
	require.NoError(t, err)
	assert.Empty(t, email.ID)
	assert.True(t, strings.HasSuffix(result.MessageID, "@example.com>"), result.MessageID)
}

func TestSendAsync(t *testing.T) {
	srv := newFakeServer(t, nil)

	client, err := NewClient(srv.config(Plain{}))
	require.NoError(t, err)

	outcomes := client.SendAsync(context.Background(), testEmail(t))

	select {
	case outcome := <-outcomes:
		require.NoError(t, outcome.Err)
		assert.Equal(t, "ABC123", outcome.Result.QueueID)
	case <-time.After(5 * time.Second):
		t.Fatal("no outcome delivered")
	}

	_, open := <-outcomes
	assert.False(t, open)
}

func TestSendAsync_Concurrent(t *testing.T) {
	const n = 4
	var outcomes []<-chan Outcome
	for i := 0; i < n; i++ {
		srv := newFakeServer(t, nil)
		client, err := NewClient(srv.config(Plain{}))
		require.NoError(t, err)
		outcomes = append(outcomes, client.SendAsync(context.Background(), testEmail(t)))
	}

	for _, ch := range outcomes {
		outcome := <-ch
		assert.NoError(t, outcome.Err)
	}
}

func TestSend_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()

	port, _ := strconv.Atoi(portStr)
	cfg := DefaultConfiguration()
	cfg.Server.Port = port

	_, err = send(t, cfg, testEmail(t))
	require.ErrorIs(t, err, ErrRefused)
}

// emptyResolver answers every lookup with no records and no error.
type emptyResolver struct{}

func (emptyResolver) LookupIP(context.Context, string) (dns.Result[net.IP], error) {
	return dns.Result[net.IP]{}, nil
}

func TestBootstrapper_DialWithoutAddresses(t *testing.T) {
	b := &bootstrapper{dialer: &net.Dialer{}, log: zerolog.Nop()}

	conn, err := b.dial(context.Background(), nil)
	assert.Nil(t, conn)
	require.Error(t, err)
	require.ErrorIs(t, b.classify(context.Background(), err), ErrUnreachable)
}

func TestSend_WithResolver(t *testing.T) {
	t.Run("resolves host", func(t *testing.T) {
		srv := newFakeServer(t, nil)
		cfg := srv.config(Plain{})
		cfg.Server.Hostname = "mail.courier.test"

		client, err := NewClient(cfg, WithResolver(dns.MockResolver{
			A: map[string][]string{"mail.courier.test.": {"127.0.0.1"}},
		}))
		require.NoError(t, err)

		_, err = client.Send(context.Background(), testEmail(t))
		require.NoError(t, err)
	})

	t.Run("no such host", func(t *testing.T) {
		cfg := DefaultConfiguration()
		cfg.Server.Hostname = "missing.courier.test"

		client, err := NewClient(cfg, WithResolver(dns.MockResolver{}))
		require.NoError(t, err)

		_, err = client.Send(context.Background(), testEmail(t))
		require.ErrorIs(t, err, ErrUnreachable)
		assert.True(t, dns.IsNotFound(err))
	})

	t.Run("empty answer", func(t *testing.T) {
		cfg := DefaultConfiguration()
		cfg.Server.Hostname = "empty.courier.test"

		client, err := NewClient(cfg, WithResolver(emptyResolver{}))
		require.NoError(t, err)

		_, err = client.Send(context.Background(), testEmail(t))
		require.ErrorIs(t, err, ErrUnreachable)
		assert.True(t, dns.IsNotFound(err))
	})

	t.Run("server failure", func(t *testing.T) {
		cfg := DefaultConfiguration()
		cfg.Server.Hostname = "broken.courier.test"

		client, err := NewClient(cfg, WithResolver(dns.MockResolver{Fail: []string{"broken.courier.test."}}))
		require.NoError(t, err)

		_, err = client.Send(context.Background(), testEmail(t))
		require.ErrorIs(t, err, ErrUnreachable)
		assert.True(t, dns.IsTemporary(err))
	})
}

func TestSend_Base64LineWidth(t *testing.T) {
	srv := newFakeServer(t, nil)
	cfg := srv.config(Plain{})
	cfg.Features = Base64Line64

	email, err := message.NewBuilder().
		From("sender@example.com").
		To("rcpt@example.com").
		TextBody("see attached").
		Attach("blob.bin", []byte(strings.Repeat("x", 300)), "").
		Build()
	require.NoError(t, err)

	_, err = send(t, cfg, email)
	require.NoError(t, err)

	parsed, err := mime.Parse([]byte(srv.message(t) + "\r\n"))
	require.NoError(t, err)
	attachments := parsed.Attachments()
	require.Len(t, attachments, 1)
	assert.Equal(t, strings.Repeat("x", 300), string(attachments[0].Body))

	for _, line := range strings.Split(srv.message(t), "\r\n") {
		assert.LessOrEqual(t, len(line), 998)
	}
	assert.Contains(t, srv.message(t), "\r\n"+strings.Repeat("eHh4", 16)+"\r\n", "base64 must wrap at 64 columns")
}

// recordingBackend is a go-smtp backend that keeps every message in memory.
type recordingBackend struct {
	mu       sync.Mutex
	username string
	from     string
	rcpts    []string
	data     []byte
	reject   map[string]bool
}

func (be *recordingBackend) Login(_ *smtp.ConnectionState, username, password string) (smtp.Session, error) {
	if username != "alice" || password != "secret" {
		return nil, errors.New("invalid username or password")
	}
	be.mu.Lock()
	be.username = username
	be.mu.Unlock()
	return &recordingSession{be: be}, nil
}

func (be *recordingBackend) AnonymousLogin(_ *smtp.ConnectionState) (smtp.Session, error) {
	return &recordingSession{be: be}, nil
}

type recordingSession struct {
	be *recordingBackend
}

func (s *recordingSession) Reset() {}

func (s *recordingSession) Logout() error { return nil }

func (s *recordingSession) Mail(from string, _ smtp.MailOptions) error {
	s.be.mu.Lock()
	defer s.be.mu.Unlock()
	s.be.from = from
	return nil
}

func (s *recordingSession) Rcpt(to string) error {
	s.be.mu.Lock()
	defer s.be.mu.Unlock()
	if s.be.reject[to] {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "No such user",
		}
	}
	s.be.rcpts = append(s.be.rcpts, to)
	return nil
}

func (s *recordingSession) Data(r io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(r, 10*units.MiB))
	if err != nil {
		return err
	}
	s.be.mu.Lock()
	defer s.be.mu.Unlock()
	s.be.data = data
	return nil
}

// startGoSMTP runs a go-smtp server with a certificate generated on disk and
// returns a configuration that trusts it.
func startGoSMTP(t *testing.T, be *recordingBackend) Configuration {
	t.Helper()

	host := "127.0.0.1"
	dir := t.TempDir() + string(os.PathSeparator)
	require.NoError(t, testcert.GenerateCert(host, "", time.Hour, true, 2048, "", dir))

	keyPath := dir + host + ".key.pem"
	certPath := dir + host + ".cert.pem"
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	require.NoError(t, err)

	certPEM, err := os.ReadFile(certPath)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(certPEM))

	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.MaxMessageBytes = 1 * units.MiB
	srv.AllowInsecureAuth = false
	srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}

	ln, err := net.Listen("tcp", host+":0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	return Configuration{
		Server:            Server{Hostname: host, Port: port, Encryption: StartTLS{Mode: Always}},
		ConnectionTimeout: 5 * time.Second,
		CommandTimeout:    5 * time.Second,
		LocalName:         "client.test",
		TLSConfig:         &tls.Config{RootCAs: pool},
	}
}

func TestSend_GoSMTPServer(t *testing.T) {
	be := &recordingBackend{}
	cfg := startGoSMTP(t, be)
	cfg.Credentials = &Credentials{Username: "alice", Password: "secret"}
	cfg.Features = Base64Line76

	email, err := message.NewBuilder().
		From("Alice <alice@example.com>").
		To("bob@example.org").
		Cc("carol@example.org").
		Subject("Grüße").
		TextBody("Hello Bob\r\n.dot line\r\n").
		HTMLBody("<p>Hello Bob</p>").
		Attach("notes.txt", []byte("attached notes"), "text/plain").
		Build()
	require.NoError(t, err)

	result, err := send(t, cfg, email)
	require.NoError(t, err)
	assert.True(t, result.Encrypted)
	assert.True(t, result.Authenticated)
	assert.Equal(t, []string{"bob@example.org", "carol@example.org"}, result.Accepted)

	be.mu.Lock()
	defer be.mu.Unlock()
	assert.Equal(t, "alice", be.username)
	assert.Equal(t, "alice@example.com", be.from)
	assert.Equal(t, []string{"bob@example.org", "carol@example.org"}, be.rcpts)

	parsed, err := mime.Parse(be.data)
	require.NoError(t, err)
	assert.Equal(t, "Grüße", parsed.Subject)

	text, ok := parsed.Text("text/plain")
	require.True(t, ok)
	assert.Contains(t, text, "\n.dot line")
	assert.NotContains(t, text, "..dot line")

	html, ok := parsed.Text("text/html")
	require.True(t, ok)
	assert.Equal(t, "<p>Hello Bob</p>", html)

	attachments := parsed.Attachments()
	require.Len(t, attachments, 1)
	assert.Equal(t, "notes.txt", attachments[0].Filename)
	assert.Equal(t, "attached notes", string(attachments[0].Body))
}

func TestSend_GoSMTPServerRejectsRecipient(t *testing.T) {
	be := &recordingBackend{reject: map[string]bool{"nobody@example.org": true}}
	cfg := startGoSMTP(t, be)

	result, err := send(t, cfg, testEmail(t, "bob@example.org", "nobody@example.org"))
	require.ErrorIs(t, err, ErrPartialRecipientsRejected)
	require.NotNil(t, result)
	assert.False(t, result.Authenticated)

	require.Len(t, result.Rejected, 1)
	assert.Equal(t, "nobody@example.org", result.Rejected[0].Address)
	assert.Equal(t, "5.1.1", result.Rejected[0].Reply.EnhancedCode)
}

func TestSend_GoSMTPServerBadCredentials(t *testing.T) {
	cfg := startGoSMTP(t, &recordingBackend{})
	cfg.Credentials = &Credentials{Username: "alice", Password: "wrong"}

	_, err := send(t, cfg, testEmail(t))
	require.ErrorIs(t, err, ErrBadCredentials)
}
