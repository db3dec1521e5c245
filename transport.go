package courier

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	smtpio "github.com/synqronlabs/courier/io"
)

// prefixConn replays bytes that were read from Conn before it was handed to
// a new owner, then reads from Conn.
type prefixConn struct {
	net.Conn
	pending []byte
}

func (c *prefixConn) Read(p []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}

// lineConn frames a connection into CRLF lines. Every read and write is
// bounded by timeout when it is positive.
//
// Reads, writes and splice happen on the session goroutine; close may be
// called from any goroutine, so the swap of conn is guarded by mu.
type lineConn struct {
	mu      sync.Mutex
	conn    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	timeout time.Duration
}

func newLineConn(conn net.Conn, timeout time.Duration) *lineConn {
	return &lineConn{
		conn:    conn,
		r:       bufio.NewReader(conn),
		w:       bufio.NewWriter(conn),
		timeout: timeout,
	}
}

func (l *lineConn) deadline() time.Time {
	if l.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(l.timeout)
}

func (l *lineConn) readLine() (string, error) {
	if err := l.conn.SetReadDeadline(l.deadline()); err != nil {
		return "", err
	}
	return smtpio.ReadLine(l.r, smtpio.MaxReplyLineLen, false)
}

func (l *lineConn) writeLine(line string) error {
	if err := l.conn.SetWriteDeadline(l.deadline()); err != nil {
		return err
	}
	return smtpio.WriteLine(l.w, line)
}

func (l *lineConn) write(data []byte) error {
	if err := l.conn.SetWriteDeadline(l.deadline()); err != nil {
		return err
	}
	if _, err := l.w.Write(data); err != nil {
		return err
	}
	return l.w.Flush()
}

func (l *lineConn) close() error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	return conn.Close()
}

func (l *lineConn) tlsState() (tls.ConnectionState, bool) {
	if tc, ok := l.conn.(*tls.Conn); ok {
		return tc.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}

// splice replaces the plaintext connection with a TLS client session over
// the same socket. Bytes already buffered but not yet consumed are replayed
// into the handshake.
func (l *lineConn) splice(ctx context.Context, config *tls.Config) error {
	var base net.Conn = l.conn
	if n := l.r.Buffered(); n > 0 {
		buffered, _ := l.r.Peek(n)
		base = &prefixConn{Conn: l.conn, pending: append([]byte(nil), buffered...)}
	}

	tlsConn := tls.Client(base, config)
	if err := l.conn.SetDeadline(l.deadline()); err != nil {
		return err
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	l.conn = tlsConn
	l.mu.Unlock()
	l.r = bufio.NewReader(tlsConn)
	l.w = bufio.NewWriter(tlsConn)
	return nil
}

// stream is the reply-level view of a connection used by the session.
type stream interface {
	Send(command string) error
	Receive() (*Reply, error)
	SendData(data []byte) error
	TLSState() (tls.ConnectionState, bool)
	Close() error
}

// codecStream applies the wire codec to a lineConn.
type codecStream struct {
	conn *lineConn
	dec  ReplyDecoder
	log  zerolog.Logger
}

func newCodecStream(conn *lineConn, log zerolog.Logger) *codecStream {
	return &codecStream{conn: conn, log: log}
}

func (s *codecStream) Send(command string) error {
	return s.conn.writeLine(command)
}

func (s *codecStream) Receive() (*Reply, error) {
	for {
		line, err := s.conn.readLine()
		if err != nil {
			return nil, err
		}
		s.log.Debug().Msgf("S: %s", line)

		reply, err := s.dec.Decode(line)
		if err != nil {
			return nil, err
		}
		if reply != nil {
			return reply, nil
		}
	}
}

func (s *codecStream) SendData(data []byte) error {
	return s.conn.write(data)
}

func (s *codecStream) TLSState() (tls.ConnectionState, bool) {
	return s.conn.tlsState()
}

func (s *codecStream) Close() error {
	return s.conn.close()
}
