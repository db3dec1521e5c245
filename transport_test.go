package courier

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateTestCert creates a self-signed certificate for localhost and
// 127.0.0.1.
func generateTestCert(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	serialNumber, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Test"},
			CommonName:   "localhost",
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(certDER)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	return cert, pool
}

func TestPrefixConn_ReplaysPendingBytes(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		server.Write([]byte(" world"))
		server.Close()
	}()

	conn := &prefixConn{Conn: client, pending: []byte("hello")}
	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestPrefixConn_SmallReads(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := &prefixConn{Conn: client, pending: []byte("abcdef")}
	buf := make([]byte, 4)

	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(buf[:n]))

	n, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ef", string(buf[:n]))
}

func TestLineConn_Splice(t *testing.T) {
	cert, pool := generateTestCert(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverErr <- err
			return
		}
		defer conn.Close()

		if _, err := conn.Write([]byte("220 go ahead\r\n")); err != nil {
			serverErr <- err
			return
		}

		tlsConn := tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{cert}})
		r := bufio.NewReader(tlsConn)
		line, err := r.ReadString('\n')
		if err != nil {
			serverErr <- err
			return
		}
		if line != "EHLO client\r\n" {
			serverErr <- io.ErrUnexpectedEOF
			return
		}
		_, err = tlsConn.Write([]byte("250 secured\r\n"))
		serverErr <- err
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	lc := newLineConn(conn, 5*time.Second)
	defer lc.close()

	line, err := lc.readLine()
	require.NoError(t, err)
	assert.Equal(t, "220 go ahead", line)

	_, ok := lc.tlsState()
	assert.False(t, ok)

	require.NoError(t, lc.splice(context.Background(), &tls.Config{RootCAs: pool, ServerName: "localhost"}))

	state, ok := lc.tlsState()
	require.True(t, ok)
	assert.True(t, state.HandshakeComplete)

	require.NoError(t, lc.writeLine("EHLO client"))
	line, err = lc.readLine()
	require.NoError(t, err)
	assert.Equal(t, "250 secured", line)

	require.NoError(t, <-serverErr)
}

func TestLineConn_SpliceReplaysBufferedBytes(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		// One write so the reply and the trailing bytes land in the same
		// buffered read.
		server.Write([]byte("220 go ahead\r\nXYZ garbage\r\n"))
		io.Copy(io.Discard, server)
	}()

	lc := newLineConn(client, 5*time.Second)
	defer lc.close()

	line, err := lc.readLine()
	require.NoError(t, err)
	assert.Equal(t, "220 go ahead", line)
	require.Equal(t, len("XYZ garbage\r\n"), lc.r.Buffered())

	err = lc.splice(context.Background(), &tls.Config{ServerName: "localhost"})
	var headerErr tls.RecordHeaderError
	require.ErrorAs(t, err, &headerErr)
	assert.Equal(t, "XYZ g", string(headerErr.RecordHeader[:]))

	_, ok := lc.tlsState()
	assert.False(t, ok)
}

func TestLineConn_CloseDuringSplice(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	go io.Copy(io.Discard, server)

	lc := newLineConn(client, 5*time.Second)

	done := make(chan error, 1)
	go func() {
		done <- lc.splice(context.Background(), &tls.Config{ServerName: "localhost"})
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, lc.close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("splice did not return after close")
	}
}

func TestCodecStream_AssemblesMultilineReply(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		server.Write([]byte("250-mail.example.com\r\n250-SIZE 100\r\n250 STARTTLS\r\n"))
	}()

	st := newCodecStream(newLineConn(client, time.Second), zerolog.Nop())
	defer st.Close()

	reply, err := st.Receive()
	require.NoError(t, err)
	assert.Equal(t, 250, reply.Code)
	assert.Equal(t, []string{"mail.example.com", "SIZE 100", "STARTTLS"}, reply.Lines)
}

func TestCodecStream_ReadTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	st := newCodecStream(newLineConn(client, 50*time.Millisecond), zerolog.Nop())
	defer st.Close()

	_, err := st.Receive()
	require.Error(t, err)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}
