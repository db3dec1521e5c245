package courier

import (
	"context"
	"crypto/tls"
	"strings"
)

// upgradeAdapter sits between the session and the codec for StartTLS
// connections. It stays inert until a STARTTLS command is answered with 220,
// at which point it splices TLS into the connection before handing the reply
// up. From then on it only forwards.
type upgradeAdapter struct {
	ctx      context.Context
	inner    *codecStream
	config   *tls.Config
	armed    bool
	upgraded bool
}

func newUpgradeAdapter(ctx context.Context, inner *codecStream, config *tls.Config) *upgradeAdapter {
	return &upgradeAdapter{ctx: ctx, inner: inner, config: config}
}

func (a *upgradeAdapter) Send(command string) error {
	if !a.upgraded && strings.EqualFold(strings.TrimSpace(command), "STARTTLS") {
		a.armed = true
	}
	return a.inner.Send(command)
}

func (a *upgradeAdapter) Receive() (*Reply, error) {
	reply, err := a.inner.Receive()
	if err != nil || !a.armed {
		return reply, err
	}

	a.armed = false
	if reply.Code != 220 {
		return reply, nil
	}
	if err := a.inner.conn.splice(a.ctx, a.config); err != nil {
		return reply, &ConnectionError{Kind: TLSFailure, Reply: reply, Err: err}
	}
	a.upgraded = true
	return reply, nil
}

func (a *upgradeAdapter) SendData(data []byte) error {
	return a.inner.SendData(data)
}

func (a *upgradeAdapter) TLSState() (tls.ConnectionState, bool) {
	return a.inner.TLSState()
}

func (a *upgradeAdapter) Close() error {
	return a.inner.Close()
}
