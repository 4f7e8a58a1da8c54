// Package transport implements the pluggable listener: a plain TCP listener
// by default, or an optional reliable-UDP listener backed by
// github.com/xtaci/kcp-go/v5 (kcptun's own core transport, repurposed here
// as a direct net.Listener rather than a multiplexed tunnel).
package transport

import (
	"net"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	kcp "github.com/xtaci/kcp-go/v5"
)

// Listener is satisfied by both net.TCPListener and kcp.Listener: boardhostd
// only ever needs Accept/Close/Addr, so the reactor is agnostic to which
// transport produced the connection.
type Listener interface {
	Accept() (net.Conn, error)
	Close() error
	Addr() net.Addr
}

// Config selects and configures a Listener.
type Config struct {
	Kind    string // "tcp" or "kcp"
	Listen  string
	Crypt   string
	AuthKey string
}

// Listen opens the configured transport. For "kcp" it derives a session key
// from AuthKey via PBKDF2 and logs the effective cipher in use.
func Listen(cfg Config, log log15.Logger) (Listener, error) {
	switch cfg.Kind {
	case "", "tcp":
		l, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			return nil, errors.Wrap(err, "listen tcp")
		}
		return l, nil
	case "kcp":
		block, effective := selectBlockCrypt(log, cfg.Crypt, cfg.AuthKey)
		log.Info("kcp transport encryption", "cipher", effective)
		l, err := kcp.ListenWithOptions(cfg.Listen, block, 0, 0)
		if err != nil {
			return nil, errors.Wrap(err, "listen kcp")
		}
		return kcpListener{l}, nil
	default:
		return nil, errors.Errorf("unknown transport kind %q", cfg.Kind)
	}
}

// kcpListener adapts *kcp.Listener's AcceptKCP to the plain net.Conn-typed
// Accept the rest of boardhostd expects, matching up to how conn.Connection
// only ever needs net.Conn's Read/Write/Close/RemoteAddr.
type kcpListener struct {
	*kcp.Listener
}

func (l kcpListener) Accept() (net.Conn, error) {
	c, err := l.AcceptKCP()
	if err != nil {
		return nil, err
	}
	c.SetStreamMode(true)
	c.SetWriteDelay(false)
	c.SetNoDelay(1, 20, 2, 1) // "fast" profile, matching kcptun's default mode
	return c, nil
}
