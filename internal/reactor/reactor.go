// Package reactor runs the accept loop: one goroutine blocking on
// Listener.Accept, handing each new connection to Host.Accept, following
// the same per-listener accept-loop-per-goroutine shape as kcptun's server
// main's loop()/wg.Add(1) pattern.
package reactor

import (
	"net"

	"github.com/inconshreveable/log15"

	"github.com/inkfall/boardhost/internal/host"
	"github.com/inkfall/boardhost/internal/transport"
)

// Run blocks accepting connections from l and admitting them to h. It
// returns the first non-temporary Accept error, including the one Accept
// reports once l is closed.
func Run(l transport.Listener, h *host.Host, log log15.Logger) error {
	for {
		nc, err := l.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				log.Warn("transient accept error", "err", err)
				continue
			}
			return err
		}
		if err := h.Accept(nc); err != nil {
			log.Warn("connection rejected", "err", err, "remote", nc.RemoteAddr())
			nc.Close()
		}
	}
}
