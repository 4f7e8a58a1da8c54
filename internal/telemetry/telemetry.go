// Package telemetry wires up structured logging and the periodic counter
// dump boardhostd exposes, following kcptun's own log15 setup in its ngrok
// heritage (see the ngrok-go pack example) and its std.SnmpLogger CSV idiom
// (internal/transport's kcp path drives the same kcp.DefaultSnmp counters).
package telemetry

import (
	"os"

	"github.com/inconshreveable/log15"
)

// NewLogger builds the root log15.Logger, appending to path if non-empty
// (created if missing, never truncated) or writing to stderr otherwise. quiet drops Info-level records, keeping only Warn/Error.
func NewLogger(path string, quiet bool) (log15.Logger, error) {
	log := log15.New()

	var handler log15.Handler
	if path != "" {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return nil, err
		}
		handler = log15.StreamHandler(f, log15.LogfmtFormat())
	} else {
		handler = log15.StreamHandler(os.Stderr, log15.TerminalFormat())
	}

	if quiet {
		handler = log15.LvlFilterHandler(log15.LvlWarn, handler)
	}
	log.SetHandler(handler)
	return log, nil
}
