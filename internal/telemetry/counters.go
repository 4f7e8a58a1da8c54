package telemetry

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/inconshreveable/log15"
)

// Counters are the host-wide running totals boardhostd reports, mirroring
// the shape of kcptun's kcp.DefaultSnmp dump but scoped to session/protocol
// activity instead of kcp segment retransmits.
type Counters struct {
	UsersConnected    atomic.Int64
	UsersEvicted      atomic.Int64
	SessionsCreated   atomic.Int64
	SessionsDestroyed atomic.Int64
	EventsRelayed     atomic.Int64
	SyncsCompleted    atomic.Int64
	SyncsFailed       atomic.Int64
}

func (c *Counters) header() []string {
	return []string{"UsersConnected", "UsersEvicted", "SessionsCreated", "SessionsDestroyed",
		"EventsRelayed", "SyncsCompleted", "SyncsFailed"}
}

func (c *Counters) row() []string {
	return []string{
		fmt.Sprint(c.UsersConnected.Load()),
		fmt.Sprint(c.UsersEvicted.Load()),
		fmt.Sprint(c.SessionsCreated.Load()),
		fmt.Sprint(c.SessionsDestroyed.Load()),
		fmt.Sprint(c.EventsRelayed.Load()),
		fmt.Sprint(c.SyncsCompleted.Load()),
		fmt.Sprint(c.SyncsFailed.Load()),
	}
}

// RunCounterLog periodically appends a CSV row of c's current values to
// path (strftime-expanded the way kcptun's SnmpLogger expands its filename),
// blocking until stop is closed. A zero path or non-positive interval
// disables logging entirely.
func RunCounterLog(log log15.Logger, c *Counters, path string, intervalSeconds int, stop <-chan struct{}) {
	if path == "" || intervalSeconds <= 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := appendCounterRow(c, path); err != nil {
				log.Warn("counter log write failed", "err", err)
			}
		}
	}
}

func appendCounterRow(c *Counters, path string) error {
	dir, file := filepath.Split(path)
	f, err := os.OpenFile(dir+time.Now().Format(file), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
		if err := w.Write(append([]string{"Unix"}, c.header()...)); err != nil {
			return err
		}
	}
	if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, c.row()...)); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
