// Package conn implements the Connection abstraction: one duplex
// byte-stream endpoint with framing, back-pressure, and the
// {OPENING, LIVE, DRAINING, CLOSED} lifecycle.
//
// Each Connection runs two goroutines (a read pump and a write pump)
// rather than a manually polled reactor: the Go runtime's netpoller already
// gives blocking net.Conn calls non-blocking semantics at the scheduler
// level, so no pump goroutine ever blocks a peer's session or the rest of
// the host.
package conn

import (
	"bytes"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/inkfall/boardhost/internal/wire"
)

// State is the Connection lifecycle.
type State int32

const (
	StateOpening State = iota
	StateLive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "OPENING"
	case StateLive:
		return "LIVE"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DefaultBackpressureHigh is the default outbound-buffer threshold past
// which a connection is marked overflowing.
const DefaultBackpressureHigh = 64 << 10

// Kind classifies a read/write failure.
type Kind int

const (
	KindTransient Kind = iota // WouldBlock / Interrupted: retry
	KindPeerClosed
	KindFatal
)

// IOError wraps an I/O failure with its Kind classification.
type IOError struct {
	Kind Kind
	Err  error
}

func (e *IOError) Error() string { return e.Err.Error() }
func (e *IOError) Unwrap() error { return e.Err }

// Connection owns one net.Conn plus the inbound/outbound framing around it.
type Connection struct {
	nc         net.Conn
	backHigh   int
	state      atomic.Int32
	overflow   atomic.Bool
	closeOnce  sync.Once
	notifyOnce sync.Once
	done       chan struct{}
	out        *outbox
	onMessages func([]wire.Message)
	onClose    func(reason error)
}

// New constructs a Connection in state OPENING. Callers must call Start to
// begin pumping; onMessages is invoked from the read pump goroutine for
// every decoded frame (one call per frame; bulk frames deliver their whole
// batch in one call so session fan-out ordering is easy to reason about).
// onClose is invoked exactly once, from whichever pump first observes
// termination.
func New(nc net.Conn, backHigh int, onMessages func([]wire.Message), onClose func(error)) *Connection {
	if backHigh <= 0 {
		backHigh = DefaultBackpressureHigh
	}
	c := &Connection{
		nc:         nc,
		backHigh:   backHigh,
		done:       make(chan struct{}),
		out:        newOutbox(),
		onMessages: onMessages,
		onClose:    onClose,
	}
	c.state.Store(int32(StateOpening))
	return c
}

// Start begins the read and write pump goroutines and marks the connection
// LIVE.
func (c *Connection) Start() {
	c.state.Store(int32(StateLive))
	go c.readPump()
	go c.writePump()
}

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// Overflowing reports whether the outbound buffer has exceeded its
// configured threshold. Sessions consult this during fan-out to decide
// whether a subscriber is too slow to keep up.
func (c *Connection) Overflowing() bool { return c.overflow.Load() }

// Enqueue encodes and queues one message for the write pump. It is
// idempotent on a closed connection: the frame is silently dropped rather
// than returned as an error, so callers never need to special-case a peer
// that has already gone away.
func (c *Connection) Enqueue(m wire.Message) error {
	if c.State() == StateClosed {
		return nil
	}
	buf, err := wire.Encode(m)
	if err != nil {
		return errors.Wrap(err, "encode outbound message")
	}
	c.queueFrame(buf)
	return nil
}

// EnqueueBulk encodes and queues a bulk run as a single frame.
func (c *Connection) EnqueueBulk(msgs []wire.Message) error {
	if c.State() == StateClosed {
		return nil
	}
	buf, err := wire.EncodeBulk(msgs)
	if err != nil {
		return errors.Wrap(err, "encode outbound bulk message")
	}
	c.queueFrame(buf)
	return nil
}

func (c *Connection) queueFrame(buf []byte) {
	total := c.out.push(buf)
	if total > c.backHigh {
		c.overflow.Store(true)
	}
}

// Drain transitions the connection to DRAINING: no more reads are
// processed, but queued outbound frames are still flushed before close.
func (c *Connection) Drain() {
	if c.state.CompareAndSwap(int32(StateLive), int32(StateDraining)) {
		c.out.closeForWrites()
	}
}

// Close forces the connection to CLOSED and releases the socket. Safe to
// call multiple times and from multiple goroutines.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
		c.nc.Close()
	})
}

func (c *Connection) readPump() {
	var pending bytes.Buffer
	buf := make([]byte, 64<<10)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 && c.State() == StateLive {
			pending.Write(buf[:n])
			if drainErr := c.drainDecoded(&pending); drainErr != nil {
				c.terminate(drainErr)
				return
			}
		}
		if err != nil {
			reason := classifyReadError(err)
			if ioErr, ok := reason.(*IOError); ok && ioErr.Kind == KindTransient {
				continue
			}
			c.terminate(reason)
			return
		}
		if c.State() == StateClosed {
			return
		}
	}
}

func (c *Connection) drainDecoded(pending *bytes.Buffer) error {
	for {
		res, err := wire.Decode(pending.Bytes())
		if err != nil {
			if _, ok := err.(*wire.NeedMoreError); ok {
				return nil
			}
			return errors.Wrap(err, "malformed frame")
		}
		leftover := pending.Bytes()[res.Consumed:]
		rest := make([]byte, len(leftover))
		copy(rest, leftover)
		pending.Reset()
		pending.Write(rest)
		if c.onMessages != nil {
			c.onMessages(res.Messages)
		}
	}
}

func classifyReadError(err error) error {
	if err == io.EOF {
		return &IOError{Kind: KindPeerClosed, Err: err}
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return &IOError{Kind: KindTransient, Err: err}
	}
	return &IOError{Kind: KindFatal, Err: err}
}

func (c *Connection) writePump() {
	for {
		frames, ok := c.out.waitBatch(c.done)
		if !ok {
			if c.State() == StateDraining {
				c.Close()
			}
			return
		}
		for _, f := range frames {
			if _, err := c.nc.Write(f); err != nil {
				c.terminate(&IOError{Kind: KindFatal, Err: err})
				return
			}
			if c.out.ack(len(f)) <= c.backHigh {
				c.overflow.Store(false)
			}
		}
		if c.out.drained() && c.State() == StateDraining {
			c.Close()
			return
		}
	}
}

func (c *Connection) terminate(reason error) {
	c.Close()
	if c.onClose != nil {
		c.notifyOnce.Do(func() { c.onClose(reason) })
	}
}
