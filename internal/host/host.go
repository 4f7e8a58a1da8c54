// Package host implements the Host/Router: the process-global registry of
// users and sessions, the login/admission pipeline, and the dispatch table
// that routes each decoded message either to host-level mutation or into a
// Session's mailbox.
package host

import (
	"net"
	"sync"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	"github.com/inkfall/boardhost/internal/auth"
	"github.com/inkfall/boardhost/internal/conn"
	"github.com/inkfall/boardhost/internal/session"
	"github.com/inkfall/boardhost/internal/telemetry"
	"github.com/inkfall/boardhost/internal/wire"
)

// ProtocolRevision is the Identifier handshake revision this host accepts.
// Mismatches produce Error{ProtocolMismatch}.
const ProtocolRevision = 9

// Config bundles the host-wide settings sourced from internal/config.
type Config struct {
	Title            string
	PasswordHash     string // empty means no host password required
	AuthToken        []byte // empty disables the Authentication handshake
	MaxUsersTotal    int
	MaxSessionsTotal int
	BackpressureHigh int
	RasterCacheTTL   time.Duration
}

// Host owns every User and Session for the process lifetime: sessions and
// users hold only ids, never pointers to each other; this directory is the
// only legal dereference path.
type Host struct {
	cfg      Config
	log      log15.Logger
	Counters telemetry.Counters

	mu         sync.RWMutex
	users      map[uint8]*session.User
	sessions   map[uint8]*session.Session
	usedUserID [256]bool
	usedSessID [256]bool
}

// New constructs an empty Host.
func New(cfg Config, log log15.Logger) *Host {
	if log == nil {
		log = log15.New()
	}
	return &Host{
		cfg:      cfg,
		log:      log,
		users:    make(map[uint8]*session.User),
		sessions: make(map[uint8]*session.Session),
	}
}

// Lookup implements session.UserLookup.
func (h *Host) Lookup(id uint8) (*session.User, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	u, ok := h.users[id]
	return u, ok
}

// SessionByID returns the session with the given id, if any.
func (h *Host) SessionByID(id uint8) (*session.Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Sessions returns a snapshot slice of all live sessions.
func (h *Host) Sessions() []*session.Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*session.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// UserCount returns the number of currently tracked users.
func (h *Host) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}

var errHostFull = errors.New("host: max_users_total reached")

// Accept admits a freshly dialed connection: allocates a user id, wraps the
// socket in a conn.Connection, and starts its pumps. The returned error is
// non-nil only when the host is already at MaxUsersTotal; the caller should
// close nc itself in that case since no Connection was ever started.
func (h *Host) Accept(nc net.Conn) error {
	id, ok := h.allocUserID()
	if !ok {
		return errHostFull
	}

	var u *session.User
	c := conn.New(nc, h.cfg.BackpressureHigh,
		func(msgs []wire.Message) { h.handleInbound(u, msgs) },
		func(reason error) { h.disconnect(u) },
	)
	u = session.NewUser(id, c)

	h.mu.Lock()
	h.users[id] = u
	h.mu.Unlock()

	c.Start()
	h.Counters.UsersConnected.Add(1)
	h.log.Info("user connected", "user_id", id, "remote", nc.RemoteAddr())
	return nil
}

func (h *Host) allocUserID() (uint8, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.users) >= h.cfg.MaxUsersTotal {
		return 0, false
	}
	for id := 1; id < 256; id++ {
		if !h.usedUserID[id] {
			h.usedUserID[id] = true
			return uint8(id), true
		}
	}
	return 0, false
}

func (h *Host) freeUserID(id uint8) {
	h.mu.Lock()
	h.usedUserID[id] = false
	delete(h.users, id)
	h.mu.Unlock()
}

func (h *Host) allocSessionID() (uint8, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.sessions) >= h.cfg.MaxSessionsTotal {
		return 0, false
	}
	for id := 1; id < 256; id++ {
		if !h.usedSessID[id] {
			h.usedSessID[id] = true
			return uint8(id), true
		}
	}
	return 0, false
}

func (h *Host) freeSessionID(id uint8) {
	h.mu.Lock()
	h.usedSessID[id] = false
	delete(h.sessions, id)
	h.mu.Unlock()
}

// disconnect removes the user from every session it subscribes (broadcasting
// UserInfo{leave}), destroys any session it owns, and releases its id.
func (h *Host) disconnect(u *session.User) {
	if u == nil {
		return
	}
	_ = u.SetState(session.StateDead)
	for _, sid := range u.Subscriptions() {
		if s, ok := h.SessionByID(sid); ok {
			s.Unsubscribe(u.ID)
		}
	}
	for _, s := range h.Sessions() {
		if s.OwnerUserID == u.ID {
			h.destroySession(s, "owner disconnected")
		}
	}
	h.freeUserID(u.ID)
	h.log.Info("user disconnected", "user_id", u.ID)
}

func (h *Host) destroySession(s *session.Session, detail string) {
	s.Destroy(detail)
	h.freeSessionID(s.ID)
	h.Counters.SessionsDestroyed.Add(1)
}

// broadcastToLoggedIn sends msg to every user who has completed the login
// handshake (≥ LOGIN_AUTH), used for host-wide announcements such as the
// SessionInfo broadcast on session creation.
func (h *Host) broadcastToLoggedIn(msg wire.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, u := range h.users {
		st := u.State()
		if st == session.StateLoginAuth || st == session.StateActive || st == session.StateSync {
			u.Deliver(msg)
		}
	}
}

// init wires session.Subscribe's password comparison to the bcrypt hashes
// internal/auth produces, replacing the plain-equality default used by
// session package tests.
func init() {
	session.SetPasswordChecker(auth.CheckPassword)
}
