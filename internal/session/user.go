// Package session implements the User and Session state machines:
// authenticated peer state and the shared drawing boards that fan events
// out to subscribers.
package session

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/inkfall/boardhost/internal/conn"
	"github.com/inkfall/boardhost/internal/wire"
)

// State is the User lifecycle.
type State uint8

const (
	StateLogin State = iota
	StateLoginAuth
	StateActive
	StateSync
	StateDead
)

func (s State) String() string {
	switch s {
	case StateLogin:
		return "LOGIN"
	case StateLoginAuth:
		return "LOGIN_AUTH"
	case StateActive:
		return "ACTIVE"
	case StateSync:
		return "SYNC"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// transitions encodes the guarded state transition table. Every state may
// additionally move to StateDead; that's handled separately in SetState so
// it isn't duplicated in every row.
var transitions = map[State]map[State]bool{
	StateLogin:     {StateLoginAuth: true},
	StateLoginAuth: {StateActive: true},
	StateActive:    {StateSync: true},
	StateSync:      {StateActive: true},
	StateDead:      {},
}

// ErrInvalidTransition is returned by SetState for any transition not in
// the table above; callers must treat it as a protocol fault.
var ErrInvalidTransition = errors.New("session: invalid user state transition")

// ModeFlags are the per-user admin/moderation bits.
type ModeFlags struct {
	Locked bool
	Muted  bool
	Admin  bool
}

// User is the authenticated peer state owned exclusively by the Host: a
// Session never holds a pointer to one, only its id, resolved through
// UserLookup. All fields are guarded by mu so that both the owning
// connection's pumps and any session's actor goroutine can safely
// read/write them.
type User struct {
	ID   uint8
	Conn *conn.Connection

	mu               sync.Mutex
	name             string
	state            State
	flags            ModeFlags
	hasActiveSession bool
	activeSessionID  uint8
	subscribed       map[uint8]struct{}
	connectedAt      time.Time
}

// NewUser constructs a User in StateLogin, owning the given connection.
func NewUser(id uint8, c *conn.Connection) *User {
	return &User{
		ID:          id,
		Conn:        c,
		state:       StateLogin,
		subscribed:  make(map[uint8]struct{}),
		connectedAt: time.Now(),
	}
}

func (u *User) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *User) Name() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.name
}

func (u *User) SetName(name string) {
	u.mu.Lock()
	u.name = name
	u.mu.Unlock()
}

func (u *User) Flags() ModeFlags {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.flags
}

func (u *User) SetFlags(f ModeFlags) {
	u.mu.Lock()
	u.flags = f
	u.mu.Unlock()
}

// SetState attempts the transition to next per the table above. Any state
// may unconditionally move to StateDead. An illegal transition leaves the
// user untouched and returns ErrInvalidTransition; callers are expected to
// then force StateDead themselves and post an Error, since any transition
// outside the table is a protocol fault.
func (u *User) SetState(next State) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if next == StateDead {
		u.state = StateDead
		return nil
	}
	if transitions[u.state][next] {
		u.state = next
		return nil
	}
	return ErrInvalidTransition
}

// CanSend implements the per-state access matrix: which message types a
// user may send while in its current state.
func (u *User) CanSend(t wire.Type) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch t {
	case wire.TypeIdentifier:
		return u.state == StateLogin
	case wire.TypePassword, wire.TypeAuthentication:
		return u.state == StateLoginAuth
	case wire.TypeListSessions:
		return u.state == StateLoginAuth || u.state == StateActive || u.state == StateSync
	case wire.TypeStrokeInfo, wire.TypeStrokeEnd, wire.TypeToolInfo, wire.TypeLayerEvent,
		wire.TypeLayerSelect, wire.TypeChat, wire.TypePalette:
		return u.state == StateActive && !u.flags.Locked
	case wire.TypeSubscribe, wire.TypeUnsubscribe, wire.TypeSessionSelect,
		wire.TypeInstruction, wire.TypeSyncWait:
		return u.state == StateActive
	case wire.TypeRaster:
		return u.state == StateActive // only a sync source sends these
	case wire.TypeCancel:
		return u.state == StateActive || u.state == StateSync
	default:
		return true
	}
}

// Deliver encodes and queues m on the user's connection. It is idempotent
// on a dead/closed connection: the message is silently dropped.
func (u *User) Deliver(m wire.Message) {
	if u.Conn == nil {
		return
	}
	_ = u.Conn.Enqueue(m)
}

// Subscribed reports whether the user currently subscribes to sid.
func (u *User) Subscribed(sid uint8) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.subscribed[sid]
	return ok
}

// AddSubscription records sid in the user's subscribed set.
func (u *User) AddSubscription(sid uint8) {
	u.mu.Lock()
	u.subscribed[sid] = struct{}{}
	u.mu.Unlock()
}

// RemoveSubscription drops sid from the subscribed set, and clears
// ActiveSessionID if it pointed at sid — a user's selected session must
// always remain a member of its subscribed set.
func (u *User) RemoveSubscription(sid uint8) {
	u.mu.Lock()
	delete(u.subscribed, sid)
	if u.hasActiveSession && u.activeSessionID == sid {
		u.hasActiveSession = false
	}
	u.mu.Unlock()
}

// Subscriptions returns a snapshot slice of subscribed session ids.
func (u *User) Subscriptions() []uint8 {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]uint8, 0, len(u.subscribed))
	for sid := range u.subscribed {
		out = append(out, sid)
	}
	return out
}

// ActiveSession returns the selected session id and whether one is set.
func (u *User) ActiveSession() (uint8, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.activeSessionID, u.hasActiveSession
}

// SetActiveSession selects sid as the user's active session. The selection
// must already be a member of the subscribed set.
func (u *User) SetActiveSession(sid uint8) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.subscribed[sid]; !ok {
		return errors.New("session: cannot select a session not subscribed to")
	}
	u.activeSessionID = sid
	u.hasActiveSession = true
	return nil
}
