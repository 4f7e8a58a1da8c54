package session

import (
	"sort"
	"sync"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	"github.com/inkfall/boardhost/internal/wire"
)

// UserLookup is the only legal path from a Session back to a User: Session
// holds ids, never pointers, and resolves them through the Host.
type UserLookup interface {
	Lookup(id uint8) (*User, bool)
}

// SubscriberState is a joining subscriber's progress through raster sync.
type SubscriberState uint8

const (
	SubJoining SubscriberState = iota
	SubSyncWait
	SubSyncReceiving
	SubActive
	SubLeaving
)

type subscriber struct {
	userID uint8
	state  SubscriberState
	queued []wire.Message // events withheld while this subscriber is mid-sync
}

// isDrawingEvent reports whether t is one of the closed set of event types
// a Session orders and fans out.
func isDrawingEvent(t wire.Type) bool {
	switch t {
	case wire.TypeStrokeInfo, wire.TypeStrokeEnd, wire.TypeToolInfo,
		wire.TypeLayerEvent, wire.TypeLayerSelect, wire.TypeChat, wire.TypePalette:
		return true
	default:
		return false
	}
}

// maxSyncElections bounds how many sync-source elections, the first one
// included, one sync round may go through before a lost source fails the
// sync outright.
const maxSyncElections = 3

// Session is a shared drawing board: an ordered event stream, a subscriber
// set, and raster-sync state. It is realized as a single actor goroutine
// draining one mailbox channel; every exported method round-trips through
// that goroutine, so no lock is needed around the fields below.
type Session struct {
	ID           uint8
	Title        string
	OwnerUserID  uint8
	Width        uint16
	Height       uint16
	MaxUsers     uint8
	PasswordHash string
	CreatedAt    time.Time

	locked bool

	users UserLookup
	cache *RasterCache
	log   log15.Logger

	cmds   chan request
	closed chan struct{}
	once   sync.Once

	// actor-private state below; touched only inside the run loop.
	order                 []uint8 // ascending subscriber user ids
	subs                  map[uint8]*subscriber
	syncSourceUserID      uint8
	hasSyncSource         bool
	syncWaitlist          map[uint8]struct{}
	syncElections         int
	rasterReceived        uint32
	rasterTotal           uint32
	syncWaitAcks          map[uint8]struct{}
	syncWaitInitiatorID   uint8
	syncWaitPending       bool
	syncWaitExpected      int
	rasterBuf             []byte
}

type request struct {
	fn   func(*Session)
	done chan struct{}
}

// New constructs a Session and starts its actor goroutine.
func New(id uint8, title string, owner uint8, width, height uint16, maxUsers uint8, users UserLookup, cache *RasterCache, log log15.Logger) *Session {
	s := &Session{
		ID:          id,
		Title:       title,
		OwnerUserID: owner,
		Width:       width,
		Height:      height,
		MaxUsers:    maxUsers,
		users:       users,
		cache:       cache,
		log:         log,
		cmds:        make(chan request, 256),
		closed:      make(chan struct{}),
		subs:        make(map[uint8]*subscriber),
	}
	go s.run()
	return s
}

func (s *Session) run() {
	for {
		select {
		case req := <-s.cmds:
			req.fn(s)
			close(req.done)
		case <-s.closed:
			return
		}
	}
}

// call executes fn on the actor goroutine and blocks until it completes.
func (s *Session) call(fn func(*Session)) {
	done := make(chan struct{})
	select {
	case s.cmds <- request{fn: fn, done: done}:
		<-done
	case <-s.closed:
	}
}

// Stop terminates the actor goroutine. Safe to call more than once.
func (s *Session) Stop() {
	s.once.Do(func() { close(s.closed) })
}

// --- snapshot / info --------------------------------------------------------

// Info is an immutable snapshot used for SessionInfo/ListSessions replies.
type Info struct {
	ID              uint8
	Title           string
	Width, Height   uint16
	Locked          bool
	PasswordLocked  bool
	MaxUsers        uint8
	SubscriberCount int
}

func (s *Session) Snapshot() Info {
	var info Info
	s.call(func(s *Session) {
		info = Info{
			ID:              s.ID,
			Title:           s.Title,
			Width:           s.Width,
			Height:          s.Height,
			Locked:          s.locked,
			PasswordLocked:  s.PasswordHash != "",
			MaxUsers:        s.MaxUsers,
			SubscriberCount: len(s.subs),
		}
	})
	return info
}

func (s *Session) SubscriberCount() int {
	n := 0
	s.call(func(s *Session) { n = len(s.subs) })
	return n
}

func (s *Session) IsSubscribed(userID uint8) bool {
	ok := false
	s.call(func(s *Session) { _, ok = s.subs[userID] })
	return ok
}

func (s *Session) IsLocked() bool {
	v := false
	s.call(func(s *Session) { v = s.locked })
	return v
}

func (s *Session) SetLocked(v bool) {
	s.call(func(s *Session) { s.locked = v })
}

func (s *Session) SetMaxUsers(n uint8) {
	s.call(func(s *Session) { s.MaxUsers = n })
}

func (s *Session) SetTitle(title string) {
	s.call(func(s *Session) { s.Title = title })
}

// --- subscribe / unsubscribe -------------------------------------------------

// Subscribe adds userID to the session. Subscribing twice is a no-op
// success. It triggers raster synchronization when the board is non-empty
// and no fresh cache exists.
func (s *Session) Subscribe(userID uint8, password string) error {
	var outErr error
	s.call(func(s *Session) {
		if _, already := s.subs[userID]; already {
			return
		}
		if len(s.subs) >= int(s.MaxUsers) {
			outErr = errUserLimit
			return
		}
		if s.PasswordHash != "" {
			if password == "" {
				outErr = errPasswordRequired
				return
			}
			if !passwordOK(s.PasswordHash, password) {
				outErr = errBadPassword
				return
			}
		}

		sub := &subscriber{userID: userID, state: SubJoining}
		s.subs[userID] = sub
		s.insertOrder(userID)

		if len(s.subs) == 1 {
			// First subscriber: nothing to synchronize against.
			sub.state = SubActive
			return
		}
		if cached, ok := s.cache.Fresh(); ok {
			s.deliverTo(userID, &wire.Raster{
				Header: wire.Header{UserID: 0, HasSession: true, SessionID: s.ID},
				Offset: 0, Length: uint32(len(cached)), Size: uint32(len(cached)), Data: cached,
			})
			sub.state = SubActive
			return
		}

		sub.state = SubSyncWait
		s.syncWaitlist = addToSet(s.syncWaitlist, userID)
		if u, ok := s.users.Lookup(userID); ok {
			_ = u.SetState(StateSync)
		}
		if !s.hasSyncSource {
			s.electSyncSource()
		}
	})
	return outErr
}

// passwordOK is overridable indirection point kept free of an auth import
// cycle; wired to internal/auth by the host package via SetPasswordChecker.
var passwordOK = func(hash, plain string) bool { return hash == plain }

// SetPasswordChecker replaces the comparison function Subscribe uses against
// a session's PasswordHash. The host package calls this once at startup to
// wire in internal/auth's bcrypt-based CheckPassword.
func SetPasswordChecker(fn func(hash, plain string) bool) {
	passwordOK = fn
}

var (
	errUserLimit        = errors.New("session: user limit reached")
	errBadPassword      = errors.New("session: bad session password")
	errPasswordRequired = errors.New("session: password required")
	errNoSyncSource     = errors.New("session: no sync source available")
	errSyncFailed       = errors.New("session: sync failed after elections exhausted")
	errNotSubscribed    = errors.New("session: not subscribed")
)

// ErrUserLimit, etc. are exported sentinels tests and the router compare
// against with errors.Is.
var (
	ErrUserLimit        = errUserLimit
	ErrBadPassword      = errBadPassword
	ErrPasswordRequired = errPasswordRequired
	ErrNoSyncSource     = errNoSyncSource
	ErrSyncFailed       = errSyncFailed
	ErrNotSubscribed    = errNotSubscribed
)

func (s *Session) insertOrder(id uint8) {
	s.order = append(s.order, id)
	sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
}

func (s *Session) removeOrder(id uint8) {
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// Unsubscribe removes userID and broadcasts UserInfo{leave}.
func (s *Session) Unsubscribe(userID uint8) {
	s.call(func(s *Session) {
		s.removeSubscriberLocked(userID, wire.UserLeft, "")
	})
}

// removeSubscriberLocked must only be called from the actor goroutine.
func (s *Session) removeSubscriberLocked(userID uint8, event wire.UserEvent, reason string) {
	if _, ok := s.subs[userID]; !ok {
		return
	}
	delete(s.subs, userID)
	delete(s.syncWaitlist, userID)
	s.removeOrder(userID)

	if s.hasSyncSource && s.syncSourceUserID == userID {
		s.hasSyncSource = false
		s.reelectOrFail()
	}

	name := ""
	if u, ok := s.users.Lookup(userID); ok {
		name = u.Name()
	}
	s.broadcastLocked(0, &wire.UserInfo{
		Header: wire.Header{UserID: 0, HasSession: true, SessionID: s.ID},
		Event:  event, Reason: reason, Name: name,
	})
}

// --- drawing events ----------------------------------------------------------

// HandleEvent validates and fans out a single drawing/chat event.
func (s *Session) HandleEvent(userID uint8, msg wire.Message) error {
	var outErr error
	s.call(func(s *Session) {
		sub, ok := s.subs[userID]
		if !ok {
			outErr = errNotSubscribed
			return
		}
		s.acceptAndFanOutLocked(userID, sub, msg)
	})
	return outErr
}

// HandleBulkEvent validates and fans out a bulk-encoded run as a single
// frame, preserving FIFO ordering across the whole batch.
func (s *Session) HandleBulkEvent(userID uint8, msgs []wire.Message) error {
	var outErr error
	s.call(func(s *Session) {
		sub, ok := s.subs[userID]
		if !ok {
			outErr = errNotSubscribed
			return
		}
		for _, m := range msgs {
			stampUser(m, userID)
		}
		s.cache.Invalidate()
		if sub.state == SubSyncWait || sub.state == SubSyncReceiving {
			// a syncing subscriber cannot itself be the sender of bulk
			// strokes (it isn't ACTIVE); the sender's sync state is not
			// checked here.
		}
		s.fanOutBulkLocked(userID, msgs)
	})
	return outErr
}

func (s *Session) acceptAndFanOutLocked(userID uint8, _ *subscriber, msg wire.Message) {
	stampUser(msg, userID)
	s.cache.Invalidate()
	s.broadcastLocked(userID, msg)
}

func (s *Session) fanOutBulkLocked(senderID uint8, msgs []wire.Message) {
	order := append([]uint8(nil), s.order...)
	for _, id := range order {
		if id == senderID {
			continue
		}
		sub := s.subs[id]
		if sub.state == SubSyncWait || sub.state == SubSyncReceiving {
			sub.queued = append(sub.queued, msgs...)
			continue
		}
		u, ok := s.users.Lookup(id)
		if !ok {
			continue
		}
		if u.Conn != nil && u.Conn.Overflowing() {
			s.evictSlowLocked(id)
			continue
		}
		_ = u.Conn.EnqueueBulk(msgs)
	}
}

// broadcastLocked fans msg out to every subscriber except the sender, in
// ascending user_id order, queuing it instead for any subscriber still
// mid-sync, and evicting any subscriber whose connection is overflowing
// before sending to the next one — eviction never skips a later peer.
func (s *Session) broadcastLocked(senderID uint8, msg wire.Message) {
	// Snapshot s.order before iterating: evictSlowLocked below may mutate it
	// (via removeSubscriberLocked) mid-loop, which would otherwise skip or
	// repeat entries in the live slice.
	order := append([]uint8(nil), s.order...)
	for _, id := range order {
		if id == senderID {
			continue
		}
		sub := s.subs[id]
		if sub.state == SubSyncWait || sub.state == SubSyncReceiving {
			sub.queued = append(sub.queued, msg)
			continue
		}
		u, ok := s.users.Lookup(id)
		if !ok {
			continue
		}
		if u.Conn != nil && u.Conn.Overflowing() {
			s.evictSlowLocked(id)
			continue
		}
		u.Deliver(msg)
	}
}

func (s *Session) deliverTo(userID uint8, msg wire.Message) {
	if u, ok := s.users.Lookup(userID); ok {
		u.Deliver(msg)
	}
}

// evictSlowLocked marks an overflowing subscriber DEAD and kicks it before
// the fan-out continues to the next peer.
func (s *Session) evictSlowLocked(userID uint8) {
	if u, ok := s.users.Lookup(userID); ok {
		_ = u.SetState(StateDead)
		if u.Conn != nil {
			u.Conn.Close()
		}
	}
	s.removeSubscriberLocked(userID, wire.UserKicked, "slow")
}

// --- raster synchronization --------------------------------------------------

// electSyncSource picks the lowest user_id among currently ACTIVE
// subscribers other than any joiner in the waitlist.
func (s *Session) electSyncSource() {
	s.syncElections++
	for _, id := range s.order {
		if _, waiting := s.syncWaitlist[id]; waiting {
			continue
		}
		sub := s.subs[id]
		if sub.state != SubActive {
			continue
		}
		s.hasSyncSource = true
		s.syncSourceUserID = id
		s.rasterReceived = 0
		s.rasterTotal = 0
		s.rasterBuf = nil
		if u, ok := s.users.Lookup(id); ok {
			u.Deliver(&wire.Synchronize{Header: wire.Header{UserID: 0, HasSession: true, SessionID: s.ID}})
		}
		return
	}
	s.failSyncLocked(errNoSyncSource)
}

func (s *Session) reelectOrFail() {
	if len(s.syncWaitlist) == 0 {
		return
	}
	if s.syncElections >= maxSyncElections {
		s.failSyncLocked(errSyncFailed)
		return
	}
	s.electSyncSource()
}

func (s *Session) failSyncLocked(reason error) {
	code := wire.ReasonNoSyncSource
	if reason == errSyncFailed {
		code = wire.ReasonSyncFailed
	}
	for id := range s.syncWaitlist {
		s.deliverTo(id, &wire.Error{Header: wire.Header{UserID: 0}, Reason: code, Detail: reason.Error()})
		delete(s.subs, id)
		s.removeOrder(id)
		if u, ok := s.users.Lookup(id); ok {
			_ = u.SetState(StateActive)
			u.RemoveSubscription(s.ID)
		}
	}
	s.syncWaitlist = nil
	s.syncElections = 0
	s.hasSyncSource = false
}

// ProvideRasterChunk handles a Raster message sent by the elected sync
// source and relays it to every waitlisted joiner.
func (s *Session) ProvideRasterChunk(fromUserID uint8, r *wire.Raster) error {
	var outErr error
	s.call(func(s *Session) {
		if !s.hasSyncSource || s.syncSourceUserID != fromUserID {
			outErr = errors.New("session: raster chunk from non-source user")
			return
		}
		s.rasterTotal = r.Size
		s.rasterReceived = r.Offset + r.Length
		if r.Offset == uint32(len(s.rasterBuf)) {
			s.rasterBuf = append(s.rasterBuf, r.Data...)
		}

		for id := range s.syncWaitlist {
			sub := s.subs[id]
			if sub.state == SubSyncWait {
				sub.state = SubSyncReceiving
			}
			s.deliverTo(id, &wire.Raster{
				Header: wire.Header{UserID: 0, HasSession: true, SessionID: s.ID},
				Offset: r.Offset, Length: r.Length, Size: r.Size, Data: r.Data,
			})
		}

		if r.Offset+r.Length >= r.Size {
			s.completeSyncLocked()
		}
	})
	return outErr
}

func (s *Session) completeSyncLocked() {
	if len(s.rasterBuf) > 0 {
		s.cache.Store(s.rasterBuf)
	}
	s.rasterBuf = nil
	for id := range s.syncWaitlist {
		sub, ok := s.subs[id]
		if !ok {
			continue
		}
		sub.state = SubActive
		queued := sub.queued
		sub.queued = nil
		if u, ok := s.users.Lookup(id); ok {
			_ = u.SetState(StateActive)
			for _, m := range queued {
				u.Deliver(m)
			}
		}
	}
	s.syncWaitlist = nil
	s.syncElections = 0
	// The source's obligation ends with this raster; a later joiner needs a
	// fresh Synchronize prompt, even if re-election lands on the same user.
	s.hasSyncSource = false
}

// Cancel aborts an in-flight raster stream initiated by userID: queued
// chunks for that source are discarded and waiters are notified with
// Error{SyncCancelled}.
func (s *Session) Cancel(userID uint8) {
	s.call(func(s *Session) {
		if !s.hasSyncSource || s.syncSourceUserID != userID {
			return
		}
		s.hasSyncSource = false
		for id := range s.syncWaitlist {
			s.deliverTo(id, &wire.Error{Header: wire.Header{UserID: 0}, Reason: wire.ReasonSyncCancelled})
			delete(s.subs, id)
			s.removeOrder(id)
			if u, ok := s.users.Lookup(id); ok {
				_ = u.SetState(StateActive)
				u.RemoveSubscription(s.ID)
			}
		}
		s.syncWaitlist = nil
		s.syncElections = 0
	})
}

// --- SyncWait barrier ---------------------------------------------------------

// SyncWait implements the SyncWait barrier: broadcast SyncWait, collect
// acknowledgements, and notify the initiator when all subscribers have
// acknowledged.
func (s *Session) SyncWait(initiatorID uint8) {
	s.call(func(s *Session) {
		s.syncWaitInitiatorID = initiatorID
		s.syncWaitAcks = make(map[uint8]struct{})
		s.syncWaitPending = true
		s.syncWaitExpected = 0
		for _, id := range s.order {
			if id == initiatorID {
				continue
			}
			s.syncWaitExpected++
			if u, ok := s.users.Lookup(id); ok {
				u.Deliver(&wire.SyncWait{Header: wire.Header{UserID: 0, HasSession: true, SessionID: s.ID}})
			}
		}
		if s.syncWaitExpected == 0 {
			s.notifySyncWaitDoneLocked()
		}
	})
}

// Acknowledge records a subscriber's SyncWait acknowledgement.
func (s *Session) Acknowledge(userID uint8, kind wire.AckKind) {
	s.call(func(s *Session) {
		if kind != wire.AckSyncWait || !s.syncWaitPending {
			return
		}
		if _, already := s.syncWaitAcks[userID]; already {
			return
		}
		s.syncWaitAcks[userID] = struct{}{}
		if len(s.syncWaitAcks) >= s.syncWaitExpected {
			s.notifySyncWaitDoneLocked()
		}
	})
}

func (s *Session) notifySyncWaitDoneLocked() {
	s.syncWaitPending = false
	if u, ok := s.users.Lookup(s.syncWaitInitiatorID); ok {
		u.Deliver(&wire.Acknowledgement{Header: wire.Header{UserID: 0}, Kind: wire.AckSyncWait})
	}
}

// Subscribers returns a snapshot of the currently subscribed user ids.
func (s *Session) Subscribers() []uint8 {
	var out []uint8
	s.call(func(s *Session) {
		out = append([]uint8(nil), s.order...)
	})
	return out
}

// Destroy evicts every subscriber with SessionEvent{ended} and stops the
// session's actor goroutine, on owner disconnect or an explicit
// Instruction{DestroySession}.
func (s *Session) Destroy(detail string) {
	s.call(func(s *Session) {
		for _, id := range s.order {
			s.deliverTo(id, &wire.SessionEvent{
				Header: wire.Header{UserID: 0, HasSession: true, SessionID: s.ID},
				Kind:   wire.SessionEnded, Detail: detail,
			})
			if u, ok := s.users.Lookup(id); ok {
				u.RemoveSubscription(s.ID)
			}
		}
		s.subs = make(map[uint8]*subscriber)
		s.order = nil
	})
	s.Stop()
}

func addToSet(set map[uint8]struct{}, id uint8) map[uint8]struct{} {
	if set == nil {
		set = make(map[uint8]struct{})
	}
	set[id] = struct{}{}
	return set
}

func stampUser(m wire.Message, userID uint8) {
	h := m.Head()
	h.UserID = userID
	m.SetHead(h)
}
