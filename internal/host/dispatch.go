package host

import (
	"github.com/inkfall/boardhost/internal/auth"
	"github.com/inkfall/boardhost/internal/session"
	"github.com/inkfall/boardhost/internal/wire"
)

// handleInbound is the Connection.onMessages callback: it runs on the
// reading goroutine of u's connection and dispatches each decoded frame. A
// Deflate envelope is expanded and its inner messages re-dispatched
// recursively.
func (h *Host) handleInbound(u *session.User, msgs []wire.Message) {
	for _, m := range msgs {
		h.dispatch(u, m)
	}
}

func (h *Host) dispatch(u *session.User, m wire.Message) {
	if d, ok := m.(*wire.Deflate); ok {
		inner, err := wire.DecodeDeflate(d)
		if err != nil {
			h.sendError(u, wire.ReasonMalformed, err.Error())
			return
		}
		h.handleInbound(u, inner)
		return
	}

	if !u.CanSend(m.Type()) {
		h.sendError(u, wire.ReasonUnauthorized, "message not valid in current state")
		return
	}

	switch v := m.(type) {
	case *wire.Identifier:
		h.onIdentifier(u, v)
	case *wire.Password:
		h.onPassword(u, v)
	case *wire.Authentication:
		h.onAuthentication(u, v)
	case *wire.ListSessions:
		h.onListSessions(u)
	case *wire.Subscribe:
		h.onSubscribe(u, v)
	case *wire.Unsubscribe:
		h.onUnsubscribe(u, v)
	case *wire.SessionSelect:
		h.onSessionSelect(u, v)
	case *wire.Instruction:
		h.onInstruction(u, v)
	case *wire.Cancel:
		h.onCancel(u)
	case *wire.SyncWait:
		h.onSyncWait(u)
	case *wire.Acknowledgement:
		h.onAcknowledge(u, v)
	case *wire.Raster:
		h.onRaster(u, v)
	case *wire.StrokeInfo, *wire.StrokeEnd, *wire.ToolInfo, *wire.LayerEvent,
		*wire.LayerSelect, *wire.Chat, *wire.Palette:
		h.onDrawingEvent(u, m)
	default:
		h.sendError(u, wire.ReasonMalformed, "unexpected message type "+m.Type().String())
	}
}

func (h *Host) sendError(u *session.User, reason wire.ErrorReason, detail string) {
	u.Deliver(&wire.Error{Reason: reason, Detail: detail})
}

// onIdentifier is the first LOGIN-state message: it checks the protocol
// revision and advances the user to LOGIN_AUTH.
func (h *Host) onIdentifier(u *session.User, id *wire.Identifier) {
	if id.Revision != ProtocolRevision {
		h.sendError(u, wire.ReasonProtocolMismatch, "unsupported protocol revision")
		u.Conn.Drain()
		h.Counters.UsersEvicted.Add(1)
		return
	}
	if err := u.SetState(session.StateLoginAuth); err != nil {
		h.sendError(u, wire.ReasonMalformed, err.Error())
		return
	}
	u.Deliver(&wire.HostInfo{
		UsersOnline:    uint8(h.UserCount()),
		UsersMax:       uint8(h.cfg.MaxUsersTotal),
		SessionsOnline: uint8(len(h.Sessions())),
		SessionsMax:    uint8(h.cfg.MaxSessionsTotal),
		Title:          h.cfg.Title,
	})
}

// onPassword checks the user-supplied host password (if one is configured)
// and, on success, advances straight to ACTIVE — the Authentication
// handshake is a separate, optional pre-shared-secret step.
func (h *Host) onPassword(u *session.User, p *wire.Password) {
	if h.cfg.PasswordHash != "" && !auth.CheckPassword(h.cfg.PasswordHash, p.Password) {
		h.sendError(u, wire.ReasonBadPassword, "bad host password")
		u.Conn.Drain()
		h.Counters.UsersEvicted.Add(1)
		return
	}
	h.completeLogin(u)
}

// onAuthentication verifies the pre-shared Authentication secret against
// the configured token, using a constant-time comparison.
func (h *Host) onAuthentication(u *session.User, a *wire.Authentication) {
	if len(h.cfg.AuthToken) == 0 {
		h.sendError(u, wire.ReasonUnauthorized, "authentication not enabled")
		return
	}
	if !auth.TokensEqual(auth.DeriveToken(a.Secret), h.cfg.AuthToken) {
		h.sendError(u, wire.ReasonUnauthorized, "bad authentication secret")
		u.Conn.Drain()
		h.Counters.UsersEvicted.Add(1)
		return
	}
	h.completeLogin(u)
}

func (h *Host) completeLogin(u *session.User) {
	if err := u.SetState(session.StateActive); err != nil {
		h.sendError(u, wire.ReasonMalformed, err.Error())
		return
	}
	h.broadcastToLoggedIn(&wire.UserInfo{Event: wire.UserJoined, Name: u.Name()})
}

func (h *Host) onListSessions(u *session.User) {
	for _, s := range h.Sessions() {
		info := s.Snapshot()
		var flags uint8
		if info.Locked {
			flags |= 1
		}
		if info.PasswordLocked {
			flags |= 2
		}
		u.Deliver(&wire.SessionInfo{
			Header:          wire.Header{HasSession: true, SessionID: info.ID},
			Title:           info.Title,
			Width:           info.Width,
			Height:          info.Height,
			ModeFlags:       flags,
			MaxUsers:        info.MaxUsers,
			SubscriberCount: uint8(info.SubscriberCount),
		})
	}
}

func (h *Host) onSubscribe(u *session.User, sub *wire.Subscribe) {
	s, ok := h.SessionByID(sub.SessionID)
	if !ok {
		h.sendError(u, wire.ReasonSessionClosed, "no such session")
		return
	}
	if s.IsLocked() {
		h.sendError(u, wire.ReasonUnauthorized, "session locked")
		return
	}
	if err := s.Subscribe(u.ID, sub.Password); err != nil {
		h.sendError(u, subscribeErrorReason(err), err.Error())
		return
	}
	u.AddSubscription(s.ID)
}

func subscribeErrorReason(err error) wire.ErrorReason {
	switch err {
	case session.ErrUserLimit:
		return wire.ReasonUserLimit
	case session.ErrPasswordRequired:
		return wire.ReasonPasswordRequired
	case session.ErrBadPassword:
		return wire.ReasonBadPassword
	default:
		return wire.ReasonMalformed
	}
}

func (h *Host) onUnsubscribe(u *session.User, un *wire.Unsubscribe) {
	sid := un.SessionID
	if !un.HasSession {
		var ok bool
		sid, ok = u.ActiveSession()
		if !ok {
			return
		}
	}
	if s, ok := h.SessionByID(sid); ok {
		s.Unsubscribe(u.ID)
	}
	u.RemoveSubscription(sid)
}

func (h *Host) onSessionSelect(u *session.User, sel *wire.SessionSelect) {
	if !u.Subscribed(sel.SessionID) {
		h.sendError(u, wire.ReasonNotSubscribed, "select requires a prior subscribe")
		return
	}
	_ = u.SetActiveSession(sel.SessionID)
}

func (h *Host) activeSession(u *session.User) (*session.Session, bool) {
	sid, ok := u.ActiveSession()
	if !ok {
		return nil, false
	}
	return h.SessionByID(sid)
}

func (h *Host) onDrawingEvent(u *session.User, m wire.Message) {
	s, ok := h.activeSession(u)
	if !ok {
		h.sendError(u, wire.ReasonNotSubscribed, "no active session selected")
		return
	}
	if err := s.HandleEvent(u.ID, m); err != nil {
		h.sendError(u, wire.ReasonNotSubscribed, err.Error())
		return
	}
	h.Counters.EventsRelayed.Add(1)
}

func (h *Host) onCancel(u *session.User) {
	if s, ok := h.activeSession(u); ok {
		s.Cancel(u.ID)
	}
}

func (h *Host) onSyncWait(u *session.User) {
	if s, ok := h.activeSession(u); ok {
		s.SyncWait(u.ID)
	}
}

func (h *Host) onAcknowledge(u *session.User, a *wire.Acknowledgement) {
	if s, ok := h.activeSession(u); ok {
		s.Acknowledge(u.ID, a.Kind)
	}
}

func (h *Host) onRaster(u *session.User, r *wire.Raster) {
	s, ok := h.activeSession(u)
	if !ok {
		return
	}
	if err := s.ProvideRasterChunk(u.ID, r); err != nil {
		h.sendError(u, wire.ReasonMalformed, err.Error())
	}
}
