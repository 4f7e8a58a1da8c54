package host

import (
	"github.com/inconshreveable/log15"

	"github.com/inkfall/boardhost/internal/auth"
	"github.com/inkfall/boardhost/internal/session"
	"github.com/inkfall/boardhost/internal/wire"
)

// onInstruction authorizes and executes the closed set of admin
// sub-instructions. Session-scoped sub-kinds act on the caller's active
// session; Kick/LockUser/UnlockUser additionally require a TargetUserID.
// Authorization is owner-or-admin: a session's owner may manage it, and any
// user flagged Admin may manage any session.
func (h *Host) onInstruction(u *session.User, in *wire.Instruction) {
	switch in.Sub {
	case wire.InstructionCreateSession:
		h.instrCreateSession(u, in)
		return
	}

	s, ok := h.activeSession(u)
	if !ok {
		h.sendError(u, wire.ReasonNotSubscribed, "no active session selected")
		return
	}
	if !h.authorizedFor(u, s) {
		h.sendError(u, wire.ReasonUnauthorized, "not session owner or admin")
		return
	}

	switch in.Sub {
	case wire.InstructionDestroySession:
		h.destroySession(s, "owner instruction")
	case wire.InstructionKick:
		h.instrKick(s, in)
	case wire.InstructionLockSession:
		s.SetLocked(true)
	case wire.InstructionUnlockSession:
		s.SetLocked(false)
	case wire.InstructionLockUser:
		h.instrSetUserLock(in, true)
	case wire.InstructionUnlockUser:
		h.instrSetUserLock(in, false)
	case wire.InstructionSetMaxUsers:
		s.SetMaxUsers(in.MaxUsers)
	case wire.InstructionSetSessionTitle:
		s.SetTitle(in.Title)
	case wire.InstructionAnnounce:
		h.instrAnnounce(s, in)
	default:
		h.sendError(u, wire.ReasonMalformed, "unknown instruction sub-kind")
	}
}

func (h *Host) authorizedFor(u *session.User, s *session.Session) bool {
	if u.Flags().Admin {
		return true
	}
	return s.OwnerUserID == u.ID
}

func (h *Host) instrCreateSession(u *session.User, in *wire.Instruction) error {
	id, ok := h.allocSessionID()
	if !ok {
		h.sendError(u, wire.ReasonTooManySessions, "max_sessions_total reached")
		return errHostFull
	}

	var hash string
	if in.Password != "" {
		var err error
		hash, err = auth.HashPassword(in.Password)
		if err != nil {
			h.freeSessionID(id)
			h.sendError(u, wire.ReasonMalformed, err.Error())
			return err
		}
	}

	maxUsers := in.MaxUsers
	if maxUsers == 0 {
		maxUsers = 255
	}

	s := session.New(id, in.Title, u.ID, in.Width, in.Height, maxUsers, h,
		session.NewRasterCache(h.cfg.RasterCacheTTL), h.sessionLogger(id))
	s.PasswordHash = hash

	h.mu.Lock()
	h.sessions[id] = s
	h.mu.Unlock()
	h.Counters.SessionsCreated.Add(1)

	if err := s.Subscribe(u.ID, in.Password); err != nil {
		h.sendError(u, subscribeErrorReason(err), err.Error())
	} else {
		u.AddSubscription(id)
		_ = u.SetActiveSession(id)
	}

	h.broadcastToLoggedIn(&wire.SessionInfo{
		Header: wire.Header{HasSession: true, SessionID: id},
		Title:  in.Title, Width: in.Width, Height: in.Height, MaxUsers: maxUsers,
	})
	return nil
}

func (h *Host) instrKick(s *session.Session, in *wire.Instruction) {
	if target, ok := h.Lookup(in.TargetUserID); ok {
		s.Unsubscribe(in.TargetUserID)
		target.RemoveSubscription(s.ID)
		target.Deliver(&wire.Error{Reason: wire.ReasonUnauthorized, Detail: "kicked: " + in.Message})
	}
}

func (h *Host) instrSetUserLock(in *wire.Instruction, locked bool) {
	if target, ok := h.Lookup(in.TargetUserID); ok {
		f := target.Flags()
		f.Locked = locked
		target.SetFlags(f)
	}
}

func (h *Host) instrAnnounce(s *session.Session, in *wire.Instruction) {
	for _, id := range s.Subscribers() {
		if u, ok := h.Lookup(id); ok {
			u.Deliver(&wire.Chat{Header: wire.Header{HasSession: true, SessionID: s.ID}, Text: in.Message})
		}
	}
}

func (h *Host) sessionLogger(id uint8) log15.Logger {
	return h.log.New("session_id", id)
}
