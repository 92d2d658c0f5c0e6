/*
Package chat contains the core logic of the chat server.

This file defines the Engine, which owns the roster and the chat store,
admits and removes sessions, and dispatches every decoded frame to the
handler for its opcode.
*/
package chat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tildechat/internal/pkg/logx"
	"tildechat/internal/pkg/wire"
)

// Engine is the protocol engine shared by all connections. Handlers run on
// the per-session read pumps; the roster lock serializes every roster read or
// mutation and is held across broadcasts.
type Engine struct {
	roster *Roster
	store  *Store
	group  *History
	logger zerolog.Logger

	// wg counts admitted sessions; Wait returns once every one has run the
	// disconnect path.
	wg sync.WaitGroup
}

// NewEngine creates an engine with an empty roster and a fresh group
// history.
func NewEngine() *Engine {
	store := NewStore()

	return &Engine{
		roster: NewRoster(),
		store:  store,
		group:  store.GetOrCreate(wire.GroupChannel, GroupHistoryCap),
		logger: logx.Component("engine"),
	}
}

// Roster exposes the roster for read-only queries by the transport layer.
func (e *Engine) Roster() *Roster {
	return e.roster
}

// Admit validates the claimed name against the live roster, inserts the
// session, creates the pair histories with every already-present user, and
// announces the newcomer to everyone else. Returns false when the name is
// already taken; the caller closes the connection in that case.
func (e *Engine) Admit(s *Session) bool {
	e.roster.lock()
	defer e.roster.unlock()

	s.status = wire.StatusActive
	s.lastAction = time.Now()

	if !e.roster.insertEnd(s) {
		return false
	}

	for _, other := range e.roster.inOrder() {
		if other != s {
			e.store.GetOrCreate(PairKey(s.name, other.name), PairHistoryCap)
		}
	}

	e.broadcastLocked(wire.EncodeRegisteredUser(s.name, wire.StatusActive), s)

	e.wg.Add(1)

	e.logger.Info().
		Str("user", s.name).
		Int("total_users", len(e.roster.inOrder())).
		Msg("User admitted.")

	return true
}

// Disconnect removes the session from the roster, destroys every pair
// history touching its name, and broadcasts the farewell to the survivors.
// Safe to call for sessions that were never admitted.
func (e *Engine) Disconnect(s *Session) {
	e.roster.lock()
	defer e.roster.unlock()

	if e.roster.findByName(s.name) != s {
		return
	}
	e.roster.removeByName(s.name)

	removed := e.store.RemoveUser(s.name)

	e.broadcastLocked(wire.EncodeChangedStatus(s.name, wire.StatusDisconnected), nil)

	s.closeSend()

	e.wg.Done()

	e.logger.Info().
		Str("user", s.name).
		Int("pair_histories_dropped", removed).
		Int("total_users", len(e.roster.inOrder())).
		Msg("User disconnected.")
}

// Wait blocks until every admitted session has disconnected.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// HandleFrame decodes one inbound frame from s and runs its handler.
// Malformed frames are dropped after logging; the connection stays open.
func (e *Engine) HandleFrame(s *Session, frame []byte) {
	req, err := wire.DecodeRequest(frame)
	if err != nil {
		s.logger.Warn().Err(err).Hex("frame", frame).Msg("Dropping malformed frame")
		return
	}

	switch r := req.(type) {
	case wire.ListUsers:
		e.handleListUsers(s)
	case wire.GetUser:
		e.handleGetUser(s, r.Name)
	case wire.ChangeStatus:
		e.handleChangeStatus(s, r.Name, r.NewStatus)
	case wire.SendMessage:
		e.handleSendMessage(s, r.Target, r.Content)
	case wire.GetMessages:
		e.handleGetMessages(s, r.Target)
	}
}

// handleListUsers answers with the full roster in admission order, including
// the requester, and counts as activity for the requester.
func (e *Engine) handleListUsers(s *Session) {
	e.roster.lock()
	defer e.roster.unlock()

	s.lastAction = time.Now()

	sessions := e.roster.inOrder()
	if len(sessions) > wire.MaxNameLen {
		// The entry count on the wire is a single byte.
		e.logger.Warn().Int("roster_len", len(sessions)).Msg("Roster exceeds listable size, truncating")
		sessions = sessions[:wire.MaxNameLen]
	}

	users := make([]wire.UserStatus, 0, len(sessions))
	for _, sess := range sessions {
		users = append(users, wire.UserStatus{Name: sess.name, Status: sess.status})
	}

	s.enqueue(wire.EncodeListedUsers(users))
}

// handleGetUser answers with the target's presence state, or USER_NOT_FOUND.
func (e *Engine) handleGetUser(s *Session, name string) {
	e.roster.lock()
	defer e.roster.unlock()

	target := e.roster.findByName(name)
	if target == nil {
		s.enqueue(wire.EncodeError(wire.ErrUserNotFound))
		return
	}

	s.enqueue(wire.EncodeGotUser(target.name, target.status))
}

// transitionAllowed implements the client-requestable presence matrix.
// INACTIVE is only ever produced by the idle detector.
func transitionAllowed(from, to wire.Status) bool {
	switch to {
	case wire.StatusActive:
		return from == wire.StatusBusy || from == wire.StatusInactive
	case wire.StatusBusy:
		return from == wire.StatusActive || from == wire.StatusInactive
	default:
		return false
	}
}

// handleChangeStatus validates and applies a presence transition requested by
// the client, broadcasting the change to the whole roster on success.
func (e *Engine) handleChangeStatus(s *Session, name string, newStatus wire.Status) {
	e.roster.lock()
	defer e.roster.unlock()

	// A session may only change its own state.
	if name != s.name {
		s.enqueue(wire.EncodeError(wire.ErrInvalidStatus))
		return
	}

	if newStatus == s.status {
		return
	}

	if !transitionAllowed(s.status, newStatus) {
		s.enqueue(wire.EncodeError(wire.ErrInvalidStatus))
		return
	}

	s.status = newStatus
	s.lastAction = time.Now()

	e.broadcastLocked(wire.EncodeChangedStatus(s.name, newStatus), nil)
}

// handleSendMessage stores and delivers a direct or group message.
func (e *Engine) handleSendMessage(s *Session, target, content string) {
	e.roster.lock()
	defer e.roster.unlock()

	if len(content) == 0 {
		s.enqueue(wire.EncodeError(wire.ErrEmptyMessage))
		return
	}
	if len(target) == 0 {
		s.enqueue(wire.EncodeError(wire.ErrUserNotFound))
		return
	}

	if target == wire.GroupChannel {
		e.group.Append(wire.Entry{Origin: wire.GroupChannel, Content: content})
		e.broadcastLocked(wire.EncodeGotMessage(wire.GroupChannel, content), nil)
		e.touchLocked(s)
		return
	}

	targetSess := e.roster.findByName(target)
	if targetSess == nil {
		s.enqueue(wire.EncodeError(wire.ErrUserNotFound))
		return
	}

	// The pair history normally exists since admission; messaging yourself is
	// the one channel created on first use.
	hist := e.store.GetOrCreate(PairKey(s.name, target), PairHistoryCap)
	hist.Append(wire.Entry{Origin: s.name, Content: content})

	frame := wire.EncodeGotMessage(s.name, content)
	s.enqueue(frame)
	if targetSess != s {
		targetSess.enqueue(frame)
	}

	e.touchLocked(s)
}

// touchLocked records client activity and revives an INACTIVE sender,
// broadcasting the transition. Caller holds the roster lock.
func (e *Engine) touchLocked(s *Session) {
	s.lastAction = time.Now()

	if s.status == wire.StatusInactive {
		s.status = wire.StatusActive
		e.broadcastLocked(wire.EncodeChangedStatus(s.name, wire.StatusActive), nil)
	}
}

// handleGetMessages answers with the stored history of the group channel or
// the pair channel shared with target, oldest-first. An absent pair history
// yields an empty response. Reading history is not activity.
func (e *Engine) handleGetMessages(s *Session, target string) {
	var entries []wire.Entry
	if target == wire.GroupChannel {
		entries = e.group.Snapshot()
	} else if hist := e.store.Get(PairKey(s.name, target)); hist != nil {
		entries = hist.Snapshot()
	}

	s.enqueue(wire.EncodeGotMessages(entries))
}

// broadcastLocked enqueues frame to every session in the roster except the
// one given. Caller holds the roster lock, so no user joins or leaves
// mid-broadcast.
func (e *Engine) broadcastLocked(frame []byte, except *Session) {
	for _, sess := range e.roster.inOrder() {
		if sess != except {
			sess.enqueue(frame)
		}
	}
}

// Shutdown closes every live connection. Each close runs the standard
// disconnect path from the session's read pump.
func (e *Engine) Shutdown() {
	e.roster.lock()
	sessions := append([]*Session(nil), e.roster.inOrder()...)
	e.roster.unlock()

	for _, s := range sessions {
		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				s.logger.Debug().Err(err).Msg("Close during shutdown")
			}
		}
	}
}
