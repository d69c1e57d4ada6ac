package session

import (
	"sync"

	"waypool-chat/internal/domain"

	"github.com/google/uuid"
)

// Session is the transport-agnostic handle the directory tracks. The
// WebSocket client satisfies it; tests use lightweight fakes.
type Session interface {
	SessionID() string
	SessionUserID() uuid.UUID
}

// Directory maps users to their active sessions and to the rooms each
// session has joined. It tracks membership only; authorization lives in the
// authz package. All state is in-memory and guarded by one mutex - no method
// performs I/O.
type Directory struct {
	mu sync.RWMutex

	sessions     map[string]Session
	userSessions map[uuid.UUID]map[string]Session
	sessionRooms map[string]map[domain.ConversationKey]struct{}

	// userRooms ref-counts rooms per user so the user-level index drops a
	// room only when no remaining session of that user is joined.
	userRooms map[uuid.UUID]map[domain.ConversationKey]int
}

func NewDirectory() *Directory {
	return &Directory{
		sessions:     make(map[string]Session),
		userSessions: make(map[uuid.UUID]map[string]Session),
		sessionRooms: make(map[string]map[domain.ConversationKey]struct{}),
		userRooms:    make(map[uuid.UUID]map[domain.ConversationKey]int),
	}
}

// Register adds a session for a user. It returns true when this is the
// user's first active session (the online transition).
func (d *Directory) Register(sess Session) (wentOnline bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	userID := sess.SessionUserID()
	if _, ok := d.sessions[sess.SessionID()]; ok {
		return false
	}

	d.sessions[sess.SessionID()] = sess
	if d.userSessions[userID] == nil {
		d.userSessions[userID] = make(map[string]Session)
		wentOnline = true
	}
	d.userSessions[userID][sess.SessionID()] = sess
	d.sessionRooms[sess.SessionID()] = make(map[domain.ConversationKey]struct{})
	return wentOnline
}

// Deregister removes a session and all its room memberships. It is
// idempotent and returns true when the user's last session went away
// (the offline transition).
func (d *Directory) Deregister(sess Session) (wentOffline bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := sess.SessionID()
	if _, ok := d.sessions[id]; !ok {
		return false
	}

	userID := sess.SessionUserID()
	for room := range d.sessionRooms[id] {
		d.dropUserRoom(userID, room)
	}
	delete(d.sessionRooms, id)
	delete(d.sessions, id)

	if userSessions, ok := d.userSessions[userID]; ok {
		delete(userSessions, id)
		if len(userSessions) == 0 {
			delete(d.userSessions, userID)
			wentOffline = true
		}
	}
	return wentOffline
}

// JoinRoom records a session's membership in a room.
func (d *Directory) JoinRoom(sess Session, room domain.ConversationKey) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := sess.SessionID()
	rooms, ok := d.sessionRooms[id]
	if !ok {
		return // not registered
	}
	if _, joined := rooms[room]; joined {
		return
	}
	rooms[room] = struct{}{}

	userID := sess.SessionUserID()
	if d.userRooms[userID] == nil {
		d.userRooms[userID] = make(map[domain.ConversationKey]int)
	}
	d.userRooms[userID][room]++
}

// LeaveRoom removes a session's membership in a room.
func (d *Directory) LeaveRoom(sess Session, room domain.ConversationKey) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := sess.SessionID()
	rooms, ok := d.sessionRooms[id]
	if !ok {
		return
	}
	if _, joined := rooms[room]; !joined {
		return
	}
	delete(rooms, room)
	d.dropUserRoom(sess.SessionUserID(), room)
}

func (d *Directory) dropUserRoom(userID uuid.UUID, room domain.ConversationKey) {
	counts, ok := d.userRooms[userID]
	if !ok {
		return
	}
	counts[room]--
	if counts[room] <= 0 {
		delete(counts, room)
	}
	if len(counts) == 0 {
		delete(d.userRooms, userID)
	}
}

// SessionsOf returns the user's active sessions.
func (d *Directory) SessionsOf(userID uuid.UUID) []Session {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sessions := make([]Session, 0, len(d.userSessions[userID]))
	for _, s := range d.userSessions[userID] {
		sessions = append(sessions, s)
	}
	return sessions
}

// RoomsOf returns every room any of the user's sessions has joined.
func (d *Directory) RoomsOf(userID uuid.UUID) []domain.ConversationKey {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rooms := make([]domain.ConversationKey, 0, len(d.userRooms[userID]))
	for room := range d.userRooms[userID] {
		rooms = append(rooms, room)
	}
	return rooms
}

// RoomsOfSession returns the rooms one session has joined.
func (d *Directory) RoomsOfSession(sess Session) []domain.ConversationKey {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rooms := make([]domain.ConversationKey, 0, len(d.sessionRooms[sess.SessionID()]))
	for room := range d.sessionRooms[sess.SessionID()] {
		rooms = append(rooms, room)
	}
	return rooms
}

// IsOnline reports whether the user has at least one active session.
func (d *Directory) IsOnline(userID uuid.UUID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.userSessions[userID]) > 0
}

// InRoom reports whether any session of the user is joined to the room.
func (d *Directory) InRoom(userID uuid.UUID, room domain.ConversationKey) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.userRooms[userID][room] > 0
}

// SessionCount returns the number of active sessions across all users.
func (d *Directory) SessionCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}
