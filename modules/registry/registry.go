package registry

import (
	"errors"
	"sync"

	"github.com/example/presence-relay/domain/presence"
)

// ErrTransportClosed is returned by Transport.Send once the connection has
// left the open state. Senders treat it as "skip this peer".
var ErrTransportClosed = errors.New("transport closed")

// Transport is the outbound half of one live connection.
type Transport interface {
	// ID uniquely identifies the connection for the lifetime of the process.
	ID() string
	// Send queues an already-encoded frame. It must not block on the peer.
	Send(frame []byte) error
}

// Session is the registry record of one identified connection.
type Session struct {
	UserID    string
	UserName  string
	UserRole  presence.Role
	Transport Transport
}

// Registry is the single source of truth for who is online and who is in
// which room. Sessions and rooms are guarded by one lock, so every fan-out
// decision reads a consistent view.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session            // userID -> session
	rooms    map[string]map[string]struct{} // roomID -> set of userIDs
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]struct{}),
	}
}

// Register inserts or replaces the session for userID (last writer wins).
// The transport of a replaced session is returned so callers can log it;
// it is not closed.
func (r *Registry) Register(userID, userName string, userRole presence.Role, t Transport) (superseded Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sessions[userID]; ok && old.Transport != t {
		superseded = old.Transport
	}
	r.sessions[userID] = &Session{
		UserID:    userID,
		UserName:  userName,
		UserRole:  userRole,
		Transport: t,
	}
	return superseded
}

// Unregister removes the session for userID. It is a no-op when absent.
func (r *Registry) Unregister(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[userID]; !ok {
		return false
	}
	delete(r.sessions, userID)
	return true
}

// UnregisterTransport removes the session for userID only while it is still
// bound to t. A connection superseded by a later join cannot evict the newer
// session when it closes.
func (r *Registry) UnregisterTransport(userID string, t Transport) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok || s.Transport != t {
		return nil, false
	}
	delete(r.sessions, userID)
	copy := *s
	return &copy, true
}

// ListOnline returns a fresh snapshot of every registered session.
// Order is unspecified.
func (r *Registry) ListOnline() []presence.OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]presence.OnlineUser, 0, len(r.sessions))
	for _, s := range r.sessions {
		users = append(users, presence.OnlineUser{
			UserID:   s.UserID,
			UserName: s.UserName,
			UserRole: s.UserRole,
			Status:   presence.StatusOnline,
		})
	}
	return users
}

// Lookup returns a copy of the session registered for userID.
func (r *Registry) Lookup(userID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[userID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// JoinRoom adds userID to roomID, creating the room on first use.
// Membership is additive; there is no leave.
func (r *Registry) JoinRoom(roomID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[userID] = struct{}{}
}

// RoomMembers returns the member ids of roomID, or nil for an unknown room.
func (r *Registry) RoomMembers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// RoomSessions resolves the currently registered sessions of roomID,
// skipping except and any member that is not online. Membership and
// session lookups happen under one read lock.
func (r *Registry) RoomSessions(roomID, except string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	sessions := make([]Session, 0, len(members))
	for id := range members {
		if id == except {
			continue
		}
		if s, ok := r.sessions[id]; ok {
			sessions = append(sessions, *s)
		}
	}
	return sessions
}

// Rooms returns a snapshot of every room with its members.
func (r *Registry) Rooms() []presence.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]presence.Room, 0, len(r.rooms))
	for id, members := range r.rooms {
		room := presence.Room{ID: id, Members: make([]string, 0, len(members))}
		for userID := range members {
			room.Members = append(room.Members, userID)
		}
		rooms = append(rooms, room)
	}
	return rooms
}

// OnlineCount returns the number of registered sessions.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RoomCount returns the number of rooms ever joined.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
