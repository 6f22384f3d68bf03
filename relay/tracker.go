package relay

import (
	"sync"
)

type set map[string]struct{}

// RoomTracker tracks which connections are joined to which session's room.
// This matters for delivery correctness: only the members of a session's room
// may receive edits for that session, so broadcast targets are always resolved
// through the tracker rather than by iterating every open connection.
//
// Unlike a chat system, a connection belongs to at most one room at a time.
type RoomTracker struct {
	// map of session_id to joined connection IDs.
	roomToConns map[string]set
	connToRoom  map[string]string
	mu          *sync.RWMutex
}

func NewRoomTracker() *RoomTracker {
	return &RoomTracker{
		roomToConns: make(map[string]set),
		connToRoom:  make(map[string]string),
		mu:          &sync.RWMutex{},
	}
}

// Join marks the connection as a member of the session's room. Returns false
// if the connection is already in a room; membership is immutable until the
// connection leaves.
func (t *RoomTracker) Join(connID, sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.connToRoom[connID]; exists {
		return false
	}
	conns := t.roomToConns[sessionID]
	if conns == nil {
		conns = make(set)
		t.roomToConns[sessionID] = conns
	}
	conns[connID] = struct{}{}
	t.connToRoom[connID] = sessionID
	return true
}

// Leave removes the connection's membership, reporting which room it was in.
// Leaving when not in a room is a no-op.
func (t *RoomTracker) Leave(connID string) (sessionID string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sessionID, ok = t.connToRoom[connID]
	if !ok {
		return "", false
	}
	delete(t.connToRoom, connID)
	conns := t.roomToConns[sessionID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(t.roomToConns, sessionID)
	}
	return sessionID, true
}

// Room returns the session id of the room the connection is joined to.
func (t *RoomTracker) Room(connID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sessionID, ok := t.connToRoom[connID]
	return sessionID, ok
}

// Conns returns the IDs of every connection in the session's room.
func (t *RoomTracker) Conns(sessionID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	conns := t.roomToConns[sessionID]
	if len(conns) == 0 {
		return nil
	}
	result := make([]string, 0, len(conns))
	for connID := range conns {
		result = append(result, connID)
	}
	return result
}

// RemoveRoom tears down the room for this session, returning the IDs of the
// connections that were members. Used when a session expires out of the store.
func (t *RoomTracker) RemoveRoom(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	conns := t.roomToConns[sessionID]
	if len(conns) == 0 {
		return nil
	}
	result := make([]string, 0, len(conns))
	for connID := range conns {
		delete(t.connToRoom, connID)
		result = append(result, connID)
	}
	delete(t.roomToConns, sessionID)
	return result
}

// NumRooms returns the number of rooms with at least one member.
func (t *RoomTracker) NumRooms() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.roomToConns)
}
