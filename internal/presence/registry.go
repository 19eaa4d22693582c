// Package presence tracks who is connected to the lobby and computes
// block-list-filtered recipient sets for broadcasts.
package presence

import (
	"sync"

	"github.com/google/uuid"

	"github.com/oldtown/citadel/internal/models"
)

// Registry is the in-memory connection and user index. It holds no durable
// state; everything here is rebuilt as clients reconnect.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*Conn        // connection ID -> connection
	users      map[string]*models.User // username -> cached user
	connByUser map[string]string       // username -> owning connection ID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:      make(map[string]*Conn),
		users:      make(map[string]*models.User),
		connByUser: make(map[string]string),
	}
}

// Register adds the connection, binding it to user when non-nil. Registering
// a username that already has a live connection pre-empts the stale one; the
// pre-empted connection is returned so the caller can close it.
func (r *Registry) Register(conn *Conn, user *models.User) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn.ID] = conn

	if user == nil {
		return nil
	}

	conn.User = user
	var stale *Conn
	if oldID, ok := r.connByUser[user.Username]; ok && oldID != conn.ID {
		stale = r.conns[oldID]
		delete(r.conns, oldID)
	}
	r.users[user.Username] = user
	r.connByUser[user.Username] = conn.ID
	return stale
}

// Unregister removes the connection. User presence is dropped only when the
// username still maps to this exact connection, so a cleanup racing a
// reconnect never evicts the newer connection's presence entry. Returns the
// user whose presence was removed, or nil.
func (r *Registry) Unregister(conn *Conn) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, conn.ID)

	if conn.User == nil {
		return nil
	}
	username := conn.User.Username
	if r.connByUser[username] != conn.ID {
		return nil // a newer connection owns this user now
	}
	user := r.users[username]
	delete(r.users, username)
	delete(r.connByUser, username)
	return user
}

// SetBlockList replaces a connected user's block list so broadcast
// filtering reflects a block-list edit without waiting for a reconnect.
// No-op when the user is offline; their next connection loads the stored
// list anyway.
func (r *Registry) SetBlockList(username string, blockList []uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[username]; ok {
		u.BlockList = blockList
	}
}

// UserByName returns the cached user for a connected username.
func (r *Registry) UserByName(username string) (*models.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[username]
	return u, ok
}

// screened reports whether two users are mutually hidden: either side
// blocking the other hides both directions.
func screened(a, b *models.User) bool {
	if a == nil || b == nil {
		return false
	}
	return a.HasBlocked(b.ID) || b.HasBlocked(a.ID)
}

// VisibleRecipients filters candidates down to users not screened from
// source in either direction.
func (r *Registry) VisibleRecipients(source *models.User, candidates []*models.User) []*models.User {
	out := make([]*models.User, 0, len(candidates))
	for _, c := range candidates {
		if screened(source, c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Users returns the connected-user list as seen by forUser, hiding anyone
// screened by a block list. A nil forUser sees everyone.
func (r *Registry) Users(forUser *models.User) []*models.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.User, 0, len(r.users))
	for _, u := range r.users {
		if screened(forUser, u) {
			continue
		}
		out = append(out, u)
	}
	return out
}

// BroadcastExcludingBlocked sends msg to every connection except those owned
// by users screened from source. Anonymous connections always receive. A nil
// source is a system message and reaches everyone.
func (r *Registry) BroadcastExcludingBlocked(source *models.User, msg map[string]interface{}) {
	for _, conn := range r.snapshotConns() {
		if screened(source, conn.User) {
			continue
		}
		conn.Write(msg)
	}
}

// BroadcastToOthers behaves like BroadcastExcludingBlocked but also skips
// the source's own connection; used for join/leave announcements.
func (r *Registry) BroadcastToOthers(source *models.User, msg map[string]interface{}) {
	r.mu.RLock()
	selfID := ""
	if source != nil {
		selfID = r.connByUser[source.Username]
	}
	r.mu.RUnlock()

	for _, conn := range r.snapshotConns() {
		if conn.ID == selfID {
			continue
		}
		if screened(source, conn.User) {
			continue
		}
		conn.Write(msg)
	}
}

// BroadcastFiltered sends msg to every connection whose owner passes the
// accept predicate; used to scope session-list events to interested viewers.
// Anonymous connections are presented to the predicate as nil.
func (r *Registry) BroadcastFiltered(accept func(u *models.User) bool, msg map[string]interface{}) {
	for _, conn := range r.snapshotConns() {
		if !accept(conn.User) {
			continue
		}
		conn.Write(msg)
	}
}

// Send delivers msg to the named user's connection, if any. Returns false
// when the user is not connected.
func (r *Registry) Send(username string, msg map[string]interface{}) bool {
	r.mu.RLock()
	id, ok := r.connByUser[username]
	conn := r.conns[id]
	r.mu.RUnlock()
	if !ok || conn == nil {
		return false
	}
	conn.Write(msg)
	return true
}

// snapshotConns copies the connection set so senders never hold the lock
// while writing.
func (r *Registry) snapshotConns() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
