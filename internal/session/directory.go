package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/oldtown/citadel/internal/models"
)

// Directory maps usernames and session ids to active sessions and enforces
// the one-active-session-per-user invariant. The byUser check-and-set here
// is the only place a user gets bound to a session, so two concurrent joins
// cannot double-book a user. Roster mutation itself happens under each
// session's own mutex; the directory lock is held only for the brief map
// updates.
type Directory struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*Session
	byUser map[string]*Session
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		byID:   make(map[uuid.UUID]*Session),
		byUser: make(map[string]*Session),
	}
}

// Create builds a new session owned by owner and registers it. Fails with
// ErrAlreadyInSession when the owner already has an active session.
func (d *Directory) Create(owner *models.User, params Params) (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byUser[owner.Username]; ok {
		return nil, ErrAlreadyInSession
	}

	s, err := newSession(owner, params)
	if err != nil {
		return nil, err
	}
	d.byID[s.ID] = s
	d.byUser[owner.Username] = s
	return s, nil
}

// Get looks a session up by id. Absence is a valid outcome, not an error.
func (d *Directory) Get(id uuid.UUID) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.byID[id]
	return s, ok
}

// GetByUser returns the active session a user belongs to, if any.
func (d *Directory) GetByUser(username string) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.byUser[username]
	return s, ok
}

// Join adds user to the session with the given id. The user slot is
// reserved in byUser before touching the roster and rolled back if the
// session rejects the join, so the invariant holds even against the join
// failing or racing another join for the same user.
func (d *Directory) Join(id uuid.UUID, user *models.User, role Role, password string) (*Session, error) {
	d.mu.Lock()
	if _, ok := d.byUser[user.Username]; ok {
		d.mu.Unlock()
		return nil, ErrAlreadyInSession
	}
	s, ok := d.byID[id]
	if !ok {
		d.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	d.byUser[user.Username] = s
	d.mu.Unlock()

	if err := s.AddPlayer(user, role, password); err != nil {
		d.unbind(user.Username, s)
		return nil, err
	}

	// The session can vanish between the lookup and the roster add: the
	// last member leaves, or the game node closes it. A join that landed
	// in a delisted session is undone so nobody stays bound to a session
	// the directory no longer lists.
	if !d.confirmJoin(s, user) {
		s.Leave(user.Username)
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// unbind clears the user's binding when it still points at s.
func (d *Directory) unbind(username string, s *Session) {
	d.mu.Lock()
	if d.byUser[username] == s {
		delete(d.byUser, username)
	}
	d.mu.Unlock()
}

// confirmJoin verifies the session is still listed after a roster add.
// When it is not, the user's binding is dropped and the caller must roll
// the roster add back.
func (d *Directory) confirmJoin(s *Session, user *models.User) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.byID[s.ID] == s {
		return true
	}
	if d.byUser[user.Username] == s {
		delete(d.byUser, user.Username)
	}
	return false
}

// Leave removes the user from their active session. While Pending the user
// leaves the roster and is unbound; once Started only the connected flag
// changes and the binding stays (the user can still rejoin the running
// game). When the last roster member leaves a Pending session, the session
// is removed from the directory and empty is true.
func (d *Directory) Leave(username string) (s *Session, removed, empty bool) {
	d.mu.RLock()
	s, ok := d.byUser[username]
	d.mu.RUnlock()
	if !ok {
		return nil, false, false
	}

	removed, empty = s.Leave(username)

	if removed {
		d.mu.Lock()
		if d.byUser[username] == s {
			delete(d.byUser, username)
		}
		// Re-check emptiness under the directory lock: a join may have
		// landed since s.Leave computed it. Either the add is visible
		// here and the session stays listed, or the joiner's
		// confirmation runs after this delete and rolls itself back.
		if empty && s.Empty() {
			delete(d.byID, s.ID)
		} else {
			empty = false
		}
		d.mu.Unlock()
	}
	return s, removed, empty
}

// Remove drops a session and every user binding pointing at it; called when
// a session terminally completes (the worker node reported the game over).
func (d *Directory) Remove(id uuid.UUID) (*Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.byID[id]
	if !ok {
		return nil, false
	}
	delete(d.byID, id)
	for username, bound := range d.byUser {
		if bound == s {
			delete(d.byUser, username)
		}
	}
	return s, true
}

// Sessions returns a copy of all active sessions for listings.
func (d *Directory) Sessions() []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Session, 0, len(d.byID))
	for _, s := range d.byID {
		out = append(out, s)
	}
	return out
}
