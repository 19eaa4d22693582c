// Package session holds the game-session state machine and the directory
// mapping users and ids to their active session. The session is the single
// authoritative mutation point for lobby state: every state-changing
// operation runs under the session's own mutex, and operations on different
// sessions proceed independently.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oldtown/citadel/internal/auth"
	"github.com/oldtown/citadel/internal/deckval"
	"github.com/oldtown/citadel/internal/models"
	"github.com/oldtown/citadel/internal/nodes"
)

// Visibility controls who can see and join a session.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityPrivate  Visibility = "private"
	VisibilityPassword Visibility = "password"
)

// State is the session lifecycle state. There is no way back to Pending;
// post-handoff lifecycle belongs to the worker node.
type State string

const (
	StatePending State = "pending"
	StateStarted State = "started"
)

// Role distinguishes seated players from spectators. Spectators never count
// against the player cap and never gate a start.
type Role string

const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

var (
	ErrAlreadyInSession = errors.New("user already has an active session")
	ErrAlreadyJoined    = errors.New("user already in this session")
	ErrSessionFull      = errors.New("session has no free player seats")
	ErrSessionStarted   = errors.New("session has already started")
	ErrNotOwner         = errors.New("only the session owner may do that")
	ErrPlayersNotReady  = errors.New("not every player has selected a valid deck")
	ErrBadPassword      = errors.New("incorrect session password")
	ErrNotInSession     = errors.New("user is not in this session")
	ErrSessionNotFound  = errors.New("no such session")
)

// Player is one roster entry. Mutated only through Session operations.
type Player struct {
	User         *models.User
	Role         Role
	Deck         *models.Deck
	Validation   *deckval.Result
	DeckSelected bool
	Connected    bool
}

// Params carries the caller-supplied options for a new session.
type Params struct {
	Name             string
	Mode             string
	Visibility       Visibility
	Password         string
	RestrictedListID string
}

// Session is a pending or started game lobby.
type Session struct {
	mu sync.Mutex

	ID               uuid.UUID
	Owner            string
	Name             string
	Visibility       Visibility
	Mode             models.GameMode
	RestrictedListID string
	CreatedAt        time.Time

	passwordHash string
	invited      map[string]bool
	players      []*Player
	state        State
	node         *nodes.Node
}

// newSession builds a Pending session owned by owner, with owner seated as
// the first player. Only the Directory constructs sessions.
func newSession(owner *models.User, params Params) (*Session, error) {
	vis := params.Visibility
	if vis == "" {
		vis = VisibilityPublic
	}
	if params.Password != "" {
		vis = VisibilityPassword
	}

	s := &Session{
		ID:               uuid.New(),
		Owner:            owner.Username,
		Name:             params.Name,
		Visibility:       vis,
		Mode:             models.ModeByName(params.Mode),
		RestrictedListID: params.RestrictedListID,
		CreatedAt:        time.Now(),
		invited:          make(map[string]bool),
		state:            StatePending,
	}

	if params.Password != "" {
		hash, err := auth.CreateHash(params.Password, auth.Params)
		if err != nil {
			return nil, err
		}
		s.passwordHash = hash
	}

	s.players = append(s.players, &Player{User: owner, Role: RolePlayer, Connected: true})
	return s, nil
}

// findPlayer returns the roster entry for username. Caller holds s.mu.
func (s *Session) findPlayer(username string) *Player {
	for _, p := range s.players {
		if p.User.Username == username {
			return p
		}
	}
	return nil
}

// playerCount counts Player-role members. Caller holds s.mu.
func (s *Session) playerCount() int {
	n := 0
	for _, p := range s.players {
		if p.Role == RolePlayer {
			n++
		}
	}
	return n
}

// AddPlayer seats a user (or admits a spectator). Fails without mutating
// anything: started sessions are frozen, duplicate joins and full rosters
// are rejected, and password sessions require the password for every role.
func (s *Session) AddPlayer(user *models.User, role Role, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePending {
		return ErrSessionStarted
	}
	if s.findPlayer(user.Username) != nil {
		return ErrAlreadyJoined
	}
	if s.passwordHash != "" && user.Username != s.Owner {
		ok, err := auth.ComparePasswordAndHash(password, s.passwordHash)
		if err != nil || !ok {
			return ErrBadPassword
		}
	}
	if role == RolePlayer && s.playerCount() >= s.Mode.Players {
		return ErrSessionFull
	}

	s.players = append(s.players, &Player{User: user, Role: role, Connected: true})
	return nil
}

// SelectDeck attaches a deck and its precomputed validation verdict to the
// player. A started session ignores the call. The DeckSelected flag turns
// true only here, after a Result exists.
func (s *Session) SelectDeck(username string, deck *models.Deck, result deckval.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePending {
		return nil
	}
	p := s.findPlayer(username)
	if p == nil {
		return ErrNotInSession
	}
	p.Deck = deck
	p.Validation = &result
	p.DeckSelected = true
	return nil
}

// Start transitions Pending -> Started and pins the node the game will run
// on. Only the owner may start, and every seated player must have selected
// a deck that validated. On failure nothing changes.
func (s *Session) Start(caller string, node *nodes.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePending {
		return ErrSessionStarted
	}
	if caller != s.Owner {
		return ErrNotOwner
	}
	for _, p := range s.players {
		if p.Role != RolePlayer {
			continue
		}
		if !p.DeckSelected || p.Validation == nil || !p.Validation.Valid() {
			return ErrPlayersNotReady
		}
	}

	s.state = StateStarted
	s.node = node
	return nil
}

// Leave removes the user while Pending; once Started, roster membership is
// frozen and the user is only marked disconnected. Returns whether the user
// was removed from the roster and whether the roster is now empty.
func (s *Session) Leave(username string) (removed, empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.findPlayer(username)
	if p == nil {
		return false, false
	}

	if s.state == StateStarted {
		p.Connected = false
		return false, false
	}

	for i, rp := range s.players {
		if rp == p {
			s.players = append(s.players[:i], s.players[i+1:]...)
			break
		}
	}
	return true, len(s.players) == 0
}

// MarkDisconnected flags a roster member as disconnected without removing
// them; used when a connection drops.
func (s *Session) MarkDisconnected(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.findPlayer(username); p != nil {
		p.Connected = false
	}
}

// Invite lets the owner open a private session to a user.
func (s *Session) Invite(caller, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if caller != s.Owner {
		return ErrNotOwner
	}
	s.invited[username] = true
	return nil
}

// VisibleTo reports whether the session shows up in user's session list.
// Public and password-protected sessions are listed for everyone; private
// sessions only for roster members and invitees. A nil user sees only
// public listings.
func (s *Session) VisibleTo(user *models.User) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.Visibility {
	case VisibilityPublic, VisibilityPassword:
		return true
	default:
		if user == nil {
			return false
		}
		return s.findPlayer(user.Username) != nil || s.invited[user.Username]
	}
}

// Empty reports an empty roster.
func (s *Session) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players) == 0
}

// HasUser reports roster membership.
func (s *Session) HasUser(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findPlayer(username) != nil
}

// Members returns the roster usernames, in seating order.
func (s *Session) Members() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p.User.Username)
	}
	return out
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Started reports whether the session has been handed off.
func (s *Session) Started() bool {
	return s.State() == StateStarted
}

// Node returns the worker node the session was started on, nil while Pending.
func (s *Session) Node() *nodes.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.node
}

// Summary is the public projection broadcast with session-created/updated
// events. It contains no hidden zones and is identical for every viewer.
func (s *Session) Summary() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	players := make([]map[string]interface{}, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, map[string]interface{}{
			"username":     p.User.Username,
			"role":         string(p.Role),
			"deckSelected": p.DeckSelected,
			"connected":    p.Connected,
		})
	}

	return map[string]interface{}{
		"id":            s.ID.String(),
		"name":          s.Name,
		"owner":         s.Owner,
		"mode":          s.Mode.Name,
		"visibility":    string(s.Visibility),
		"needsPassword": s.passwordHash != "",
		"state":         string(s.state),
		"createdAt":     s.CreatedAt,
		"players":       players,
	}
}

// StartDetails is the payload handed to the worker node when the game
// starts. The node runs the game engine, so unlike client snapshots it
// receives every player's deck unredacted.
func (s *Session) StartDetails() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	players := make([]map[string]interface{}, 0, len(s.players))
	for _, p := range s.players {
		entry := map[string]interface{}{
			"id":       p.User.ID.String(),
			"username": p.User.Username,
			"role":     string(p.Role),
		}
		if p.Deck != nil {
			entry["deck"] = map[string]interface{}{
				"id":      p.Deck.ID.String(),
				"faction": p.Deck.Faction,
				"cards":   p.Deck.Cards,
			}
		}
		players = append(players, entry)
	}

	return map[string]interface{}{
		"id":               s.ID.String(),
		"name":             s.Name,
		"owner":            s.Owner,
		"mode":             s.Mode.Name,
		"restrictedListId": s.RestrictedListID,
		"players":          players,
	}
}

// Snapshot is the per-recipient view of session state. Roster members see
// their own deck and validation verdict; everyone else's deck contents stay
// redacted, so each recipient gets its own payload rather than one shared
// broadcast.
func (s *Session) Snapshot(forUser string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	players := make([]map[string]interface{}, 0, len(s.players))
	for _, p := range s.players {
		entry := map[string]interface{}{
			"username":     p.User.Username,
			"role":         string(p.Role),
			"deckSelected": p.DeckSelected,
			"connected":    p.Connected,
		}
		if p.User.Username == forUser && p.Deck != nil {
			entry["deck"] = map[string]interface{}{
				"id":      p.Deck.ID.String(),
				"name":    p.Deck.Name,
				"faction": p.Deck.Faction,
				"cards":   p.Deck.Cards,
			}
			entry["validation"] = p.Validation
		}
		players = append(players, entry)
	}

	snap := map[string]interface{}{
		"type":       "session_state",
		"id":         s.ID.String(),
		"name":       s.Name,
		"owner":      s.Owner,
		"mode":       s.Mode.Name,
		"visibility": string(s.Visibility),
		"state":      string(s.state),
		"players":    players,
	}
	if s.node != nil {
		snap["node"] = map[string]interface{}{"name": s.node.Name, "addr": s.node.Addr}
	}
	return snap
}
