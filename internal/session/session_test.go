package session

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oldtown/citadel/internal/deckval"
	"github.com/oldtown/citadel/internal/models"
	"github.com/oldtown/citadel/internal/nodes"
)

func testUser(name string) *models.User {
	return &models.User{ID: uuid.New(), Username: name, Registered: time.Now()}
}

func testDeck(owner *models.User) *models.Deck {
	return &models.Deck{ID: uuid.New(), OwnerID: owner.ID, Name: "winter", Faction: "stark", Cards: map[string]int{"01002": 60}}
}

func validResult() deckval.Result {
	return deckval.Result{Status: deckval.StatusValid}
}

func invalidResult() deckval.Result {
	return deckval.Result{Status: deckval.StatusInvalid, Errors: []string{"deck must contain at least 60 cards, has 40"}}
}

func newPendingSession(t *testing.T, owner *models.User) *Session {
	t.Helper()
	s, err := newSession(owner, Params{Name: "test game", Mode: "joust"})
	require.NoError(t, err)
	return s
}

func TestAddPlayerCapAndDuplicates(t *testing.T) {
	owner := testUser("ned")
	s := newPendingSession(t, owner)

	require.NoError(t, s.AddPlayer(testUser("cat"), RolePlayer, ""))

	// joust seats two players; a third is rejected
	err := s.AddPlayer(testUser("robb"), RolePlayer, "")
	assert.ErrorIs(t, err, ErrSessionFull)

	// spectators never count against the cap
	require.NoError(t, s.AddPlayer(testUser("sansa"), RoleSpectator, ""))

	err = s.AddPlayer(owner, RolePlayer, "")
	assert.ErrorIs(t, err, ErrAlreadyJoined)
}

func TestPasswordProtectedJoin(t *testing.T) {
	owner := testUser("ned")
	s, err := newSession(owner, Params{Name: "secret", Mode: "joust", Password: "winterfell"})
	require.NoError(t, err)
	assert.Equal(t, VisibilityPassword, s.Visibility)

	err = s.AddPlayer(testUser("cat"), RolePlayer, "casterly")
	assert.ErrorIs(t, err, ErrBadPassword)

	require.NoError(t, s.AddPlayer(testUser("cat"), RolePlayer, "winterfell"))

	// spectators need the password too
	err = s.AddPlayer(testUser("petyr"), RoleSpectator, "")
	assert.ErrorIs(t, err, ErrBadPassword)
}

func TestStartPreconditions(t *testing.T) {
	owner := testUser("ned")
	other := testUser("cat")
	s := newPendingSession(t, owner)
	require.NoError(t, s.AddPlayer(other, RolePlayer, ""))
	node := &nodes.Node{Name: "node-a", Addr: "wss://a", Capacity: 5}

	// non-owner cannot start
	err := s.Start(other.Username, node)
	assert.ErrorIs(t, err, ErrNotOwner)

	// owner cannot start before every player selected a deck
	err = s.Start(owner.Username, node)
	assert.ErrorIs(t, err, ErrPlayersNotReady)
	assert.Equal(t, StatePending, s.State(), "failed start must not change state")
	assert.Nil(t, s.Node())

	require.NoError(t, s.SelectDeck(owner.Username, testDeck(owner), validResult()))
	err = s.Start(owner.Username, node)
	assert.ErrorIs(t, err, ErrPlayersNotReady, "one unselected player still blocks start")

	// an invalid verdict blocks start just like a missing deck
	require.NoError(t, s.SelectDeck(other.Username, testDeck(other), invalidResult()))
	err = s.Start(owner.Username, node)
	assert.ErrorIs(t, err, ErrPlayersNotReady)

	require.NoError(t, s.SelectDeck(other.Username, testDeck(other), validResult()))
	require.NoError(t, s.Start(owner.Username, node))
	assert.Equal(t, StateStarted, s.State())
	assert.Same(t, node, s.Node())

	// no second start
	assert.ErrorIs(t, s.Start(owner.Username, node), ErrSessionStarted)
}

func TestSpectatorsDoNotGateStart(t *testing.T) {
	owner := testUser("ned")
	s := newPendingSession(t, owner)
	require.NoError(t, s.AddPlayer(testUser("sansa"), RoleSpectator, ""))
	require.NoError(t, s.SelectDeck(owner.Username, testDeck(owner), validResult()))

	node := &nodes.Node{Name: "node-a", Addr: "wss://a", Capacity: 5}
	assert.NoError(t, s.Start(owner.Username, node))
}

func TestRosterFrozenAfterStart(t *testing.T) {
	owner := testUser("ned")
	s := newPendingSession(t, owner)
	require.NoError(t, s.SelectDeck(owner.Username, testDeck(owner), validResult()))
	require.NoError(t, s.Start(owner.Username, &nodes.Node{Name: "node-a"}))

	err := s.AddPlayer(testUser("cat"), RolePlayer, "")
	assert.ErrorIs(t, err, ErrSessionStarted)

	// leaving a started session only flips the connected flag
	removed, empty := s.Leave(owner.Username)
	assert.False(t, removed)
	assert.False(t, empty)
	assert.True(t, s.HasUser(owner.Username))

	// selecting a deck after start is a silent no-op
	require.NoError(t, s.SelectDeck(owner.Username, testDeck(owner), invalidResult()))
	snap := s.Snapshot(owner.Username)
	players := snap["players"].([]map[string]interface{})
	require.Len(t, players, 1)
	assert.Equal(t, false, players[0]["connected"])
}

func TestLeavePendingRemovesAndEmpties(t *testing.T) {
	owner := testUser("ned")
	other := testUser("cat")
	s := newPendingSession(t, owner)
	require.NoError(t, s.AddPlayer(other, RolePlayer, ""))

	removed, empty := s.Leave(other.Username)
	assert.True(t, removed)
	assert.False(t, empty)
	assert.False(t, s.HasUser(other.Username))

	removed, empty = s.Leave(owner.Username)
	assert.True(t, removed)
	assert.True(t, empty, "last member leaving empties the roster")

	removed, empty = s.Leave("nobody")
	assert.False(t, removed)
	assert.False(t, empty)
}

func TestVisibility(t *testing.T) {
	owner := testUser("ned")
	stranger := testUser("petyr")
	invitee := testUser("cat")

	pub := newPendingSession(t, owner)
	assert.True(t, pub.VisibleTo(stranger))
	assert.True(t, pub.VisibleTo(nil), "anonymous viewers see public sessions")

	priv, err := newSession(owner, Params{Name: "small council", Mode: "joust", Visibility: VisibilityPrivate})
	require.NoError(t, err)
	assert.False(t, priv.VisibleTo(stranger))
	assert.False(t, priv.VisibleTo(nil))
	assert.True(t, priv.VisibleTo(owner), "roster members always see their session")

	require.NoError(t, priv.Invite(owner.Username, invitee.Username))
	assert.True(t, priv.VisibleTo(invitee))
	assert.ErrorIs(t, priv.Invite(stranger.Username, "x"), ErrNotOwner)

	pw, err := newSession(owner, Params{Name: "locked", Mode: "joust", Password: "hodor"})
	require.NoError(t, err)
	assert.True(t, pw.VisibleTo(stranger), "password sessions are listed for everyone")
}

func TestSnapshotRedactsOtherDecks(t *testing.T) {
	owner := testUser("ned")
	other := testUser("cat")
	s := newPendingSession(t, owner)
	require.NoError(t, s.AddPlayer(other, RolePlayer, ""))
	require.NoError(t, s.SelectDeck(owner.Username, testDeck(owner), validResult()))

	snap := s.Snapshot(other.Username)
	players := snap["players"].([]map[string]interface{})
	require.Len(t, players, 2)
	for _, p := range players {
		if p["username"] == owner.Username {
			assert.Equal(t, true, p["deckSelected"], "others still see the selected flag")
			assert.NotContains(t, p, "deck", "deck contents must be redacted for other players")
			assert.NotContains(t, p, "validation")
		}
	}

	own := s.Snapshot(owner.Username)
	players = own["players"].([]map[string]interface{})
	for _, p := range players {
		if p["username"] == owner.Username {
			assert.Contains(t, p, "deck", "members see their own deck")
			assert.Contains(t, p, "validation")
		}
	}
}
