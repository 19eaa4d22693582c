package session

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRejectsSecondActiveSession(t *testing.T) {
	d := NewDirectory()
	owner := testUser("ned")

	_, err := d.Create(owner, Params{Name: "first", Mode: "joust"})
	require.NoError(t, err)

	_, err = d.Create(owner, Params{Name: "second", Mode: "joust"})
	assert.ErrorIs(t, err, ErrAlreadyInSession)
}

func TestConcurrentCreateSameOwnerAdmitsExactlyOne(t *testing.T) {
	d := NewDirectory()
	owner := testUser("ned")

	const attempts = 32
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = d.Create(owner, Params{Name: "race", Mode: "joust"})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyInSession)
		}
	}
	assert.Equal(t, 1, successes, "exactly one create may win the race")
	assert.Len(t, d.Sessions(), 1)
}

func TestJoinBindsUserAndRollsBackOnFailure(t *testing.T) {
	d := NewDirectory()
	owner := testUser("ned")
	joiner := testUser("cat")

	s, err := d.Create(owner, Params{Name: "game", Mode: "joust"})
	require.NoError(t, err)

	_, err = d.Join(uuid.New(), joiner, RolePlayer, "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, bound := d.GetByUser(joiner.Username)
	assert.False(t, bound, "failed join must not leave the user bound")

	got, err := d.Join(s.ID, joiner, RolePlayer, "")
	require.NoError(t, err)
	assert.Same(t, s, got)

	// joiner now has an active session; any further join is rejected
	s2, err := d.Create(testUser("robb"), Params{Name: "other", Mode: "joust"})
	require.NoError(t, err)
	_, err = d.Join(s2.ID, joiner, RolePlayer, "")
	assert.ErrorIs(t, err, ErrAlreadyInSession)

	// a full session rejects the roster add and unbinds the user again
	third := testUser("theon")
	_, err = d.Join(s.ID, third, RolePlayer, "")
	assert.ErrorIs(t, err, ErrSessionFull)
	_, bound = d.GetByUser(third.Username)
	assert.False(t, bound)
}

func TestUserInAtMostOneActiveSession(t *testing.T) {
	d := NewDirectory()
	users := []string{"ned", "cat", "robb", "sansa"}
	sessions := make([]*Session, 0)
	for _, name := range users {
		s, err := d.Create(testUser(name), Params{Name: name + "'s game", Mode: "melee"})
		require.NoError(t, err)
		sessions = append(sessions, s)
	}

	joiner := testUser("petyr")
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			d.Join(id, joiner, RolePlayer, "") //nolint:errcheck
		}(s.ID)
	}
	wg.Wait()

	memberships := 0
	for _, s := range d.Sessions() {
		if s.HasUser(joiner.Username) {
			memberships++
		}
	}
	assert.Equal(t, 1, memberships, "concurrent joins must land the user in exactly one session")
}

func TestLeaveLastMemberRemovesSession(t *testing.T) {
	d := NewDirectory()
	owner := testUser("ned")
	s, err := d.Create(owner, Params{Name: "game", Mode: "joust"})
	require.NoError(t, err)

	got, removed, empty := d.Leave(owner.Username)
	require.Same(t, s, got)
	assert.True(t, removed)
	assert.True(t, empty)

	_, ok := d.Get(s.ID)
	assert.False(t, ok, "empty session must leave the directory immediately")
	_, ok = d.GetByUser(owner.Username)
	assert.False(t, ok)

	// leaving again is a harmless no-op
	got, removed, empty = d.Leave(owner.Username)
	assert.Nil(t, got)
	assert.False(t, removed)
	assert.False(t, empty)
}

func TestLeaveStartedSessionKeepsBinding(t *testing.T) {
	d := NewDirectory()
	owner := testUser("ned")
	s, err := d.Create(owner, Params{Name: "game", Mode: "joust"})
	require.NoError(t, err)
	require.NoError(t, s.SelectDeck(owner.Username, testDeck(owner), validResult()))
	require.NoError(t, s.Start(owner.Username, nil))

	_, removed, empty := d.Leave(owner.Username)
	assert.False(t, removed)
	assert.False(t, empty)

	// the binding survives so a reconnect can be handed off to the game
	bound, ok := d.GetByUser(owner.Username)
	require.True(t, ok)
	assert.Same(t, s, bound)
}

func TestRemoveClearsAllBindings(t *testing.T) {
	d := NewDirectory()
	owner := testUser("ned")
	joiner := testUser("cat")
	s, err := d.Create(owner, Params{Name: "game", Mode: "joust"})
	require.NoError(t, err)
	_, err = d.Join(s.ID, joiner, RolePlayer, "")
	require.NoError(t, err)

	got, ok := d.Remove(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	for _, name := range []string{owner.Username, joiner.Username} {
		_, bound := d.GetByUser(name)
		assert.False(t, bound, "%s must be unbound after removal", name)
	}

	_, ok = d.Remove(s.ID)
	assert.False(t, ok)
}

// A join can pass the id lookup while the last member is leaving; once the
// empty session is dropped from the directory, the in-flight roster add
// must be undone rather than leaving the joiner bound to a delisted
// session. This drives that interleaving step by step.
func TestJoinRollsBackWhenSessionDelistedMidJoin(t *testing.T) {
	d := NewDirectory()
	owner := testUser("ned")
	joiner := testUser("cat")
	s, err := d.Create(owner, Params{Name: "game", Mode: "joust"})
	require.NoError(t, err)

	// the join has passed the lookup and reserved the user slot
	d.mu.Lock()
	d.byUser[joiner.Username] = s
	d.mu.Unlock()

	// before the roster add lands, the last member leaves and the empty
	// session is dropped
	_, removed, empty := d.Leave(owner.Username)
	require.True(t, removed)
	require.True(t, empty)

	// the in-flight join now adds to a roster the directory no longer lists
	require.NoError(t, s.AddPlayer(joiner, RolePlayer, ""))
	require.False(t, d.confirmJoin(s, joiner), "a delisted session must fail confirmation")
	s.Leave(joiner.Username)

	_, bound := d.GetByUser(joiner.Username)
	assert.False(t, bound, "joiner must not stay bound to a delisted session")
	assert.False(t, s.HasUser(joiner.Username), "roster add must be rolled back")
	_, ok := d.Get(s.ID)
	assert.False(t, ok)
}

func TestConcurrentJoinAndLastLeaveNeverGhost(t *testing.T) {
	for i := 0; i < 500; i++ {
		d := NewDirectory()
		owner := testUser("ned")
		joiner := testUser("cat")
		s, err := d.Create(owner, Params{Name: "game", Mode: "joust"})
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.Leave(owner.Username) //nolint:errcheck
		}()
		go func() {
			defer wg.Done()
			d.Join(s.ID, joiner, RolePlayer, "") //nolint:errcheck
		}()
		wg.Wait()

		// whatever the interleaving, a bound user's session is listed
		if bound, ok := d.GetByUser(joiner.Username); ok {
			_, listed := d.Get(bound.ID)
			require.True(t, listed, "joiner bound to a session missing from the directory")
		}
	}
}
