package nodes

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeBus struct {
	mu        sync.Mutex
	published []uuid.UUID
	err       error
}

func (b *fakeBus) PublishStart(_ context.Context, _ *Node, gameID uuid.UUID, _ map[string]interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, gameID)
	return b.err
}

func newTestManager(ackTimeout time.Duration) (*Manager, *fakeBus) {
	bus := &fakeBus{}
	return NewManager(nil, bus, ackTimeout, nil), bus
}

func TestAcquirePicksLeastLoadedWithStableTieBreak(t *testing.T) {
	m, _ := newTestManager(time.Second)
	m.Register(&Node{Name: "node-a", Addr: "wss://a", Capacity: 2})
	m.Register(&Node{Name: "node-b", Addr: "wss://b", Capacity: 2})

	// tie at load 0 -> earliest registered wins
	first := m.Acquire()
	require.NotNil(t, first)
	assert.Equal(t, "node-a", first.Name)

	// node-a now at 1, node-b at 0 -> least loaded wins
	second := m.Acquire()
	require.NotNil(t, second)
	assert.Equal(t, "node-b", second.Name)

	// tie again at 1 -> back to node-a
	third := m.Acquire()
	require.NotNil(t, third)
	assert.Equal(t, "node-a", third.Name)
}

func TestAcquireReturnsNilWhenPoolFull(t *testing.T) {
	m, _ := newTestManager(time.Second)
	m.Register(&Node{Name: "node-a", Addr: "wss://a", Capacity: 1})

	require.NotNil(t, m.Acquire())
	assert.Nil(t, m.Acquire(), "a full pool yields no node, not an error")
}

func TestConcurrentAcquiresNeverOverbook(t *testing.T) {
	m, _ := newTestManager(time.Second)
	m.Register(&Node{Name: "node-a", Addr: "wss://a", Capacity: 3})
	m.Register(&Node{Name: "node-b", Addr: "wss://b", Capacity: 2})
	const capacity = 5

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if n := m.Acquire(); n != nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, capacity, granted, "pool of capacity %d must admit exactly %d reservations", capacity, capacity)
	for _, info := range m.Snapshot() {
		assert.LessOrEqual(t, info.Load, info.Capacity)
	}
}

func TestReleaseFreesSlot(t *testing.T) {
	m, _ := newTestManager(time.Second)
	m.Register(&Node{Name: "node-a", Addr: "wss://a", Capacity: 1})

	n := m.Acquire()
	require.NotNil(t, n)
	require.Nil(t, m.Acquire())

	m.Release(n)
	assert.NotNil(t, m.Acquire())
}

func TestReleaseByName(t *testing.T) {
	m, _ := newTestManager(time.Second)
	m.Register(&Node{Name: "node-a", Addr: "wss://a", Capacity: 1})
	require.NotNil(t, m.Acquire())

	m.ReleaseByName("node-a")
	assert.NotNil(t, m.Acquire())
}

func TestRegisterRefreshKeepsLoadAndOrder(t *testing.T) {
	m, _ := newTestManager(time.Second)
	m.Register(&Node{Name: "node-a", Addr: "wss://a", Capacity: 2})
	require.NotNil(t, m.Acquire())

	// heartbeat re-registration must not reset load
	m.Register(&Node{Name: "node-a", Addr: "wss://a2", Capacity: 2})
	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 1, snap[0].Load)
	assert.Equal(t, "wss://a2", snap[0].Addr)
}

func TestStartOnNodeAcknowledged(t *testing.T) {
	m, bus := newTestManager(time.Second)
	node := &Node{Name: "node-a", Addr: "wss://a", Capacity: 1}
	m.Register(node)
	gameID := uuid.New()

	done := make(chan error, 1)
	go func() {
		done <- m.StartOnNode(context.Background(), node, gameID, map[string]interface{}{"name": "g"})
	}()

	// wait for the publish, then ack like a node would
	require.Eventually(t, func() bool {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		return len(bus.published) == 1
	}, time.Second, 5*time.Millisecond)
	m.Ack(gameID)

	require.NoError(t, <-done)
	assert.Empty(t, m.Unacknowledged())
}

func TestStartOnNodeTimeoutFlagsForReconciliation(t *testing.T) {
	m, _ := newTestManager(20 * time.Millisecond)
	node := &Node{Name: "node-a", Addr: "wss://a", Capacity: 1}
	m.Register(node)
	gameID := uuid.New()

	err := m.StartOnNode(context.Background(), node, gameID, nil)
	require.NoError(t, err, "a missing ack is not an error for the caller")

	unacked := m.Unacknowledged()
	require.Contains(t, unacked, gameID)
	assert.Equal(t, "node-a", unacked[gameID])

	// a late ack clears the flag
	m.Ack(gameID)
	assert.Empty(t, m.Unacknowledged())
}

func TestFeedHandleMessages(t *testing.T) {
	m, _ := newTestManager(time.Second)
	feed := &Feed{Manager: m, Logger: testLogger()}

	hello, _ := json.Marshal(fleetMessage{Command: CmdHello, Name: "node-a", Addr: "wss://a", Capacity: 2})
	feed.handle(string(hello))
	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "node-a", snap[0].Name)

	require.NotNil(t, m.Acquire())
	closed, _ := json.Marshal(fleetMessage{Command: CmdGameClosed, Name: "node-a"})
	feed.handle(string(closed))
	assert.Equal(t, 0, m.Snapshot()[0].Load)

	// malformed payloads are logged and ignored
	feed.handle("{not json")
	assert.Len(t, m.Snapshot(), 1)
}

func TestFeedGameClosedCallback(t *testing.T) {
	m, _ := newTestManager(time.Second)
	var gotID uuid.UUID
	feed := &Feed{Manager: m, Logger: testLogger(), OnGameClosed: func(gameID uuid.UUID) {
		gotID = gameID
	}}

	gameID := uuid.New()
	closed, _ := json.Marshal(fleetMessage{Command: CmdGameClosed, Name: "node-a", GameID: gameID.String()})
	feed.handle(string(closed))
	assert.Equal(t, gameID, gotID)
}
