package nodes

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Bus carries start instructions to worker nodes. The redis implementation
// lives in feed.go; tests substitute their own.
type Bus interface {
	PublishStart(ctx context.Context, node *Node, gameID uuid.UUID, details map[string]interface{}) error
}

// Manager tracks the worker pool and its load. All selection and load
// mutation happens under one mutex so concurrent reservations can never
// overbook a node.
type Manager struct {
	mu     sync.Mutex
	nodes  []*Node // registration order
	byName map[string]*Node
	policy Policy

	bus        Bus
	ackTimeout time.Duration
	logger     *logrus.Logger

	ackMu   sync.Mutex
	pending map[uuid.UUID]chan struct{}
	unacked map[uuid.UUID]string // gameID -> node name awaiting operator reconciliation
}

// NewManager builds a manager with the given selection policy; nil means
// least-loaded.
func NewManager(policy Policy, bus Bus, ackTimeout time.Duration, logger *logrus.Logger) *Manager {
	if policy == nil {
		policy = LeastLoaded{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		byName:     make(map[string]*Node),
		policy:     policy,
		bus:        bus,
		ackTimeout: ackTimeout,
		logger:     logger,
		pending:    make(map[uuid.UUID]chan struct{}),
		unacked:    make(map[uuid.UUID]string),
	}
}

// Register adds a node or refreshes an existing one by name. Refreshing
// keeps the node's current load and registration order.
func (m *Manager) Register(node *Node) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byName[node.Name]; ok {
		existing.Addr = node.Addr
		existing.Capacity = node.Capacity
		m.logger.Infof("nodes: refreshed node %s (%s, capacity %d)", node.Name, node.Addr, node.Capacity)
		return
	}
	if node.ID == uuid.Nil {
		node.ID = uuid.New()
	}
	m.nodes = append(m.nodes, node)
	m.byName[node.Name] = node
	m.logger.Infof("nodes: registered node %s (%s, capacity %d)", node.Name, node.Addr, node.Capacity)
}

// Remove drops a node from the pool, e.g. on shutdown or lapsed heartbeat.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.byName[name]
	if !ok {
		return
	}
	delete(m.byName, name)
	for i, n := range m.nodes {
		if n == node {
			m.nodes = append(m.nodes[:i], m.nodes[i+1:]...)
			break
		}
	}
	m.logger.Infof("nodes: removed node %s", name)
}

// available returns nodes with spare capacity, in registration order.
// Caller must hold m.mu.
func (m *Manager) available() []*Node {
	out := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		if n.load < n.Capacity {
			out = append(out, n)
		}
	}
	return out
}

// NextAvailable peeks at the node that would be chosen right now, without
// reserving it. Nil when the whole pool is at capacity; that is a normal
// outcome under load, not an error.
func (m *Manager) NextAvailable() *Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy.Pick(m.available())
}

// Acquire selects a node and reserves one slot on it in a single atomic
// step. Returns nil when no node has spare capacity. The caller must
// Release the node if the work it was reserved for fails to materialize.
func (m *Manager) Acquire() *Node {
	m.mu.Lock()
	defer m.mu.Unlock()

	node := m.policy.Pick(m.available())
	if node == nil {
		return nil
	}
	node.load++
	return node
}

// Release returns a previously reserved slot to the pool.
func (m *Manager) Release(node *Node) {
	if node == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if node.load > 0 {
		node.load--
	}
}

// ReleaseByName releases one slot on the named node; used when a node
// reports a game closed.
func (m *Manager) ReleaseByName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if node, ok := m.byName[name]; ok && node.load > 0 {
		node.load--
	}
}

// Snapshot lists the pool for debug endpoints and logs.
func (m *Manager) Snapshot() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, Info{Name: n.Name, Addr: n.Addr, Capacity: n.Capacity, Load: n.load})
	}
	return out
}

// StartOnNode sends the start instruction for a game to the chosen node and
// waits for the node's acknowledgment. A missing ack does not roll anything
// back: the session stays Started and the game is recorded for operator
// reconciliation, since an automatic retry could double-start the game on
// the worker side.
func (m *Manager) StartOnNode(ctx context.Context, node *Node, gameID uuid.UUID, details map[string]interface{}) error {
	ch := make(chan struct{}, 1)
	m.ackMu.Lock()
	m.pending[gameID] = ch
	m.ackMu.Unlock()

	defer func() {
		m.ackMu.Lock()
		delete(m.pending, gameID)
		m.ackMu.Unlock()
	}()

	if err := m.bus.PublishStart(ctx, node, gameID, details); err != nil {
		return err
	}

	select {
	case <-ch:
		m.logger.Infof("nodes: node %s acknowledged game %s", node.Name, gameID)
		return nil
	case <-time.After(m.ackTimeout):
		m.ackMu.Lock()
		m.unacked[gameID] = node.Name
		m.ackMu.Unlock()
		m.logger.Errorf("nodes: no ack from node %s for game %s; flagged for reconciliation", node.Name, gameID)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ack resolves a pending start acknowledgment from a node.
func (m *Manager) Ack(gameID uuid.UUID) {
	m.ackMu.Lock()
	defer m.ackMu.Unlock()
	delete(m.unacked, gameID)
	if ch, ok := m.pending[gameID]; ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Unacknowledged lists games whose start instruction was never confirmed.
func (m *Manager) Unacknowledged() map[uuid.UUID]string {
	m.ackMu.Lock()
	defer m.ackMu.Unlock()
	out := make(map[uuid.UUID]string, len(m.unacked))
	for id, name := range m.unacked {
		out[id] = name
	}
	return out
}
