// Package nodes maintains the pool of worker nodes that run live games and
// picks a destination when a session starts. Node capacity is the one
// globally contended resource in the lobby; every load change happens under
// the manager's lock, atomically with the selection decision.
package nodes

import "github.com/google/uuid"

// Node is one worker process capable of hosting live games. Identity fields
// are fixed at registration; load is owned by the Manager.
type Node struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Addr     string    `json:"addr"`
	Capacity int       `json:"capacity"`

	load int
}

// Info is a read-only snapshot of a node for listings and logs.
type Info struct {
	Name     string `json:"name"`
	Addr     string `json:"addr"`
	Capacity int    `json:"capacity"`
	Load     int    `json:"load"`
}

// Policy picks a destination among nodes with spare capacity. Alternative
// strategies (weighted, affinity) can be swapped in without touching the
// session state machine.
type Policy interface {
	Pick(candidates []*Node) *Node
}

// LeastLoaded picks the node with the lowest current load; ties go to the
// earliest-registered node so repeated calls are stable and deterministic.
type LeastLoaded struct{}

// Pick implements Policy. Candidates arrive in registration order and are
// already filtered to load < capacity.
func (LeastLoaded) Pick(candidates []*Node) *Node {
	var best *Node
	for _, n := range candidates {
		if best == nil || n.load < best.load {
			best = n
		}
	}
	return best
}
