package nodes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Fleet control plane commands exchanged with worker nodes over redis.
const (
	CmdHello      = "HELLO"
	CmdStartGame  = "STARTGAME"
	CmdStartAck   = "STARTGAMEACK"
	CmdGameClosed = "GAMECLOSED"
	CmdGameWin    = "GAMEWIN"
)

// FleetChannel is where nodes publish their lifecycle messages.
const FleetChannel = "citadel.nodes"

// nodeChannel is the per-node channel the lobby publishes commands to.
func nodeChannel(name string) string {
	return "citadel.node." + name
}

// fleetMessage is the wire form of every fleet control message.
type fleetMessage struct {
	Command  string                 `json:"command"`
	Name     string                 `json:"name,omitempty"`
	Addr     string                 `json:"addr,omitempty"`
	Capacity int                    `json:"capacity,omitempty"`
	GameID   string                 `json:"gameId,omitempty"`
	Game     map[string]interface{} `json:"game,omitempty"`
}

// RedisBus publishes lobby-to-node commands over redis pub/sub.
type RedisBus struct {
	Rdb *redis.Client
}

// PublishStart implements Bus.
func (b *RedisBus) PublishStart(ctx context.Context, node *Node, gameID uuid.UUID, details map[string]interface{}) error {
	payload, err := json.Marshal(fleetMessage{
		Command: CmdStartGame,
		GameID:  gameID.String(),
		Game:    details,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal start command: %w", err)
	}
	if err := b.Rdb.Publish(ctx, nodeChannel(node.Name), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish start command to node %s: %w", node.Name, err)
	}
	return nil
}

// Feed consumes node lifecycle messages from the fleet channel and applies
// them to the manager: HELLO registers or refreshes a node, GAMECLOSED and
// GAMEWIN free a slot, STARTGAMEACK resolves a pending handoff.
type Feed struct {
	Rdb     *redis.Client
	Manager *Manager
	Logger  *logrus.Logger

	// OnGameClosed, when set, is invoked with the game id after a
	// GAMECLOSED or GAMEWIN frees the node slot; the lobby uses it to
	// retire the finished session.
	OnGameClosed func(gameID uuid.UUID)
}

// Run subscribes and processes messages until the context is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	sub := f.Rdb.Subscribe(ctx, FleetChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("fleet subscription channel closed")
			}
			f.handle(msg.Payload)
		}
	}
}

func (f *Feed) handle(payload string) {
	var msg fleetMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		f.Logger.Warnf("nodes: invalid fleet message: %v", err)
		return
	}

	switch msg.Command {
	case CmdHello:
		if msg.Name == "" || msg.Capacity <= 0 {
			f.Logger.Warnf("nodes: ignoring HELLO with missing name or capacity")
			return
		}
		f.Manager.Register(&Node{Name: msg.Name, Addr: msg.Addr, Capacity: msg.Capacity})
	case CmdGameClosed, CmdGameWin:
		if msg.Name != "" {
			f.Manager.ReleaseByName(msg.Name)
		}
		if f.OnGameClosed != nil && msg.GameID != "" {
			gameID, err := uuid.Parse(msg.GameID)
			if err != nil {
				f.Logger.Warnf("nodes: %s with bad game id %q", msg.Command, msg.GameID)
				return
			}
			f.OnGameClosed(gameID)
		}
	case CmdStartAck:
		gameID, err := uuid.Parse(msg.GameID)
		if err != nil {
			f.Logger.Warnf("nodes: STARTGAMEACK with bad game id %q", msg.GameID)
			return
		}
		f.Manager.Ack(gameID)
	default:
		f.Logger.Warnf("nodes: unknown fleet command %q", msg.Command)
	}
}
