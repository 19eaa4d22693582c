package handlers

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/oldtown/citadel/internal/cache"
	"github.com/oldtown/citadel/internal/nodes"
	"github.com/oldtown/citadel/internal/presence"
	"github.com/oldtown/citadel/internal/session"
)

// LobbyServer bundles the shared registries every handler needs: who is
// connected, which sessions exist, which worker nodes can take a game, and
// the card reference data decks validate against.
type LobbyServer struct {
	Registry  *presence.Registry
	Directory *session.Directory
	Nodes     *nodes.Manager
	RefData   *RefData
	Logger    *logrus.Logger

	// MinChatAge is how old an account must be before its lobby chat is
	// accepted; younger accounts are silently rate-gated.
	MinChatAge time.Duration

	// ChatHistory is how many recent messages a fresh connection receives.
	ChatHistory int
}

// HandleGameClosed retires a session after its worker node reported the
// game over. Members still connected are told to clear their game state.
func (srv *LobbyServer) HandleGameClosed(gameID uuid.UUID) {
	s, ok := srv.Directory.Remove(gameID)
	if !ok {
		return
	}
	srv.Logger.Infof("session %s closed by its game node", gameID)

	for _, username := range s.Members() {
		srv.Registry.Send(username, map[string]interface{}{"type": "cleargamestate"})
	}
	srv.Registry.BroadcastFiltered(s.VisibleTo, map[string]interface{}{
		"type":   "removegame",
		"gameId": gameID.String(),
	})
}

// NewLobbyServer wires a server from environment configuration.
func NewLobbyServer(logger *logrus.Logger, bus nodes.Bus) *LobbyServer {
	ackTimeout := time.Duration(cache.GetEnvInt("NODE_ACK_TIMEOUT_SEC", 10)) * time.Second
	return &LobbyServer{
		Registry:    presence.NewRegistry(),
		Directory:   session.NewDirectory(),
		Nodes:       nodes.NewManager(nil, bus, ackTimeout, logger),
		RefData:     NewRefData(5 * time.Minute),
		Logger:      logger,
		MinChatAge:  time.Duration(cache.GetEnvInt("MIN_CHAT_ACCOUNT_AGE_SEC", 0)) * time.Second,
		ChatHistory: cache.GetEnvInt("CHAT_HISTORY_COUNT", 50),
	}
}
