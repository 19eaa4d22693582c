package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/oldtown/citadel/internal/auth"
	"github.com/oldtown/citadel/internal/database"
	"github.com/oldtown/citadel/internal/models"
	"github.com/oldtown/citadel/internal/presence"
)

// LobbyWSHandler is the single websocket entry point to the lobby.
// Authenticated users get presence, chat, and session actions; anonymous
// connections still see the public lobby.
func LobbyWSHandler(logger *logrus.Logger, srv *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"lobby"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "lobby" {
			c.Close(BadSubprotocolError, "client must speak the lobby subprotocol")
			return
		}

		// Resolve identity before touching any shared state. No token means
		// an anonymous lobby viewer, not an error.
		var user *models.User
		if cookieHeader := r.Header.Get("Cookie"); strings.Contains(cookieHeader, "auth_token=") {
			token := extractCookieToken(cookieHeader, "auth_token")
			username, err := auth.AuthenticateJWT(token)
			if err != nil {
				c.Close(InvalidAuthTokenError, "invalid auth token")
				return
			}
			user, err = database.GetUserByUsername(r.Context(), username)
			if err != nil {
				logger.Warnf("identity lookup failed for %s: %v", username, err)
				c.Close(UpstreamUnavailableError, "identity service unavailable, try again")
				return
			}
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		conn := presence.NewConn(uuid.NewString(), cancel)

		// Register presence; a stale connection for the same user is
		// pre-empted and its pumps torn down via its cancel func.
		if stale := srv.Registry.Register(conn, user); stale != nil && stale.Cancel != nil {
			logger.Infof("pre-empting stale connection %s for user %s", stale.ID, user.Username)
			stale.Cancel()
		}

		if user != nil {
			logger.WithFields(logrus.Fields{
				"user":   user.Username,
				"remote": remoteAddr,
			}).Info("user connected to lobby")
		}

		go writePump(ctx, c, conn, logger)

		srv.pushConnectState(ctx, conn, user)

		readPump(ctx, c, srv, conn, logger)

		// ---- Cleanup after readPump exits ----
		srv.handleDisconnect(conn)
	}
}

// pushConnectState sends the initial lobby view to a new connection and
// announces the arrival: user list, chat history, new-user broadcast, and
// the rejoin handoff when the user's session already started.
func (srv *LobbyServer) pushConnectState(ctx context.Context, conn *presence.Conn, user *models.User) {
	userList := make([]map[string]interface{}, 0)
	for _, u := range srv.Registry.Users(user) {
		userList = append(userList, u.Summary())
	}
	conn.Write(map[string]interface{}{
		"type":  "users",
		"users": userList,
	})

	msgCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	messages, err := database.RecentMessages(msgCtx, srv.ChatHistory)
	cancel()
	if err != nil {
		srv.Logger.Warnf("failed to load chat history: %v", err)
	} else {
		conn.Write(map[string]interface{}{
			"type":     "messages",
			"messages": messages,
		})
	}

	if user == nil {
		return
	}

	srv.Registry.BroadcastToOthers(user, map[string]interface{}{
		"type": "newuser",
		"user": user.Summary(),
	})

	// A user rejoining while their game is running gets handed straight
	// back to the worker node.
	if s, ok := srv.Directory.GetByUser(user.Username); ok && s.Started() {
		if node := s.Node(); node != nil {
			conn.Write(handoffPayload(node, s.ID))
		}
	}
}

// handleDisconnect unwinds presence for a closed connection. It is safe to
// run concurrently with a reconnect: the registry only removes presence
// when this exact connection still owns the username.
func (srv *LobbyServer) handleDisconnect(conn *presence.Conn) {
	removed := srv.Registry.Unregister(conn)
	if removed == nil {
		return // anonymous, or a newer connection took over
	}

	srv.Logger.Infof("user %s disconnected from lobby", removed.Username)
	srv.Registry.BroadcastToOthers(removed, map[string]interface{}{
		"type":     "userleft",
		"username": removed.Username,
	})

	if s, ok := srv.Directory.GetByUser(removed.Username); ok {
		s.MarkDisconnected(removed.Username)
		srv.broadcastSessionEvent("updategame", s)
	}
}

// readPump consumes inbound packets until the connection dies. External
// lookups happen inside the action handlers before any shared-state
// mutation, so no lock is ever held across an upstream call.
func readPump(ctx context.Context, c *websocket.Conn, srv *LobbyServer, conn *presence.Conn, logger *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				logger.Infof("websocket closed normally for connection %s", conn.ID)
			} else if !strings.Contains(err.Error(), "context canceled") {
				logger.Warnf("read error for connection %s: %v", conn.ID, err)
			}
			return
		}

		if typ != websocket.MessageText {
			logger.Warnf("ignoring non-text message from connection %s", conn.ID)
			continue
		}

		var packet map[string]interface{}
		if err := json.Unmarshal(msg, &packet); err != nil {
			logger.Warnf("invalid json from connection %s: %v", conn.ID, err)
			conn.WriteError("Invalid JSON format")
			continue
		}

		srv.handleLobbyMessage(ctx, conn, packet)
	}
}

// handleLobbyMessage dispatches one inbound action. Failures are reported
// to the acting caller only, never broadcast.
func (srv *LobbyServer) handleLobbyMessage(ctx context.Context, conn *presence.Conn, packet map[string]interface{}) {
	action, _ := packet["type"].(string)

	switch action {
	case "ping":
		conn.Write(map[string]interface{}{"type": "pong"})
	case "chat":
		srv.handleChat(ctx, conn, packet)
	case "newgame":
		srv.handleNewGame(conn, packet)
	case "joingame":
		srv.handleJoinGame(conn, packet)
	case "selectdeck":
		srv.handleSelectDeck(ctx, conn, packet)
	case "startgame":
		srv.handleStartGame(conn)
	case "leavegame":
		srv.handleLeaveGame(conn)
	case "invite":
		srv.handleInvite(conn, packet)
	default:
		srv.Logger.Warnf("unknown action %q from connection %s", action, conn.ID)
		conn.WriteError("Unknown action type: " + action)
	}
}

// writePump drains the connection's outgoing channel onto the wire and
// keeps the socket alive with pings.
func writePump(ctx context.Context, c *websocket.Conn, conn *presence.Conn, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.Out:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warnf("failed to marshal outgoing msg for connection %s: %v", conn.ID, err)
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("failed to write to websocket for connection %s: %v", conn.ID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("ping failed for connection %s, assuming disconnect: %v", conn.ID, err)
				return
			}
		}
	}
}
