package handlers

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/oldtown/citadel/internal/database"
	"github.com/oldtown/citadel/internal/deckval"
	"github.com/oldtown/citadel/internal/models"
	"github.com/oldtown/citadel/internal/nodes"
	"github.com/oldtown/citadel/internal/presence"
	"github.com/oldtown/citadel/internal/session"
)

// maxChatLength caps a single lobby chat message, counted in characters.
const maxChatLength = 512

// truncateChat caps a message at maxChatLength characters without splitting
// a rune.
func truncateChat(text string) string {
	if utf8.RuneCountInString(text) <= maxChatLength {
		return text
	}
	return string([]rune(text)[:maxChatLength])
}

// requireUser rejects actions from anonymous connections.
func requireUser(conn *presence.Conn) *models.User {
	if conn.User == nil {
		conn.WriteError("You must be logged in to do that")
		return nil
	}
	return conn.User
}

func (srv *LobbyServer) handleChat(ctx context.Context, conn *presence.Conn, packet map[string]interface{}) {
	user := requireUser(conn)
	if user == nil {
		return
	}

	text, _ := packet["message"].(string)
	if text == "" {
		return
	}
	text = truncateChat(text)

	// Fresh accounts are muted until they age past the threshold. The
	// sender alone is told; nothing is broadcast.
	if srv.MinChatAge > 0 && time.Since(user.Registered) < srv.MinChatAge {
		conn.Write(map[string]interface{}{"type": "nochat"})
		return
	}

	msg := &models.Message{
		ID:       uuid.New(),
		UserID:   user.ID,
		Username: user.Username,
		Avatar:   user.Avatar,
		Role:     user.Role,
		Message:  text,
		Time:     time.Now(),
	}

	dbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := database.InsertMessage(dbCtx, msg)
	cancel()
	if err != nil {
		// Chat still flows when the store is down; history just misses it.
		srv.Logger.Warnf("failed to persist chat message from %s: %v", user.Username, err)
	}

	srv.Registry.BroadcastExcludingBlocked(user, map[string]interface{}{
		"type":    "lobbychat",
		"message": msg,
	})
}

func (srv *LobbyServer) handleNewGame(conn *presence.Conn, packet map[string]interface{}) {
	user := requireUser(conn)
	if user == nil {
		return
	}

	params := session.Params{
		Name:             stringField(packet, "name"),
		Mode:             stringField(packet, "mode"),
		Visibility:       session.Visibility(stringField(packet, "visibility")),
		Password:         stringField(packet, "password"),
		RestrictedListID: stringField(packet, "restrictedList"),
	}
	if params.Name == "" {
		params.Name = user.Username + "'s game"
	}

	s, err := srv.Directory.Create(user, params)
	if err != nil {
		conn.WriteError(sessionErrorMessage(err))
		return
	}

	srv.Logger.WithField("session", s.ID).Infof("user %s created session %q", user.Username, s.Name)
	srv.broadcastSessionEvent("newgame", s)
	conn.Write(s.Snapshot(user.Username))
}

func (srv *LobbyServer) handleJoinGame(conn *presence.Conn, packet map[string]interface{}) {
	user := requireUser(conn)
	if user == nil {
		return
	}

	id, err := uuid.Parse(stringField(packet, "gameId"))
	if err != nil {
		conn.WriteError("Invalid game id")
		return
	}

	role := session.RolePlayer
	if spectate, _ := packet["spectate"].(bool); spectate {
		role = session.RoleSpectator
	}

	s, err := srv.Directory.Join(id, user, role, stringField(packet, "password"))
	if err != nil {
		conn.WriteError(sessionErrorMessage(err))
		return
	}

	srv.broadcastSessionEvent("updategame", s)
	srv.sendMemberSnapshots(s)
}

func (srv *LobbyServer) handleSelectDeck(ctx context.Context, conn *presence.Conn, packet map[string]interface{}) {
	user := requireUser(conn)
	if user == nil {
		return
	}

	s, ok := srv.Directory.GetByUser(user.Username)
	if !ok {
		conn.WriteError("You are not in a game")
		return
	}

	deckID, err := uuid.Parse(stringField(packet, "deckId"))
	if err != nil {
		conn.WriteError("Invalid deck id")
		return
	}

	// All upstream reads happen before the session mutation so a slow card
	// store never stalls the session lock.
	dbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	deck, err := database.GetDeckByID(dbCtx, deckID)
	if err != nil {
		srv.Logger.Warnf("deck lookup %s failed: %v", deckID, err)
		conn.WriteError("Deck service unavailable, try again")
		return
	}
	if deck.OwnerID != user.ID {
		conn.WriteError("That deck does not belong to you")
		return
	}

	catalog, lists, err := srv.RefData.Get(dbCtx)
	if err != nil {
		srv.Logger.Warnf("card data fetch failed: %v", err)
		conn.WriteError("Card data unavailable, try again")
		return
	}

	result := deckval.Validate(deck, s.Mode, catalog, ListsFor(lists, s.RestrictedListID))

	if err := s.SelectDeck(user.Username, deck, result); err != nil {
		conn.WriteError(sessionErrorMessage(err))
		return
	}

	// Deck contents are hidden zones: members get individual snapshots and
	// there is no lobby-wide broadcast of the selection itself.
	srv.sendMemberSnapshots(s)
}

func (srv *LobbyServer) handleStartGame(conn *presence.Conn) {
	user := requireUser(conn)
	if user == nil {
		return
	}

	s, ok := srv.Directory.GetByUser(user.Username)
	if !ok {
		conn.WriteError("You are not in a game")
		return
	}

	// Reserve capacity before flipping session state so a start never
	// lands on a node that filled up meanwhile.
	node := srv.Nodes.Acquire()
	if node == nil {
		conn.WriteError("No game nodes available, try again later")
		return
	}

	if err := s.Start(user.Username, node); err != nil {
		srv.Nodes.Release(node)
		conn.WriteError(sessionErrorMessage(err))
		return
	}

	srv.Logger.WithFields(map[string]interface{}{
		"session": s.ID,
		"node":    node.Name,
	}).Info("session started")

	srv.broadcastSessionEvent("updategame", s)

	handoff := handoffPayload(node, s.ID)
	for _, username := range s.Members() {
		srv.Registry.Send(username, handoff)
	}

	details := s.StartDetails()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Nodes.StartOnNode(ctx, node, s.ID, details); err != nil {
			srv.Logger.Errorf("start dispatch for session %s to node %s failed: %v", s.ID, node.Name, err)
		}
	}()
}

func (srv *LobbyServer) handleLeaveGame(conn *presence.Conn) {
	user := requireUser(conn)
	if user == nil {
		return
	}

	s, removed, empty := srv.Directory.Leave(user.Username)
	if s == nil {
		conn.WriteError("You are not in a game")
		return
	}

	conn.Write(map[string]interface{}{"type": "cleargamestate"})

	if empty {
		srv.Registry.BroadcastFiltered(s.VisibleTo, map[string]interface{}{
			"type":   "removegame",
			"gameId": s.ID.String(),
		})
		return
	}

	srv.broadcastSessionEvent("updategame", s)
	if removed {
		srv.sendMemberSnapshots(s)
	}
}

func (srv *LobbyServer) handleInvite(conn *presence.Conn, packet map[string]interface{}) {
	user := requireUser(conn)
	if user == nil {
		return
	}

	s, ok := srv.Directory.GetByUser(user.Username)
	if !ok {
		conn.WriteError("You are not in a game")
		return
	}

	target := stringField(packet, "username")
	if target == "" {
		conn.WriteError("No user named")
		return
	}

	if err := s.Invite(user.Username, target); err != nil {
		conn.WriteError(sessionErrorMessage(err))
		return
	}

	srv.Registry.Send(target, map[string]interface{}{
		"type":   "invite",
		"gameId": s.ID.String(),
		"from":   user.Username,
		"name":   s.Name,
	})
}

// broadcastSessionEvent pushes a session's public summary to every viewer
// the session is visible to.
func (srv *LobbyServer) broadcastSessionEvent(event string, s *session.Session) {
	summary := s.Summary()
	srv.Registry.BroadcastFiltered(s.VisibleTo, map[string]interface{}{
		"type": event,
		"game": summary,
	})
}

// sendMemberSnapshots delivers each roster member their own redacted view.
func (srv *LobbyServer) sendMemberSnapshots(s *session.Session) {
	for _, username := range s.Members() {
		srv.Registry.Send(username, s.Snapshot(username))
	}
}

// handoffPayload is what a client needs to attach to its game's worker node.
func handoffPayload(node *nodes.Node, gameID uuid.UUID) map[string]interface{} {
	return map[string]interface{}{
		"type":   "handoff",
		"url":    node.Addr,
		"name":   node.Name,
		"gameId": gameID.String(),
	}
}

// sessionErrorMessage maps session-layer errors to client-facing text.
func sessionErrorMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrAlreadyInSession):
		return "You already have an active game"
	case errors.Is(err, session.ErrAlreadyJoined):
		return "You are already in that game"
	case errors.Is(err, session.ErrSessionFull):
		return "That game is full"
	case errors.Is(err, session.ErrSessionStarted):
		return "That game has already started"
	case errors.Is(err, session.ErrNotOwner):
		return "Only the game owner can do that"
	case errors.Is(err, session.ErrPlayersNotReady):
		return "Every player needs a valid deck before starting"
	case errors.Is(err, session.ErrBadPassword):
		return "Incorrect password"
	case errors.Is(err, session.ErrNotInSession):
		return "You are not in a game"
	case errors.Is(err, session.ErrSessionNotFound):
		return "Game not found"
	default:
		return "Something went wrong, try again"
	}
}

// stringField pulls a string out of a decoded packet, empty when absent.
func stringField(packet map[string]interface{}, key string) string {
	v, _ := packet[key].(string)
	return v
}
