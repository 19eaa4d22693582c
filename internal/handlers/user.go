package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oldtown/citadel/internal/auth"
	"github.com/oldtown/citadel/internal/database"
	"github.com/oldtown/citadel/internal/models"
)

// CreateUserHandler registers a new account.
func CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Avatar   string `json:"avatar"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	user := models.User{
		Username: req.Username,
		Password: req.Password,
		Avatar:   req.Avatar,
	}

	if err := database.CreateUser(r.Context(), &user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			http.Error(w, "username already exists", http.StatusConflict)
			return
		}
		http.Error(w, "error creating user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user.Summary())
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// LoginHandler handles user login requests. It expects a JSON payload with
// username and password, and returns a JSON response with an authentication
// token if the login is successful. The token is also sent via the Cookie
// header so the websocket handshake picks it up automatically.
func LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	user, err := database.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		log.Printf("failed to authenticate user: %v", err)
		http.Error(w, "authentication failed", http.StatusForbidden)
		return
	}

	ok, err := auth.ComparePasswordAndHash(req.Password, user.Password)
	if err != nil || !ok {
		http.Error(w, "authentication failed", http.StatusForbidden)
		return
	}

	token, err := auth.CreateJWT(user.Username)
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		MaxAge:   auth.TOKEN_EXPIRE_TIME_SEC,
	})

	resp := loginResponse{Token: token}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to write response", http.StatusInternalServerError)
		return
	}
}

// authedUser resolves the request's cookie token to a stored user.
func authedUser(r *http.Request) (*models.User, error) {
	token := extractCookieToken(r.Header.Get("Cookie"), "auth_token")
	username, err := auth.AuthenticateJWT(token)
	if err != nil {
		return nil, err
	}
	return database.GetUserByUsername(r.Context(), username)
}

// BlockUserHandler adds a user to the caller's block list. The live
// presence record is refreshed too so broadcast filtering changes
// immediately, not on the next reconnect.
func (srv *LobbyServer) BlockUserHandler(w http.ResponseWriter, r *http.Request) {
	user, err := authedUser(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}

	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	target, err := database.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}

	if err := database.AddBlockedUser(r.Context(), user.ID, target.ID); err != nil {
		http.Error(w, "failed to update block list", http.StatusInternalServerError)
		return
	}

	srv.Registry.SetBlockList(user.Username, append(user.BlockList, target.ID))
	w.WriteHeader(http.StatusNoContent)
}

// UnblockUserHandler removes a user from the caller's block list.
func (srv *LobbyServer) UnblockUserHandler(w http.ResponseWriter, r *http.Request) {
	user, err := authedUser(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}

	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	target, err := database.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}

	if err := database.RemoveBlockedUser(r.Context(), user.ID, target.ID); err != nil {
		http.Error(w, "failed to update block list", http.StatusInternalServerError)
		return
	}

	filtered := make([]uuid.UUID, 0, len(user.BlockList))
	for _, id := range user.BlockList {
		if id != target.ID {
			filtered = append(filtered, id)
		}
	}
	srv.Registry.SetBlockList(user.Username, filtered)
	w.WriteHeader(http.StatusNoContent)
}
