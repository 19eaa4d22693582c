package handlers

import (
	"encoding/json"
	"net/http"
)

// ListGamesHandler returns the sessions visible to the caller. Anonymous
// callers see public and password-protected listings only.
func (srv *LobbyServer) ListGamesHandler(w http.ResponseWriter, r *http.Request) {
	user, err := authedUser(r)
	if err != nil {
		user = nil
	}

	games := make([]map[string]interface{}, 0)
	for _, s := range srv.Directory.Sessions() {
		if !s.VisibleTo(user) {
			continue
		}
		games = append(games, s.Summary())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"games": games})
}

// ListNodesHandler is an operator endpoint: current worker fleet plus any
// games whose start dispatch was never acknowledged.
func (srv *LobbyServer) ListNodesHandler(w http.ResponseWriter, r *http.Request) {
	unacked := make(map[string]string)
	for gameID, nodeName := range srv.Nodes.Unacknowledged() {
		unacked[gameID.String()] = nodeName
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"nodes":          srv.Nodes.Snapshot(),
		"unacknowledged": unacked,
	})
}
