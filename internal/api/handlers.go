package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/towertools/killfeed/internal/auth"
	"github.com/towertools/killfeed/internal/domain"
	"github.com/towertools/killfeed/internal/pipeline"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parseID parses an ID from the URL path
func parseID(req *http.Request, param string) (int64, error) {
	idStr := req.PathValue(param)
	return strconv.ParseInt(idStr, 10, 64)
}

// parseLimit reads a limit query parameter with default and cap
func parseLimit(req *http.Request, def, max int) int {
	limit := def
	if s := req.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

// handleHealth returns service health
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"processing": r.scheduler.Busy(),
		"ws_clients": r.wsHub.ClientCount(),
	})
}

// handleGetServers returns all registered servers
func (r *Router) handleGetServers(w http.ResponseWriter, req *http.Request) {
	servers, err := r.store.GetServers(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if servers == nil {
		servers = []domain.Server{}
	}
	writeJSON(w, http.StatusOK, servers)
}

// handleGetServer returns a single server
func (r *Router) handleGetServer(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return
	}

	server, err := r.store.GetServerByID(req.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "server not found")
		return
	}
	writeJSON(w, http.StatusOK, server)
}

// handleGetServerStats returns the server's leaderboard
func (r *Router) handleGetServerStats(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return
	}
	limit := parseLimit(req, 25, 100)

	players, err := r.store.TopPlayers(req.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if players == nil {
		players = []domain.PlayerStats{}
	}
	writeJSON(w, http.StatusOK, players)
}

// handleGetServerRivalries returns the server's top rivalries
func (r *Router) handleGetServerRivalries(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return
	}
	limit := parseLimit(req, 25, 100)

	rivalries, err := r.store.Rivalries(req.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rivalries == nil {
		rivalries = []domain.Rivalry{}
	}
	writeJSON(w, http.StatusOK, rivalries)
}

// handleGetServerEvents returns the server's most recent events
func (r *Router) handleGetServerEvents(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return
	}
	limit := parseLimit(req, 50, 200)

	events, err := r.store.RecentEvents(req.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []domain.KillEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleGetServerCursor returns the server's processing watermark
func (r *Router) handleGetServerCursor(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return
	}

	cursor, err := r.store.Cursor(req.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cursor == nil {
		writeError(w, http.StatusNotFound, "no cursor for server")
		return
	}
	writeJSON(w, http.StatusOK, cursor)
}

// handleGetPlayerStats returns one player's stats on a server
func (r *Router) handleGetPlayerStats(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return
	}
	ref := req.PathValue("ref")

	stats, err := r.store.PlayerStatsByRef(req.Context(), id, ref)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stats == nil {
		writeError(w, http.StatusNotFound, "player not found")
		return
	}

	response := map[string]interface{}{
		"stats":    stats,
		"kd_ratio": stats.KDRatio(),
	}
	writeJSON(w, http.StatusOK, response)
}

// handleProcess triggers an on-demand incremental run for a server
func (r *Router) handleProcess(w http.ResponseWriter, req *http.Request) {
	r.triggerRun(w, req, pipeline.ModeIncremental)
}

// handleProcessHistorical triggers a destructive full reprocess for a server
func (r *Router) handleProcessHistorical(w http.ResponseWriter, req *http.Request) {
	r.triggerRun(w, req, pipeline.ModeHistorical)
}

func (r *Router) triggerRun(w http.ResponseWriter, req *http.Request, mode string) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return
	}

	server, err := r.store.GetServerByID(req.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "server not found")
		return
	}

	var sum *pipeline.Summary
	if mode == pipeline.ModeHistorical {
		var body struct {
			LookbackDays int `json:"lookback_days"`
		}
		if req.Body != nil {
			json.NewDecoder(req.Body).Decode(&body)
		}
		sum, err = r.scheduler.RunHistorical(req.Context(), server.Key, body.LookbackDays)
	} else {
		sum, err = r.scheduler.RunIncremental(req.Context(), server.Key)
	}

	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, pipeline.ErrUnknownServer):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		// Partial progress is still reported alongside the failure.
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":   err.Error(),
			"summary": sum,
		})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleLogin authenticates an operator and returns a JWT
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := r.auth.Login(body.Username, body.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// requireAuth is middleware that validates JWT before calling the handler
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.getAuthClaims(req) == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, req)
	}
}

// getAuthClaims extracts and validates JWT from Authorization header
func (r *Router) getAuthClaims(req *http.Request) *auth.Claims {
	authHeader := req.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil
	}

	claims, err := r.auth.ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		return nil
	}
	return claims
}
