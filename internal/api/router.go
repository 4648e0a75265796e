package api

import (
	"net/http"

	"github.com/towertools/killfeed/internal/auth"
	"github.com/towertools/killfeed/internal/pipeline"
	"github.com/towertools/killfeed/internal/storage"
)

// Router holds the HTTP routes and dependencies
type Router struct {
	mux       *http.ServeMux
	store     *storage.Store
	scheduler *pipeline.Scheduler
	wsHub     *WebSocketHub
	auth      *auth.Service
}

// NewRouter creates a new HTTP router. hub is shared with the pipeline so
// freshly persisted events reach connected clients.
func NewRouter(store *storage.Store, scheduler *pipeline.Scheduler, authService *auth.Service, hub *WebSocketHub) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		store:     store,
		scheduler: scheduler,
		wsHub:     hub,
		auth:      authService,
	}

	// Server and stats routes
	r.mux.HandleFunc("GET /api/servers", r.handleGetServers)
	r.mux.HandleFunc("GET /api/servers/{id}", r.handleGetServer)
	r.mux.HandleFunc("GET /api/servers/{id}/stats", r.handleGetServerStats)
	r.mux.HandleFunc("GET /api/servers/{id}/rivalries", r.handleGetServerRivalries)
	r.mux.HandleFunc("GET /api/servers/{id}/events", r.handleGetServerEvents)
	r.mux.HandleFunc("GET /api/servers/{id}/cursor", r.handleGetServerCursor)
	r.mux.HandleFunc("GET /api/servers/{id}/players/{ref}", r.handleGetPlayerStats)

	// Processing routes (admin only)
	r.mux.HandleFunc("POST /api/servers/{id}/process", r.requireAuth(r.handleProcess))
	r.mux.HandleFunc("POST /api/servers/{id}/process/historical", r.requireAuth(r.handleProcessHistorical))

	// Auth routes
	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)

	// WebSocket killfeed
	r.mux.HandleFunc("GET /ws", r.handleWebSocket)

	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}

// StartWebSocketHub starts broadcasting feed events to WebSocket clients
func (r *Router) StartWebSocketHub() {
	go r.wsHub.Run()
}
