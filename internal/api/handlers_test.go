package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/towertools/killfeed/internal/auth"
	"github.com/towertools/killfeed/internal/config"
	"github.com/towertools/killfeed/internal/domain"
	"github.com/towertools/killfeed/internal/pipeline"
	"github.com/towertools/killfeed/internal/remote"
	"github.com/towertools/killfeed/internal/storage"
)

type stubDialer struct{}

func (stubDialer) Get(_ context.Context, _ string, _ remote.Target) (remote.FS, error) {
	return nil, errors.New("no remote in tests")
}

func (stubDialer) Discard(_ string) {}

func newTestRouter(t *testing.T) (*Router, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	hash, err := auth.HashPassword("hunter2secret")
	if err != nil {
		t.Fatalf("hashing: %v", err)
	}
	authService := auth.NewService("test-secret", time.Hour, "admin", hash)

	cfg := config.PipelineConfig{PollInterval: time.Minute, ServerTimeout: time.Minute, PassBudget: time.Minute}
	proc := pipeline.NewProcessor(store, stubDialer{}, cfg, log, nil)
	sched := pipeline.NewScheduler(proc, cfg, nil, log)

	return NewRouter(store, sched, authService, NewWebSocketHub()), store
}

func seedServer(t *testing.T, store *storage.Store) int64 {
	t.Helper()
	srv := &domain.Server{Key: "emerald", Name: "Emerald EU", Host: "79.127.236.1", Port: 2022}
	if err := store.UpsertServer(context.Background(), srv); err != nil {
		t.Fatalf("seeding server: %v", err)
	}

	at := time.Date(2025, 5, 9, 11, 58, 37, 0, time.UTC)
	events := []domain.KillEvent{
		{ServerID: srv.ID, OccurredAt: at, Kind: domain.KindKill,
			KillerName: "PlayerA", KillerID: "123", VictimName: "PlayerB", VictimID: "456", Weapon: "AK47", Distance: 120},
		{ServerID: srv.ID, OccurredAt: at.Add(time.Minute), Kind: domain.KindKill,
			KillerName: "PlayerA", KillerID: "123", VictimName: "PlayerB", VictimID: "456", Weapon: "M4", Distance: 80},
	}
	if _, err := store.PersistBatch(context.Background(), events); err != nil {
		t.Fatalf("seeding events: %v", err)
	}
	return srv.ID
}

func get(t *testing.T, router *Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := get(t, router, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestGetServers(t *testing.T) {
	router, store := newTestRouter(t)
	seedServer(t, store)

	rec := get(t, router, "/api/servers")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var servers []domain.Server
	if err := json.Unmarshal(rec.Body.Bytes(), &servers); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(servers) != 1 || servers[0].Key != "emerald" {
		t.Errorf("servers = %+v", servers)
	}
}

func TestGetServerStats(t *testing.T) {
	router, store := newTestRouter(t)
	id := seedServer(t, store)

	rec := get(t, router, "/api/servers/"+itoa(id)+"/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var players []domain.PlayerStats
	if err := json.Unmarshal(rec.Body.Bytes(), &players); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(players) != 2 {
		t.Fatalf("players = %+v", players)
	}
	if players[0].PlayerRef != "123" || players[0].Kills != 2 {
		t.Errorf("leaderboard order wrong: %+v", players[0])
	}
}

func TestGetServerStatsInvalidID(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := get(t, router, "/api/servers/abc/stats")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestGetPlayerStats(t *testing.T) {
	router, store := newTestRouter(t)
	id := seedServer(t, store)

	rec := get(t, router, "/api/servers/"+itoa(id)+"/players/123")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Stats   domain.PlayerStats `json:"stats"`
		KDRatio float64            `json:"kd_ratio"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body.Stats.Kills != 2 || body.KDRatio != 2 {
		t.Errorf("body = %+v", body)
	}

	rec = get(t, router, "/api/servers/"+itoa(id)+"/players/ghost")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing player status = %d", rec.Code)
	}
}

func TestGetRivalries(t *testing.T) {
	router, store := newTestRouter(t)
	id := seedServer(t, store)

	rec := get(t, router, "/api/servers/"+itoa(id)+"/rivalries")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var rivalries []domain.Rivalry
	if err := json.Unmarshal(rec.Body.Bytes(), &rivalries); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(rivalries) != 1 || rivalries[0].Total() != 2 {
		t.Errorf("rivalries = %+v", rivalries)
	}
}

func TestProcessRequiresAuth(t *testing.T) {
	router, store := newTestRouter(t)
	id := seedServer(t, store)

	req := httptest.NewRequest("POST", "/api/servers/"+itoa(id)+"/process", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestLoginAndAuthorizedProcess(t *testing.T) {
	router, store := newTestRouter(t)
	id := seedServer(t, store)

	body := strings.NewReader(`{"username":"admin","password":"hunter2secret"}`)
	req := httptest.NewRequest("POST", "/api/auth/login", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d", rec.Code)
	}
	var login map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if login["token"] == "" {
		t.Fatal("no token returned")
	}

	// The scheduler has no configured servers, so an authorized request
	// passes the middleware and fails with 404 at lookup.
	req = httptest.NewRequest("POST", "/api/servers/"+itoa(id)+"/process", nil)
	req.Header.Set("Authorization", "Bearer "+login["token"])
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("authorized process status = %d, want 404", rec.Code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	router, _ := newTestRouter(t)

	body := strings.NewReader(`{"username":"admin","password":"wrong"}`)
	req := httptest.NewRequest("POST", "/api/auth/login", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
