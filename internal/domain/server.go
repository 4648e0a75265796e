package domain

import "time"

// Server represents a game server whose kill logs are ingested. Key is the
// stable logical identifier from configuration; ID is the database rowid.
type Server struct {
	ID        int64     `json:"id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	BasePath  string    `json:"base_path,omitempty"`
	LegacyID  string    `json:"legacy_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Event types for WebSocket notifications
const (
	EventKill       = "kill"
	EventSuicide    = "suicide"
	EventRunStarted = "run_started"
	EventRunDone    = "run_done"
)

// FeedEvent is a real-time event for WebSocket broadcast.
type FeedEvent struct {
	Type      string      `json:"event"`
	ServerID  int64       `json:"server_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// KillFeedEntry is the WebSocket payload for a newly persisted event.
type KillFeedEntry struct {
	Killer   string `json:"killer"`
	Victim   string `json:"victim"`
	Weapon   string `json:"weapon"`
	Distance int    `json:"distance,omitempty"`
	Suicide  bool   `json:"suicide,omitempty"`
}
