package domain

import (
	"fmt"
	"strings"
	"time"
)

// Event kinds
const (
	KindKill    = "kill"
	KindSuicide = "suicide"
)

// Invalid identifier tokens sometimes emitted by the game server in place of
// a real player ID or name.
var invalidTokens = map[string]struct{}{
	"":          {},
	"null":      {},
	"none":      {},
	"undefined": {},
}

// ValidRef reports whether s is a usable player identifier.
func ValidRef(s string) bool {
	_, bad := invalidTokens[strings.ToLower(strings.TrimSpace(s))]
	return !bad
}

// KillEvent is a single row from a kill log, normalized. Kind distinguishes
// kills from suicides; for suicides the victim fields equal the killer fields.
type KillEvent struct {
	ServerID   int64     `json:"server_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Kind       string    `json:"kind"`

	KillerName string `json:"killer_name"`
	KillerID   string `json:"killer_id,omitempty"`
	VictimName string `json:"victim_name"`
	VictimID   string `json:"victim_id,omitempty"`
	Weapon     string `json:"weapon"`
	Distance   int    `json:"distance,omitempty"`
	Platform   string `json:"platform,omitempty"`

	SourceFile string `json:"source_file,omitempty"`

	// TimestampUnparsed marks rows whose timestamp matched no known format
	// and was substituted with a fallback, so consumers can audit them.
	TimestampUnparsed bool `json:"timestamp_unparsed,omitempty"`
}

// KillerRef returns the killer's stable reference: the ID when valid, else
// the name, else empty when neither is usable.
func (e *KillEvent) KillerRef() string {
	return refOf(e.KillerID, e.KillerName)
}

// VictimRef returns the victim's stable reference: the ID when valid, else
// the name, else empty when neither is usable.
func (e *KillEvent) VictimRef() string {
	return refOf(e.VictimID, e.VictimName)
}

func refOf(id, name string) string {
	if ValidRef(id) {
		return strings.TrimSpace(id)
	}
	if ValidRef(name) {
		return strings.TrimSpace(name)
	}
	return ""
}

// NaturalKey is the deduplication key: persisting the same event twice must
// be a no-op on the second pass.
func (e *KillEvent) NaturalKey() string {
	return fmt.Sprintf("%d|%s|%s|%s|%s",
		e.ServerID, e.OccurredAt.UTC().Format(time.RFC3339), e.KillerRef(), e.VictimRef(), e.Weapon)
}

// IsSuicide reports whether the event is classified as a suicide.
func (e *KillEvent) IsSuicide() bool {
	return e.Kind == KindSuicide
}
