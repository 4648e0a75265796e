package domain

import "time"

// PlayerStats holds per-server aggregated counters for one player.
// Nemesis is the opponent who has killed this player most, Prey the opponent
// this player has killed most; both only set above the configured minimum
// kill threshold.
type PlayerStats struct {
	ServerID  int64  `json:"server_id"`
	PlayerRef string `json:"player_ref"`
	Name      string `json:"name"`

	Kills    int64 `json:"kills"`
	Deaths   int64 `json:"deaths"`
	Suicides int64 `json:"suicides"`

	NemesisRef   string `json:"nemesis_ref,omitempty"`
	NemesisName  string `json:"nemesis_name,omitempty"`
	NemesisKills int64  `json:"nemesis_kills,omitempty"`
	PreyRef      string `json:"prey_ref,omitempty"`
	PreyName     string `json:"prey_name,omitempty"`
	PreyKills    int64  `json:"prey_kills,omitempty"`
}

// KDRatio returns kills per death, with deaths floored at 1.
func (p *PlayerStats) KDRatio() float64 {
	deaths := p.Deaths
	if deaths == 0 {
		deaths = 1
	}
	return float64(p.Kills) / float64(deaths)
}

// Rivalry aggregates kills between an unordered pair of players on one
// server. The pair is normalized so that LoRef < HiRef lexicographically.
type Rivalry struct {
	ServerID int64  `json:"server_id"`
	LoRef    string `json:"lo_ref"`
	LoName   string `json:"lo_name"`
	HiRef    string `json:"hi_ref"`
	HiName   string `json:"hi_name"`

	LoKills int64 `json:"lo_kills"` // kills by the Lo side against the Hi side
	HiKills int64 `json:"hi_kills"`

	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	LastWeapon string    `json:"last_weapon,omitempty"`
	LastFile   string    `json:"last_file,omitempty"`
}

// Total returns the combined kill count of both sides.
func (r *Rivalry) Total() int64 {
	return r.LoKills + r.HiKills
}

// NormalizePair orders two refs so (lo, hi) is stable regardless of which
// side appears first in an event.
func NormalizePair(a, b string) (lo, hi string, swapped bool) {
	if a <= b {
		return a, b, false
	}
	return b, a, true
}

// Cursor is the per-server processing watermark: events at or before
// ProcessedThrough are considered already ingested.
type Cursor struct {
	ServerID         int64     `json:"server_id"`
	ProcessedThrough time.Time `json:"processed_through"`
	UpdatedAt        time.Time `json:"updated_at"`
}
