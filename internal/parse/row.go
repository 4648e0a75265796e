package parse

import (
	"strconv"
	"strings"
	"time"

	"github.com/towertools/killfeed/internal/domain"
)

// Canonical row convention:
//
//	timestamp;killer_name;killer_id;victim_name;victim_id;weapon;distance[;platform]
//
// Older archives carry 7 fields (no platform); newer ones 8 or 9 (console
// information). Anything beyond the eighth field is ignored.
const (
	minRowFields       = 3
	canonicalRowFields = 8
)

// RowParser converts delimited rows into events. Fallback is substituted for
// timestamps that match no known format, so unparseable rows are retained and
// flagged instead of dropped.
type RowParser struct {
	Fallback time.Time
}

// ParseRow converts one delimited row into an event. Rows shorter than the
// canonical width are expanded by positional best-guess rather than
// discarded; rows with fewer than three fields carry no assignable meaning
// and return ok=false, as do header lines.
func (p *RowParser) ParseRow(fields []string) (domain.KillEvent, bool) {
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	if isHeaderRow(fields) {
		return domain.KillEvent{}, false
	}
	if countMeaningful(fields) < minRowFields {
		return domain.KillEvent{}, false
	}

	row := expandRow(fields)

	event := domain.KillEvent{
		KillerName: row[1],
		KillerID:   row[2],
		VictimName: row[3],
		VictimID:   row[4],
		Weapon:     row[5],
		Platform:   row[7],
	}

	if dist, err := strconv.Atoi(row[6]); err == nil {
		event.Distance = dist
	}

	if ts, ok := ParseTimestamp(row[0]); ok {
		event.OccurredAt = ts
	} else {
		event.OccurredAt = p.Fallback
		event.TimestampUnparsed = true
	}

	return event, true
}

// expandRow maps short rows onto the canonical eight positions:
//
//	3 fields: killer, victim, weapon
//	4 fields: timestamp, killer, victim, weapon
//	5 fields: timestamp, killer, killer_id, victim, weapon
//	6 fields: timestamp, killer, killer_id, victim, victim_id, weapon
func expandRow(fields []string) []string {
	row := make([]string, canonicalRowFields)
	switch len(fields) {
	case 3:
		row[1], row[3], row[5] = fields[0], fields[1], fields[2]
		row[6] = "0"
	case 4:
		row[0], row[1], row[3], row[5] = fields[0], fields[1], fields[2], fields[3]
		row[6] = "0"
	case 5:
		row[0], row[1], row[2], row[3], row[5] = fields[0], fields[1], fields[2], fields[3], fields[4]
		row[6] = "0"
	case 6:
		copy(row, fields)
		row[6] = "0"
	default:
		copy(row, fields)
	}
	return row
}

// isHeaderRow detects header lines: a time/date label co-occurring with a
// killer/player label, case-insensitive.
func isHeaderRow(fields []string) bool {
	joined := strings.ToLower(strings.Join(fields, " "))
	hasTime := strings.Contains(joined, "time") || strings.Contains(joined, "date")
	hasActor := strings.Contains(joined, "killer") || strings.Contains(joined, "player")
	return hasTime && hasActor
}

func countMeaningful(fields []string) int {
	n := 0
	for _, f := range fields {
		if f != "" {
			n++
		}
	}
	return n
}

// Stats counts per-file parsing outcomes for run summaries.
type Stats struct {
	Rows               int
	Parsed             int
	HeadersSkipped     int
	ShortRows          int
	Dropped            int
	UnparsedTimestamps int
}

// Warnings returns the number of non-fatal row anomalies.
func (s Stats) Warnings() int {
	return s.ShortRows + s.Dropped + s.UnparsedTimestamps
}

// ParseLog splits sniffed text into rows and returns the classified events.
// Nothing here is fatal: unusable rows are counted and skipped.
func ParseLog(text string, delim byte, fallback time.Time) ([]domain.KillEvent, Stats) {
	parser := &RowParser{Fallback: fallback}

	var events []domain.KillEvent
	var stats Stats

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		stats.Rows++

		fields := strings.Split(line, string(delim))

		if isHeaderRow(fields) {
			stats.HeadersSkipped++
			continue
		}

		event, ok := parser.ParseRow(fields)
		if !ok {
			stats.ShortRows++
			continue
		}

		kind, ok := Classify(&event)
		if !ok {
			stats.Dropped++
			continue
		}
		event.Kind = kind

		if event.TimestampUnparsed {
			stats.UnparsedTimestamps++
		}
		stats.Parsed++
		events = append(events, event)
	}

	return events, stats
}
