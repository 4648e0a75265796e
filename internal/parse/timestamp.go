package parse

import (
	"strconv"
	"time"
)

// Timestamp layouts in priority order. The dotted dash-separated form is the
// convention the game currently writes; the rest cover historical format
// drift observed across log archives. First match wins.
var timestampLayouts = []string{
	"2006.01.02-15.04.05",
	"2006.01.02-15:04:05",
	"2006.01.02 15.04.05",
	"2006.01.02 15:04:05",
	"2006-01-02-15.04.05",
	"2006-01-02 15:04:05",
	"2006-01-02-15:04:05",
	"2006-01-02 15.04.05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02 15:04:05",
	"2006/01/02-15:04:05",
	"01/02/2006 15:04:05",
	"02.01.2006-15.04.05",
	"02.01.2006 15:04:05",
	"02-01-2006 15:04:05",
	"02/01/2006 15:04:05",
	"20060102-150405",
	"20060102_150405",
	"20060102150405",
}

// ParseTimestamp parses a log timestamp against the known layouts, returning
// the first match as a UTC instant. All-digit ten-character values are
// treated as Unix seconds.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}

	if len(s) == 10 && allDigits(s) {
		secs, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return time.Unix(secs, 0).UTC(), true
		}
	}

	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders a time in the primary log convention. Inverse of
// ParseTimestamp for the primary layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayouts[0])
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
