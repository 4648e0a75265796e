package parse

import "github.com/towertools/killfeed/internal/domain"

// Classify labels an event as a kill or a suicide. A row is a suicide when
// the killer and victim resolve to the same reference (ID when valid, name
// otherwise). Events where either participant has no usable identifier at
// all are dropped: ok=false, counted by the caller as a non-fatal warning.
func Classify(event *domain.KillEvent) (string, bool) {
	killer := event.KillerRef()
	victim := event.VictimRef()

	if killer == "" || victim == "" {
		return "", false
	}

	if killer == victim {
		return domain.KindSuicide, true
	}
	return domain.KindKill, true
}
