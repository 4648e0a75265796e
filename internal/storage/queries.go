package storage

import (
	"context"
	"database/sql"

	"github.com/towertools/killfeed/internal/domain"
)

const playerStatsColumns = `
	server_id, player_ref, name, kills, deaths, suicides,
	nemesis_ref, nemesis_name, nemesis_kills,
	prey_ref, prey_name, prey_kills`

func scanPlayerStats(rows *sql.Rows) (domain.PlayerStats, error) {
	var p domain.PlayerStats
	err := rows.Scan(&p.ServerID, &p.PlayerRef, &p.Name, &p.Kills, &p.Deaths, &p.Suicides,
		&p.NemesisRef, &p.NemesisName, &p.NemesisKills,
		&p.PreyRef, &p.PreyName, &p.PreyKills)
	return p, err
}

// TopPlayers returns a server's leaderboard ordered by kills
func (s *Store) TopPlayers(ctx context.Context, serverID int64, limit int) ([]domain.PlayerStats, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+playerStatsColumns+`
		FROM player_stats
		WHERE server_id = ?
		ORDER BY kills DESC, deaths ASC, player_ref ASC
		LIMIT ?
	`, serverID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []domain.PlayerStats
	for rows.Next() {
		p, err := scanPlayerStats(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// PlayerStatsByRef returns one player's stats on a server, or nil if the
// player has no recorded events there.
func (s *Store) PlayerStatsByRef(ctx context.Context, serverID int64, ref string) (*domain.PlayerStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+playerStatsColumns+`
		FROM player_stats WHERE server_id = ? AND player_ref = ?
	`, serverID, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	p, err := scanPlayerStats(rows)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Rivalries returns a server's rivalry pairs ordered by total kills traded
func (s *Store) Rivalries(ctx context.Context, serverID int64, limit int) ([]domain.Rivalry, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT server_id, lo_ref, hi_ref, lo_name, hi_name, lo_kills, hi_kills,
		       first_seen, last_seen, last_weapon, last_file
		FROM rivalries
		WHERE server_id = ?
		ORDER BY lo_kills + hi_kills DESC, lo_ref ASC, hi_ref ASC
		LIMIT ?
	`, serverID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rivalries []domain.Rivalry
	for rows.Next() {
		var r domain.Rivalry
		var firstSeen, lastSeen string
		if err := rows.Scan(&r.ServerID, &r.LoRef, &r.HiRef, &r.LoName, &r.HiName,
			&r.LoKills, &r.HiKills, &firstSeen, &lastSeen, &r.LastWeapon, &r.LastFile); err != nil {
			return nil, err
		}
		r.FirstSeen = parseStoredTimestamp(firstSeen)
		r.LastSeen = parseStoredTimestamp(lastSeen)
		rivalries = append(rivalries, r)
	}
	return rivalries, rows.Err()
}

// RecentEvents returns a server's most recent events, newest first
func (s *Store) RecentEvents(ctx context.Context, serverID int64, limit int) ([]domain.KillEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, kind, killer_name, killer_id, victim_name, victim_id,
		       weapon, distance, platform, source_file, ts_unparsed
		FROM kill_events
		WHERE server_id = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, serverID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.KillEvent
	for rows.Next() {
		var e domain.KillEvent
		var occurredAt string
		e.ServerID = serverID
		if err := rows.Scan(&occurredAt, &e.Kind, &e.KillerName, &e.KillerID,
			&e.VictimName, &e.VictimID, &e.Weapon, &e.Distance, &e.Platform,
			&e.SourceFile, &e.TimestampUnparsed); err != nil {
			return nil, err
		}
		e.OccurredAt = parseStoredTimestamp(occurredAt)
		events = append(events, e)
	}
	return events, rows.Err()
}
