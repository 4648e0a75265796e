package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/towertools/killfeed/internal/domain"
	_ "modernc.org/sqlite"
)

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string.
// The Z suffix ensures the Go sqlite driver parses it back as UTC, and
// lexicographic order matches chronological order.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

func parseStoredTimestamp(s string) time.Time {
	t, _ := time.Parse("2006-01-02T15:04:05Z", s)
	return t
}

//go:embed schema.sql
var schema string

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable foreign keys, WAL mode for better performance, and busy timeout for concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	// Create tables
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Server methods ---

// UpsertServer creates or updates a server keyed by its logical key
func (s *Store) UpsertServer(ctx context.Context, srv *domain.Server) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (key, name, host, port, base_path, legacy_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			name = excluded.name,
			host = excluded.host,
			port = excluded.port,
			base_path = excluded.base_path,
			legacy_id = excluded.legacy_id
	`, srv.Key, srv.Name, srv.Host, srv.Port, srv.BasePath, srv.LegacyID)
	if err != nil {
		return err
	}

	// Always query for the ID (LastInsertId unreliable with ON CONFLICT)
	return s.db.QueryRowContext(ctx, "SELECT id FROM servers WHERE key = ?", srv.Key).Scan(&srv.ID)
}

// GetServers returns all servers
func (s *Store) GetServers(ctx context.Context) ([]domain.Server, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, name, host, port, base_path, legacy_id, created_at FROM servers ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []domain.Server
	for rows.Next() {
		var srv domain.Server
		if err := rows.Scan(&srv.ID, &srv.Key, &srv.Name, &srv.Host, &srv.Port, &srv.BasePath, &srv.LegacyID, &srv.CreatedAt); err != nil {
			return nil, err
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

// GetServerByID returns a server by database ID
func (s *Store) GetServerByID(ctx context.Context, id int64) (*domain.Server, error) {
	var srv domain.Server
	err := s.db.QueryRowContext(ctx, `
		SELECT id, key, name, host, port, base_path, legacy_id, created_at FROM servers WHERE id = ?
	`, id).Scan(&srv.ID, &srv.Key, &srv.Name, &srv.Host, &srv.Port, &srv.BasePath, &srv.LegacyID, &srv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &srv, nil
}

// --- Event persistence ---

// PersistBatch upserts events keyed by natural key and applies incremental
// aggregate updates for each newly inserted event, all in one transaction.
// Re-running the same batch is a no-op: duplicates are ignored row by row,
// so a partially duplicated batch still lands its new rows.
func (s *Store) PersistBatch(ctx context.Context, events []domain.KillEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for i := range events {
		e := &events[i]
		fresh, err := s.insertEvent(ctx, tx, e)
		if err != nil {
			return inserted, fmt.Errorf("inserting event %s: %w", e.NaturalKey(), err)
		}
		if !fresh {
			continue
		}
		if err := s.applyEvent(ctx, tx, e); err != nil {
			return inserted, fmt.Errorf("aggregating event %s: %w", e.NaturalKey(), err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing batch: %w", err)
	}
	return inserted, nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, e *domain.KillEvent) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO kill_events
			(server_id, occurred_at, kind, killer_name, killer_id, killer_ref,
			 victim_name, victim_id, victim_ref, weapon, distance, platform,
			 source_file, ts_unparsed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ServerID, formatTimestamp(e.OccurredAt), e.Kind,
		e.KillerName, e.KillerID, e.KillerRef(),
		e.VictimName, e.VictimID, e.VictimRef(),
		e.Weapon, e.Distance, e.Platform, e.SourceFile, e.TimestampUnparsed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// applyEvent applies one event's incremental aggregate updates. Only
// associative, commutative accumulation (counts, timestamp min/max) so a
// full rebuild over the same events reproduces identical counters.
func (s *Store) applyEvent(ctx context.Context, tx *sql.Tx, e *domain.KillEvent) error {
	ts := formatTimestamp(e.OccurredAt)

	if e.IsSuicide() {
		// A suicide counts one suicide and one death for the player, no
		// rivalry involvement.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO player_stats (server_id, player_ref, name, deaths, suicides)
			VALUES (?, ?, ?, 1, 1)
			ON CONFLICT(server_id, player_ref) DO UPDATE SET
				deaths = deaths + 1,
				suicides = suicides + 1,
				name = excluded.name
		`, e.ServerID, e.KillerRef(), e.KillerName)
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO player_stats (server_id, player_ref, name, kills)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(server_id, player_ref) DO UPDATE SET
			kills = kills + 1,
			name = excluded.name
	`, e.ServerID, e.KillerRef(), e.KillerName); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO player_stats (server_id, player_ref, name, deaths)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(server_id, player_ref) DO UPDATE SET
			deaths = deaths + 1,
			name = excluded.name
	`, e.ServerID, e.VictimRef(), e.VictimName); err != nil {
		return err
	}

	lo, hi, swapped := domain.NormalizePair(e.KillerRef(), e.VictimRef())
	loName, hiName := e.KillerName, e.VictimName
	loKill, hiKill := 1, 0
	if swapped {
		loName, hiName = e.VictimName, e.KillerName
		loKill, hiKill = 0, 1
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO rivalries
			(server_id, lo_ref, hi_ref, lo_name, hi_name, lo_kills, hi_kills,
			 first_seen, last_seen, last_weapon, last_file)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id, lo_ref, hi_ref) DO UPDATE SET
			lo_kills = lo_kills + excluded.lo_kills,
			hi_kills = hi_kills + excluded.hi_kills,
			first_seen = MIN(first_seen, excluded.first_seen),
			last_seen = MAX(last_seen, excluded.last_seen),
			last_weapon = CASE WHEN excluded.last_seen >= last_seen THEN excluded.last_weapon ELSE last_weapon END,
			last_file = CASE WHEN excluded.last_seen >= last_seen THEN excluded.last_file ELSE last_file END
	`, e.ServerID, lo, hi, loName, hiName, loKill, hiKill, ts, ts, e.Weapon, e.SourceFile)
	return err
}

// RecomputeNemesisPrey rederives nemesis/prey designations for every player
// on a server. minKills is the minimum kill count before a nemesis or prey
// is assigned. Deterministic: ties break toward the lexicographically
// smaller opponent.
func (s *Store) RecomputeNemesisPrey(ctx context.Context, serverID int64, minKills int) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT killer_ref, MAX(killer_name), victim_ref, MAX(victim_name), COUNT(*)
		FROM kill_events
		WHERE server_id = ? AND kind = 'kill'
		GROUP BY killer_ref, victim_ref
	`, serverID)
	if err != nil {
		return err
	}
	defer rows.Close()

	type edge struct {
		ref   string
		name  string
		kills int64
	}
	// prey[p] = opponent p has killed most; nemesis[p] = opponent who has
	// killed p most.
	prey := make(map[string]edge)
	nemesis := make(map[string]edge)

	better := func(current edge, candidate edge) bool {
		if candidate.kills != current.kills {
			return candidate.kills > current.kills
		}
		return candidate.ref < current.ref
	}

	for rows.Next() {
		var killerRef, killerName, victimRef, victimName string
		var count int64
		if err := rows.Scan(&killerRef, &killerName, &victimRef, &victimName, &count); err != nil {
			return err
		}
		if count < int64(minKills) {
			continue
		}
		if cur, ok := prey[killerRef]; !ok || better(cur, edge{victimRef, victimName, count}) {
			prey[killerRef] = edge{victimRef, victimName, count}
		}
		if cur, ok := nemesis[victimRef]; !ok || better(cur, edge{killerRef, killerName, count}) {
			nemesis[victimRef] = edge{killerRef, killerName, count}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE player_stats SET
			nemesis_ref = '', nemesis_name = '', nemesis_kills = 0,
			prey_ref = '', prey_name = '', prey_kills = 0
		WHERE server_id = ?
	`, serverID); err != nil {
		return err
	}

	for ref, e := range prey {
		if _, err := tx.ExecContext(ctx, `
			UPDATE player_stats SET prey_ref = ?, prey_name = ?, prey_kills = ?
			WHERE server_id = ? AND player_ref = ?
		`, e.ref, e.name, e.kills, serverID, ref); err != nil {
			return err
		}
	}
	for ref, e := range nemesis {
		if _, err := tx.ExecContext(ctx, `
			UPDATE player_stats SET nemesis_ref = ?, nemesis_name = ?, nemesis_kills = ?
			WHERE server_id = ? AND player_ref = ?
		`, e.ref, e.name, e.kills, serverID, ref); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RebuildAggregates recomputes player and rivalry aggregates for a server
// from the persisted events. This is the canonical source of truth after a
// historical pass: it clears the aggregate tables and replays every stored
// event through the same accumulation used incrementally, so both paths
// yield identical counters.
func (s *Store) RebuildAggregates(ctx context.Context, serverID int64, minKills int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM player_stats WHERE server_id = ?`, serverID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rivalries WHERE server_id = ?`, serverID); err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT occurred_at, kind, killer_name, killer_id, victim_name, victim_id,
		       weapon, distance, platform, source_file
		FROM kill_events WHERE server_id = ?
		ORDER BY occurred_at, id
	`, serverID)
	if err != nil {
		return err
	}

	var events []domain.KillEvent
	for rows.Next() {
		var e domain.KillEvent
		var occurredAt string
		e.ServerID = serverID
		if err := rows.Scan(&occurredAt, &e.Kind, &e.KillerName, &e.KillerID,
			&e.VictimName, &e.VictimID, &e.Weapon, &e.Distance, &e.Platform, &e.SourceFile); err != nil {
			rows.Close()
			return err
		}
		e.OccurredAt = parseStoredTimestamp(occurredAt)
		events = append(events, e)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for i := range events {
		if err := s.applyEvent(ctx, tx, &events[i]); err != nil {
			return fmt.Errorf("replaying event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rebuild: %w", err)
	}

	return s.RecomputeNemesisPrey(ctx, serverID, minKills)
}

// ResetServerData deletes all persisted events, aggregates and the cursor
// for a server. Destructive: only the historical reprocess path calls this,
// and callers must log it explicitly.
func (s *Store) ResetServerData(ctx context.Context, serverID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM kill_events WHERE server_id = ?`,
		`DELETE FROM player_stats WHERE server_id = ?`,
		`DELETE FROM rivalries WHERE server_id = ?`,
		`DELETE FROM cursors WHERE server_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, serverID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// EventCount returns the number of persisted events for a server
func (s *Store) EventCount(ctx context.Context, serverID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kill_events WHERE server_id = ?`, serverID).Scan(&n)
	return n, err
}

// --- Cursor methods ---

// Cursor returns the processing watermark for a server, or nil if the server
// has never completed an incremental run.
func (s *Store) Cursor(ctx context.Context, serverID int64) (*domain.Cursor, error) {
	var c domain.Cursor
	var processedThrough, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT server_id, processed_through, updated_at FROM cursors WHERE server_id = ?
	`, serverID).Scan(&c.ServerID, &processedThrough, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.ProcessedThrough = parseStoredTimestamp(processedThrough)
	c.UpdatedAt = parseStoredTimestamp(updatedAt)
	return &c, nil
}

// AdvanceCursor moves the watermark forward. Moves backward are silently
// ignored: the cursor is monotonic except via ResetServerData.
func (s *Store) AdvanceCursor(ctx context.Context, serverID int64, through time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (server_id, processed_through, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(server_id) DO UPDATE SET
			processed_through = excluded.processed_through,
			updated_at = excluded.updated_at
		WHERE excluded.processed_through > cursors.processed_through
	`, serverID, formatTimestamp(through), formatTimestamp(time.Now()))
	return err
}
