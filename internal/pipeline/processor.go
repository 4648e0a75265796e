package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/towertools/killfeed/internal/config"
	"github.com/towertools/killfeed/internal/discover"
	"github.com/towertools/killfeed/internal/domain"
	"github.com/towertools/killfeed/internal/parse"
	"github.com/towertools/killfeed/internal/remote"
	"github.com/towertools/killfeed/internal/storage"
)

// Processing modes. Incremental resumes from the server's cursor;
// historical wipes the server's data and reprocesses from scratch.
const (
	ModeIncremental = "incremental"
	ModeHistorical  = "historical"
)

// Notifier receives feed events for real-time broadcast. May be nil.
type Notifier func(domain.FeedEvent)

// Dialer yields a remote filesystem for a server. *remote.Pool satisfies it.
type Dialer interface {
	Get(ctx context.Context, serverID string, target remote.Target) (remote.FS, error)
	Discard(serverID string)
}

// Processor runs one ingestion pass for one game server: discover remote
// kill logs, parse them and persist the events.
type Processor struct {
	store  *storage.Store
	pool   Dialer
	cfg    config.PipelineConfig
	log    *logrus.Logger
	notify Notifier
}

// NewProcessor creates a Processor. notify may be nil.
func NewProcessor(store *storage.Store, pool Dialer, cfg config.PipelineConfig, log *logrus.Logger, notify Notifier) *Processor {
	return &Processor{store: store, pool: pool, cfg: cfg, log: log, notify: notify}
}

// Summary reports the outcome of one processing run.
type Summary struct {
	RunID          string    `json:"run_id"`
	ServerKey      string    `json:"server_key"`
	ServerID       int64     `json:"server_id"`
	Mode           string    `json:"mode"`
	FilesFound     int       `json:"files_found"`
	FilesProcessed int       `json:"files_processed"`
	FilesSkipped   int       `json:"files_skipped"`
	EventsParsed   int       `json:"events_parsed"`
	EventsInserted int       `json:"events_inserted"`
	Warnings       int       `json:"warnings"`
	Started        time.Time `json:"started"`
	Finished       time.Time `json:"finished"`
}

// Run executes one processing pass for a server. lookbackDays only applies
// to historical mode; zero means the configured default.
func (p *Processor) Run(ctx context.Context, srv config.GameServer, mode string, lookbackDays int) (*Summary, error) {
	sum := &Summary{
		RunID:     uuid.New().String(),
		ServerKey: srv.ID,
		Mode:      mode,
		Started:   time.Now().UTC(),
	}
	log := p.log.WithFields(logrus.Fields{
		"run_id": sum.RunID,
		"server": srv.ID,
		"mode":   mode,
	})

	record := &domain.Server{
		Key:      srv.ID,
		Name:     srv.Name,
		Host:     srv.Host,
		Port:     srv.SFTPPort(),
		BasePath: srv.BasePath,
		LegacyID: srv.LegacyID,
	}
	if err := p.store.UpsertServer(ctx, record); err != nil {
		return nil, fmt.Errorf("registering server %s: %w", srv.ID, err)
	}
	sum.ServerID = record.ID

	p.emit(domain.FeedEvent{Type: domain.EventRunStarted, ServerID: record.ID, Timestamp: sum.Started, Data: sum.RunID})
	defer func() {
		sum.Finished = time.Now().UTC()
		p.emit(domain.FeedEvent{Type: domain.EventRunDone, ServerID: record.ID, Timestamp: sum.Finished, Data: sum})
	}()

	target := remote.Target{
		Host:     srv.Host,
		Port:     srv.SFTPPort(),
		Username: srv.Username,
		Password: srv.Password,
	}
	client, err := p.pool.Get(ctx, srv.ID, target)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", srv.Host, err)
	}

	dirs := discover.CandidateDirs(discover.ServerPaths{
		ServerID: srv.ID,
		Host:     srv.Host,
		BasePath: srv.BasePath,
		LegacyID: srv.LegacyID,
	})
	files := discover.Discover(ctx, client, dirs, p.cfg.MaxDepth)
	sum.FilesFound = len(files)
	log.WithField("files", len(files)).Info("Discovery complete")

	// tsFallback substitutes for row timestamps that match no known format:
	// one day before the processing watermark when one exists. Zero means no
	// watermark; processFile then falls back to the file's own time.
	var tsFallback time.Time

	if mode == ModeHistorical {
		if lookbackDays <= 0 {
			lookbackDays = p.cfg.LookbackDays
		}
		log.WithField("lookback_days", lookbackDays).Warn("Historical reprocess: wiping persisted events and aggregates")
		if err := p.store.ResetServerData(ctx, record.ID); err != nil {
			return nil, fmt.Errorf("resetting server data: %w", err)
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -lookbackDays)
		files = filterFiles(files, func(f discover.RemoteFile) bool {
			return !f.TimeKnown || !f.InferredTime.Before(cutoff)
		}, &sum.FilesSkipped)
	} else {
		cursor, err := p.store.Cursor(ctx, record.ID)
		if err != nil {
			return nil, fmt.Errorf("loading cursor: %w", err)
		}
		if cursor != nil {
			tsFallback = cursor.ProcessedThrough.Add(-24 * time.Hour)
			// Files at or before the watermark are already ingested. Files
			// without an inferrable timestamp are always retried: persistence
			// is idempotent, so the worst case is wasted parsing.
			files = filterFiles(files, func(f discover.RemoteFile) bool {
				return !f.TimeKnown || f.InferredTime.After(cursor.ProcessedThrough)
			}, &sum.FilesSkipped)
		}
	}

	// Once any file fails the cursor is held so the failed file is retried
	// next pass. Later files are still processed; persistence is idempotent.
	holdCursor := false
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if err := p.processFile(ctx, log, client, record.ID, mode, f, tsFallback, sum); err != nil {
			log.WithError(err).WithField("file", f.Path).Warn("Skipping file")
			sum.FilesSkipped++
			holdCursor = true
			// A read failure discards the pooled connection; re-acquire so
			// the remaining files do not all fail on a dead client.
			if client, err = p.pool.Get(ctx, srv.ID, target); err != nil {
				return sum, fmt.Errorf("reconnecting to %s: %w", srv.Host, err)
			}
			continue
		}
		if !holdCursor {
			if err := p.advance(ctx, record.ID, f); err != nil {
				return sum, err
			}
		}
	}

	if mode == ModeHistorical {
		if err := p.store.RebuildAggregates(ctx, record.ID, p.cfg.NemesisThreshold); err != nil {
			return sum, fmt.Errorf("rebuilding aggregates: %w", err)
		}
	} else if sum.EventsInserted > 0 {
		if err := p.store.RecomputeNemesisPrey(ctx, record.ID, p.cfg.NemesisThreshold); err != nil {
			return sum, fmt.Errorf("recomputing nemesis/prey: %w", err)
		}
	}

	log.WithFields(logrus.Fields{
		"processed": sum.FilesProcessed,
		"skipped":   sum.FilesSkipped,
		"parsed":    sum.EventsParsed,
		"inserted":  sum.EventsInserted,
		"warnings":  sum.Warnings,
	}).Info("Run complete")
	return sum, nil
}

func (p *Processor) processFile(ctx context.Context, log *logrus.Entry, client remote.FS, serverID int64, mode string, f discover.RemoteFile, tsFallback time.Time, sum *Summary) error {
	raw, err := client.Read(ctx, f.Path)
	if err != nil {
		p.pool.Discard(sum.ServerKey)
		return fmt.Errorf("reading: %w", err)
	}

	sniff, err := parse.SniffContent(raw, p.cfg.SemicolonBias)
	if err != nil {
		return fmt.Errorf("sniffing: %w", err)
	}

	if sniff.Empty {
		// An empty log is a processed log; the caller moves the cursor past
		// it so it is not re-fetched every pass.
		sum.FilesProcessed++
		return nil
	}

	fallback := tsFallback
	if fallback.IsZero() {
		fallback = f.InferredTime
		if !f.TimeKnown {
			fallback = time.Now().UTC()
		}
	}
	events, stats := parse.ParseLog(sniff.Text, sniff.Delimiter, fallback)
	for i := range events {
		events[i].ServerID = serverID
		events[i].SourceFile = f.Path
	}

	inserted, err := p.store.PersistBatch(ctx, events)
	if err != nil {
		return fmt.Errorf("persisting: %w", err)
	}

	sum.FilesProcessed++
	sum.EventsParsed += stats.Parsed
	sum.EventsInserted += inserted
	sum.Warnings += stats.Warnings()

	if stats.Warnings() > 0 {
		log.WithFields(logrus.Fields{
			"file":       f.Path,
			"rows":       stats.Rows,
			"short_rows": stats.ShortRows,
			"dropped":    stats.Dropped,
			"bad_time":   stats.UnparsedTimestamps,
			"headers":    stats.HeadersSkipped,
		}).Debug("Row anomalies")
	}

	if mode == ModeIncremental && inserted > 0 {
		p.emitKills(serverID, events)
	}

	return nil
}

// advance moves the server cursor past a fully processed file. Files whose
// name carries no timestamp leave the cursor where it is.
func (p *Processor) advance(ctx context.Context, serverID int64, f discover.RemoteFile) error {
	if !f.TimeKnown {
		return nil
	}
	if err := p.store.AdvanceCursor(ctx, serverID, f.InferredTime); err != nil {
		return fmt.Errorf("advancing cursor: %w", err)
	}
	return nil
}

func (p *Processor) emit(ev domain.FeedEvent) {
	if p.notify != nil {
		p.notify(ev)
	}
}

func (p *Processor) emitKills(serverID int64, events []domain.KillEvent) {
	for i := range events {
		e := &events[i]
		typ := domain.EventKill
		if e.IsSuicide() {
			typ = domain.EventSuicide
		}
		p.emit(domain.FeedEvent{
			Type:      typ,
			ServerID:  serverID,
			Timestamp: e.OccurredAt,
			Data: domain.KillFeedEntry{
				Killer:   e.KillerName,
				Victim:   e.VictimName,
				Weapon:   e.Weapon,
				Distance: e.Distance,
				Suicide:  e.IsSuicide(),
			},
		})
	}
}

func filterFiles(files []discover.RemoteFile, keep func(discover.RemoteFile) bool, skipped *int) []discover.RemoteFile {
	out := files[:0]
	for _, f := range files {
		if keep(f) {
			out = append(out, f)
		} else {
			*skipped++
		}
	}
	return out
}
