package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/towertools/killfeed/internal/config"
	"github.com/towertools/killfeed/internal/domain"
	"github.com/towertools/killfeed/internal/remote"
	"github.com/towertools/killfeed/internal/storage"
)

// fakeFS serves directory listings and file contents from maps.
type fakeFS struct {
	listings map[string][]remote.Entry
	contents map[string][]byte
	gate     chan struct{} // when set, List blocks until closed
}

func (f *fakeFS) List(ctx context.Context, dir string) ([]remote.Entry, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	entries, ok := f.listings[dir]
	if !ok {
		return nil, errors.New("no such directory")
	}
	return entries, nil
}

func (f *fakeFS) Read(_ context.Context, path string) ([]byte, error) {
	content, ok := f.contents[path]
	if !ok {
		return nil, errors.New("no such file")
	}
	return content, nil
}

type fakeDialer struct {
	fs       *fakeFS
	gets     int
	discards int
}

func (d *fakeDialer) Get(_ context.Context, _ string, _ remote.Target) (remote.FS, error) {
	d.gets++
	return d.fs, nil
}

func (d *fakeDialer) Discard(_ string) { d.discards++ }

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		PollInterval:     time.Minute,
		ServerTimeout:    time.Minute,
		PassBudget:       time.Minute,
		LookbackDays:     30,
		MaxDepth:         3,
		NemesisThreshold: 3,
		SemicolonBias:    3,
	}
}

func testGameServer() config.GameServer {
	return config.GameServer{
		ID:       "emerald",
		Name:     "Emerald EU",
		Host:     "79.127.236.1",
		Port:     2022,
		Username: "sftp",
		Password: "secret",
		BasePath: "/deathlogs",
	}
}

func newTestProcessor(t *testing.T, fs *fakeFS) (*Processor, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return NewProcessor(store, &fakeDialer{fs: fs}, testPipelineConfig(), log, nil), store
}

func logEntry(name string, size int64) remote.Entry {
	return remote.Entry{Name: name, Path: "/deathlogs/" + name, Size: size}
}

func TestRunIncremental(t *testing.T) {
	fs := &fakeFS{
		listings: map[string][]remote.Entry{
			"/deathlogs": {
				logEntry("2025.05.09-11.58.37.csv", 100),
				logEntry("2025.05.09-13.00.00.csv", 100),
			},
		},
		contents: map[string][]byte{
			"/deathlogs/2025.05.09-11.58.37.csv": []byte(
				"2025.05.09-11.58.37;PlayerA;123;PlayerB;456;AK47;120;pc\n" +
					"2025.05.09-11.59.02;PlayerC;789;PlayerC;789;falling;0;pc\n"),
			"/deathlogs/2025.05.09-13.00.00.csv": []byte(
				"2025.05.09-13.00.00;PlayerB;456;PlayerA;123;M4;95;pc\n"),
		},
	}
	proc, store := newTestProcessor(t, fs)
	ctx := context.Background()

	sum, err := proc.Run(ctx, testGameServer(), ModeIncremental, 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.FilesProcessed != 2 || sum.EventsInserted != 3 {
		t.Errorf("summary wrong: %+v", sum)
	}

	stats, err := store.PlayerStatsByRef(ctx, sum.ServerID, "123")
	if err != nil {
		t.Fatalf("fetching stats: %v", err)
	}
	if stats.Kills != 1 || stats.Deaths != 1 {
		t.Errorf("aggregates wrong: %+v", stats)
	}

	cursor, err := store.Cursor(ctx, sum.ServerID)
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	want := time.Date(2025, 5, 9, 13, 0, 0, 0, time.UTC)
	if cursor == nil || !cursor.ProcessedThrough.Equal(want) {
		t.Errorf("cursor not advanced to newest file: %+v", cursor)
	}
}

func TestRunSkipsFilesBehindCursor(t *testing.T) {
	fs := &fakeFS{
		listings: map[string][]remote.Entry{
			"/deathlogs": {logEntry("2025.05.09-11.58.37.csv", 100)},
		},
		contents: map[string][]byte{
			"/deathlogs/2025.05.09-11.58.37.csv": []byte(
				"2025.05.09-11.58.37;PlayerA;123;PlayerB;456;AK47;120;pc\n"),
		},
	}
	proc, _ := newTestProcessor(t, fs)
	ctx := context.Background()

	first, err := proc.Run(ctx, testGameServer(), ModeIncremental, 0)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.FilesProcessed != 1 {
		t.Fatalf("first run processed %d files", first.FilesProcessed)
	}

	second, err := proc.Run(ctx, testGameServer(), ModeIncremental, 0)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.FilesProcessed != 0 || second.FilesSkipped != 1 {
		t.Errorf("second run should skip the processed file: %+v", second)
	}
	if second.EventsInserted != 0 {
		t.Errorf("second run inserted events: %+v", second)
	}
}

func TestUnparsedRowTimestampUsesWatermark(t *testing.T) {
	fs := &fakeFS{
		listings: map[string][]remote.Entry{
			"/deathlogs": {logEntry("2025.05.09-11.58.37.csv", 100)},
		},
		contents: map[string][]byte{
			"/deathlogs/2025.05.09-11.58.37.csv": []byte(
				"2025.05.09-11.58.37;PlayerA;123;PlayerB;456;AK47;120;pc\n"),
		},
	}
	proc, store := newTestProcessor(t, fs)
	ctx := context.Background()

	if _, err := proc.Run(ctx, testGameServer(), ModeIncremental, 0); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// A later file carries a row whose timestamp matches no known format.
	// Its event must land one day behind the watermark, not at the file's
	// own inferred time.
	fs.listings["/deathlogs"] = append(fs.listings["/deathlogs"],
		logEntry("2025.05.10-12.00.00.csv", 100))
	fs.contents["/deathlogs/2025.05.10-12.00.00.csv"] = []byte(
		"not-a-stamp;Carol;777;Dave;888;M4;50;pc\n")

	sum, err := proc.Run(ctx, testGameServer(), ModeIncremental, 0)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if sum.EventsInserted != 1 {
		t.Fatalf("second run summary: %+v", sum)
	}

	events, err := store.RecentEvents(ctx, sum.ServerID, 0)
	if err != nil {
		t.Fatalf("fetching events: %v", err)
	}
	var got *domain.KillEvent
	for i := range events {
		if events[i].KillerID == "777" {
			got = &events[i]
		}
	}
	if got == nil {
		t.Fatal("event with unparseable timestamp not persisted")
	}
	if !got.TimestampUnparsed {
		t.Error("timestamp should be flagged unparsed")
	}
	want := time.Date(2025, 5, 8, 11, 58, 37, 0, time.UTC)
	if !got.OccurredAt.Equal(want) {
		t.Errorf("occurred_at = %v, want watermark minus one day %v", got.OccurredAt, want)
	}
}

func TestRunEmptyFile(t *testing.T) {
	fs := &fakeFS{
		listings: map[string][]remote.Entry{
			"/deathlogs": {logEntry("2025.05.09-11.58.37.csv", 0)},
		},
		contents: map[string][]byte{
			"/deathlogs/2025.05.09-11.58.37.csv": []byte("  \n"),
		},
	}
	proc, store := newTestProcessor(t, fs)
	ctx := context.Background()

	sum, err := proc.Run(ctx, testGameServer(), ModeIncremental, 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.FilesProcessed != 1 || sum.EventsInserted != 0 {
		t.Errorf("empty file should count as processed: %+v", sum)
	}

	cursor, err := store.Cursor(ctx, sum.ServerID)
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cursor == nil {
		t.Error("cursor not advanced past empty file")
	}
}

func TestRunUnreadableFileIsolated(t *testing.T) {
	fs := &fakeFS{
		listings: map[string][]remote.Entry{
			"/deathlogs": {
				logEntry("2025.05.09-11.58.37.csv", 100), // no content: read fails
				logEntry("2025.05.09-13.00.00.csv", 100),
			},
		},
		contents: map[string][]byte{
			"/deathlogs/2025.05.09-13.00.00.csv": []byte(
				"2025.05.09-13.00.00;PlayerB;456;PlayerA;123;M4;95;pc\n"),
		},
	}
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	defer store.Close()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	dialer := &fakeDialer{fs: fs}
	proc := NewProcessor(store, dialer, testPipelineConfig(), log, nil)

	sum, err := proc.Run(context.Background(), testGameServer(), ModeIncremental, 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.FilesProcessed != 1 || sum.FilesSkipped != 1 {
		t.Errorf("bad file not isolated: %+v", sum)
	}
	if sum.EventsInserted != 1 {
		t.Errorf("good file not processed: %+v", sum)
	}

	// The read failure discards the connection; the run must reconnect
	// before attempting the remaining files.
	if dialer.discards != 1 {
		t.Errorf("connection discards = %d, want 1", dialer.discards)
	}
	if dialer.gets != 2 {
		t.Errorf("pool gets = %d, want reconnect after the discarded connection", dialer.gets)
	}
}

func TestRunHistoricalResets(t *testing.T) {
	// Filenames are generated relative to the wall clock so the default
	// lookback window always admits them.
	stamp := time.Now().UTC().AddDate(0, 0, -1).Format("2006.01.02-15.04.05")
	fs := &fakeFS{
		listings: map[string][]remote.Entry{
			"/deathlogs": {logEntry(stamp+".csv", 100)},
		},
		contents: map[string][]byte{
			"/deathlogs/" + stamp + ".csv": []byte(
				stamp + ";PlayerA;123;PlayerB;456;AK47;120;pc\n"),
		},
	}
	proc, store := newTestProcessor(t, fs)
	ctx := context.Background()

	if _, err := proc.Run(ctx, testGameServer(), ModeIncremental, 0); err != nil {
		t.Fatalf("incremental run: %v", err)
	}

	// Historical wipes and reprocesses; the final state must match a single
	// clean ingestion.
	sum, err := proc.Run(ctx, testGameServer(), ModeHistorical, 0)
	if err != nil {
		t.Fatalf("historical run: %v", err)
	}
	if sum.FilesProcessed != 1 || sum.EventsInserted != 1 {
		t.Errorf("historical summary wrong: %+v", sum)
	}

	count, err := store.EventCount(ctx, sum.ServerID)
	if err != nil {
		t.Fatalf("counting: %v", err)
	}
	if count != 1 {
		t.Errorf("event count after historical %d, want 1", count)
	}

	stats, err := store.PlayerStatsByRef(ctx, sum.ServerID, "123")
	if err != nil {
		t.Fatalf("fetching stats: %v", err)
	}
	if stats == nil {
		t.Fatal("rebuilt aggregates missing for killer")
	}
	if stats.Kills != 1 {
		t.Errorf("rebuilt aggregates wrong: %+v", stats)
	}
}

func TestRunHistoricalLookbackWindow(t *testing.T) {
	old := time.Now().UTC().AddDate(0, 0, -90).Format("2006.01.02-15.04.05")
	recent := time.Now().UTC().AddDate(0, 0, -1).Format("2006.01.02-15.04.05")

	fs := &fakeFS{
		listings: map[string][]remote.Entry{
			"/deathlogs": {
				logEntry(old+".csv", 100),
				logEntry(recent+".csv", 100),
			},
		},
		contents: map[string][]byte{
			"/deathlogs/" + old + ".csv":    []byte(old + ";A;1;B;2;AK47;120\n"),
			"/deathlogs/" + recent + ".csv": []byte(recent + ";A;1;B;2;AK47;120\n"),
		},
	}
	proc, _ := newTestProcessor(t, fs)

	sum, err := proc.Run(context.Background(), testGameServer(), ModeHistorical, 30)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.FilesProcessed != 1 || sum.FilesSkipped != 1 {
		t.Errorf("lookback window not applied: %+v", sum)
	}
}

func TestSchedulerRefusesOverlap(t *testing.T) {
	gate := make(chan struct{})
	fs := &fakeFS{
		listings: map[string][]remote.Entry{"/deathlogs": {}},
		gate:     gate,
	}
	proc, _ := newTestProcessor(t, fs)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	sched := NewScheduler(proc, testPipelineConfig(), []config.GameServer{testGameServer()}, log)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		sched.RunIncremental(context.Background(), "emerald")
		close(done)
	}()

	<-started
	// Wait for the first run to take the slot.
	for !sched.Busy() {
		time.Sleep(time.Millisecond)
	}

	if _, err := sched.RunIncremental(context.Background(), "emerald"); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("overlapping run error = %v, want ErrRunInProgress", err)
	}

	close(gate)
	<-done

	if sched.Busy() {
		t.Error("slot not released after run")
	}
}

func TestSchedulerUnknownServer(t *testing.T) {
	proc, _ := newTestProcessor(t, &fakeFS{})
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	sched := NewScheduler(proc, testPipelineConfig(), nil, log)

	if _, err := sched.RunIncremental(context.Background(), "nope"); !errors.Is(err, ErrUnknownServer) {
		t.Errorf("error = %v, want ErrUnknownServer", err)
	}

	if _, err := sched.RunHistorical(context.Background(), "nope", 30); !errors.Is(err, ErrUnknownServer) {
		t.Errorf("error = %v, want ErrUnknownServer", err)
	}
}

func TestFeedEventsEmitted(t *testing.T) {
	fs := &fakeFS{
		listings: map[string][]remote.Entry{
			"/deathlogs": {logEntry("2025.05.09-11.58.37.csv", 100)},
		},
		contents: map[string][]byte{
			"/deathlogs/2025.05.09-11.58.37.csv": []byte(
				"2025.05.09-11.58.37;PlayerA;123;PlayerB;456;AK47;120;pc\n"),
		},
	}

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	defer store.Close()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	var events []domain.FeedEvent
	proc := NewProcessor(store, &fakeDialer{fs: fs}, testPipelineConfig(), log, func(ev domain.FeedEvent) {
		events = append(events, ev)
	})

	if _, err := proc.Run(context.Background(), testGameServer(), ModeIncremental, 0); err != nil {
		t.Fatalf("run: %v", err)
	}

	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, ev.Type)
	}
	if len(kinds) != 3 || kinds[0] != domain.EventRunStarted || kinds[1] != domain.EventKill || kinds[2] != domain.EventRunDone {
		t.Errorf("feed events = %v", kinds)
	}
}
