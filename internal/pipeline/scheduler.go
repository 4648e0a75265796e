package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/towertools/killfeed/internal/config"
)

// ErrRunInProgress is returned when a run is requested while another pass
// holds the global processing slot.
var ErrRunInProgress = errors.New("a processing run is already in progress")

// ErrUnknownServer is returned for run requests naming an unconfigured server.
var ErrUnknownServer = errors.New("unknown server")

// Scheduler drives periodic incremental passes over all configured servers.
// At most one pass (scheduled or manually triggered) runs at a time.
type Scheduler struct {
	proc    *Processor
	cfg     config.PipelineConfig
	servers []config.GameServer
	log     *logrus.Logger

	running atomic.Bool
}

// NewScheduler creates a Scheduler over the configured game servers.
func NewScheduler(proc *Processor, cfg config.PipelineConfig, servers []config.GameServer, log *logrus.Logger) *Scheduler {
	return &Scheduler{proc: proc, cfg: cfg, servers: servers, log: log}
}

// Start runs the poll loop until ctx is cancelled. The first pass starts
// immediately rather than one interval in.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.WithField("interval", s.cfg.PollInterval).Info("Scheduler started")

	s.pass(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

// pass runs one incremental sweep over every configured server. If the
// previous pass is still running the tick is skipped, never queued.
func (s *Scheduler) pass(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("Previous pass still running, skipping tick")
		return
	}
	defer s.running.Store(false)

	deadline := time.Now().Add(s.cfg.PassBudget)
	for _, srv := range s.servers {
		if ctx.Err() != nil {
			return
		}
		if !time.Now().Before(deadline) {
			// The budget bounds when new servers may start, it does not
			// interrupt the server currently being processed.
			s.log.Warn("Pass budget exhausted, remaining servers deferred to next tick")
			return
		}
		s.runServer(ctx, srv, ModeIncremental, 0)
	}
}

// runServer processes one server under its own timeout. Failures are logged
// and isolated so one bad host cannot poison the rest of the pass.
func (s *Scheduler) runServer(ctx context.Context, srv config.GameServer, mode string, lookbackDays int) (*Summary, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.ServerTimeout)
	defer cancel()

	sum, err := s.proc.Run(runCtx, srv, mode, lookbackDays)
	if err != nil {
		s.log.WithError(err).WithField("server", srv.ID).Error("Processing run failed")
	}
	return sum, err
}

// RunIncremental triggers an on-demand incremental run for one server.
func (s *Scheduler) RunIncremental(ctx context.Context, serverKey string) (*Summary, error) {
	return s.trigger(ctx, serverKey, ModeIncremental, 0)
}

// RunHistorical triggers an on-demand historical reprocess for one server.
// Destructive: the server's persisted events and aggregates are wiped first.
func (s *Scheduler) RunHistorical(ctx context.Context, serverKey string, lookbackDays int) (*Summary, error) {
	return s.trigger(ctx, serverKey, ModeHistorical, lookbackDays)
}

func (s *Scheduler) trigger(ctx context.Context, serverKey, mode string, lookbackDays int) (*Summary, error) {
	srv, ok := s.lookup(serverKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, serverKey)
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	return s.runServer(ctx, srv, mode, lookbackDays)
}

func (s *Scheduler) lookup(key string) (config.GameServer, bool) {
	for _, srv := range s.servers {
		if srv.ID == key {
			return srv, true
		}
	}
	return config.GameServer{}, false
}

// Busy reports whether a pass currently holds the processing slot.
func (s *Scheduler) Busy() bool {
	return s.running.Load()
}
