package summary

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Refresher rebuilds every summary.
type Refresher interface {
	ResummarizeAll(ctx context.Context) error
}

// Scheduler refreshes all summaries on a fixed interval. A run that is
// still going when the next one is due causes that tick to be skipped.
type Scheduler struct {
	cron      *cron.Cron
	refresher Refresher
	interval  time.Duration
	timeout   time.Duration

	mu      sync.Mutex
	running bool
	entry   cron.EntryID
}

// NewScheduler returns a scheduler; timeout bounds each refresh run.
func NewScheduler(r Refresher, interval, timeout time.Duration) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		refresher: r,
		interval:  interval,
		timeout:   timeout,
	}
}

// Start registers the refresh task and starts the cron loop. The task is
// registered once, so a stopped scheduler can be started again. A zero
// interval disables scheduling.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.interval <= 0 {
		return nil
	}
	if s.entry == 0 {
		id, err := s.cron.AddFunc("@every "+s.interval.String(), s.run)
		if err != nil {
			return err
		}
		s.entry = id
	}
	s.cron.Start()
	s.running = true
	slog.Info("summary: refresh scheduled", "interval", s.interval)
	return nil
}

func (s *Scheduler) run() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.refresher.ResummarizeAll(ctx); err != nil {
		slog.Warn("summary: scheduled refresh failed", "error", err)
	}
}

// Stop waits for a running refresh to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		slog.Warn("summary: scheduler stop timed out")
	}
	s.running = false
}
