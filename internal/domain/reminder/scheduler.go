package reminder

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

const (
	// DefaultPollInterval is how often the loop scans for due reminders.
	DefaultPollInterval = time.Minute
	// DefaultBatchSize caps how many due reminders one tick processes.
	DefaultBatchSize = 200
)

// Scheduler periodically asks the service for due reminders and dispatches
// them. A single instance runs per process; concurrent instances are safe
// because schedule advancement is guarded at the store.
type Scheduler struct {
	service  *Service
	clock    clock.Clock
	interval time.Duration
	batch    int
	log      zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewScheduler creates a Scheduler. Non-positive interval or batch fall back
// to the defaults; a nil clk falls back to the wall clock.
func NewScheduler(service *Service, clk clock.Clock, interval time.Duration, batch int, log zerolog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &Scheduler{
		service:  service,
		clock:    clk,
		interval: interval,
		batch:    batch,
		log:      log,
	}
}

// Start launches the polling loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})

	go s.run(ctx)
	s.log.Info().
		Dur("interval", s.interval).
		Int("batch_size", s.batch).
		Msg("reminder scheduler started")
}

// Stop halts the loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	s.log.Info().Msg("reminder scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.stopped)

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick processes one batch of due reminders. Errors are logged, never fatal:
// the next tick retries whatever remains due.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock.Now().UTC()
	processed, err := s.service.ProcessDue(ctx, now, s.batch)
	if err != nil {
		s.log.Error().Err(err).Msg("due reminder scan failed")
		return
	}
	if processed > 0 {
		s.log.Info().
			Int("processed", processed).
			Time("now", now).
			Msg("processed due reminders")
	}
}
