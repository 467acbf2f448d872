package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig controls pruning of records whose windows ended long ago.
type RetentionConfig struct {
	// Schedule is a standard five-field cron expression. Empty disables
	// scheduled pruning.
	Schedule string

	// MaxAge is how long a record is kept after its window ends.
	MaxAge time.Duration
}

// Scheduler runs ledger pruning on a cron schedule.
// Deleting a stale record is indistinguishable from rotating it on the next
// access, so pruning never changes what a user sees.
type Scheduler struct {
	ledger  *Ledger
	config  RetentionConfig
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// NewScheduler creates a retention scheduler for l.
func NewScheduler(l *Ledger, cfg RetentionConfig) *Scheduler {
	return &Scheduler{
		ledger: l,
		config: cfg,
		cron:   cron.New(),
		logger: slog.Default().With("component", "limits.retention"),
	}
}

// Start begins scheduled pruning. It returns immediately; pruning stops
// when ctx is cancelled or Stop is called.
//
// Common cron expressions:
//   - "0 3 * * *"    - Daily at 3 AM
//   - "0 */6 * * *"  - Every 6 hours
//
// If Schedule is empty, the scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Schedule == "" {
		s.logger.Info("retention schedule not configured, skipping scheduler")
		return nil
	}
	if s.config.MaxAge <= 0 {
		return fmt.Errorf("retention max age must be positive, got %s", s.config.MaxAge)
	}

	if _, err := cron.ParseStandard(s.config.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.config.Schedule, err)
	}

	if _, err := s.cron.AddFunc(s.config.Schedule, func() {
		s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("retention scheduler started",
		"schedule", s.config.Schedule,
		"max_age", s.config.MaxAge.String(),
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// RunOnce executes a single pruning pass and returns the number of records
// deleted.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	s.logger.Debug("starting usage record pruning")

	deleted, err := s.ledger.Prune(ctx, s.config.MaxAge)
	if err != nil {
		s.logger.Error("usage record pruning failed", "error", err)
		return deleted
	}

	if deleted > 0 {
		s.logger.Info("usage record pruning completed", "deleted_count", deleted)
	} else {
		s.logger.Debug("usage record pruning completed, no records deleted")
	}
	return deleted
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("retention scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled pruning time, or nil if none.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
