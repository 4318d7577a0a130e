package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/store"
)

// Sweeper periodically recovers jobs whose worker lease has expired — the
// worker that claimed them crashed, was killed, or lost network connectivity
// before reaching a terminal state (§5, §8 invariant 9: "lease recovery
// exactly-once").
type Sweeper struct {
	cron   gocron.Scheduler
	store  store.Store
	logger *zap.Logger

	maxAttemptDuration time.Duration
	interval           time.Duration

	notifier *notifier
}

// NewSweeper creates a Sweeper. Call Start to begin the periodic tick.
func NewSweeper(st store.Store, n *notifier, maxAttemptDuration, interval time.Duration, logger *zap.Logger) (*Sweeper, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("queue: failed to create gocron scheduler: %w", err)
	}

	return &Sweeper{
		cron:               s,
		store:              st,
		logger:             logger.Named("sweeper"),
		maxAttemptDuration: maxAttemptDuration,
		interval:           interval,
		notifier:           n,
	}, nil
}

// Start schedules the periodic sweep and starts the underlying gocron
// scheduler. Singleton mode means a slow sweep is never overlapped by the
// next tick.
func (s *Sweeper) Start() error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.tick),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("queue: failed to schedule lease sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("lease sweeper started",
		zap.Duration("max_attempt_duration", s.maxAttemptDuration),
		zap.Duration("interval", s.interval),
	)
	return nil
}

// Stop gracefully shuts down the sweeper, waiting for an in-flight tick.
func (s *Sweeper) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("queue: sweeper shutdown error: %w", err)
	}
	s.logger.Info("lease sweeper stopped")
	return nil
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	recovered, err := s.store.SweepExpiredLeases(ctx, s.maxAttemptDuration)
	if err != nil {
		s.logger.Error("lease sweep failed", zap.Error(err))
		return
	}
	if len(recovered) == 0 {
		return
	}

	s.logger.Warn("recovered jobs with expired leases",
		zap.Strings("job_ids", recovered),
		zap.Int("count", len(recovered)),
	)
	if s.notifier != nil {
		s.notifier.wake()
	}
}
