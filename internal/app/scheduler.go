/**
 * @description
 * Cron-driven sweep that re-sends outbox items whose backoff has elapsed.
 */

package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultSweepTimeout = 5 * time.Minute

// RetryScheduler runs OutboxSender.RetryDue on a cron schedule. Overlapping runs are skipped.
type RetryScheduler struct {
	cron     *cron.Cron
	sender   *OutboxSender
	logger   *slog.Logger
	schedule string
	now      func() time.Time
}

func NewRetryScheduler(sender *OutboxSender, logger *slog.Logger, schedule string) *RetryScheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &RetryScheduler{
		cron:     c,
		sender:   sender,
		logger:   logger,
		schedule: schedule,
		now:      time.Now,
	}
}

// Start registers the sweep and starts the cron scheduler.
func (s *RetryScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.RunOnce); err != nil {
		s.logger.Error("failed to schedule outbox retry sweep", "schedule", s.schedule, "error", err)
		return err
	}
	s.logger.Info("scheduled outbox retry sweep", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// Stop stops scheduling new runs. The returned context is done once a running sweep finishes.
func (s *RetryScheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce performs a single sweep.
func (s *RetryScheduler) RunOnce() {
	s.logger.Info("starting outbox retry sweep")
	ctx, cancel := context.WithTimeout(context.Background(), defaultSweepTimeout)
	defer cancel()

	result, err := s.sender.RetryDue(ctx, s.now())
	if err != nil {
		s.logger.Error("outbox retry sweep failed", "error", err)
		return
	}
	if result.Succeeded+result.Failed+result.Skipped == 0 {
		s.logger.Info("no outbox items due for retry")
		return
	}
	s.logger.Info("outbox retry sweep finished", "succeeded", result.Succeeded, "failed", result.Failed, "skipped", result.Skipped)
}
