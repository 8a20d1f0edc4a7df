// Package sweeper removes processed notifications once their retention
// window has passed.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/meridianpay/recon/internal/logging"
)

type notificationPruner interface {
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper runs the retention sweep on a cron schedule. Only notifications
// that are done and not currently processing are removed, so a sweep can
// never race an in-flight transition.
type Sweeper struct {
	notifications notificationPruner
	logger        *slog.Logger
	retentionDays int
	schedule      string
	cron          *cron.Cron
	now           func() time.Time
}

func New(notifications notificationPruner, logger *slog.Logger, retentionDays int, schedule string) *Sweeper {
	return &Sweeper{
		notifications: notifications,
		logger:        logging.WithChannel(logger, logging.ChannelNotification),
		retentionDays: retentionDays,
		schedule:      schedule,
		now:           time.Now,
	}
}

// Cutoff is the newest created_at a notification may have and still be
// swept: retentionDays before now.
func (s *Sweeper) Cutoff(now time.Time) time.Time {
	return now.UTC().AddDate(0, 0, -s.retentionDays)
}

// Start registers the sweep with the cron scheduler and begins running it.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.schedule, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("Start: invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.logger.Info("notification sweeper started",
		"schedule", s.schedule,
		"retention_days", s.retentionDays,
	)
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("notification sweeper stopped")
}

// Sweep deletes processed notifications older than the retention cutoff.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := s.Cutoff(s.now())

	deleted, err := s.notifications.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("notification sweep failed", "error", err)
		return
	}

	s.logger.Info("notification sweep completed",
		"deleted", deleted,
		"cutoff", cutoff.Format(time.RFC3339),
	)
}
