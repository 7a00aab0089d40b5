// Package scheduler runs the proxy's periodic background tasks: the update
// check and chat log retention.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/osus-project/osus-proxy/internal/events"
	"github.com/osus-project/osus-proxy/internal/util"
)

// UpdateChecker reports whether a newer build is published.
type UpdateChecker interface {
	CheckForUpdate(ctx context.Context) (util.UpdateStatus, error)
}

// Pruner removes log rows older than a cutoff.
type Pruner interface {
	Prune(cutoff time.Time) (int64, error)
}

// Options configures a Scheduler. A nil Updater or Pruner disables that task.
type Options struct {
	Updater        UpdateChecker
	UpdateInterval time.Duration

	Pruner    Pruner
	Retention time.Duration
	// PruneHour and PruneMinute give the local time of the daily prune.
	PruneHour   int
	PruneMinute int
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	opts     Options
	eventBus *events.EventBus
	logger   zerolog.Logger

	lastRemote string
	now        func() time.Time
}

// NewScheduler creates a new task scheduler.
func NewScheduler(opts Options, eventBus *events.EventBus) *Scheduler {
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = time.Hour
	}
	if opts.Retention <= 0 {
		opts.Retention = 7 * 24 * time.Hour
	}
	if opts.PruneHour == 0 && opts.PruneMinute == 0 {
		opts.PruneHour = 4
	}
	return &Scheduler{
		opts:     opts,
		eventBus: eventBus,
		logger:   util.ComponentLogger("scheduler"),
		now:      time.Now,
	}
}

// Start runs the enabled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().
		Bool("updates", s.opts.Updater != nil).
		Bool("retention", s.opts.Pruner != nil).
		Msg("scheduler started")

	if s.opts.Updater != nil {
		go s.runUpdateLoop(ctx)
	}
	if s.opts.Pruner != nil {
		go s.runPruneLoop(ctx)
	}

	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runUpdateLoop(ctx context.Context) {
	s.checkForUpdate(ctx)

	ticker := time.NewTicker(s.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkForUpdate(ctx)
		}
	}
}

// checkForUpdate publishes update_available once per remote hash.
func (s *Scheduler) checkForUpdate(ctx context.Context) {
	status, err := s.opts.Updater.CheckForUpdate(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("update check failed")
		return
	}
	if !status.Available || status.RemoteHash == s.lastRemote {
		return
	}
	s.lastRemote = status.RemoteHash

	s.logger.Info().
		Str("local", status.LocalHash).
		Str("remote", status.RemoteHash).
		Msg("a newer osus-proxy build is available")
	s.eventBus.Publish(events.EventUpdateAvailable, "scheduler", events.UpdateAvailablePayload{
		LocalHash:  status.LocalHash,
		RemoteHash: status.RemoteHash,
	})
}

func (s *Scheduler) runPruneLoop(ctx context.Context) {
	s.prune()

	for {
		next := nextDailyRun(s.now(), s.opts.PruneHour, s.opts.PruneMinute)
		sleep := time.Until(next)
		if sleep <= 0 {
			sleep = 24 * time.Hour
		}

		s.logger.Debug().Time("next_run", next).Msg("chat log prune scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
			s.prune()
		}
	}
}

func (s *Scheduler) prune() {
	cutoff := s.now().Add(-s.opts.Retention)
	removed, err := s.opts.Pruner.Prune(cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("chat log prune failed")
		return
	}
	s.logger.Debug().Int64("removed", removed).Msg("chat log prune completed")
}

// nextDailyRun returns the first hour:minute strictly after now.
func nextDailyRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
