// Package runtime drives scheduled background work for live sessions.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// refreshTimeout bounds a single scheduled refresh attempt.
const refreshTimeout = 30 * time.Second

// Schedule computes successive wake times.
type Schedule interface {
	Next(time.Time) time.Time
}

// ParseRefreshSchedule parses a refresh schedule string.
// Supports:
//   - Cron expressions: "0 */15 * * * *" (6-field) or "*/15 * * * *" (5-field)
//   - Go duration strings: "15m", "2h", "1h30m"
func ParseRefreshSchedule(schedule string) (Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("schedule string is empty")
	}

	// Try parsing as cron expression first (supports both 5 and 6 field formats)
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cronSched, err := parser.Parse(schedule)
	if err == nil {
		return cronSched, nil
	}

	// If cron parsing fails, try parsing as Go duration string
	duration, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule as cron expression or duration: %w", err)
	}
	return cron.ConstantDelaySchedule{Delay: duration}, nil
}

// RefreshTarget is the session-side surface the refresher drives.
type RefreshTarget interface {
	Refresh(ctx context.Context) error
}

// Refresher wakes on a schedule and refreshes one session's prompt.
// Memory written by other devices lands on the remote service between
// turns; the refresher re-retrieves categories so long-lived sessions
// pick it up without waiting for their own submissions to complete.
type Refresher struct {
	schedule Schedule
	target   RefreshTarget
	logger   zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefresher creates a refresher for the given schedule and target.
func NewRefresher(schedule Schedule, target RefreshTarget, logger zerolog.Logger) (*Refresher, error) {
	if schedule == nil {
		return nil, fmt.Errorf("refresher: schedule cannot be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("refresher: target cannot be nil")
	}
	return &Refresher{
		schedule: schedule,
		target:   target,
		logger:   logger.With().Str("component", "refresher").Logger(),
	}, nil
}

// Start launches the refresh loop. Calling Start twice is a no-op.
func (r *Refresher) Start(ctx context.Context) {
	if r.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.logger.Info().Msg("Starting prompt refresher")
	go r.run(runCtx)
}

// Stop ends the refresh loop and waits for it to exit. Safe to call
// without a prior Start.
func (r *Refresher) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Refresher) run(ctx context.Context) {
	defer close(r.done)

	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Debug().Msg("Refresher stopped")
			return
		case <-timer.C:
		}

		refreshCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
		if err := r.target.Refresh(refreshCtx); err != nil {
			r.logger.Warn().Err(err).Msg("Scheduled prompt refresh failed")
		}
		cancel()
	}
}
