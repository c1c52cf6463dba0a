package recon

import (
	"context"
	"log/slog"
	"time"
)

// SchedulerConfig configures the nightly report scheduler.
type SchedulerConfig struct {
	Reporter  *Reporter
	RunHour   int
	RunMinute int
	Location  *time.Location
	Logger    *slog.Logger
}

// Scheduler executes the report on a fixed daily cadence.
type Scheduler struct {
	reporter  *Reporter
	runHour   int
	runMinute int
	location  *time.Location
	logger    *slog.Logger
}

// NewScheduler constructs a scheduler with sane defaults.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		reporter:  cfg.Reporter,
		runHour:   clampHour(cfg.RunHour),
		runMinute: clampMinute(cfg.RunMinute),
		location:  loc,
		logger:    logger,
	}
}

// Start begins the scheduling loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.reporter == nil {
		return
	}
	for {
		now := time.Now().In(s.location)
		next := s.nextRun(now)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.reporter.Run(ctx); err != nil {
				s.logger.Error("scheduled report failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) nextRun(after time.Time) time.Time {
	target := time.Date(after.Year(), after.Month(), after.Day(), s.runHour, s.runMinute, 0, 0, s.location)
	if !target.After(after) {
		target = target.Add(24 * time.Hour)
	}
	return target
}

func clampHour(hour int) int {
	if hour < 0 {
		return 0
	}
	if hour > 23 {
		return 23
	}
	return hour
}

func clampMinute(minute int) int {
	if minute < 0 {
		return 0
	}
	if minute > 59 {
		return 59
	}
	return minute
}
