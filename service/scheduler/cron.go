package scheduler

import (
	"context"
	"time"

	"PulseIM/logger"
	"PulseIM/tools/safe"

	"go.uber.org/zap"
)

// Scheduler runs the two periodic jobs: the daily planning pass at a
// fixed local hour and the frequent drain pass.
type Scheduler struct {
	planner       *Planner
	drainer       *Drainer
	planHour      int
	drainInterval time.Duration
}

func New(planner *Planner, drainer *Drainer, planHour int, drainInterval time.Duration) *Scheduler {
	if drainInterval <= 0 {
		drainInterval = time.Minute
	}
	if planHour < 0 || planHour > 23 {
		planHour = 0
	}
	return &Scheduler{
		planner:       planner,
		drainer:       drainer,
		planHour:      planHour,
		drainInterval: drainInterval,
	}
}

// Start launches both loops; they stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	safe.Go("scheduler-plan", func() { s.planLoop(ctx) })
	safe.Go("scheduler-drain", func() { s.drainLoop(ctx) })
}

func (s *Scheduler) planLoop(ctx context.Context) {
	for {
		wait := untilNextHour(time.Now(), s.planHour)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := s.planner.Plan(ctx); err != nil {
			logger.Error("auto message planning failed", zap.Error(err))
		}
	}
}

func (s *Scheduler) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(s.drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := s.drainer.Drain(ctx); err != nil {
			logger.Error("drain pass failed", zap.Error(err))
		}
	}
}

// untilNextHour returns the wait until the next occurrence of the
// given local hour, strictly in the future.
func untilNextHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
