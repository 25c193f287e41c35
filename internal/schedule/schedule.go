// Package schedule runs a job on a cron expression until its context ends.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

// Job is one scheduled unit of work. Its error is logged, not fatal.
type Job func(ctx context.Context) error

// Scheduler fires a Job at each cron tick. Runs never overlap: the next
// tick is computed only after the previous run returns.
type Scheduler struct {
	expr   string
	job    Job
	logger *zap.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// Validate reports whether expr is a cron expression gronx accepts.
func Validate(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" || !gronx.New().IsValid(expr) {
		return fmt.Errorf("schedule: invalid cron expression %q", expr)
	}
	return nil
}

// New validates expr and returns a Scheduler for job.
func New(expr string, job Job, logger *zap.Logger) (*Scheduler, error) {
	if err := Validate(expr); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		expr:   strings.TrimSpace(expr),
		job:    job,
		logger: logger,
		now:    time.Now,
		after:  time.After,
	}, nil
}

// Next returns the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(s.expr, t, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule: %w", err)
	}
	return next, nil
}

// Run blocks until ctx is cancelled, running the job at every tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.String("cron", s.expr))
	for {
		if ctx.Err() != nil {
			s.logger.Info("scheduler stopped")
			return nil
		}
		now := s.now()
		next, err := s.Next(now)
		if err != nil {
			return err
		}
		s.logger.Info("next run scheduled", zap.Time("at", next))

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-s.after(next.Sub(now)):
		}

		if err := s.job(ctx); err != nil {
			s.logger.Error("scheduled run failed", zap.Error(err))
		}
	}
}
