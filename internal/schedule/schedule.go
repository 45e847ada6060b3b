// Package schedule runs the timed jobs: a one-off vote broadcast and a periodic status digest.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Job is the unit the scheduler runs. Errors are logged.
type Job func(ctx context.Context) error

type Scheduler struct {
	s      gocron.Scheduler
	ctx    context.Context
	logger *slog.Logger
}

// New creates a scheduler whose jobs run under ctx.
func New(ctx context.Context, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{s: s, ctx: ctx, logger: logger}, nil
}

// At runs job once at t. A time in the past runs it immediately.
func (s *Scheduler) At(name string, t time.Time, job Job) error {
	if t.Before(time.Now()) {
		t = time.Now().Add(time.Second)
	}
	_, err := s.s.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(t)),
		gocron.NewTask(s.run, name, job),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.logger.Info("job scheduled", "job", name, "at", t.Format(time.RFC3339))
	return nil
}

// Every runs job each interval, skipping a tick while the previous run is in progress.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) error {
	_, err := s.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.run, name, job),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.logger.Info("job scheduled", "job", name, "every", interval.String())
	return nil
}

func (s *Scheduler) Start() {
	s.s.Start()
}

func (s *Scheduler) Shutdown() error {
	return s.s.Shutdown()
}

func (s *Scheduler) run(name string, job Job) {
	if s.ctx.Err() != nil {
		return
	}
	started := time.Now()
	if err := job(s.ctx); err != nil {
		s.logger.Error("job failed", "job", name, "error", err)
		return
	}
	s.logger.Info("job finished", "job", name, "took", time.Since(started).String())
}
