// Package scheduler repeats pipeline runs on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// Task is one scheduled unit of work.
type Task func(ctx context.Context)

type Scheduler struct {
	scheduler gocron.Scheduler
	interval  time.Duration
	logger    zerolog.Logger
}

func New(interval time.Duration, logger zerolog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be positive, got %s", interval)
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		scheduler: s,
		interval:  interval,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Start runs task immediately and then every interval. A tick that arrives
// while the previous run is still going is rescheduled, never overlapped.
func (s *Scheduler) Start(ctx context.Context, name string, task Task) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			start := time.Now()
			task(ctx)
			s.logger.Debug().Str("job", name).Dur("duration", time.Since(start)).Msg("Scheduled run done")
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	s.logger.Info().Str("job", name).Dur("interval", s.interval).Msg("Scheduler started")
	s.scheduler.Start()
	return nil
}

func (s *Scheduler) Stop() {
	s.logger.Info().Msg("Stopping scheduler")
	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down scheduler")
	}
}
