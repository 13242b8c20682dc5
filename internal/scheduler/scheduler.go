package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrStop ends Run when returned (or wrapped) by a tick.
var ErrStop = errors.New("scheduler: stop requested")

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Name         string
	Interval     time.Duration
	// StartupDelay postpones the first interval.
	StartupDelay time.Duration
}

// Scheduler drives periodic execution of a tick.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	name := opts.Name
	if name == "" {
		name = "scheduler"
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", name).Logger()}
}

// Run blocks, invoking tick on each interval until ctx is cancelled or tick
// returns an error wrapping ErrStop. Other tick errors are logged and the loop
// continues.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if err := Sleep(ctx, s.opts.StartupDelay); err != nil {
		return err
	}

	next := time.Now().UTC().Add(s.opts.Interval)
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = time.Now().UTC().Add(s.opts.Interval)
			delay = time.Until(next)
		}

		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")
		if err := Sleep(ctx, delay); err != nil {
			return err
		}

		if err := tick(ctx, next); err != nil {
			if errors.Is(err, ErrStop) {
				return err
			}
			s.logger.Error().Err(err).Time("at", next).Msg("tick execution failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

// Sleep waits for d or until ctx is done, whichever comes first. It returns
// ctx.Err() when interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
