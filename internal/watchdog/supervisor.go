// Package watchdog supervises source workers and owns the shutdown decision.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"farm-exporter/internal/scheduler"
)

// Mode selects whether error counters are enforced.
type Mode string

const (
	ModePassive   Mode = "passive"
	ModeThreshold Mode = "threshold"
)

// ParseMode validates a configured mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModePassive, ModeThreshold:
		return m, nil
	default:
		return "", fmt.Errorf("unknown watchdog mode %q", s)
	}
}

// Outcome is why the supervisor returned.
type Outcome int

const (
	// OutcomeShutdown means the parent context was cancelled (signal).
	OutcomeShutdown Outcome = iota
	// OutcomeThresholdExceeded means a source failed for longer than allowed.
	OutcomeThresholdExceeded
)

func (o Outcome) String() string {
	if o == OutcomeThresholdExceeded {
		return "threshold_exceeded"
	}
	return "shutdown"
}

var (
	// ErrThresholdExceeded reports the source whose counter broke the limit.
	ErrThresholdExceeded = errors.New("watchdog: error threshold exceeded")
	// ErrShutdownTimeout means some workers had not stopped in time.
	ErrShutdownTimeout = errors.New("watchdog: workers did not stop in time")
)

// Runner is a unit the supervisor starts and stops.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// Options configure a Supervisor.
type Options struct {
	Mode            Mode
	CheckInterval   time.Duration
	ErrorThreshold  time.Duration
	// StartupDelay holds off the first threshold check.
	StartupDelay    time.Duration
	ShutdownTimeout time.Duration
}

// Supervisor starts workers, watches their counters and stops them together.
type Supervisor struct {
	opts     Options
	counters *Counters
	logger   zerolog.Logger
}

// NewSupervisor builds a supervisor over counters.
func NewSupervisor(opts Options, counters *Counters, logger zerolog.Logger) *Supervisor {
	if opts.Mode == "" {
		opts.Mode = ModePassive
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = time.Minute
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	return &Supervisor{
		opts:     opts,
		counters: counters,
		logger:   logger.With().Str("component", "watchdog").Logger(),
	}
}

// Run starts every worker and blocks until ctx is cancelled or, in threshold
// mode, a counter exceeds the threshold. Either way all workers are cancelled
// and awaited for at most ShutdownTimeout.
func (s *Supervisor) Run(ctx context.Context, workers []Runner) (Outcome, error) {
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	for _, w := range workers {
		w := w
		g.Go(func() error {
			if err := w.Run(workCtx); err != nil {
				return fmt.Errorf("worker %s: %w", w.Name(), err)
			}
			return nil
		})
	}
	s.logger.Info().Int("workers", len(workers)).Str("mode", string(s.opts.Mode)).Msg("supervisor started")

	outcome := OutcomeShutdown
	var breach error
	switch s.opts.Mode {
	case ModeThreshold:
		sched := scheduler.New(scheduler.Options{
			Name:         "watchdog_check",
			Interval:     s.opts.CheckInterval,
			StartupDelay: s.opts.StartupDelay,
		}, s.logger)
		if err := sched.Run(ctx, s.check); errors.Is(err, ErrThresholdExceeded) {
			outcome, breach = OutcomeThresholdExceeded, err
			s.logger.Error().Err(err).Msg("shutting down workers")
		}
	default:
		<-ctx.Done()
	}
	if outcome == OutcomeShutdown {
		s.logger.Info().Msg("shutdown requested, stopping workers")
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	timer := time.NewTimer(s.opts.ShutdownTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		s.logger.Info().Str("outcome", outcome.String()).Msg("all workers stopped")
		return outcome, errors.Join(breach, err)
	case <-timer.C:
		s.logger.Error().Dur("timeout", s.opts.ShutdownTimeout).Msg("workers still running after shutdown timeout")
		return outcome, errors.Join(breach, ErrShutdownTimeout)
	}
}

// Check reports the first source whose counter is strictly above the
// threshold.
func (s *Supervisor) Check() error {
	for _, e := range s.counters.Snapshot() {
		if e.Total > s.opts.ErrorThreshold {
			return fmt.Errorf("%w: %s failed for %s (limit %s)", ErrThresholdExceeded, e.Source, e.Total, s.opts.ErrorThreshold)
		}
	}
	return nil
}

func (s *Supervisor) check(context.Context, time.Time) error {
	if err := s.Check(); err != nil {
		return fmt.Errorf("%w: %w", scheduler.ErrStop, err)
	}
	return nil
}
