// Package worker drives one source adapter on a fixed interval.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"farm-exporter/internal/metrics"
	"farm-exporter/internal/reward"
	"farm-exporter/internal/scheduler"
	"farm-exporter/internal/source"
)

// State is the lifecycle position of a worker.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StatePublishing
	StateSleeping
	StateTerminated
)

var stateNames = []string{"idle", "polling", "publishing", "sleeping", "terminated"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Publisher receives complete snapshots.
type Publisher interface {
	Publish(sourceID string, snap *source.Snapshot)
	Clear(sourceID string)
}

// ErrorCounter accumulates failed polling time per source.
type ErrorCounter interface {
	Add(sourceID string, d time.Duration) time.Duration
}

// Worker polls one adapter sequentially. Per-poll failures never stop it; it
// terminates only when its context is cancelled.
type Worker struct {
	adapter  source.Adapter
	rewards  source.RewardSource
	detector *reward.Detector
	interval time.Duration

	publisher Publisher
	counters  ErrorCounter
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	state atomic.Int32
}

// New builds a worker. Adapters that implement source.RewardSource get a
// reward detector of their own.
func New(adapter source.Adapter, interval time.Duration, publisher Publisher, counters ErrorCounter, m *metrics.Metrics, logger zerolog.Logger) *Worker {
	if interval <= 0 {
		panic("worker interval must be positive")
	}
	w := &Worker{
		adapter:   adapter,
		interval:  interval,
		publisher: publisher,
		counters:  counters,
		metrics:   m,
		logger: logger.With().
			Str("component", "worker").
			Str("source", adapter.Name()).
			Logger(),
	}
	if rs, ok := adapter.(source.RewardSource); ok {
		w.rewards = rs
		w.detector = reward.NewDetector(rs, rs.RewardPolicy())
	}
	w.setState(StateIdle)
	return w
}

// Name returns the source identifier.
func (w *Worker) Name() string { return w.adapter.Name() }

// Interval returns the poll interval.
func (w *Worker) Interval() time.Duration { return w.interval }

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.metrics.SetWorkerState(w.Name(), s.String(), stateNames)
}

// Run loops poll, publish, sleep until ctx is cancelled. A poll in flight when
// ctx is cancelled runs to completion; adapter timeouts bound it.
func (w *Worker) Run(ctx context.Context) error {
	defer w.setState(StateTerminated)
	w.logger.Info().Dur("interval", w.interval).Msg("worker started")

	for {
		if ctx.Err() != nil {
			w.logger.Info().Msg("worker stopped")
			return nil
		}

		w.setState(StatePolling)
		w.cycle(context.WithoutCancel(ctx))

		w.setState(StateSleeping)
		if err := scheduler.Sleep(ctx, w.interval); err != nil {
			w.logger.Info().Msg("worker stopped")
			return nil
		}
	}
}

func (w *Worker) cycle(ctx context.Context) {
	start := time.Now()
	snap, err := w.Poll(ctx)
	w.metrics.ObservePoll(w.Name(), time.Since(start), err)

	if err != nil {
		w.publisher.Clear(w.Name())
		total := w.counters.Add(w.Name(), w.interval)
		w.metrics.SetErrorSeconds(w.Name(), total)
		w.logger.Warn().Err(err).Dur("error_total", total).Msg("poll failed")
		return
	}

	w.setState(StatePublishing)
	w.publisher.Publish(w.Name(), snap)
	w.logger.Debug().Int("metrics", snap.Len()).Dur("took", time.Since(start)).Msg("snapshot published")
}

// Poll fetches one snapshot and, for reward sources, folds in the detection
// result. The snapshot is returned only when every step succeeded.
func (w *Worker) Poll(ctx context.Context) (*source.Snapshot, error) {
	snap, err := w.adapter.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if w.rewards == nil {
		return snap, nil
	}

	res, err := w.detector.Observe(ctx, snap.Indicator)
	if err != nil {
		return nil, fmt.Errorf("reward scan: %w", err)
	}
	if res.Scanned {
		w.metrics.ObserveScan(w.Name())
		w.logger.Info().
			Int("blocks_won", res.BlocksWon).
			Str("total", res.Total.String()).
			Bool("known", res.Known).
			Msg("reward history scanned")
	}
	w.rewards.ApplyRewards(snap, res)
	return snap, nil
}
