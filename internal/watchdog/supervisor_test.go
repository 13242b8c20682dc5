package watchdog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farm-exporter/internal/registry"
	"farm-exporter/internal/source"
	"farm-exporter/internal/worker"
)

type stubRunner struct {
	name    string
	stopped atomic.Bool
	ignore  bool
}

func (r *stubRunner) Name() string { return r.name }

func (r *stubRunner) Run(ctx context.Context) error {
	if r.ignore {
		select {}
	}
	<-ctx.Done()
	r.stopped.Store(true)
	return nil
}

type stubAdapter struct {
	name    string
	err     error
	fetches atomic.Int32
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Fetch(context.Context) (*source.Snapshot, error) {
	a.fetches.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	snap := source.NewSnapshot(a.name)
	snap.Set(a.name+"_up", "up", 1)
	return snap, nil
}

func TestCheckStrictlyGreater(t *testing.T) {
	c := NewCounters("chia_node")
	s := NewSupervisor(Options{Mode: ModeThreshold, ErrorThreshold: 150 * time.Second}, c, zerolog.Nop())

	for i := 0; i < 3; i++ {
		c.Add("chia_node", 60*time.Second)
	}
	assert.Equal(t, 180*time.Second, c.Get("chia_node"))
	assert.ErrorIs(t, s.Check(), ErrThresholdExceeded)

	c2 := NewCounters("chia_node")
	c2.Add("chia_node", 150*time.Second)
	s2 := NewSupervisor(Options{Mode: ModeThreshold, ErrorThreshold: 150 * time.Second}, c2, zerolog.Nop())
	assert.NoError(t, s2.Check())
}

func TestCountersOnlyGrow(t *testing.T) {
	c := NewCounters("a", "b")
	c.Add("a", time.Second)
	c.Add("a", -time.Hour)
	assert.Equal(t, time.Second, c.Get("a"))

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Source)
	assert.Equal(t, time.Duration(0), snap[1].Total)
}

func TestThresholdModeStopsAllWorkers(t *testing.T) {
	c := NewCounters("x")
	c.Add("x", 3*time.Minute)
	s := NewSupervisor(Options{
		Mode:           ModeThreshold,
		CheckInterval:  5 * time.Millisecond,
		ErrorThreshold: 150 * time.Second,
	}, c, zerolog.Nop())

	a, b := &stubRunner{name: "a"}, &stubRunner{name: "b"}
	outcome, err := s.Run(context.Background(), []Runner{a, b})
	assert.Equal(t, OutcomeThresholdExceeded, outcome)
	assert.ErrorIs(t, err, ErrThresholdExceeded)
	assert.True(t, a.stopped.Load())
	assert.True(t, b.stopped.Load())
}

func TestPassiveModeIgnoresCounters(t *testing.T) {
	c := NewCounters("x")
	c.Add("x", 24*time.Hour)
	s := NewSupervisor(Options{
		Mode:           ModePassive,
		CheckInterval:  time.Millisecond,
		ErrorThreshold: time.Second,
	}, c, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := &stubRunner{name: "a"}
	outcome, err := s.Run(ctx, []Runner{r})
	require.NoError(t, err)
	assert.Equal(t, OutcomeShutdown, outcome)
	assert.True(t, r.stopped.Load())
}

func TestSignalInThresholdMode(t *testing.T) {
	s := NewSupervisor(Options{
		Mode:           ModeThreshold,
		CheckInterval:  time.Hour,
		ErrorThreshold: time.Second,
	}, NewCounters(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome, err := s.Run(ctx, []Runner{&stubRunner{name: "a"}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeShutdown, outcome)
}

func TestShutdownTimeout(t *testing.T) {
	s := NewSupervisor(Options{Mode: ModePassive, ShutdownTimeout: 20 * time.Millisecond}, NewCounters(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome, err := s.Run(ctx, []Runner{&stubRunner{name: "stuck", ignore: true}})
	assert.Equal(t, OutcomeShutdown, outcome)
	assert.ErrorIs(t, err, ErrShutdownTimeout)
}

func TestOneFailingSourceBreachesWhileOtherPublishes(t *testing.T) {
	const interval = 20 * time.Millisecond
	counters := NewCounters("healthy", "broken")
	reg := registry.New()

	healthy := worker.New(&stubAdapter{name: "healthy"}, interval, reg, counters, nil, zerolog.Nop())
	broken := worker.New(&stubAdapter{name: "broken", err: source.ErrConnectivity}, interval, reg, counters, nil, zerolog.Nop())

	s := NewSupervisor(Options{
		Mode:           ModeThreshold,
		CheckInterval:  5 * time.Millisecond,
		ErrorThreshold: 2*interval + interval/2,
	}, counters, zerolog.Nop())

	outcome, err := s.Run(context.Background(), []Runner{healthy, broken})
	assert.Equal(t, OutcomeThresholdExceeded, outcome)
	require.ErrorIs(t, err, ErrThresholdExceeded)
	assert.Contains(t, err.Error(), "broken")

	assert.Equal(t, time.Duration(0), counters.Get("healthy"))
	assert.GreaterOrEqual(t, counters.Get("broken"), 3*interval)
	_, ok := reg.Published("healthy")
	assert.True(t, ok)
	_, ok = reg.Published("broken")
	assert.False(t, ok)
	assert.Equal(t, worker.StateTerminated, healthy.State())
	assert.Equal(t, worker.StateTerminated, broken.State())
}

func TestPassiveModeKeepsHealthySourcePublished(t *testing.T) {
	const (
		interval = 10 * time.Millisecond
		cycles   = 15
	)
	counters := NewCounters("healthy", "broken")
	reg := registry.New()

	good := &stubAdapter{name: "healthy"}
	bad := &stubAdapter{name: "broken", err: source.ErrConnectivity}
	healthy := worker.New(good, interval, reg, counters, nil, zerolog.Nop())
	broken := worker.New(bad, interval, reg, counters, nil, zerolog.Nop())

	s := NewSupervisor(Options{
		Mode:           ModePassive,
		CheckInterval:  interval,
		ErrorThreshold: interval,
	}, counters, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := s.Run(ctx, []Runner{healthy, broken})
		done <- outcome
	}()

	require.Eventually(t, func() bool {
		_, ok := reg.Published("healthy")
		return ok
	}, time.Second, time.Millisecond)

	var samples, gaps, leaks int
	deadline := time.Now().Add(cycles * interval)
	for time.Now().Before(deadline) {
		if _, ok := reg.Published("healthy"); !ok {
			gaps++
		}
		if _, ok := reg.Published("broken"); ok {
			leaks++
		}
		samples++
		time.Sleep(interval / 5)
	}
	cancel()

	select {
	case outcome := <-done:
		assert.Equal(t, OutcomeShutdown, outcome)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop")
	}

	assert.Greater(t, samples, cycles)
	assert.Zero(t, gaps, "healthy source metrics went missing")
	assert.Zero(t, leaks, "failing source metrics appeared")
	assert.GreaterOrEqual(t, int(good.fetches.Load()), 10)
	assert.GreaterOrEqual(t, int(bad.fetches.Load()), 10)
	assert.Greater(t, counters.Get("broken"), s.opts.ErrorThreshold)
	assert.Zero(t, counters.Get("healthy"))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Threshold ")
	require.NoError(t, err)
	assert.Equal(t, ModeThreshold, m)

	_, err = ParseMode("aggressive")
	assert.Error(t, err)
}
