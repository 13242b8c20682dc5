package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObservePoll(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObservePoll("openchia", time.Second, nil)
	m.ObservePoll("openchia", time.Second, errors.New("down"))
	m.ObservePoll("openchia", time.Second, errors.New("down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollTotal.WithLabelValues("openchia", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PollTotal.WithLabelValues("openchia", "error")))
	assert.Positive(t, testutil.ToFloat64(m.PollLastSuccess.WithLabelValues("openchia")))
}

func TestWorkerStateIsOneHot(t *testing.T) {
	m := New(prometheus.NewRegistry())
	states := []string{"idle", "polling", "sleeping"}

	m.SetWorkerState("chia_node", "polling", states)
	m.SetWorkerState("chia_node", "sleeping", states)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.WorkerState.WithLabelValues("chia_node", "polling")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkerState.WithLabelValues("chia_node", "sleeping")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObservePoll("x", time.Second, nil)
	m.SetErrorSeconds("x", time.Minute)
	m.ObserveScan("x")
	m.SetWorkerState("x", "idle", []string{"idle"})
}

func TestErrorSeconds(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetErrorSeconds("truepool", 3*time.Minute)
	assert.Equal(t, 180.0, testutil.ToFloat64(m.ErrorSeconds.WithLabelValues("truepool")))
}
