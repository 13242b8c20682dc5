// Package metrics holds the exporter's own operational metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "farm_exporter"

// Metrics are the poll and scan instruments shared by all workers. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	PollTotal       *prometheus.CounterVec
	PollDuration    *prometheus.HistogramVec
	PollLastSuccess *prometheus.GaugeVec
	ErrorSeconds    *prometheus.GaugeVec
	HistoryScans    *prometheus.CounterVec
	WorkerState     *prometheus.GaugeVec
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PollTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "total",
			Help:      "Total number of poll attempts per source.",
		}, []string{"source", "status"}),

		PollDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "duration_seconds",
			Help:      "Duration of a full poll per source in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"source"}),

		PollLastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "last_success_timestamp",
			Help:      "Unix timestamp of the last successful poll per source.",
		}, []string{"source"}),

		ErrorSeconds: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "error_seconds",
			Help:      "Accumulated seconds of failed polling per source.",
		}, []string{"source"}),

		HistoryScans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reward",
			Name:      "history_scans_total",
			Help:      "Full history scans performed per source.",
		}, []string{"source"}),

		WorkerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "state",
			Help:      "Current worker state per source (1 for the active state).",
		}, []string{"source", "state"}),
	}
}

// ObservePoll records the outcome of one poll.
func (m *Metrics) ObservePoll(source string, took time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	} else {
		m.PollLastSuccess.WithLabelValues(source).Set(float64(time.Now().Unix()))
	}
	m.PollTotal.WithLabelValues(source, status).Inc()
	m.PollDuration.WithLabelValues(source).Observe(took.Seconds())
}

// SetErrorSeconds mirrors a source's error counter.
func (m *Metrics) SetErrorSeconds(source string, total time.Duration) {
	if m == nil {
		return
	}
	m.ErrorSeconds.WithLabelValues(source).Set(total.Seconds())
}

// ObserveScan counts one full history scan.
func (m *Metrics) ObserveScan(source string) {
	if m == nil {
		return
	}
	m.HistoryScans.WithLabelValues(source).Inc()
}

// SetWorkerState marks state as the current one among states.
func (m *Metrics) SetWorkerState(source, state string, states []string) {
	if m == nil {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		m.WorkerState.WithLabelValues(source, s).Set(v)
	}
}
