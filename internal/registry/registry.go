// Package registry holds the latest published snapshot of every source and
// exposes it to Prometheus scrapes.
package registry

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"farm-exporter/internal/source"
)

type published struct {
	metrics []source.Metric
}

// Registry is an unchecked prometheus.Collector over source snapshots. A
// scrape sees either the whole snapshot of a source or nothing of it.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]published
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{sources: make(map[string]published)}
}

// Publish replaces every metric of sourceID with those of snap.
func (r *Registry) Publish(sourceID string, snap *source.Snapshot) {
	if snap == nil {
		r.Clear(sourceID)
		return
	}
	metrics := snap.Metrics()

	r.mu.Lock()
	r.sources[sourceID] = published{metrics: metrics}
	r.mu.Unlock()
}

// Clear withdraws all metrics of sourceID.
func (r *Registry) Clear(sourceID string) {
	r.mu.Lock()
	delete(r.sources, sourceID)
	r.mu.Unlock()
}

// Published reports how many metrics sourceID currently exposes.
func (r *Registry) Published(sourceID string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.sources[sourceID]
	return len(p.metrics), ok
}

// Describe implements prometheus.Collector. It sends nothing, which makes the
// registry an unchecked collector whose metric set may change between scrapes.
func (r *Registry) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sources))
	for id := range r.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	batches := make([][]source.Metric, 0, len(ids))
	for _, id := range ids {
		batches = append(batches, r.sources[id].metrics)
	}
	r.mu.RUnlock()

	for _, batch := range batches {
		for _, m := range batch {
			desc := prometheus.NewDesc(m.Name, m.Help, nil, nil)
			metric, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, m.Value)
			if err != nil {
				ch <- prometheus.NewInvalidMetric(desc, err)
				continue
			}
			ch <- metric
		}
	}
}

var _ prometheus.Collector = (*Registry)(nil)
