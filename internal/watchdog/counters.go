package watchdog

import (
	"sort"
	"sync"
	"time"
)

// Counters hold accumulated failed polling time per source. One lock guards
// every read and write; counters only grow.
type Counters struct {
	mu     sync.Mutex
	values map[string]time.Duration
}

// NewCounters returns zeroed counters for the named sources.
func NewCounters(sources ...string) *Counters {
	c := &Counters{values: make(map[string]time.Duration, len(sources))}
	for _, s := range sources {
		c.values[s] = 0
	}
	return c
}

// Add increases the counter of sourceID by d and returns the new total.
func (c *Counters) Add(sourceID string, d time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.values[sourceID] += d
	}
	return c.values[sourceID]
}

// Get returns the counter of sourceID.
func (c *Counters) Get(sourceID string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[sourceID]
}

// Entry is one counter value.
type Entry struct {
	Source string
	Total  time.Duration
}

// Snapshot returns every counter ordered by source name.
func (c *Counters) Snapshot() []Entry {
	c.mu.Lock()
	out := make([]Entry, 0, len(c.values))
	for s, v := range c.values {
		out = append(out, Entry{Source: s, Total: v})
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
