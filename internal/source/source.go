package source

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"farm-exporter/internal/reward"
)

var (
	// ErrConnectivity indicates the remote endpoint was unreachable or answered
	// with a non-success status.
	ErrConnectivity = errors.New("source: endpoint unavailable")
	// ErrProtocol indicates a response that could not be decoded into the
	// expected shape.
	ErrProtocol = errors.New("source: unexpected response")
	// ErrNotConfigured indicates a required identifier was never set.
	ErrNotConfigured = errors.New("source: not configured")
)

// Adapter fetches one full snapshot of an external system per call.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context) (*Snapshot, error)
}

// RewardSource is an adapter whose history can be scanned for block wins.
type RewardSource interface {
	Adapter
	reward.History
	RewardPolicy() reward.Policy
	ApplyRewards(snap *Snapshot, res reward.Result)
}

// Metric is one named sample of a snapshot.
type Metric struct {
	Name  string
	Help  string
	Value float64
}

// Snapshot is the metric set produced by one poll of one source.
type Snapshot struct {
	Source    string
	FetchedAt time.Time
	// Indicator is the cheap reward change indicator of reward sources.
	Indicator decimal.Decimal

	metrics []Metric
	index   map[string]int
}

// NewSnapshot starts an empty snapshot for a source.
func NewSnapshot(source string) *Snapshot {
	return &Snapshot{
		Source:    source,
		FetchedAt: time.Now().UTC(),
		index:     make(map[string]int),
	}
}

// Set records or overwrites a metric value.
func (s *Snapshot) Set(name, help string, value float64) {
	if i, ok := s.index[name]; ok {
		s.metrics[i].Value = value
		return
	}
	s.index[name] = len(s.metrics)
	s.metrics = append(s.metrics, Metric{Name: name, Help: help, Value: value})
}

// SetBool records a boolean as 1 or 0.
func (s *Snapshot) SetBool(name, help string, value bool) {
	v := 0.0
	if value {
		v = 1
	}
	s.Set(name, help, v)
}

// Value looks up a metric by name.
func (s *Snapshot) Value(name string) (float64, bool) {
	i, ok := s.index[name]
	if !ok {
		return 0, false
	}
	return s.metrics[i].Value, true
}

// Metrics returns a copy of the recorded metrics in insertion order.
func (s *Snapshot) Metrics() []Metric {
	out := make([]Metric, len(s.metrics))
	copy(out, s.metrics)
	return out
}

// Len reports the number of metrics.
func (s *Snapshot) Len() int {
	return len(s.metrics)
}

// SetRewards maps a detection result onto the conventional reward metrics of
// a source. unit scales the elapsed time (time.Second or time.Minute).
func SetRewards(snap *Snapshot, prefix string, res reward.Result, unit time.Duration) {
	snap.Set(prefix+"_blocks_won", "Reward entries found in the scanned history", float64(res.BlocksWon))
	snap.Set(prefix+"_reward_total", "Sum of reward entries found in the scanned history", res.Total.InexactFloat64())

	since, last := 0.0, 0.0
	if res.Known {
		since = float64(res.SinceLastWin / unit)
		last = float64(res.LastWin.Unix())
	}
	snap.Set(prefix+"_"+unitName(unit)+"_since_last_win", "Time elapsed since the most recent reward entry (0 when none seen)", since)
	snap.Set(prefix+"_last_win_timestamp", "Unix time of the most recent reward entry (0 when none seen)", last)
}

func unitName(unit time.Duration) string {
	if unit == time.Minute {
		return "minutes"
	}
	return "seconds"
}

// mojoToXCH converts the base unit of Chia amounts to XCH.
func mojoToXCH(mojo int64) decimal.Decimal {
	return decimal.New(mojo, -12)
}
