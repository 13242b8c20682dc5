package reward

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const defaultPageSize = 100

// Entry is one transaction or payout from a history source.
type Entry struct {
	Height    uint64
	Timestamp int64
	Amount    decimal.Decimal
	Outbound  bool
}

// History exposes a paginated transaction/payout log.
type History interface {
	HistoryCount(ctx context.Context) (int, error)
	HistoryPage(ctx context.Context, offset, limit int) ([]Entry, error)
}

// Policy controls how a history is scanned and which entries are rewards.
type Policy struct {
	// Epochs selects amount-range matching. Nil counts every inbound entry.
	Epochs    *EpochTable
	Tolerance decimal.Decimal
	PageSize  int
	// Limit caps the number of entries read per scan; 0 reads everything.
	Limit int
}

// Cache is the detection state carried across polls of one source.
type Cache struct {
	LastSeenMarker decimal.Decimal
	LastWin        int64
	Stale          bool
	Scanned        bool
	BlocksWon      int
	Total          decimal.Decimal
}

// Result is what one Observe call reports.
type Result struct {
	BlocksWon    int
	Total        decimal.Decimal
	LastWin      time.Time
	SinceLastWin time.Duration
	// Known is false until a reward entry has been observed.
	Known   bool
	Scanned bool
}

// Tally summarises the reward entries found in one scan.
type Tally struct {
	Count   int
	LastWin int64
	Total   decimal.Decimal
}

// Detector decides block wins for one source. It is not safe for concurrent
// use; the owning worker calls it sequentially.
type Detector struct {
	history History
	policy  Policy
	cache   Cache

	Now func() time.Time
}

// NewDetector builds a detector with a zeroed cache.
func NewDetector(history History, policy Policy) *Detector {
	if policy.PageSize <= 0 {
		policy.PageSize = defaultPageSize
	}
	return &Detector{history: history, policy: policy, Now: time.Now}
}

// Cache returns a copy of the current detection state.
func (d *Detector) Cache() Cache {
	return d.cache
}

// Observe compares the change indicator with the cached marker and rescans the
// history only when it moved, a previous scan is still unconfirmed, or no scan
// has completed yet.
func (d *Detector) Observe(ctx context.Context, indicator decimal.Decimal) (Result, error) {
	if !d.cache.Scanned || d.cache.Stale || !indicator.Equal(d.cache.LastSeenMarker) {
		d.cache.LastSeenMarker = indicator
		d.cache.Stale = true

		entries, err := d.collect(ctx)
		if err != nil {
			return Result{}, err
		}
		d.commit(Count(entries, d.policy.Epochs, d.policy.Tolerance))

		res := d.result()
		res.Scanned = true
		return res, nil
	}
	return d.result(), nil
}

func (d *Detector) commit(t Tally) {
	switch {
	case !d.cache.Scanned || t.LastWin > d.cache.LastWin:
		d.cache.LastWin = t.LastWin
		d.cache.Total = t.Total
	case t.LastWin == 0 && d.cache.LastWin == 0:
		// nothing won yet; no confirmation to wait for
	default:
		// the indicator moved but the history has not caught up
		return
	}
	if t.Count > d.cache.BlocksWon {
		d.cache.BlocksWon = t.Count
	}
	d.cache.Scanned = true
	d.cache.Stale = false
}

func (d *Detector) result() Result {
	res := Result{BlocksWon: d.cache.BlocksWon, Total: d.cache.Total}
	if d.cache.LastWin == 0 {
		return res
	}
	res.Known = true
	res.LastWin = time.Unix(d.cache.LastWin, 0).UTC()
	if since := d.Now().Sub(res.LastWin); since > 0 {
		res.SinceLastWin = since
	}
	return res
}

func (d *Detector) collect(ctx context.Context) ([]Entry, error) {
	total, err := d.history.HistoryCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("history count: %w", err)
	}
	if d.policy.Limit > 0 && total > d.policy.Limit {
		total = d.policy.Limit
	}

	entries := make([]Entry, 0, total)
	for offset := 0; offset < total; offset += d.policy.PageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		want := min(d.policy.PageSize, total-offset)
		page, err := d.history.HistoryPage(ctx, offset, want)
		if err != nil {
			return nil, fmt.Errorf("history page at %d: %w", offset, err)
		}
		entries = append(entries, page...)
	}
	return entries, nil
}

// Count finds reward entries. With an epoch table an inbound entry is a reward
// iff its amount lies in [reward, reward+tolerance] for the epoch active at
// its height; without one every inbound entry counts.
func Count(entries []Entry, epochs *EpochTable, tolerance decimal.Decimal) Tally {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Height < sorted[j].Height })

	var cursor *Cursor
	if epochs != nil {
		cursor = epochs.Cursor()
	}

	var t Tally
	for _, e := range sorted {
		if e.Outbound {
			continue
		}
		if cursor != nil {
			amount, ok := cursor.AmountAt(e.Height)
			if !ok || e.Amount.LessThan(amount) || e.Amount.GreaterThan(amount.Add(tolerance)) {
				continue
			}
		}
		t.Count++
		t.Total = t.Total.Add(e.Amount)
		if e.Timestamp > t.LastWin {
			t.LastWin = e.Timestamp
		}
	}
	return t
}
