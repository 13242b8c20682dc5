package reward

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Epoch is a height range over which the per-block reward amount is constant.
type Epoch struct {
	Height uint64
	Amount decimal.Decimal
}

// EpochTable is an immutable halving schedule ordered by activation height.
type EpochTable struct {
	epochs []Epoch
}

// NewEpochTable validates and copies a reward schedule. Heights must be
// strictly increasing and amounts strictly decreasing.
func NewEpochTable(epochs ...Epoch) (*EpochTable, error) {
	if len(epochs) == 0 {
		return nil, errors.New("reward: epoch table must not be empty")
	}
	out := make([]Epoch, len(epochs))
	copy(out, epochs)
	for i := 1; i < len(out); i++ {
		if out[i].Height <= out[i-1].Height {
			return nil, fmt.Errorf("reward: epoch %d height %d not above %d", i, out[i].Height, out[i-1].Height)
		}
		if !out[i].Amount.LessThan(out[i-1].Amount) {
			return nil, fmt.Errorf("reward: epoch %d amount %s not below %s", i, out[i].Amount, out[i-1].Amount)
		}
	}
	return &EpochTable{epochs: out}, nil
}

// MustEpochTable is NewEpochTable for static schedules.
func MustEpochTable(epochs ...Epoch) *EpochTable {
	t, err := NewEpochTable(epochs...)
	if err != nil {
		panic(err)
	}
	return t
}

const chiaBlocksPerYear = 1681920

// ChiaFarmerRewards is the farmer-coin schedule of the Chia mainnet, in XCH.
// A solo farmer receives one such coin (plus transaction fees) per block won.
func ChiaFarmerRewards() *EpochTable {
	return MustEpochTable(
		Epoch{Height: 0, Amount: decimal.RequireFromString("0.25")},
		Epoch{Height: 3 * chiaBlocksPerYear, Amount: decimal.RequireFromString("0.125")},
		Epoch{Height: 6 * chiaBlocksPerYear, Amount: decimal.RequireFromString("0.0625")},
		Epoch{Height: 9 * chiaBlocksPerYear, Amount: decimal.RequireFromString("0.03125")},
		Epoch{Height: 12 * chiaBlocksPerYear, Amount: decimal.RequireFromString("0.015625")},
	)
}

// Epochs returns a copy of the schedule.
func (t *EpochTable) Epochs() []Epoch {
	out := make([]Epoch, len(t.epochs))
	copy(out, t.epochs)
	return out
}

// AmountAt returns the reward of the epoch with the greatest activation
// height not exceeding height.
func (t *EpochTable) AmountAt(height uint64) (decimal.Decimal, bool) {
	idx := t.search(height)
	if idx < 0 {
		return decimal.Decimal{}, false
	}
	return t.epochs[idx].Amount, true
}

func (t *EpochTable) search(height uint64) int {
	return sort.Search(len(t.epochs), func(i int) bool {
		return t.epochs[i].Height > height
	}) - 1
}

// Cursor walks the schedule forward for height-ordered input.
func (t *EpochTable) Cursor() *Cursor {
	return &Cursor{table: t}
}

// Cursor selects epoch amounts with a single forward pointer. Heights that go
// backwards fall back to a search.
type Cursor struct {
	table *EpochTable
	idx   int
}

// AmountAt returns the reward applicable at height.
func (c *Cursor) AmountAt(height uint64) (decimal.Decimal, bool) {
	epochs := c.table.epochs
	if height < epochs[c.idx].Height {
		idx := c.table.search(height)
		if idx < 0 {
			return decimal.Decimal{}, false
		}
		c.idx = idx
	}
	for c.idx+1 < len(epochs) && height >= epochs[c.idx+1].Height {
		c.idx++
	}
	return epochs[c.idx].Amount, true
}
