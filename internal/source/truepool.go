package source

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"farm-exporter/internal/reward"
)

const (
	truePoolName         = "truepool"
	truePoolDefaultURL   = "https://truepool.io/v1/pool"
	truePoolPartialLimit = 500
)

// TruePoolOptions parameterise the TruePool adapter.
type TruePoolOptions struct {
	BaseURL    string
	LauncherID string
	Timeout    time.Duration
	UserAgent  string
	PageSize   int
	Limit      int
}

// TruePool samples pool and farmer statistics from the TruePool REST API.
type TruePool struct {
	opts   TruePoolOptions
	rest   *restClient
	logger zerolog.Logger
	now    func() time.Time
}

// NewTruePool constructs a TruePool adapter.
func NewTruePool(opts TruePoolOptions, logger zerolog.Logger) *TruePool {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = truePoolDefaultURL
	}
	opts.LauncherID = strings.TrimSpace(opts.LauncherID)
	return &TruePool{
		opts:   opts,
		rest:   newRESTClient(truePoolName, baseURL, opts.UserAgent, opts.Timeout),
		logger: logger.With().Str("component", "truepool_source").Logger(),
		now:    time.Now,
	}
}

// Name implements Adapter.
func (p *TruePool) Name() string { return truePoolName }

type truePoolInfo struct {
	TotalSize           float64 `json:"total_size"`
	TotalFarmers        int     `json:"total_farmers"`
	MinutesToWin        float64 `json:"minutes_to_win"`
	TotalRewardsHeights int64   `json:"total_rewards_heights"`
}

type truePoolFarmer struct {
	Points            float64 `json:"points"`
	Difficulty        float64 `json:"difficulty"`
	PointsPercentage  float64 `json:"points_percentage"`
	FarmEstimatedSize float64 `json:"farm_estimated_size"`
}

type truePoolPayout struct {
	Amount int64 `json:"amount"`
	Payout struct {
		Datetime string `json:"datetime"`
		Height   uint64 `json:"height"`
	} `json:"payout"`
}

// Fetch implements Adapter.
func (p *TruePool) Fetch(ctx context.Context) (*Snapshot, error) {
	if p.opts.LauncherID == "" {
		return nil, fmt.Errorf("%w: truepool launcher id", ErrNotConfigured)
	}
	snap := NewSnapshot(truePoolName)

	var info truePoolInfo
	if err := p.rest.getJSON(ctx, "/info", nil, &info); err != nil {
		return nil, err
	}
	snap.Indicator = decimal.NewFromInt(info.TotalRewardsHeights)
	snap.Set("truepool_pool_total_size", "Total pool space in bytes", info.TotalSize)
	snap.Set("truepool_pool_total_farmers", "Farmers in the pool", float64(info.TotalFarmers))
	snap.Set("truepool_pool_minutes_to_win", "Estimated minutes to the next pool win", info.MinutesToWin)
	snap.Set("truepool_pool_blocks_won", "Blocks won by the pool", float64(info.TotalRewardsHeights))

	var board struct {
		Results []launcherRef `json:"results"`
	}
	query := url.Values{}
	query.Set("ordering", "-points")
	query.Set("limit", strconv.Itoa(max(info.TotalFarmers, 1)))
	if err := p.rest.getJSON(ctx, "/farmer", query, &board); err != nil {
		return nil, err
	}
	rank, err := rankOf(board.Results, p.opts.LauncherID)
	if err != nil {
		return nil, err
	}
	snap.Set("truepool_farmer_ranking", "Farmer position ordered by points", float64(rank))

	var farmers struct {
		Results []truePoolFarmer `json:"results"`
	}
	query = url.Values{}
	query.Set("launcher_id", p.opts.LauncherID)
	if err := p.rest.getJSON(ctx, "/farmer/", query, &farmers); err != nil {
		return nil, err
	}
	if len(farmers.Results) == 0 {
		return nil, fmt.Errorf("%w: truepool has no farmer %s", ErrProtocol, p.opts.LauncherID)
	}
	farmer := farmers.Results[0]
	snap.Set("truepool_farmer_points", "Farmer points", farmer.Points)
	snap.Set("truepool_farmer_difficulty", "Farmer partial difficulty", farmer.Difficulty)
	snap.Set("truepool_farmer_points_percentage", "Farmer share of pool points", farmer.PointsPercentage)
	snap.Set("truepool_farmer_estimated_size", "Estimated farmer size in bytes", farmer.FarmEstimatedSize)

	var partials struct {
		Results []partialRow `json:"results"`
	}
	query = url.Values{}
	query.Set("launcher_id", p.opts.LauncherID)
	query.Set("start_timestamp", strconv.FormatInt(p.now().Add(-24*time.Hour).Unix(), 10))
	query.Set("limit", strconv.Itoa(truePoolPartialLimit))
	if err := p.rest.getJSON(ctx, "/partial/", query, &partials); err != nil {
		return nil, err
	}
	snap.Set("truepool_partial_errors_24h", "Partials with errors in the last 24h", float64(countPartialErrors(partials.Results)))

	return snap, nil
}

// HistoryCount implements reward.History over the farmer's payouts.
func (p *TruePool) HistoryCount(ctx context.Context) (int, error) {
	page, err := p.payouts(ctx, 0, 1)
	if err != nil {
		return 0, err
	}
	return page.Count, nil
}

// HistoryPage implements reward.History.
func (p *TruePool) HistoryPage(ctx context.Context, offset, limit int) ([]reward.Entry, error) {
	page, err := p.payouts(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]reward.Entry, 0, len(page.Results))
	for _, row := range page.Results {
		e := reward.Entry{Height: row.Payout.Height, Amount: mojoToXCH(row.Amount)}
		if row.Payout.Datetime != "" {
			ts, err := time.Parse(time.RFC3339, row.Payout.Datetime)
			if err != nil {
				return nil, fmt.Errorf("%w: truepool payout datetime %q", ErrProtocol, row.Payout.Datetime)
			}
			e.Timestamp = ts.Unix()
		}
		entries = append(entries, e)
	}
	return entries, nil
}

type truePoolPayoutPage struct {
	Count   int              `json:"count"`
	Results []truePoolPayout `json:"results"`
}

func (p *TruePool) payouts(ctx context.Context, offset, limit int) (truePoolPayoutPage, error) {
	if p.opts.LauncherID == "" {
		return truePoolPayoutPage{}, fmt.Errorf("%w: truepool launcher id", ErrNotConfigured)
	}
	query := url.Values{}
	query.Set("farmer", p.opts.LauncherID)
	query.Set("ordering", newestFirst)
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	var page truePoolPayoutPage
	if err := p.rest.getJSON(ctx, "/payout_address/", query, &page); err != nil {
		return truePoolPayoutPage{}, err
	}
	return page, nil
}

// RewardPolicy implements RewardSource.
func (p *TruePool) RewardPolicy() reward.Policy {
	return reward.Policy{PageSize: p.opts.PageSize, Limit: p.opts.Limit}
}

// ApplyRewards implements RewardSource.
func (p *TruePool) ApplyRewards(snap *Snapshot, res reward.Result) {
	SetRewards(snap, "truepool_farmer", res, time.Minute)
	snap.Set("truepool_farmer_pool_earnings", "Sum of farmer payouts in XCH", res.Total.InexactFloat64())
}

var _ RewardSource = (*TruePool)(nil)
