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
	openChiaName            = "openchia"
	openChiaDefaultURL      = "https://openchia.io/api/v1.0"
	openChiaLauncherOrder   = "-points_pplns"
	openChiaPartialLimit    = 1400
	openChiaPayoutPageLimit = 2000
)

// OpenChiaOptions parameterise the OpenChia pool adapter.
type OpenChiaOptions struct {
	BaseURL    string
	LauncherID string
	Currency   string
	Timeout    time.Duration
	UserAgent  string
	PageSize   int
	Limit      int
}

// OpenChia samples pool and launcher statistics from the OpenChia REST API.
type OpenChia struct {
	opts   OpenChiaOptions
	rest   *restClient
	logger zerolog.Logger
	now    func() time.Time
}

// NewOpenChia constructs an OpenChia adapter.
func NewOpenChia(opts OpenChiaOptions, logger zerolog.Logger) *OpenChia {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = openChiaDefaultURL
	}
	opts.LauncherID = strings.TrimSpace(opts.LauncherID)
	opts.Currency = strings.ToLower(strings.TrimSpace(opts.Currency))
	if opts.Limit <= 0 {
		opts.Limit = openChiaPayoutPageLimit
	}
	return &OpenChia{
		opts:   opts,
		rest:   newRESTClient(openChiaName, baseURL, opts.UserAgent, opts.Timeout),
		logger: logger.With().Str("component", "openchia_source").Logger(),
		now:    time.Now,
	}
}

// Name implements Adapter.
func (o *OpenChia) Name() string { return openChiaName }

type openChiaStats struct {
	PoolSpace        float64            `json:"pool_space"`
	FarmersActive    int                `json:"farmers_active"`
	EstimateWin      float64            `json:"estimate_win"`
	RewardsBlocks    int64              `json:"rewards_blocks"`
	TimeSinceLastWin float64            `json:"time_since_last_win"`
	XCHCurrentPrice  map[string]float64 `json:"xch_current_price"`
}

type openChiaLauncher struct {
	Points        float64 `json:"points"`
	PointsPPLNS   float64 `json:"points_pplns"`
	Difficulty    float64 `json:"difficulty"`
	PointsOfTotal float64 `json:"points_of_total"`
	SharePPLNS    float64 `json:"share_pplns"`
	EstimatedSize float64 `json:"estimated_size"`
}

type openChiaPayout struct {
	Amount      int64 `json:"amount"`
	Transaction *struct {
		ConfirmedBlockIndex uint64 `json:"confirmed_block_index"`
		CreatedAtTime       int64  `json:"created_at_time"`
	} `json:"transaction"`
}

// Fetch implements Adapter.
func (o *OpenChia) Fetch(ctx context.Context) (*Snapshot, error) {
	if o.opts.LauncherID == "" {
		return nil, fmt.Errorf("%w: openchia launcher id", ErrNotConfigured)
	}
	snap := NewSnapshot(openChiaName)

	o.logger.Debug().Msg("fetching pool stats")
	var stats openChiaStats
	if err := o.rest.getJSON(ctx, "/stats", nil, &stats); err != nil {
		return nil, err
	}
	snap.Indicator = decimal.NewFromInt(stats.RewardsBlocks)
	snap.Set("openchia_pool_space", "Total pool space in bytes", stats.PoolSpace)
	snap.Set("openchia_pool_farmers", "Active pool farmers", float64(stats.FarmersActive))
	snap.Set("openchia_pool_estimate_win", "Estimated minutes to the next pool win", stats.EstimateWin)
	snap.Set("openchia_pool_rewards_blocks", "Blocks won by the pool", float64(stats.RewardsBlocks))
	snap.Set("openchia_pool_time_since_last_win", "Time since the last pool win as reported by the pool", stats.TimeSinceLastWin)
	if o.opts.Currency != "" {
		price, ok := stats.XCHCurrentPrice[o.opts.Currency]
		if !ok {
			return nil, fmt.Errorf("%w: openchia has no xch price in %q", ErrProtocol, o.opts.Currency)
		}
		snap.Set("openchia_xch_price", "XCH price in the configured currency", price)
	}

	o.logger.Debug().Msg("fetching launcher ranking")
	var board struct {
		Results []launcherRef `json:"results"`
	}
	query := url.Values{}
	query.Set("ordering", openChiaLauncherOrder)
	query.Set("limit", strconv.Itoa(max(stats.FarmersActive, 1)))
	if err := o.rest.getJSON(ctx, "/launcher", query, &board); err != nil {
		return nil, err
	}
	rank, err := rankOf(board.Results, o.opts.LauncherID)
	if err != nil {
		return nil, err
	}
	snap.Set("openchia_launcher_ranking", "Launcher position ordered by PPLNS points", float64(rank))

	o.logger.Debug().Msg("fetching launcher stats")
	var launcher openChiaLauncher
	if err := o.rest.getJSON(ctx, "/launcher/"+url.PathEscape(o.opts.LauncherID), nil, &launcher); err != nil {
		return nil, err
	}
	snap.Set("openchia_launcher_points", "Launcher points", launcher.Points)
	snap.Set("openchia_launcher_points_pplns", "Launcher PPLNS points", launcher.PointsPPLNS)
	snap.Set("openchia_launcher_difficulty", "Launcher partial difficulty", launcher.Difficulty)
	snap.Set("openchia_launcher_points_of_total", "Launcher share of total points", launcher.PointsOfTotal)
	snap.Set("openchia_launcher_share_pplns", "Launcher PPLNS share", launcher.SharePPLNS)
	snap.Set("openchia_launcher_estimated_size", "Estimated launcher farm size in bytes", launcher.EstimatedSize)

	o.logger.Debug().Msg("fetching partials")
	var partials struct {
		Results []partialRow `json:"results"`
	}
	query = url.Values{}
	query.Set("launcher", o.opts.LauncherID)
	query.Set("min_timestamp", strconv.FormatInt(o.now().Add(-24*time.Hour).Unix(), 10))
	query.Set("limit", strconv.Itoa(openChiaPartialLimit))
	if err := o.rest.getJSON(ctx, "/partial", query, &partials); err != nil {
		return nil, err
	}
	snap.Set("openchia_partial_errors_24h", "Partials with errors in the last 24h", float64(countPartialErrors(partials.Results)))

	return snap, nil
}

// HistoryCount implements reward.History over the launcher's payouts.
func (o *OpenChia) HistoryCount(ctx context.Context) (int, error) {
	page, err := o.payouts(ctx, 0, 1)
	if err != nil {
		return 0, err
	}
	return page.Count, nil
}

// HistoryPage implements reward.History.
func (o *OpenChia) HistoryPage(ctx context.Context, offset, limit int) ([]reward.Entry, error) {
	page, err := o.payouts(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]reward.Entry, 0, len(page.Results))
	for _, p := range page.Results {
		e := reward.Entry{Amount: mojoToXCH(p.Amount)}
		if p.Transaction != nil {
			e.Height = p.Transaction.ConfirmedBlockIndex
			e.Timestamp = p.Transaction.CreatedAtTime
		}
		entries = append(entries, e)
	}
	return entries, nil
}

type openChiaPayoutPage struct {
	Count   int              `json:"count"`
	Results []openChiaPayout `json:"results"`
}

func (o *OpenChia) payouts(ctx context.Context, offset, limit int) (openChiaPayoutPage, error) {
	if o.opts.LauncherID == "" {
		return openChiaPayoutPage{}, fmt.Errorf("%w: openchia launcher id", ErrNotConfigured)
	}
	query := url.Values{}
	query.Set("launcher", o.opts.LauncherID)
	query.Set("ordering", newestFirst)
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	var page openChiaPayoutPage
	if err := o.rest.getJSON(ctx, "/payoutaddress/", query, &page); err != nil {
		return openChiaPayoutPage{}, err
	}
	return page, nil
}

// RewardPolicy implements RewardSource. Every payout is a reward event.
func (o *OpenChia) RewardPolicy() reward.Policy {
	return reward.Policy{PageSize: o.opts.PageSize, Limit: o.opts.Limit}
}

// ApplyRewards implements RewardSource.
func (o *OpenChia) ApplyRewards(snap *Snapshot, res reward.Result) {
	SetRewards(snap, "openchia_launcher", res, time.Minute)
	snap.Set("openchia_launcher_pool_earnings", "Sum of launcher payouts in XCH", res.Total.InexactFloat64())
}

var _ RewardSource = (*OpenChia)(nil)
