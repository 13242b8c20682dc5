package source

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"farm-exporter/internal/reward"
)

const (
	chiaNodeName = "chia_node"
	// chiaTargetBlockTime is 600s per 32 blocks.
	chiaTargetBlockTime = 18.75

	txOutgoing      = 1
	txOutgoingTrade = 5
)

// ChiaNodeOptions parameterise the local farming node adapter.
type ChiaNodeOptions struct {
	Host          string
	SSLDir        string
	FullNodePort  int
	WalletPort    int
	HarvesterPort int
	WalletID      int
	Timeout       time.Duration
	// AddressFilter keeps only transactions sent to one of these addresses.
	AddressFilter []string
	FeeTolerance  decimal.Decimal
	PageSize      int
	Limit         int
	// HTTPClient replaces the per-service mTLS clients when set.
	HTTPClient *http.Client
}

// ChiaNode samples harvester, full node and wallet state of a local farm.
type ChiaNode struct {
	opts      ChiaNodeOptions
	fullNode  *chiaRPC
	wallet    *chiaRPC
	harvester *chiaRPC
	epochs    *reward.EpochTable
	logger    zerolog.Logger
}

// NewChiaNode loads the client certificates and builds the adapter.
func NewChiaNode(opts ChiaNodeOptions, logger zerolog.Logger) (*ChiaNode, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.WalletID <= 0 {
		opts.WalletID = 1
	}
	opts.AddressFilter = cleanAddresses(opts.AddressFilter)

	n := &ChiaNode{
		opts:   opts,
		epochs: reward.ChiaFarmerRewards(),
		logger: logger.With().Str("component", "chia_node_source").Logger(),
	}

	services := []struct {
		name string
		port int
		dst  **chiaRPC
	}{
		{serviceFullNode, opts.FullNodePort, &n.fullNode},
		{serviceWallet, opts.WalletPort, &n.wallet},
		{serviceHarvester, opts.HarvesterPort, &n.harvester},
	}
	for _, svc := range services {
		client := opts.HTTPClient
		if client == nil {
			var err error
			client, err = newServiceClient(opts.SSLDir, svc.name, opts.Timeout)
			if err != nil {
				return nil, err
			}
		}
		*svc.dst = &chiaRPC{
			service:  svc.name,
			endpoint: "https://" + net.JoinHostPort(opts.Host, strconv.Itoa(svc.port)),
			client:   client,
		}
	}
	return n, nil
}

func cleanAddresses(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Name implements Adapter.
func (n *ChiaNode) Name() string { return chiaNodeName }

type plotInfo struct {
	FileSize      float64 `json:"file_size"`
	Size          int     `json:"size"`
	PoolPublicKey *string `json:"pool_public_key"`
}

type blockchainState struct {
	BlockchainState struct {
		Sync struct {
			Synced bool `json:"synced"`
		} `json:"sync"`
		Space float64 `json:"space"`
		Peak  *struct {
			Height uint64 `json:"height"`
		} `json:"peak"`
		AverageBlockTime *float64 `json:"average_block_time"`
	} `json:"blockchain_state"`
}

type farmedAmount struct {
	FarmedAmount     int64  `json:"farmed_amount"`
	LastHeightFarmed uint64 `json:"last_height_farmed"`
}

type walletTransaction struct {
	Amount            int64  `json:"amount"`
	Confirmed         bool   `json:"confirmed"`
	ConfirmedAtHeight uint64 `json:"confirmed_at_height"`
	CreatedAtTime     int64  `json:"created_at_time"`
	Type              int    `json:"type"`
	ToAddress         string `json:"to_address"`
}

type plotTotals struct {
	ogCount, portableCount         int
	ogSize, portableSize           float64
	k32OG, k33OG, k32Port, k33Port int
}

func tallyPlots(plots []plotInfo) plotTotals {
	var t plotTotals
	for _, p := range plots {
		og := p.PoolPublicKey != nil && *p.PoolPublicKey != ""
		switch {
		case og:
			t.ogCount++
			t.ogSize += p.FileSize
		default:
			t.portableCount++
			t.portableSize += p.FileSize
		}
		switch {
		case p.Size == 32 && og:
			t.k32OG++
		case p.Size == 33 && og:
			t.k33OG++
		case p.Size == 32:
			t.k32Port++
		case p.Size == 33:
			t.k33Port++
		}
	}
	return t
}

// Fetch implements Adapter.
func (n *ChiaNode) Fetch(ctx context.Context) (*Snapshot, error) {
	snap := NewSnapshot(chiaNodeName)

	n.logger.Debug().Msg("fetching harvester state")
	var plots struct {
		Plots []plotInfo `json:"plots"`
	}
	if err := n.harvester.call(ctx, "get_plots", nil, &plots); err != nil {
		return nil, err
	}
	t := tallyPlots(plots.Plots)
	snap.Set("chia_stats_og_count", "Total number of og plots", float64(t.ogCount))
	snap.Set("chia_stats_og_size", "Total size of og plots", t.ogSize)
	snap.Set("chia_stats_portable_count", "Total number of portable plots", float64(t.portableCount))
	snap.Set("chia_stats_portable_size", "Total size of portable plots", t.portableSize)
	snap.Set("chia_stats_plots_k32_og", "Number of og k32 plots", float64(t.k32OG))
	snap.Set("chia_stats_plots_k33_og", "Number of og k33 plots", float64(t.k33OG))
	snap.Set("chia_stats_plots_k32_portable", "Number of portable k32 plots", float64(t.k32Port))
	snap.Set("chia_stats_plots_k33_portable", "Number of portable k33 plots", float64(t.k33Port))

	n.logger.Debug().Msg("fetching blockchain state")
	var state blockchainState
	if err := n.fullNode.call(ctx, "get_blockchain_state", nil, &state); err != nil {
		return nil, err
	}
	bs := state.BlockchainState
	blockTime := chiaTargetBlockTime
	if bs.AverageBlockTime != nil && *bs.AverageBlockTime > 0 {
		blockTime = *bs.AverageBlockTime
	}
	snap.SetBool("chia_stats_sync_status", "Blockchain synced status", bs.Sync.Synced)
	snap.Set("chia_stats_total_size", "Total network space", bs.Space)
	if bs.Peak != nil {
		snap.Set("chia_stats_peak_height", "Height of the full node peak", float64(bs.Peak.Height))
	}
	snap.Set("chia_stats_ttw", "OG time to win in seconds", timeToWin(blockTime, t.ogSize, bs.Space))

	n.logger.Debug().Msg("fetching wallet state")
	var farmed farmedAmount
	if err := n.wallet.call(ctx, "get_farmed_amount", nil, &farmed); err != nil {
		return nil, err
	}
	snap.Indicator = decimal.NewFromInt(farmed.FarmedAmount)
	snap.Set("chia_stats_chia_farmed", "XCH farmed", mojoToXCH(farmed.FarmedAmount).InexactFloat64())
	snap.Set("chia_stats_last_height_farmed", "Height of the last farmed block", float64(farmed.LastHeightFarmed))

	var height struct {
		Height uint64 `json:"height"`
	}
	if err := n.wallet.call(ctx, "get_height_info", nil, &height); err != nil {
		return nil, err
	}
	snap.Set("chia_stats_current_height", "Wallet height", float64(height.Height))

	var balance struct {
		WalletBalance struct {
			ConfirmedWalletBalance int64 `json:"confirmed_wallet_balance"`
		} `json:"wallet_balance"`
	}
	if err := n.wallet.call(ctx, "get_wallet_balance", map[string]int{"wallet_id": n.opts.WalletID}, &balance); err != nil {
		return nil, err
	}
	snap.Set("chia_stats_wallet_funds", "Confirmed wallet balance in XCH", mojoToXCH(balance.WalletBalance.ConfirmedWalletBalance).InexactFloat64())

	return snap, nil
}

// timeToWin estimates seconds between wins for a farm of ogSize bytes.
func timeToWin(blockTime, ogSize, space float64) float64 {
	if ogSize <= 0 || space <= 0 {
		return 0
	}
	return float64(int64(blockTime / (ogSize / space)))
}

// HistoryCount implements reward.History over the wallet's transactions.
func (n *ChiaNode) HistoryCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := n.wallet.call(ctx, "get_transaction_count", map[string]int{"wallet_id": n.opts.WalletID}, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// HistoryPage implements reward.History. Newest transactions come first so a
// history limit keeps the most recent wins.
func (n *ChiaNode) HistoryPage(ctx context.Context, offset, limit int) ([]reward.Entry, error) {
	params := map[string]any{
		"wallet_id": n.opts.WalletID,
		"start":     offset,
		"end":       offset + limit,
		"reverse":   true,
	}
	var out struct {
		Transactions []walletTransaction `json:"transactions"`
	}
	if err := n.wallet.call(ctx, "get_transactions", params, &out); err != nil {
		return nil, err
	}

	entries := make([]reward.Entry, 0, len(out.Transactions))
	for _, tx := range out.Transactions {
		if !tx.Confirmed {
			continue
		}
		if len(n.opts.AddressFilter) > 0 && !slices.Contains(n.opts.AddressFilter, tx.ToAddress) {
			continue
		}
		entries = append(entries, reward.Entry{
			Height:    tx.ConfirmedAtHeight,
			Timestamp: tx.CreatedAtTime,
			Amount:    mojoToXCH(tx.Amount),
			Outbound:  tx.Type == txOutgoing || tx.Type == txOutgoingTrade,
		})
	}
	return entries, nil
}

// RewardPolicy implements RewardSource: farmer coins matched against the
// halving schedule with a fee tolerance.
func (n *ChiaNode) RewardPolicy() reward.Policy {
	return reward.Policy{
		Epochs:    n.epochs,
		Tolerance: n.opts.FeeTolerance,
		PageSize:  n.opts.PageSize,
		Limit:     n.opts.Limit,
	}
}

// ApplyRewards implements RewardSource.
func (n *ChiaNode) ApplyRewards(snap *Snapshot, res reward.Result) {
	SetRewards(snap, "chia_stats", res, time.Second)
}

// Version returns the version string reported by the full node.
func (n *ChiaNode) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := n.fullNode.call(ctx, "get_version", nil, &out); err != nil {
		return "", err
	}
	if out.Version == "" {
		return "", fmt.Errorf("%w: full_node/get_version returned no version", ErrProtocol)
	}
	return out.Version, nil
}

var _ RewardSource = (*ChiaNode)(nil)
