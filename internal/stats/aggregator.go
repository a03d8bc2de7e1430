package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/curvestream/indexer/internal/config"
	"github.com/curvestream/indexer/internal/database"
	"github.com/curvestream/indexer/internal/ledger"
	"github.com/curvestream/indexer/internal/modules/core"
	"github.com/curvestream/indexer/internal/prices"
)

// Price sources recorded on the stats row.
const (
	SourceCurveView  = "curve_view"
	SourceCurveTrade = "curve_trade"
	SourcePairSync   = "pair_sync"
	SourceDexTrade   = "dex_trade"
	SourceNone       = "none"
)

// Store is what the aggregator reads and writes.
type Store interface {
	database.StatsStore
	database.BalanceStore
	Trades(ctx context.Context, tokenID int64, since time.Time) ([]*database.TransferRecord, error)
	LastTradeBefore(ctx context.Context, tokenID int64, before time.Time) (*database.TransferRecord, error)
	LastTrade(ctx context.Context, tokenID int64, source database.Source) (*database.TransferRecord, error)
	GetPool(ctx context.Context, tokenID int64) (*database.DexPool, error)
	LatestSnapshot(ctx context.Context, chainID int64, pair common.Address) (*database.PairSnapshot, error)
}

// Aggregator recomputes a token's candles over a trailing window and its
// summary row.
type Aggregator struct {
	store        Store
	prices       prices.Provider
	currentPrice core.Selector
	window       time.Duration
	bucket       time.Duration
	now          func() time.Time
}

func NewAggregator(store Store, priceProvider prices.Provider, manifest *core.Resolved, cfg config.AggregatorConfig) *Aggregator {
	a := &Aggregator{
		store:        store,
		prices:       priceProvider,
		currentPrice: manifest.CurrentPrice,
		window:       cfg.Window,
		bucket:       cfg.Bucket,
		now:          time.Now,
	}
	if a.bucket <= 0 {
		a.bucket = 4 * time.Hour
	}
	if a.window < a.bucket {
		a.window = 168 * time.Hour
	}
	return a
}

func (a *Aggregator) Name() string { return "stats" }

func (a *Aggregator) Run(ctx context.Context, job *core.TokenJob) error {
	logger := job.Logger.With().Str("component", "aggregator").Logger()
	token := job.Token
	now := a.now().UTC()

	pool, err := a.store.GetPool(ctx, token.ID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		pool = nil
	case err != nil:
		return fmt.Errorf("get pool: %w", err)
	}

	candles, err := a.candles(ctx, token, pool, now)
	if err != nil {
		return err
	}

	price, source, err := a.latestPrice(ctx, job, pool, logger)
	if err != nil {
		return err
	}

	balances, err := a.store.Balances(ctx, token.ID)
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}
	ex := ledger.NewExcluded(token.Address)
	if pool != nil {
		ex = ledger.NewExcluded(token.Address, pool.PairAddress)
	}
	supply := SupplyFrom(balances, token.Decimals, ex)

	day, err := a.store.Trades(ctx, token.ID, now.Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("load 24h trades: %w", err)
	}
	vol, volUSD := decimal.Zero, decimal.Zero
	for _, r := range day {
		eth, usd := TradeVolume(r, pool)
		vol, volUSD = vol.Add(eth), volUSD.Add(usd)
	}

	ethUSD, ok := a.prices.PriceETHUSD(ctx)
	if !ok {
		logger.Warn().Msg("No ETH/USD rate, USD figures left at zero")
		ethUSD = decimal.Zero
	}

	stats := &database.TokenStats{
		TokenID:           token.ID,
		PriceETH:          price,
		PriceUSD:          price.Mul(ethUSD),
		PriceSource:       source,
		MarketCapETH:      supply.Circulating.Mul(price),
		MarketCapUSD:      supply.Circulating.Mul(price).Mul(ethUSD),
		FDVETH:            supply.Total.Mul(price),
		FDVUSD:            supply.Total.Mul(price).Mul(ethUSD),
		CirculatingSupply: supply.Circulating,
		TotalSupply:       supply.Total,
		HolderCount:       ledger.HolderCount(balances, ex),
		Volume24hETH:      vol,
		Volume24hUSD:      volUSD,
		Trades24h:         len(day),
		Graduated:         pool != nil || token.Graduated,
		UpdatedAt:         now,
	}
	if err := a.store.UpsertStats(ctx, stats); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}

	logger.Info().
		Int("candles", candles).
		Str("price", price.String()).
		Str("price_source", source).
		Int("holders", stats.HolderCount).
		Int("trades_24h", stats.Trades24h).
		Msg("Stats updated")
	return nil
}

func (a *Aggregator) candles(ctx context.Context, token *database.Token, pool *database.DexPool, now time.Time) (int, error) {
	from := now.Add(-a.window).Truncate(a.bucket)

	trades, err := a.store.Trades(ctx, token.ID, from)
	if err != nil {
		return 0, fmt.Errorf("load trades: %w", err)
	}
	seed, err := a.store.LastTradeBefore(ctx, token.ID, from)
	switch {
	case errors.Is(err, database.ErrNotFound):
		seed = nil
	case err != nil:
		return 0, fmt.Errorf("load seed trade: %w", err)
	}

	interval := IntervalLabel(a.bucket)
	charts := BuildCandles(token.ID, interval, a.bucket, from, now, trades, seed, pool)
	if err := a.store.UpsertCharts(ctx, token.ID, interval, from, charts); err != nil {
		return 0, fmt.Errorf("write charts: %w", err)
	}
	return len(charts), nil
}

// latestPrice reads the curve's spot price before graduation and the pair's
// latest reserves after. Each falls back to the last recorded trade of the
// same market.
func (a *Aggregator) latestPrice(ctx context.Context, job *core.TokenJob, pool *database.DexPool, logger zerolog.Logger) (decimal.Decimal, string, error) {
	token := job.Token

	if pool != nil {
		snap, err := a.store.LatestSnapshot(ctx, pool.ChainID, pool.PairAddress)
		switch {
		case err == nil && snap.Price.IsPositive():
			return snap.Price, SourcePairSync, nil
		case err != nil && !errors.Is(err, database.ErrNotFound):
			return decimal.Zero, "", fmt.Errorf("latest snapshot: %w", err)
		}
		return a.lastTrade(ctx, token.ID, database.SourceDex, SourceDexTrade)
	}

	if job.Chain != nil && job.Chain.Provider != nil {
		raw, ok, err := core.ViewUint(ctx, job.Chain.Provider, token.Address, core.CallData(a.currentPrice), nil)
		if err != nil {
			logger.Warn().Err(err).Msg("Current price view failed, using last curve trade")
		} else if ok && raw.Sign() > 0 {
			return core.Units(raw, core.DefaultDecimals), SourceCurveView, nil
		}
	}
	return a.lastTrade(ctx, token.ID, database.SourceCurve, SourceCurveTrade)
}

func (a *Aggregator) lastTrade(ctx context.Context, tokenID int64, market database.Source, label string) (decimal.Decimal, string, error) {
	r, err := a.store.LastTrade(ctx, tokenID, market)
	if errors.Is(err, database.ErrNotFound) {
		return decimal.Zero, SourceNone, nil
	}
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("last %s trade: %w", market, err)
	}
	return r.Price, label, nil
}
