package prices

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/curvestream/indexer/internal/config"
)

// Provider exposes the current ETH→USD rate.
type Provider interface {
	// PriceETHUSD returns the rate to record with newly written rows.
	// ok=false when no rate is known.
	PriceETHUSD(ctx context.Context) (price decimal.Decimal, ok bool)
}

// Fetcher is a remote source of the current rate.
type Fetcher interface {
	FetchUSD(ctx context.Context) (decimal.Decimal, error)
}

// Static always returns the same rate. A zero rate means unknown.
type Static decimal.Decimal

func (s Static) PriceETHUSD(ctx context.Context) (decimal.Decimal, bool) {
	d := decimal.Decimal(s)
	return d, d.IsPositive()
}

// Cached fetches at most once per ttl. When a refresh fails the last good
// rate is served, then the fallback.
type Cached struct {
	fetcher  Fetcher
	ttl      time.Duration
	fallback decimal.Decimal
	logger   zerolog.Logger
	now      func() time.Time

	mu        sync.Mutex
	price     decimal.Decimal
	fetchedAt time.Time
}

func NewCached(fetcher Fetcher, ttl time.Duration, fallback decimal.Decimal, logger zerolog.Logger) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{
		fetcher:  fetcher,
		ttl:      ttl,
		fallback: fallback,
		logger:   logger.With().Str("component", "eth_usd").Logger(),
		now:      time.Now,
	}
}

func (c *Cached) PriceETHUSD(ctx context.Context) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.price, true
	}

	price, err := c.fetcher.FetchUSD(ctx)
	if err == nil {
		c.price = price
		c.fetchedAt = c.now()
		c.logger.Debug().Str("price", price.String()).Msg("ETH/USD refreshed")
		return price, true
	}

	switch {
	case !c.fetchedAt.IsZero():
		c.logger.Warn().Err(err).Time("fetched_at", c.fetchedAt).Msg("ETH/USD refresh failed, serving last rate")
		return c.price, true
	case c.fallback.IsPositive():
		c.logger.Warn().Err(err).Str("fallback", c.fallback.String()).Msg("ETH/USD unavailable, using fallback rate")
		return c.fallback, true
	default:
		c.logger.Warn().Err(err).Msg("ETH/USD unavailable")
		return decimal.Zero, false
	}
}

// New builds the configured provider: CoinGecko behind a cache, or a static
// rate when the asset is "static".
func New(cfg config.PricesConfig, logger zerolog.Logger) (Provider, error) {
	fallback := decimal.Zero
	if cfg.FallbackUSD != "" {
		var err error
		if fallback, err = decimal.NewFromString(cfg.FallbackUSD); err != nil {
			return nil, err
		}
	}
	if cfg.Asset == "static" {
		return Static(fallback), nil
	}
	return NewCached(NewCoinGeckoClient(cfg.CoinGeckoURL, cfg.Asset), cfg.CacheTTL, fallback, logger), nil
}
