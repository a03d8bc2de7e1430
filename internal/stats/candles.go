// Package stats derives chart candles and the per-token summary from the
// ledger, the balance table and pair snapshots.
package stats

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/curvestream/indexer/internal/database"
	"github.com/curvestream/indexer/internal/modules/core"
)

// IntervalLabel renders a bucket width the way chart rows are keyed: "4h", "15m".
func IntervalLabel(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	return d.String()
}

// Buckets returns every bucket start in [from, to], aligned to width.
func Buckets(from, to time.Time, width time.Duration) []time.Time {
	var out []time.Time
	for b := from.UTC().Truncate(width); !b.After(to); b = b.Add(width) {
		out = append(out, b)
	}
	return out
}

type candle struct {
	open, high, low, close             decimal.Decimal
	openUSD, highUSD, lowUSD, closeUSD decimal.Decimal
	volume, volumeUSD                  decimal.Decimal
	trades                             int
}

func (c *candle) add(price, priceUSD, volume, volumeUSD decimal.Decimal) {
	if c.trades == 0 {
		c.open, c.high, c.low = price, price, price
		c.openUSD, c.highUSD, c.lowUSD = priceUSD, priceUSD, priceUSD
		c.volume, c.volumeUSD = decimal.Zero, decimal.Zero
	}
	c.high = decimal.Max(c.high, price)
	c.low = decimal.Min(c.low, price)
	c.highUSD = decimal.Max(c.highUSD, priceUSD)
	c.lowUSD = decimal.Min(c.lowUSD, priceUSD)
	c.close, c.closeUSD = price, priceUSD
	c.volume = c.volume.Add(volume)
	c.volumeUSD = c.volumeUSD.Add(volumeUSD)
	c.trades++
}

// TradeVolume is the record's ETH leg in whole units and its USD value at
// the record's own rate. Curve legs are native ETH; DEX legs are in the
// pool's quote token.
func TradeVolume(r *database.TransferRecord, pool *database.DexPool) (eth, usd decimal.Decimal) {
	decimals := core.DefaultDecimals
	if r.Source == database.SourceDex && pool != nil {
		decimals = pool.QuoteDecimals
	}
	eth = core.Units(r.EthAmount, decimals)
	return eth, eth.Mul(r.EthUSD)
}

// BuildCandles lays trades over the full bucket sequence of [from, to].
// Buckets without trades repeat the last known close; buckets before any known
// price are left out. seed is the last trade before the window and may be nil,
// as may pool before graduation. Trades must be ordered by time.
func BuildCandles(tokenID int64, interval string, width time.Duration, from, to time.Time, trades []*database.TransferRecord, seed *database.TransferRecord, pool *database.DexPool) []*database.ChartAggregate {
	buckets := Buckets(from, to, width)
	if len(buckets) == 0 {
		return nil
	}

	byBucket := make(map[time.Time]*candle, len(buckets))
	for _, r := range trades {
		if !r.Side.IsTrade() || !r.Price.IsPositive() {
			continue
		}
		b := r.BlockTime.UTC().Truncate(width)
		c, ok := byBucket[b]
		if !ok {
			c = &candle{}
			byBucket[b] = c
		}
		eth, usd := TradeVolume(r, pool)
		c.add(r.Price, r.PriceUSD(), eth, usd)
	}

	var (
		last, lastUSD decimal.Decimal
		known         bool
	)
	if seed != nil && seed.Price.IsPositive() {
		last, lastUSD, known = seed.Price, seed.PriceUSD(), true
	}

	out := make([]*database.ChartAggregate, 0, len(buckets))
	for _, b := range buckets {
		row := &database.ChartAggregate{TokenID: tokenID, Interval: interval, BucketTime: b}
		if c, ok := byBucket[b]; ok {
			row.OpenETH, row.HighETH, row.LowETH, row.CloseETH = c.open, c.high, c.low, c.close
			row.OpenUSD, row.HighUSD, row.LowUSD, row.CloseUSD = c.openUSD, c.highUSD, c.lowUSD, c.closeUSD
			row.VolumeETH, row.VolumeUSD = c.volume, c.volumeUSD
			row.TradeCount = c.trades
			last, lastUSD, known = c.close, c.closeUSD, true
		} else {
			if !known {
				continue
			}
			row.OpenETH, row.HighETH, row.LowETH, row.CloseETH = last, last, last, last
			row.OpenUSD, row.HighUSD, row.LowUSD, row.CloseUSD = lastUSD, lastUSD, lastUSD, lastUSD
			row.VolumeETH, row.VolumeUSD = decimal.Zero, decimal.Zero
		}
		out = append(out, row)
	}
	return out
}
