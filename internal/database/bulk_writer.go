package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// UpsertSnapshots writes pair snapshots in one statement. Within the input,
// a later snapshot for the same block replaces an earlier one.
func (r *Repository) UpsertSnapshots(ctx context.Context, snapshots []*PairSnapshot) error {
	snapshots = lastPerBlock(snapshots)
	if len(snapshots) == 0 {
		return nil
	}

	n := len(snapshots)
	chainIDs := make([]int64, n)
	pairs := make([]string, n)
	blocks := make([]int64, n)
	times := make([]time.Time, n)
	logIdx := make([]int32, n)
	resToken := make([]string, n)
	resQuote := make([]string, n)
	prices := make([]string, n)
	for i, s := range snapshots {
		chainIDs[i] = s.ChainID
		pairs[i] = AddressToString(s.PairAddress)
		blocks[i] = int64(s.BlockNumber)
		times[i] = s.BlockTime
		logIdx[i] = int32(s.LogIndex)
		resToken[i] = numericOrZero(s.ReserveToken)
		resQuote[i] = numericOrZero(s.ReserveQuote)
		prices[i] = s.Price.String()
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO pair_snapshots (
			chain_id, pair_address, block_number, block_time, log_index,
			reserve_token, reserve_quote, price
		)
		SELECT * FROM UNNEST(
			$1::BIGINT[], $2::TEXT[], $3::BIGINT[], $4::TIMESTAMPTZ[], $5::INTEGER[],
			$6::NUMERIC[], $7::NUMERIC[], $8::NUMERIC[]
		)
		ON CONFLICT (chain_id, pair_address, block_number) DO UPDATE SET
			block_time = EXCLUDED.block_time,
			log_index = EXCLUDED.log_index,
			reserve_token = EXCLUDED.reserve_token,
			reserve_quote = EXCLUDED.reserve_quote,
			price = EXCLUDED.price
		WHERE EXCLUDED.log_index >= pair_snapshots.log_index`,
		chainIDs, pairs, blocks, times, logIdx, resToken, resQuote, prices,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pair snapshots: %w", err)
	}
	return nil
}

// lastPerBlock keeps the highest log index per (chain, pair, block); one
// INSERT ... ON CONFLICT cannot touch the same key twice.
func lastPerBlock(snapshots []*PairSnapshot) []*PairSnapshot {
	type key struct {
		chain int64
		pair  string
		block uint64
	}
	idx := make(map[key]int, len(snapshots))
	out := make([]*PairSnapshot, 0, len(snapshots))
	for _, s := range snapshots {
		k := key{s.ChainID, AddressToString(s.PairAddress), s.BlockNumber}
		if i, ok := idx[k]; ok {
			if s.LogIndex >= out[i].LogIndex {
				out[i] = s
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, s)
	}
	return out
}

// ReplaceBalances swaps the token's whole balance set in one transaction.
func (r *Repository) ReplaceBalances(ctx context.Context, tokenID int64, balances []*Balance) error {
	holders := make([]string, 0, len(balances))
	amounts := make([]string, 0, len(balances))
	for _, b := range balances {
		holders = append(holders, AddressToString(b.Holder))
		amounts = append(amounts, numericOrZero(b.Balance))
	}

	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM balances WHERE token_id = $1`, tokenID); err != nil {
			return fmt.Errorf("failed to clear balances for token %d: %w", tokenID, err)
		}
		if len(holders) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO balances (token_id, holder, balance)
			SELECT $1, h, b FROM UNNEST($2::TEXT[], $3::NUMERIC[]) AS t(h, b)`,
			tokenID, holders, amounts,
		); err != nil {
			return fmt.Errorf("failed to insert balances for token %d: %w", tokenID, err)
		}
		return nil
	})
}

// UpsertCharts rewrites the token's buckets from `from` onwards.
func (r *Repository) UpsertCharts(ctx context.Context, tokenID int64, interval string, from time.Time, charts []*ChartAggregate) error {
	n := len(charts)
	buckets := make([]time.Time, n)
	cols := make([][]string, 10)
	for c := range cols {
		cols[c] = make([]string, n)
	}
	counts := make([]int32, n)
	for i, c := range charts {
		buckets[i] = c.BucketTime
		cols[0][i] = c.OpenETH.String()
		cols[1][i] = c.HighETH.String()
		cols[2][i] = c.LowETH.String()
		cols[3][i] = c.CloseETH.String()
		cols[4][i] = c.OpenUSD.String()
		cols[5][i] = c.HighUSD.String()
		cols[6][i] = c.LowUSD.String()
		cols[7][i] = c.CloseUSD.String()
		cols[8][i] = c.VolumeETH.String()
		cols[9][i] = c.VolumeUSD.String()
		counts[i] = int32(c.TradeCount)
	}

	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM chart_aggregates WHERE token_id = $1 AND interval = $2 AND bucket_time >= $3`,
			tokenID, interval, from,
		); err != nil {
			return fmt.Errorf("failed to clear charts for token %d: %w", tokenID, err)
		}
		if n == 0 {
			return nil
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO chart_aggregates (
				token_id, interval, bucket_time,
				open_eth, high_eth, low_eth, close_eth,
				open_usd, high_usd, low_usd, close_usd,
				volume_eth, volume_usd, trade_count
			)
			SELECT $1, $2, b, oe, he, le, ce, ou, hu, lu, cu, ve, vu, tc
			FROM UNNEST(
				$3::TIMESTAMPTZ[],
				$4::NUMERIC[], $5::NUMERIC[], $6::NUMERIC[], $7::NUMERIC[],
				$8::NUMERIC[], $9::NUMERIC[], $10::NUMERIC[], $11::NUMERIC[],
				$12::NUMERIC[], $13::NUMERIC[], $14::INTEGER[]
			) AS t(b, oe, he, le, ce, ou, hu, lu, cu, ve, vu, tc)
			ON CONFLICT (token_id, interval, bucket_time) DO UPDATE SET
				open_eth = EXCLUDED.open_eth, high_eth = EXCLUDED.high_eth,
				low_eth = EXCLUDED.low_eth, close_eth = EXCLUDED.close_eth,
				open_usd = EXCLUDED.open_usd, high_usd = EXCLUDED.high_usd,
				low_usd = EXCLUDED.low_usd, close_usd = EXCLUDED.close_usd,
				volume_eth = EXCLUDED.volume_eth, volume_usd = EXCLUDED.volume_usd,
				trade_count = EXCLUDED.trade_count`,
			tokenID, interval, buckets,
			cols[0], cols[1], cols[2], cols[3],
			cols[4], cols[5], cols[6], cols[7],
			cols[8], cols[9], counts,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert charts for token %d: %w", tokenID, err)
		}
		return nil
	})
}

func (r *Repository) UpsertStats(ctx context.Context, s *TokenStats) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO token_stats (
			token_id, price_eth, price_usd, price_source,
			market_cap_eth, market_cap_usd, fdv_eth, fdv_usd,
			circulating_supply, total_supply, holder_count,
			volume_24h_eth, volume_24h_usd, trades_24h, graduated, updated_at
		) VALUES (
			$1, $2::numeric, $3::numeric, $4,
			$5::numeric, $6::numeric, $7::numeric, $8::numeric,
			$9::numeric, $10::numeric, $11,
			$12::numeric, $13::numeric, $14, $15, $16
		)
		ON CONFLICT (token_id) DO UPDATE SET
			price_eth = EXCLUDED.price_eth,
			price_usd = EXCLUDED.price_usd,
			price_source = EXCLUDED.price_source,
			market_cap_eth = EXCLUDED.market_cap_eth,
			market_cap_usd = EXCLUDED.market_cap_usd,
			fdv_eth = EXCLUDED.fdv_eth,
			fdv_usd = EXCLUDED.fdv_usd,
			circulating_supply = EXCLUDED.circulating_supply,
			total_supply = EXCLUDED.total_supply,
			holder_count = EXCLUDED.holder_count,
			volume_24h_eth = EXCLUDED.volume_24h_eth,
			volume_24h_usd = EXCLUDED.volume_24h_usd,
			trades_24h = EXCLUDED.trades_24h,
			graduated = EXCLUDED.graduated,
			updated_at = EXCLUDED.updated_at`,
		s.TokenID, s.PriceETH.String(), s.PriceUSD.String(), s.PriceSource,
		s.MarketCapETH.String(), s.MarketCapUSD.String(), s.FDVETH.String(), s.FDVUSD.String(),
		s.CirculatingSupply.String(), s.TotalSupply.String(), s.HolderCount,
		s.Volume24hETH.String(), s.Volume24hUSD.String(), s.Trades24h, s.Graduated, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert stats for token %d: %w", s.TokenID, err)
	}
	return nil
}
