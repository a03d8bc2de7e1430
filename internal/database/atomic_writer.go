package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const upsertTransferSQL = `
	INSERT INTO transfers (
		token_id, chain_id, block_number, block_time, tx_hash, log_index,
		from_address, to_address, amount, eth_amount, price, eth_usd,
		side, source, metadata
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11::numeric, $12::numeric, $13, $14, $15::jsonb)
	ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING`

// UpsertTransfers writes a window's records in one transaction. Rows are
// immutable once written; replaying a window leaves existing rows untouched.
func (r *Repository) UpsertTransfers(ctx context.Context, records []*TransferRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		return writeTransfers(ctx, tx, records)
	})
}

// RecordGraduation writes the BUY and GRADUATION rows, opens the pool and
// marks the token graduated, all or nothing.
func (r *Repository) RecordGraduation(ctx context.Context, g *Graduation) error {
	err := r.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := writeTransfers(ctx, tx, []*TransferRecord{g.Buy, g.Grad}); err != nil {
			return err
		}

		p := g.Pool
		_, err := tx.Exec(ctx, `
			INSERT INTO dex_pools (
				token_id, chain_id, pair_address, token0, token1, quote_token,
				token_decimals, quote_decimals, graduation_block, graduation_tx,
				last_processed_block, last_processed_sync_block
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
			ON CONFLICT (token_id) DO NOTHING`,
			p.TokenID, p.ChainID,
			AddressToString(p.PairAddress),
			AddressToString(p.Token0),
			AddressToString(p.Token1),
			AddressToString(p.QuoteToken),
			p.TokenDecimals, p.QuoteDecimals,
			int64(p.GraduationBlock), HashToString(p.GraduationTx),
			int64(p.GraduationBlock)-1,
		)
		if err != nil {
			return fmt.Errorf("failed to insert dex pool: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE tokens SET graduated = TRUE, updated_at = NOW() WHERE id = $1`,
			p.TokenID,
		); err != nil {
			return fmt.Errorf("failed to mark token graduated: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug().
		Int64("token_id", g.Pool.TokenID).
		Str("pool", g.Pool.PairAddress.Hex()).
		Uint64("block", g.Pool.GraduationBlock).
		Msg("Graduation written atomically")
	return nil
}

func writeTransfers(ctx context.Context, tx pgx.Tx, records []*TransferRecord) error {
	batch := &pgx.Batch{}
	for _, rec := range records {
		meta, err := rec.Metadata.encode()
		if err != nil {
			return err
		}
		batch.Queue(upsertTransferSQL,
			rec.TokenID,
			rec.ChainID,
			int64(rec.BlockNumber),
			rec.BlockTime,
			HashToString(rec.TxHash),
			int(rec.LogIndex),
			AddressToString(rec.From),
			AddressToString(rec.To),
			numericOrZero(rec.Amount),
			numericOrZero(rec.EthAmount),
			rec.Price.String(),
			rec.EthUSD.String(),
			string(rec.Side),
			string(rec.Source),
			meta,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to upsert transfer %s/%d: %w",
				records[i].TxHash.Hex(), records[i].LogIndex, err)
		}
	}
	return br.Close()
}
