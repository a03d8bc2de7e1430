package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
)

const transferColumns = `
	token_id, chain_id, block_number, block_time, tx_hash, log_index,
	from_address, to_address, amount::text, eth_amount::text, price::text, eth_usd::text,
	side, source, metadata::text`

func scanTransfer(row pgx.Row) (*TransferRecord, error) {
	var (
		rec               TransferRecord
		block             int64
		logIndex          int
		txHash, from, to  string
		amount, ethAmount string
		price, ethUSD     string
		side, source      string
		meta              *string
	)
	if err := row.Scan(
		&rec.TokenID, &rec.ChainID, &block, &rec.BlockTime, &txHash, &logIndex,
		&from, &to, &amount, &ethAmount, &price, &ethUSD,
		&side, &source, &meta,
	); err != nil {
		return nil, err
	}

	var err error
	rec.BlockNumber = uint64(block)
	rec.LogIndex = uint(logIndex)
	rec.TxHash = common.HexToHash(txHash)
	rec.From = common.HexToAddress(from)
	rec.To = common.HexToAddress(to)
	rec.Side = Side(side)
	rec.Source = Source(source)
	rec.BlockTime = rec.BlockTime.UTC()
	if rec.Amount, err = parseNumeric(amount); err != nil {
		return nil, err
	}
	if rec.EthAmount, err = parseNumeric(ethAmount); err != nil {
		return nil, err
	}
	if rec.Price, err = parseDecimal(&price); err != nil {
		return nil, err
	}
	if rec.EthUSD, err = parseDecimal(&ethUSD); err != nil {
		return nil, err
	}
	if rec.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Repository) queryTransfers(ctx context.Context, query string, args ...any) ([]*TransferRecord, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TransferRecord
	for rows.Next() {
		rec, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) queryOneTransfer(ctx context.Context, query string, args ...any) (*TransferRecord, error) {
	rec, err := scanTransfer(r.db.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// GraduationRecord returns the token's GRADUATION row, the authoritative
// graduation boundary.
func (r *Repository) GraduationRecord(ctx context.Context, tokenID int64) (*TransferRecord, error) {
	rec, err := r.queryOneTransfer(ctx, `SELECT`+transferColumns+`
		FROM transfers
		WHERE token_id = $1 AND side = $2
		ORDER BY block_number, log_index
		LIMIT 1`, tokenID, string(SideGraduation))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get graduation record for token %d: %w", tokenID, err)
	}
	return rec, err
}

func (r *Repository) Movements(ctx context.Context, tokenID int64) ([]Movement, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT from_address, to_address, amount::text
		FROM transfers
		WHERE token_id = $1
		ORDER BY block_number, log_index`, tokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to load movements for token %d: %w", tokenID, err)
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		var from, to, amount string
		if err := rows.Scan(&from, &to, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		v, err := parseNumeric(amount)
		if err != nil {
			return nil, err
		}
		out = append(out, Movement{
			From:   common.HexToAddress(from),
			To:     common.HexToAddress(to),
			Amount: v,
		})
	}
	return out, rows.Err()
}

// Trades returns priced BUY, SELL and BUY&LOCK records since the given time,
// oldest first.
func (r *Repository) Trades(ctx context.Context, tokenID int64, since time.Time) ([]*TransferRecord, error) {
	out, err := r.queryTransfers(ctx, `SELECT`+transferColumns+`
		FROM transfers
		WHERE token_id = $1 AND block_time >= $2
		  AND side = ANY($3) AND price > 0
		ORDER BY block_time, block_number, log_index`,
		tokenID, since, tradeSides())
	if err != nil {
		return nil, fmt.Errorf("failed to load trades for token %d: %w", tokenID, err)
	}
	return out, nil
}

func (r *Repository) LastTradeBefore(ctx context.Context, tokenID int64, before time.Time) (*TransferRecord, error) {
	rec, err := r.queryOneTransfer(ctx, `SELECT`+transferColumns+`
		FROM transfers
		WHERE token_id = $1 AND block_time < $2
		  AND side = ANY($3) AND price > 0
		ORDER BY block_time DESC, block_number DESC, log_index DESC
		LIMIT 1`, tokenID, before, tradeSides())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to load seed trade for token %d: %w", tokenID, err)
	}
	return rec, err
}

func (r *Repository) LastTrade(ctx context.Context, tokenID int64, source Source) (*TransferRecord, error) {
	rec, err := r.queryOneTransfer(ctx, `SELECT`+transferColumns+`
		FROM transfers
		WHERE token_id = $1 AND source = $2
		  AND side = ANY($3) AND price > 0
		ORDER BY block_number DESC, log_index DESC
		LIMIT 1`, tokenID, string(source), tradeSides())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to load last trade for token %d: %w", tokenID, err)
	}
	return rec, err
}

func (r *Repository) LatestSnapshot(ctx context.Context, chainID int64, pair common.Address) (*PairSnapshot, error) {
	var (
		s                         PairSnapshot
		block                     int64
		logIndex                  int
		resToken, resQuote, price string
	)
	err := r.db.pool.QueryRow(ctx, `
		SELECT block_number, block_time, log_index, reserve_token::text, reserve_quote::text, price::text
		FROM pair_snapshots
		WHERE chain_id = $1 AND pair_address = $2
		ORDER BY block_number DESC
		LIMIT 1`, chainID, AddressToString(pair)).Scan(&block, &s.BlockTime, &logIndex, &resToken, &resQuote, &price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load latest snapshot for %s: %w", pair.Hex(), err)
	}
	s.ChainID = chainID
	s.PairAddress = pair
	s.BlockNumber = uint64(block)
	s.LogIndex = uint(logIndex)
	if s.ReserveToken, err = parseNumeric(resToken); err != nil {
		return nil, err
	}
	if s.ReserveQuote, err = parseNumeric(resQuote); err != nil {
		return nil, err
	}
	if s.Price, err = parseDecimal(&price); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) Balances(ctx context.Context, tokenID int64) ([]*Balance, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT holder, balance::text FROM balances
		WHERE token_id = $1
		ORDER BY holder`, tokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to load balances for token %d: %w", tokenID, err)
	}
	defer rows.Close()

	var out []*Balance
	for rows.Next() {
		var holder, amount string
		if err := rows.Scan(&holder, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		v, err := parseNumeric(amount)
		if err != nil {
			return nil, err
		}
		out = append(out, &Balance{TokenID: tokenID, Holder: common.HexToAddress(holder), Balance: v})
	}
	return out, rows.Err()
}

func tradeSides() []string {
	return []string{string(SideBuy), string(SideSell), string(SideBuyLock)}
}
