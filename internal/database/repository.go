package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// Repository is the Postgres-backed Store.
type Repository struct {
	db     *Database
	logger zerolog.Logger
}

func NewRepository(db *Database, logger zerolog.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger.With().Str("component", "repository").Logger(),
	}
}

const tokenColumns = `
	t.id, t.chain_id, t.address, t.creator, t.deploy_block, t.decimals, t.graduated,
	COALESCE(c.last_processed_block, 0)`

func scanToken(row pgx.Row) (*Token, error) {
	var (
		t                  Token
		address, creator   string
		deployBlock, block int64
	)
	if err := row.Scan(&t.ID, &t.ChainID, &address, &creator, &deployBlock, &t.Decimals, &t.Graduated, &block); err != nil {
		return nil, err
	}
	t.Address = common.HexToAddress(address)
	t.Creator = common.HexToAddress(creator)
	t.DeployBlock = uint64(deployBlock)
	t.LastProcessedBlock = uint64(block)
	return &t, nil
}

// ListTokens returns the tokens matching filter ordered by chain then id.
func (r *Repository) ListTokens(ctx context.Context, filter TokenFilter) ([]*Token, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.TokenID != nil {
		add("t.id = $%d", *filter.TokenID)
	}
	if filter.FromID != nil {
		add("t.id >= $%d", *filter.FromID)
	}
	if filter.ToID != nil {
		add("t.id <= $%d", *filter.ToID)
	}
	if filter.ChainID != nil {
		add("t.chain_id = $%d", *filter.ChainID)
	}
	if filter.Graduated != nil {
		add("t.graduated = $%d", *filter.Graduated)
	}

	query := `SELECT` + tokenColumns + `
		FROM tokens t
		LEFT JOIN token_cursors c ON c.token_id = t.id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.chain_id, t.id"

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (r *Repository) GetToken(ctx context.Context, id int64) (*Token, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT`+tokenColumns+`
		FROM tokens t
		LEFT JOIN token_cursors c ON c.token_id = t.id
		WHERE t.id = $1`, id)
	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get token %d: %w", id, err)
	}
	return t, nil
}

func (r *Repository) UpsertCursor(ctx context.Context, tokenID, chainID int64, block uint64) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO token_cursors (token_id, chain_id, last_processed_block, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (token_id) DO UPDATE SET
			last_processed_block = GREATEST(token_cursors.last_processed_block, EXCLUDED.last_processed_block),
			updated_at = NOW()`,
		tokenID, chainID, int64(block))
	if err != nil {
		return fmt.Errorf("failed to upsert cursor for token %d: %w", tokenID, err)
	}
	return nil
}

func (r *Repository) GetPool(ctx context.Context, tokenID int64) (*DexPool, error) {
	var (
		p                               DexPool
		pair, t0, t1, quote, gradTx     string
		gradBlock, swapBlock, syncBlock int64
	)
	err := r.db.pool.QueryRow(ctx, `
		SELECT token_id, chain_id, pair_address, token0, token1, quote_token,
		       token_decimals, quote_decimals, graduation_block, graduation_tx,
		       last_processed_block, last_processed_sync_block
		FROM dex_pools WHERE token_id = $1`, tokenID).Scan(
		&p.TokenID, &p.ChainID, &pair, &t0, &t1, &quote,
		&p.TokenDecimals, &p.QuoteDecimals, &gradBlock, &gradTx,
		&swapBlock, &syncBlock,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pool for token %d: %w", tokenID, err)
	}
	p.PairAddress = common.HexToAddress(pair)
	p.Token0 = common.HexToAddress(t0)
	p.Token1 = common.HexToAddress(t1)
	p.QuoteToken = common.HexToAddress(quote)
	p.GraduationTx = common.HexToHash(gradTx)
	p.GraduationBlock = uint64(gradBlock)
	p.LastProcessedBlock = uint64(swapBlock)
	p.LastProcessedSyncBlock = uint64(syncBlock)
	return &p, nil
}

func (r *Repository) AdvanceSwapCursor(ctx context.Context, tokenID int64, block uint64) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE dex_pools
		SET last_processed_block = GREATEST(last_processed_block, $2), updated_at = NOW()
		WHERE token_id = $1`, tokenID, int64(block))
	if err != nil {
		return fmt.Errorf("failed to advance swap cursor for token %d: %w", tokenID, err)
	}
	return nil
}

func (r *Repository) AdvanceSyncCursor(ctx context.Context, tokenID int64, block uint64) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE dex_pools
		SET last_processed_sync_block = GREATEST(last_processed_sync_block, $2), updated_at = NOW()
		WHERE token_id = $1`, tokenID, int64(block))
	if err != nil {
		return fmt.Errorf("failed to advance sync cursor for token %d: %w", tokenID, err)
	}
	return nil
}
