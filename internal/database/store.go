package database

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TokenStore lists tokens and owns the per-token scan cursor.
type TokenStore interface {
	ListTokens(ctx context.Context, filter TokenFilter) ([]*Token, error)
	GetToken(ctx context.Context, id int64) (*Token, error)
	// UpsertCursor moves the token's cursor forward; it never moves back.
	UpsertCursor(ctx context.Context, tokenID, chainID int64, block uint64) error
}

// LedgerStore owns transfer records.
type LedgerStore interface {
	UpsertTransfers(ctx context.Context, records []*TransferRecord) error
	RecordGraduation(ctx context.Context, g *Graduation) error
	GraduationRecord(ctx context.Context, tokenID int64) (*TransferRecord, error)
	Movements(ctx context.Context, tokenID int64) ([]Movement, error)
	Trades(ctx context.Context, tokenID int64, since time.Time) ([]*TransferRecord, error)
	LastTradeBefore(ctx context.Context, tokenID int64, before time.Time) (*TransferRecord, error)
	LastTrade(ctx context.Context, tokenID int64, source Source) (*TransferRecord, error)
}

// PoolStore owns DEX pools, their cursors and pair snapshots.
type PoolStore interface {
	GetPool(ctx context.Context, tokenID int64) (*DexPool, error)
	AdvanceSwapCursor(ctx context.Context, tokenID int64, block uint64) error
	AdvanceSyncCursor(ctx context.Context, tokenID int64, block uint64) error
	UpsertSnapshots(ctx context.Context, snapshots []*PairSnapshot) error
	LatestSnapshot(ctx context.Context, chainID int64, pair common.Address) (*PairSnapshot, error)
}

// BalanceStore holds the derived balance table.
type BalanceStore interface {
	ReplaceBalances(ctx context.Context, tokenID int64, balances []*Balance) error
	Balances(ctx context.Context, tokenID int64) ([]*Balance, error)
}

// StatsStore holds chart aggregates and the token summary.
type StatsStore interface {
	UpsertCharts(ctx context.Context, tokenID int64, interval string, from time.Time, charts []*ChartAggregate) error
	UpsertStats(ctx context.Context, stats *TokenStats) error
}

// Store is everything the pipeline writes to.
type Store interface {
	TokenStore
	LedgerStore
	PoolStore
	BalanceStore
	StatsStore
}

var _ Store = (*Repository)(nil)
