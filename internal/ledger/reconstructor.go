package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/curvestream/indexer/internal/database"
	"github.com/curvestream/indexer/internal/modules/core"
)

// Store is what the reconstructor reads and replaces.
type Store interface {
	database.BalanceStore
	Movements(ctx context.Context, tokenID int64) ([]database.Movement, error)
	GetPool(ctx context.Context, tokenID int64) (*database.DexPool, error)
}

// Reconstructor recomputes a token's balance table from its full ledger on
// every run. Balances are never patched incrementally.
type Reconstructor struct {
	store Store
}

func NewReconstructor(store Store) *Reconstructor {
	return &Reconstructor{store: store}
}

func (r *Reconstructor) Name() string { return "ledger" }

func (r *Reconstructor) Run(ctx context.Context, job *core.TokenJob) error {
	logger := job.Logger.With().Str("component", "ledger").Logger()
	start := time.Now()

	movements, err := r.store.Movements(ctx, job.Token.ID)
	if err != nil {
		return fmt.Errorf("load movements: %w", err)
	}

	balances := Replay(job.Token.ID, movements)

	ex, err := ExcludedFor(ctx, r.store, job.Token)
	if err != nil {
		return err
	}
	for _, b := range balances {
		if b.Balance.Sign() < 0 && !ex.Has(b.Holder) {
			logger.Warn().
				Str("holder", b.Holder.Hex()).
				Str("balance", b.Balance.String()).
				Msg("Negative holder balance after replay")
		}
	}

	if err := r.store.ReplaceBalances(ctx, job.Token.ID, balances); err != nil {
		return fmt.Errorf("replace balances: %w", err)
	}

	logger.Info().
		Int("movements", len(movements)).
		Int("balances", len(balances)).
		Int("holders", HolderCount(balances, ex)).
		Dur("duration", time.Since(start)).
		Msg("Balances rebuilt")
	return nil
}

// PoolGetter is satisfied by any PoolStore.
type PoolGetter interface {
	GetPool(ctx context.Context, tokenID int64) (*database.DexPool, error)
}

// ExcludedFor builds the holder exclusion set of a token: zero, the token
// contract and its pool when one exists.
func ExcludedFor(ctx context.Context, pools PoolGetter, token *database.Token) (Excluded, error) {
	addrs := []common.Address{token.Address}
	pool, err := pools.GetPool(ctx, token.ID)
	switch {
	case err == nil:
		addrs = append(addrs, pool.PairAddress)
	case !errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("get pool: %w", err)
	}
	return NewExcluded(addrs...), nil
}
