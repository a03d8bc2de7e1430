package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvestream/indexer/internal/database"
	"github.com/curvestream/indexer/internal/database/memstore"
	"github.com/curvestream/indexer/internal/modules/core"
)

var (
	zero     = common.Address{}
	contract = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	pool     = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func mv(from, to common.Address, amount int64) database.Movement {
	return database.Movement{From: from, To: to, Amount: big.NewInt(amount)}
}

func balanceOf(bs []*database.Balance, holder common.Address) *big.Int {
	for _, b := range bs {
		if b.Holder == holder {
			return b.Balance
		}
	}
	return nil
}

func TestReplay(t *testing.T) {
	got := Replay(1, []database.Movement{
		mv(zero, alice, 1000),
		mv(alice, zero, 500),
		mv(zero, bob, 10),
		mv(bob, alice, 10),
		mv(contract, pool, 200),
	})

	assert.Equal(t, big.NewInt(510), balanceOf(got, alice))
	assert.Nil(t, balanceOf(got, bob), "zero balances are dropped")
	assert.Nil(t, balanceOf(got, zero))
	assert.Equal(t, big.NewInt(200), balanceOf(got, pool))
	assert.Equal(t, big.NewInt(-200), balanceOf(got, contract))
	for _, b := range got {
		assert.Equal(t, int64(1), b.TokenID)
	}
}

// Replay order never changes the result.
func TestReplay_OrderIndependent(t *testing.T) {
	ms := []database.Movement{
		mv(zero, alice, 7), mv(alice, bob, 3), mv(bob, zero, 1), mv(zero, bob, 9),
	}
	rev := make([]database.Movement, len(ms))
	for i := range ms {
		rev[len(ms)-1-i] = ms[i]
	}
	assert.Equal(t, Replay(1, ms), Replay(1, rev))
}

func TestHolderCount(t *testing.T) {
	bs := Replay(1, []database.Movement{
		mv(zero, alice, 5),
		mv(zero, bob, 5),
		mv(zero, contract, 100),
		mv(contract, pool, 40),
	})
	assert.Equal(t, 4, len(bs))
	assert.Equal(t, 2, HolderCount(bs, NewExcluded(contract, pool)))
	assert.Equal(t, 3, HolderCount(bs, NewExcluded(contract)))
}

func TestReconstructor_Run(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	tok := &database.Token{ID: 1, ChainID: 1, Address: contract}
	store.AddToken(tok)

	store.AddPool(&database.DexPool{TokenID: 1, ChainID: 1, PairAddress: pool})
	require.NoError(t, store.UpsertTransfers(ctx, []*database.TransferRecord{
		{TokenID: 1, ChainID: 1, TxHash: common.HexToHash("0x01"), From: zero, To: alice, Amount: big.NewInt(1000)},
		{TokenID: 1, ChainID: 1, TxHash: common.HexToHash("0x02"), From: alice, To: zero, Amount: big.NewInt(500)},
	}))

	// stale rows are replaced wholesale
	require.NoError(t, store.ReplaceBalances(ctx, 1, []*database.Balance{{TokenID: 1, Holder: bob, Balance: big.NewInt(99)}}))

	r := NewReconstructor(store)
	job := &core.TokenJob{Token: tok, Logger: zerolog.Nop()}
	require.NoError(t, r.Run(ctx, job))

	bs, err := store.Balances(ctx, 1)
	require.NoError(t, err)
	require.Len(t, bs, 1)
	assert.Equal(t, alice, bs[0].Holder)
	assert.Equal(t, big.NewInt(500), bs[0].Balance)

	// running again is a no-op
	require.NoError(t, r.Run(ctx, job))
	again, err := store.Balances(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, bs, again)
}

func TestReconstructor_StoreFailure(t *testing.T) {
	store := memstore.New()
	tok := &database.Token{ID: 1, ChainID: 1, Address: contract}
	store.AddToken(tok)
	store.FailWrites = errors.New("db down")

	err := NewReconstructor(store).Run(context.Background(), &core.TokenJob{Token: tok, Logger: zerolog.Nop()})
	assert.Error(t, err)
}
