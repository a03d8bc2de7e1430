package launchpad

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvestream/indexer/internal/database"
	"github.com/curvestream/indexer/internal/modules/core"
	"github.com/curvestream/indexer/internal/rpc"
	"github.com/curvestream/indexer/internal/rpc/rpctest"
)

func TestMatchesGraduationPattern(t *testing.T) {
	userBuy := transferLog(zero, alice, tokens(10), 1)
	toContract := transferLog(zero, tokenAddr, tokens(200), 2)
	toPool := transferLog(tokenAddr, poolAddr, tokens(200), 3)
	burn := transferLog(alice, zero, tokens(1), 4)

	tests := []struct {
		name string
		logs []types.Log
		want bool
	}{
		{"full pattern", []types.Log{userBuy, toContract, toPool}, true},
		{"order does not matter", []types.Log{toPool, userBuy, toContract}, true},
		{"two logs", []types.Log{userBuy, toContract}, false},
		{"no liquidity transfer", []types.Log{userBuy, toContract, burn}, false},
		{"no user buy", []types.Log{toContract, toPool, burn}, false},
		{"contract burn is not external", []types.Log{userBuy, toContract, transferLog(tokenAddr, zero, tokens(1), 5)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesGraduationPattern(decode(t, tt.logs...), tokenAddr))
		})
	}
}

func graduationFixture(t *testing.T, withMint bool) (*rpctest.Provider, *rpc.Transaction, []types.Log) {
	t.Helper()
	p := rpctest.New(400)
	calls := &chainCalls{t: t, m: manifest(t), token0: weth, token1: tokenAddr}
	p.OnCall = calls.call

	tx := &rpc.Transaction{
		Hash:        common.HexToHash("0x9a"),
		BlockNumber: 300,
		From:        alice,
		To:          &tokenAddr,
		Value:       ether(500),
	}
	logs := []types.Log{
		transferLog(zero, alice, tokens(10), 1),
		transferLog(zero, tokenAddr, tokens(200), 2),
		transferLog(tokenAddr, poolAddr, tokens(190), 3),
	}
	if withMint {
		// token0 is WETH: amount0 is the quote side
		logs = append(logs, mintLog(poolAddr, ether(5000), tokens(180), 4))
	}
	p.AddTx(tx, logs...)
	return p, tx, logs
}

func TestConsolidate_PairMintIsAuthoritative(t *testing.T) {
	ctx := context.Background()
	p, tx, logs := graduationFixture(t, true)
	receipt, err := p.Receipt(ctx, tx.Hash)
	require.NoError(t, err)

	d := NewDetector(manifest(t))
	transfers := decode(t, logs[:3]...)
	det, ok := d.Detect(receipt, transfers, tokenAddr)
	require.True(t, ok)
	assert.Nil(t, det.Event)

	token := &database.Token{ID: 7, ChainID: 8453, Address: tokenAddr, Decimals: 18}
	g, err := d.Consolidate(ctx, p, GraduationTx{
		Token:     token,
		Tx:        tx,
		BlockTime: rpctest.Genesis,
		Transfers: transfers,
		Detection: det,
		EthUSD:    decimal.NewFromInt(3000),
	})
	require.NoError(t, err)

	assert.Equal(t, database.SideBuy, g.Buy.Side)
	assert.Equal(t, alice, g.Buy.To)
	assert.Equal(t, tokens(10), g.Buy.Amount)
	assert.Equal(t, ether(500), g.Buy.EthAmount)
	assert.Equal(t, uint(1), g.Buy.LogIndex)
	assert.Equal(t, "0.05", g.Buy.Price.String())

	assert.Equal(t, database.SideGraduation, g.Grad.Side)
	assert.Equal(t, tokenAddr, g.Grad.From)
	assert.Equal(t, poolAddr, g.Grad.To)
	assert.Equal(t, tokens(180), g.Grad.Amount)
	assert.Equal(t, ether(5000), g.Grad.EthAmount)
	assert.Equal(t, uint(2), g.Grad.LogIndex)

	meta := g.Grad.Metadata
	require.NotNil(t, meta)
	assert.Equal(t, LiquidityPairMint, meta.LiquiditySource)
	require.NotNil(t, meta.LiquidityLogIndex)
	assert.Equal(t, uint(4), *meta.LiquidityLogIndex)
	assert.Equal(t, database.AddressToString(alice), meta.Trigger)
	assert.Equal(t, tokens(10).String(), meta.UserTokens)

	assert.Equal(t, poolAddr, g.Pool.PairAddress)
	assert.Equal(t, weth, g.Pool.QuoteToken)
	assert.False(t, g.Pool.TokenIsToken0())
	assert.Equal(t, uint64(300), g.Pool.GraduationBlock)
	assert.Equal(t, 18, g.Pool.QuoteDecimals)
}

func TestConsolidate_FallsBackToTxValue(t *testing.T) {
	ctx := context.Background()
	p, tx, logs := graduationFixture(t, false)
	receipt, err := p.Receipt(ctx, tx.Hash)
	require.NoError(t, err)

	d := NewDetector(manifest(t))
	transfers := decode(t, logs...)
	det, ok := d.Detect(receipt, transfers, tokenAddr)
	require.True(t, ok)

	g, err := d.Consolidate(ctx, p, GraduationTx{
		Token:     &database.Token{ID: 7, ChainID: 8453, Address: tokenAddr},
		Tx:        tx,
		BlockTime: time.Unix(0, 0),
		Transfers: transfers,
		Detection: det,
	})
	require.NoError(t, err)

	assert.Equal(t, tokens(190), g.Grad.Amount)
	assert.Equal(t, ether(500), g.Grad.EthAmount)
	assert.Equal(t, LiquidityTxValue, g.Grad.Metadata.LiquiditySource)
	assert.Nil(t, g.Grad.Metadata.LiquidityLogIndex)
}

func TestDetect_GraduatedEventNamesPool(t *testing.T) {
	ctx := context.Background()
	p := rpctest.New(400)
	calls := &chainCalls{t: t, m: manifest(t), token0: tokenAddr, token1: weth}
	p.OnCall = calls.call

	tx := &rpc.Transaction{Hash: common.HexToHash("0x9b"), BlockNumber: 300, From: bob, Value: ether(100)}
	logs := []types.Log{
		transferLog(zero, bob, tokens(3), 0),
		transferLog(zero, tokenAddr, tokens(100), 1),
		graduatedLog(t, poolAddr, tokens(99), ether(4000), 2),
		mintLog(poolAddr, tokens(99), ether(4000), 3),
	}
	p.AddTx(tx, logs...)
	receipt, err := p.Receipt(ctx, tx.Hash)
	require.NoError(t, err)

	d := NewDetector(manifest(t))
	transfers := decode(t, logs[:2]...)
	assert.False(t, MatchesGraduationPattern(transfers, tokenAddr))

	det, ok := d.Detect(receipt, transfers, tokenAddr)
	require.True(t, ok)
	require.NotNil(t, det.Event)

	g, err := d.Consolidate(ctx, p, GraduationTx{
		Token: &database.Token{ID: 1, ChainID: 1, Address: tokenAddr, Decimals: 18},
		Tx:    tx, Transfers: transfers, Detection: det,
	})
	require.NoError(t, err)
	assert.Equal(t, poolAddr, g.Grad.To)
	// token is token0 here
	assert.Equal(t, tokens(99), g.Grad.Amount)
	assert.Equal(t, ether(4000), g.Grad.EthAmount)
	assert.True(t, g.Pool.TokenIsToken0())
}

func TestConsolidate_MissingCompanion(t *testing.T) {
	ctx := context.Background()
	p := rpctest.New(400)
	d := NewDetector(manifest(t))
	tx := &rpc.Transaction{Hash: common.HexToHash("0x9c"), BlockNumber: 300, From: alice, Value: big.NewInt(0)}
	token := &database.Token{ID: 1, ChainID: 1, Address: tokenAddr}

	tests := []struct {
		name string
		logs []types.Log
	}{
		{"no user buy", []types.Log{transferLog(zero, tokenAddr, tokens(1), 0), transferLog(tokenAddr, poolAddr, tokens(1), 1)}},
		{"no mint to contract", []types.Log{transferLog(zero, alice, tokens(1), 0), transferLog(tokenAddr, poolAddr, tokens(1), 1)}},
		{"no pool anywhere", []types.Log{transferLog(zero, alice, tokens(1), 0), transferLog(zero, tokenAddr, tokens(1), 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Consolidate(ctx, p, GraduationTx{
				Token: token, Tx: tx, Transfers: decode(t, tt.logs...), Detection: &Detection{},
			})
			assert.ErrorIs(t, err, core.ErrMissingCompanion)
		})
	}

	t.Run("pool without pair interface", func(t *testing.T) {
		// every call reverts
		_, err := d.Consolidate(ctx, p, GraduationTx{
			Token: token, Tx: tx, Detection: &Detection{},
			Transfers: decode(t,
				transferLog(zero, alice, tokens(1), 0),
				transferLog(zero, tokenAddr, tokens(1), 1),
				transferLog(tokenAddr, poolAddr, tokens(1), 2)),
		})
		assert.ErrorIs(t, err, core.ErrMissingCompanion)
	})
}

func TestConsolidate_QuoteTokenMustMatchChain(t *testing.T) {
	ctx := context.Background()
	p, tx, logs := graduationFixture(t, false)
	receipt, err := p.Receipt(ctx, tx.Hash)
	require.NoError(t, err)

	d := NewDetector(manifest(t))
	transfers := decode(t, logs...)
	det, ok := d.Detect(receipt, transfers, tokenAddr)
	require.True(t, ok)

	in := GraduationTx{
		Token:     &database.Token{ID: 7, ChainID: 8453, Address: tokenAddr},
		Tx:        tx,
		Transfers: transfers,
		Detection: det,
	}

	in.QuoteToken = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	_, err = d.Consolidate(ctx, p, in)
	assert.ErrorIs(t, err, core.ErrMissingCompanion)

	in.QuoteToken = weth
	g, err := d.Consolidate(ctx, p, in)
	require.NoError(t, err)
	assert.Equal(t, weth, g.Pool.QuoteToken)
}
