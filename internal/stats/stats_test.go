package stats

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvestream/indexer/internal/config"
	"github.com/curvestream/indexer/internal/database"
	"github.com/curvestream/indexer/internal/database/memstore"
	"github.com/curvestream/indexer/internal/ledger"
	"github.com/curvestream/indexer/internal/modules/core"
	"github.com/curvestream/indexer/internal/modules/loader"
	"github.com/curvestream/indexer/internal/prices"
	"github.com/curvestream/indexer/internal/rpc"
	"github.com/curvestream/indexer/internal/rpc/rpctest"
)

var (
	tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	pair      = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b0")

	t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

var txSeq int64

func trade(at time.Time, price string, ethMilli int64) *database.TransferRecord {
	txSeq++
	return &database.TransferRecord{
		TokenID:   1,
		ChainID:   1,
		TxHash:    common.BigToHash(big.NewInt(txSeq)),
		BlockTime: at,
		Amount:    big.NewInt(1),
		EthAmount: new(big.Int).Mul(big.NewInt(ethMilli), big.NewInt(1e15)),
		Price:     dec(price),
		EthUSD:    dec("2000"),
		Side:      database.SideBuy,
		Source:    database.SourceCurve,
	}
}

func TestIntervalLabel(t *testing.T) {
	assert.Equal(t, "4h", IntervalLabel(4*time.Hour))
	assert.Equal(t, "15m", IntervalLabel(15*time.Minute))
}

func TestTradeVolume_QuoteDecimals(t *testing.T) {
	pool := &database.DexPool{QuoteDecimals: 6}

	dex := trade(t0, "0.01", 0)
	dex.Source = database.SourceDex
	dex.EthAmount = big.NewInt(2_500_000)
	eth, usd := TradeVolume(dex, pool)
	assert.Equal(t, "2.5", eth.String())
	assert.Equal(t, "5000", usd.String())

	// curve legs are native ETH whatever the pool quotes
	curve := trade(t0, "0.01", 1500)
	eth, _ = TradeVolume(curve, pool)
	assert.Equal(t, "1.5", eth.String())
}

func TestBuildCandles_ForwardFill(t *testing.T) {
	h4 := 4 * time.Hour
	trades := []*database.TransferRecord{
		trade(t0.Add(h4+time.Minute), "2", 100),
		trade(t0.Add(h4+time.Hour), "3", 300),
		trade(t0.Add(3*h4+time.Minute), "1", 50),
	}

	got := BuildCandles(1, "4h", h4, t0, t0.Add(5*h4), trades, nil, nil)
	require.Len(t, got, 5, "bucket before the first price is omitted")

	assert.Equal(t, t0.Add(h4), got[0].BucketTime)
	assert.Equal(t, "2", got[0].OpenETH.String())
	assert.Equal(t, "3", got[0].HighETH.String())
	assert.Equal(t, "2", got[0].LowETH.String())
	assert.Equal(t, "3", got[0].CloseETH.String())
	assert.Equal(t, "0.4", got[0].VolumeETH.String())
	assert.Equal(t, "800", got[0].VolumeUSD.String())
	assert.Equal(t, "6000", got[0].CloseUSD.String())
	assert.Equal(t, 2, got[0].TradeCount)

	// empty bucket between prices 3 and 1 is flat at 3
	empty := got[1]
	for _, v := range []decimal.Decimal{empty.OpenETH, empty.HighETH, empty.LowETH, empty.CloseETH} {
		assert.Equal(t, "3", v.String())
	}
	assert.True(t, empty.VolumeETH.IsZero())
	assert.Equal(t, 0, empty.TradeCount)

	assert.Equal(t, "1", got[2].CloseETH.String())
	assert.Equal(t, "1", got[3].OpenETH.String())
	assert.Equal(t, "1", got[4].CloseETH.String())
	assert.Equal(t, "2000", got[4].CloseUSD.String())
}

func TestBuildCandles_SeedFillsLeadingBuckets(t *testing.T) {
	h4 := 4 * time.Hour
	seed := trade(t0.Add(-time.Hour), "5", 1)
	got := BuildCandles(1, "4h", h4, t0, t0.Add(2*h4), nil, seed, nil)
	require.Len(t, got, 3)
	for _, c := range got {
		assert.Equal(t, "5", c.OpenETH.String())
		assert.Equal(t, "5", c.CloseETH.String())
		assert.Equal(t, "10000", c.CloseUSD.String())
		assert.Equal(t, "4h", c.Interval)
	}
}

func TestBuildCandles_NeverZero(t *testing.T) {
	h4 := 4 * time.Hour
	trades := []*database.TransferRecord{
		trade(t0.Add(2*h4), "0.5", 1),
		trade(t0.Add(5*h4), "0", 1),
		trade(t0.Add(9*h4), "0.7", 1),
	}

	for _, c := range BuildCandles(1, "4h", h4, t0, t0.Add(12*h4), trades, nil, nil) {
		assert.True(t, c.LowETH.IsPositive(), "bucket %s", c.BucketTime)
		assert.True(t, c.CloseETH.IsPositive(), "bucket %s", c.BucketTime)
	}
}

func TestSupplyFrom(t *testing.T) {
	bs := []*database.Balance{
		{Holder: alice, Balance: tokens(500)},
		{Holder: bob, Balance: tokens(100)},
		{Holder: pair, Balance: tokens(400)},
		{Holder: tokenAddr, Balance: big.NewInt(-5)},
	}
	s := SupplyFrom(bs, 18, ledger.NewExcluded(tokenAddr, pair))
	assert.Equal(t, "1000", s.Total.String())
	assert.Equal(t, "600", s.Circulating.String())
}

type aggEnv struct {
	store    *memstore.Store
	provider *rpctest.Provider
	agg      *Aggregator
	job      *core.TokenJob
}

func newAggEnv(t *testing.T, now time.Time) *aggEnv {
	t.Helper()
	m, err := loader.Default()
	require.NoError(t, err)

	store := memstore.New()
	tok := &database.Token{ID: 1, ChainID: 1, Address: tokenAddr, Decimals: 18}
	store.AddToken(tok)

	p := rpctest.New(1000)
	agg := NewAggregator(store, prices.Static(dec("3000")), m, config.AggregatorConfig{Window: 24 * time.Hour, Bucket: 4 * time.Hour})
	agg.now = func() time.Time { return now }

	return &aggEnv{
		store:    store,
		provider: p,
		agg:      agg,
		job: &core.TokenJob{
			Chain:  &rpc.Chain{Profile: config.ChainProfile{ChainID: 1}, Provider: p},
			Token:  tok,
			Logger: zerolog.Nop(),
		},
	}
}

func TestAggregator_BeforeGraduation(t *testing.T) {
	ctx := context.Background()
	now := t0.Add(30 * time.Hour)
	e := newAggEnv(t, now)

	m, err := loader.Default()
	require.NoError(t, err)
	e.provider.OnCall = func(msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
		if *msg.To == tokenAddr && bytes.Equal(msg.Data[:4], m.CurrentPrice[:]) {
			return common.LeftPadBytes(big.NewInt(2e14).Bytes(), 32), nil
		}
		return nil, errReverted{}
	}

	require.NoError(t, e.store.UpsertTransfers(ctx, []*database.TransferRecord{
		trade(t0.Add(-48*time.Hour), "0.0001", 100),
		trade(now.Add(-2*time.Hour), "0.00015", 200),
	}))
	require.NoError(t, e.store.ReplaceBalances(ctx, 1, []*database.Balance{
		{TokenID: 1, Holder: alice, Balance: tokens(500)},
		{TokenID: 1, Holder: tokenAddr, Balance: tokens(100)},
	}))

	require.NoError(t, e.agg.Run(ctx, e.job))

	st, ok := e.store.Stats(1)
	require.True(t, ok)
	assert.Equal(t, SourceCurveView, st.PriceSource)
	assert.Equal(t, "0.0002", st.PriceETH.String())
	assert.Equal(t, "0.6", st.PriceUSD.String())
	assert.Equal(t, "600", st.TotalSupply.String())
	assert.Equal(t, "500", st.CirculatingSupply.String())
	assert.Equal(t, "0.1", st.MarketCapETH.String())
	assert.Equal(t, "0.12", st.FDVETH.String())
	assert.Equal(t, "300", st.MarketCapUSD.String())
	assert.Equal(t, 1, st.HolderCount)
	assert.Equal(t, 1, st.Trades24h)
	assert.Equal(t, "0.2", st.Volume24hETH.String())
	assert.Equal(t, "400", st.Volume24hUSD.String())
	assert.False(t, st.Graduated)

	// the seed trade from two days ago fills the whole window
	charts := e.store.Charts(1, "4h")
	require.NotEmpty(t, charts)
	assert.Equal(t, "0.0001", charts[0].OpenETH.String())
	assert.Equal(t, "0.00015", charts[len(charts)-1].CloseETH.String())
}

func TestAggregator_CurveTradeFallback(t *testing.T) {
	ctx := context.Background()
	now := t0.Add(30 * time.Hour)
	e := newAggEnv(t, now)
	require.NoError(t, e.store.UpsertTransfers(ctx, []*database.TransferRecord{
		trade(now.Add(-time.Hour), "0.0003", 10),
	}))

	require.NoError(t, e.agg.Run(ctx, e.job))
	st, ok := e.store.Stats(1)
	require.True(t, ok)
	assert.Equal(t, SourceCurveTrade, st.PriceSource)
	assert.Equal(t, "0.0003", st.PriceETH.String())
}

func TestAggregator_AfterGraduation(t *testing.T) {
	ctx := context.Background()
	now := t0.Add(30 * time.Hour)
	e := newAggEnv(t, now)

	e.store.AddPool(&database.DexPool{TokenID: 1, ChainID: 1, PairAddress: pair, GraduationBlock: 10})
	require.NoError(t, e.store.UpsertSnapshots(ctx, []*database.PairSnapshot{
		{ChainID: 1, PairAddress: pair, BlockNumber: 11, BlockTime: now.Add(-3 * time.Hour), Price: dec("0.01")},
		{ChainID: 1, PairAddress: pair, BlockNumber: 12, BlockTime: now.Add(-time.Hour), Price: dec("0.02")},
	}))
	require.NoError(t, e.store.ReplaceBalances(ctx, 1, []*database.Balance{
		{TokenID: 1, Holder: alice, Balance: tokens(100)},
		{TokenID: 1, Holder: bob, Balance: tokens(50)},
		{TokenID: 1, Holder: pair, Balance: tokens(850)},
	}))

	require.NoError(t, e.agg.Run(ctx, e.job))

	st, ok := e.store.Stats(1)
	require.True(t, ok)
	assert.Equal(t, SourcePairSync, st.PriceSource)
	assert.Equal(t, "0.02", st.PriceETH.String())
	assert.Equal(t, "1000", st.TotalSupply.String())
	assert.Equal(t, "150", st.CirculatingSupply.String())
	assert.Equal(t, "3", st.MarketCapETH.String())
	assert.Equal(t, "20", st.FDVETH.String())
	assert.Equal(t, 2, st.HolderCount)
	assert.True(t, st.Graduated)
	assert.Equal(t, 0, e.provider.Count("CallContract"))
}

type errReverted struct{}

func (errReverted) Error() string { return "execution reverted" }
