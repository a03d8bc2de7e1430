package database

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressToString(t *testing.T) {
	addr := common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb3")
	assert.Equal(t, "0x742d35cc6634c0532925a3b844bc9e7595f0beb3", AddressToString(addr))
}

func TestBigIntToNumeric(t *testing.T) {
	tests := []struct {
		name  string
		value *big.Int
		want  *string
	}{
		{"nil value", nil, nil},
		{"zero value", big.NewInt(0), stringPtr("0")},
		{"positive value", big.NewInt(1000000), stringPtr("1000000")},
		{"large value", new(big.Int).SetBytes([]byte{255, 255, 255, 255, 255, 255, 255, 255}), stringPtr("18446744073709551615")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BigIntToNumeric(tt.value))
		})
	}
}

func TestParseNumeric(t *testing.T) {
	v, err := parseNumeric("1000000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000", v.String())

	v, err = parseNumeric("-42.000")
	require.NoError(t, err)
	assert.Equal(t, int64(-42), v.Int64())

	_, err = parseNumeric("abc")
	assert.Error(t, err)
}

func TestSideIsTrade(t *testing.T) {
	assert.True(t, SideBuy.IsTrade())
	assert.True(t, SideSell.IsTrade())
	assert.True(t, SideBuyLock.IsTrade())
	assert.False(t, SideClaim.IsTrade())
	assert.False(t, SideUnlock.IsTrade())
	assert.False(t, SideGraduation.IsTrade())
}

func TestGraduationMetadataRoundTrip(t *testing.T) {
	idx := uint(7)
	m := &GraduationMetadata{
		PoolAddress:       "0xpool",
		TokenToPool:       "200",
		EthToPool:         "5",
		LiquiditySource:   "mint",
		LiquidityLogIndex: &idx,
	}
	raw, err := m.encode()
	require.NoError(t, err)
	require.NotNil(t, raw)

	back, err := decodeMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, m, back)

	none, err := (*GraduationMetadata)(nil).encode()
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestTokenFilterMatch(t *testing.T) {
	tok := &Token{ID: 5, ChainID: 8453, Graduated: true}
	id := int64(5)
	other := int64(6)
	chain := int64(1)
	yes := true
	no := false

	assert.True(t, TokenFilter{}.Match(tok))
	assert.True(t, TokenFilter{TokenID: &id, Graduated: &yes}.Match(tok))
	assert.False(t, TokenFilter{TokenID: &other}.Match(tok))
	assert.False(t, TokenFilter{FromID: &other}.Match(tok))
	assert.False(t, TokenFilter{ChainID: &chain}.Match(tok))
	assert.False(t, TokenFilter{Graduated: &no}.Match(tok))
}

func TestRecordPriceUSD(t *testing.T) {
	r := &TransferRecord{Price: decimal.RequireFromString("0.0001"), EthUSD: decimal.NewFromInt(3000)}
	assert.True(t, decimal.RequireFromString("0.3").Equal(r.PriceUSD()))
}

func TestLastPerBlock(t *testing.T) {
	pair := common.HexToAddress("0x01")
	in := []*PairSnapshot{
		{ChainID: 1, PairAddress: pair, BlockNumber: 10, LogIndex: 2},
		{ChainID: 1, PairAddress: pair, BlockNumber: 10, LogIndex: 5},
		{ChainID: 1, PairAddress: pair, BlockNumber: 11, LogIndex: 0},
	}
	out := lastPerBlock(in)
	require.Len(t, out, 2)
	assert.Equal(t, uint(5), out[0].LogIndex)
	assert.Equal(t, uint64(11), out[1].BlockNumber)
}

func stringPtr(s string) *string {
	return &s
}
