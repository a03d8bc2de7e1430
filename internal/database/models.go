package database

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Side is the ledger label of a TransferRecord.
type Side string

const (
	SideBuy        Side = "BUY"
	SideSell       Side = "SELL"
	SideBuyLock    Side = "BUY&LOCK"
	SideClaim      Side = "CLAIM"
	SideUnlock     Side = "UNLOCK"
	SideGraduation Side = "GRADUATION"
)

// IsTrade reports whether records of this side carry a market price.
func (s Side) IsTrade() bool {
	return s == SideBuy || s == SideSell || s == SideBuyLock
}

// Source says which market produced a record.
type Source string

const (
	SourceCurve Source = "BONDING_CURVE"
	SourceDex   Source = "DEX"
)

// Token is a launchpad token contract. Rows are created outside this system.
type Token struct {
	ID                 int64
	ChainID            int64
	Address            common.Address
	Creator            common.Address
	DeployBlock        uint64
	Decimals           int
	Graduated          bool
	LastProcessedBlock uint64
}

// DexPool is created the moment a graduation is consolidated. Swap and Sync
// processing keep independent cursors.
type DexPool struct {
	TokenID                int64
	ChainID                int64
	PairAddress            common.Address
	Token0                 common.Address
	Token1                 common.Address
	QuoteToken             common.Address
	TokenDecimals          int
	QuoteDecimals          int
	GraduationBlock        uint64
	GraduationTx           common.Hash
	LastProcessedBlock     uint64
	LastProcessedSyncBlock uint64
}

// TokenIsToken0 reports the pool's ordering as recorded at creation.
func (p *DexPool) TokenIsToken0() bool {
	return p.Token1 == p.QuoteToken
}

// TransferRecord is one row of the append-only ledger, unique per
// (chain, tx hash, log index).
type TransferRecord struct {
	TokenID     int64
	ChainID     int64
	BlockNumber uint64
	BlockTime   time.Time
	TxHash      common.Hash
	LogIndex    uint
	From        common.Address
	To          common.Address
	Amount      *big.Int
	EthAmount   *big.Int
	Price       decimal.Decimal
	EthUSD      decimal.Decimal
	Side        Side
	Source      Source
	Metadata    *GraduationMetadata
}

// PriceUSD is the record's price converted at its own recorded rate.
func (r *TransferRecord) PriceUSD() decimal.Decimal {
	return r.Price.Mul(r.EthUSD)
}

// GraduationMetadata is stored with the GRADUATION record only.
type GraduationMetadata struct {
	PoolAddress       string `json:"pool_address"`
	Trigger           string `json:"trigger"`
	TokenToPool       string `json:"token_to_pool"`
	EthToPool         string `json:"eth_to_pool"`
	UserTokens        string `json:"user_tokens"`
	UserEth           string `json:"user_eth"`
	LiquiditySource   string `json:"liquidity_source"`
	GraduationLogIdx  uint   `json:"graduation_log_index"`
	LiquidityLogIndex *uint  `json:"liquidity_log_index,omitempty"`
}

func (m *GraduationMetadata) encode() (*string, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode graduation metadata: %w", err)
	}
	s := string(b)
	return &s, nil
}

func decodeMetadata(raw *string) (*GraduationMetadata, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var m GraduationMetadata
	if err := json.Unmarshal([]byte(*raw), &m); err != nil {
		return nil, fmt.Errorf("decode graduation metadata: %w", err)
	}
	return &m, nil
}

// Graduation is what the consolidator hands to storage: both ledger rows and
// the pool they open, written atomically.
type Graduation struct {
	Buy  *TransferRecord
	Grad *TransferRecord
	Pool *DexPool
}

// Movement is the minimum the balance replay needs from a ledger row.
type Movement struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// PairSnapshot is unique per (chain, pair, block); later Syncs in the same
// block overwrite earlier ones.
type PairSnapshot struct {
	ChainID      int64
	PairAddress  common.Address
	BlockNumber  uint64
	BlockTime    time.Time
	LogIndex     uint
	ReserveToken *big.Int
	ReserveQuote *big.Int
	Price        decimal.Decimal
}

// Balance is derived; never written incrementally.
type Balance struct {
	TokenID int64
	Holder  common.Address
	Balance *big.Int
}

// ChartAggregate is one OHLC bucket in both ETH and USD terms.
type ChartAggregate struct {
	TokenID    int64
	Interval   string
	BucketTime time.Time
	OpenETH    decimal.Decimal
	HighETH    decimal.Decimal
	LowETH     decimal.Decimal
	CloseETH   decimal.Decimal
	OpenUSD    decimal.Decimal
	HighUSD    decimal.Decimal
	LowUSD     decimal.Decimal
	CloseUSD   decimal.Decimal
	VolumeETH  decimal.Decimal
	VolumeUSD  decimal.Decimal
	TradeCount int
}

// TokenStats is the per-token summary row written by the aggregator.
type TokenStats struct {
	TokenID           int64
	PriceETH          decimal.Decimal
	PriceUSD          decimal.Decimal
	PriceSource       string
	MarketCapETH      decimal.Decimal
	MarketCapUSD      decimal.Decimal
	FDVETH            decimal.Decimal
	FDVUSD            decimal.Decimal
	CirculatingSupply decimal.Decimal
	TotalSupply       decimal.Decimal
	HolderCount       int
	Volume24hETH      decimal.Decimal
	Volume24hUSD      decimal.Decimal
	Trades24h         int
	Graduated         bool
	UpdatedAt         time.Time
}

// TokenFilter narrows ListTokens. Nil fields do not filter.
type TokenFilter struct {
	TokenID   *int64
	FromID    *int64
	ToID      *int64
	ChainID   *int64
	Graduated *bool
}

// Match applies the filter in memory.
func (f TokenFilter) Match(t *Token) bool {
	if f.TokenID != nil && t.ID != *f.TokenID {
		return false
	}
	if f.FromID != nil && t.ID < *f.FromID {
		return false
	}
	if f.ToID != nil && t.ID > *f.ToID {
		return false
	}
	if f.ChainID != nil && t.ChainID != *f.ChainID {
		return false
	}
	if f.Graduated != nil && t.Graduated != *f.Graduated {
		return false
	}
	return true
}

// Helper functions for conversions

func HashToString(hash common.Hash) string {
	return hash.Hex()
}

// AddressToString is the canonical stored form: lowercase hex.
func AddressToString(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func BigIntToNumeric(value *big.Int) *string {
	if value == nil {
		return nil
	}
	str := value.String()
	return &str
}

func numericOrZero(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}

func parseNumeric(s string) (*big.Int, error) {
	// NUMERIC text may carry a fractional part of zeros, e.g. "100.000".
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric %q", s)
	}
	return v, nil
}

func parseDecimal(s *string) (decimal.Decimal, error) {
	if s == nil || *s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*s)
}
