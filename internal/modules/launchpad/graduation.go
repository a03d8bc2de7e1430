package launchpad

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/curvestream/indexer/internal/database"
	"github.com/curvestream/indexer/internal/modules/core"
	"github.com/curvestream/indexer/internal/rpc"
)

// Liquidity sources recorded in graduation metadata.
const (
	LiquidityPairMint = "pair_mint"
	LiquidityTxValue  = "tx_value"
)

// GraduationParts are the constituent transfers of a graduation transaction.
type GraduationParts struct {
	UserBuy    *TransferLog // mint to the buyer
	Graduation *TransferLog // mint to the token contract
	LPTransfer *TransferLog // contract to the pool, optional
}

// SplitGraduation picks the first transfer of each role.
func SplitGraduation(transfers []TransferLog, contract common.Address) GraduationParts {
	var p GraduationParts
	for i := range transfers {
		t := &transfers[i]
		switch {
		case t.IsMint() && t.To == contract:
			if p.Graduation == nil {
				p.Graduation = t
			}
		case t.IsMint() && !t.IsBurn():
			if p.UserBuy == nil {
				p.UserBuy = t
			}
		case t.From == contract && !t.IsBurn():
			if p.LPTransfer == nil {
				p.LPTransfer = t
			}
		}
	}
	return p
}

// MatchesGraduationPattern is the fallback detector: at least three transfers
// of the contract including a mint to a user, a mint to the contract and a
// transfer from the contract to an external address.
func MatchesGraduationPattern(transfers []TransferLog, contract common.Address) bool {
	if len(transfers) < 3 {
		return false
	}
	p := SplitGraduation(transfers, contract)
	return p.UserBuy != nil && p.Graduation != nil && p.LPTransfer != nil
}

// Detection is a positive graduation match.
type Detection struct {
	// Event is the decoded graduation event; nil when matched by pattern.
	Event   *core.ParsedEvent
	Receipt *types.Receipt
}

// Detector recognises graduation transactions and rewrites them into a BUY
// and a GRADUATION record.
type Detector struct {
	parser    *core.EventParser
	graduated *abi.Event

	poolArg     string
	tokenAmtArg string
}

func NewDetector(manifest *core.Resolved) *Detector {
	d := &Detector{
		parser:    core.NewEventParser(),
		graduated: manifest.Graduated,
	}
	d.parser.AddEvent(manifest.Graduated)
	d.parser.AddABI(&core.PairV2)

	var uints []string
	for _, in := range manifest.Graduated.Inputs {
		switch in.Type.T {
		case abi.AddressTy:
			if d.poolArg == "" {
				d.poolArg = in.Name
			}
		case abi.UintTy:
			uints = append(uints, in.Name)
		}
	}
	if len(uints) > 0 {
		d.tokenAmtArg = uints[0]
	}
	return d
}

// Detect tests a transaction's receipt and transfers. A graduation event
// emitted by the contract wins; otherwise the transfer pattern decides.
func (d *Detector) Detect(receipt *types.Receipt, transfers []TransferLog, contract common.Address) (*Detection, bool) {
	if receipt != nil {
		for _, l := range receipt.Logs {
			if l.Address != contract || len(l.Topics) == 0 || l.Topics[0] != d.graduated.ID {
				continue
			}
			ev, err := d.parser.ParseEvent(l)
			if err != nil {
				continue
			}
			return &Detection{Event: ev, Receipt: receipt}, true
		}
	}
	if MatchesGraduationPattern(transfers, contract) {
		return &Detection{Receipt: receipt}, true
	}
	return nil, false
}

// GraduationTx is everything the consolidator reads.
type GraduationTx struct {
	Token     *database.Token
	Tx        *rpc.Transaction
	BlockTime time.Time
	Transfers []TransferLog
	Detection *Detection
	// QuoteToken, when set, is the only quote a graduation pool may pair with.
	QuoteToken common.Address
	EthUSD     decimal.Decimal
}

func missing(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrMissingCompanion, fmt.Sprintf(format, args...))
}

// Consolidate builds the two ledger rows and the pool row. It returns an
// error wrapping core.ErrMissingCompanion when the transaction lacks a log
// the rewrite needs; nothing of it may then be recorded.
func (d *Detector) Consolidate(ctx context.Context, caller core.Caller, in GraduationTx) (*database.Graduation, error) {
	contract := in.Token.Address
	parts := SplitGraduation(in.Transfers, contract)
	if parts.UserBuy == nil {
		return nil, missing("no mint to a buyer in %s", in.Tx.Hash.Hex())
	}
	if parts.Graduation == nil {
		return nil, missing("no mint to the contract in %s", in.Tx.Hash.Hex())
	}

	pool, err := d.poolAddress(in.Detection, parts)
	if err != nil {
		return nil, err
	}

	token0, token1, err := core.PairTokens(ctx, caller, pool)
	if err != nil {
		if errors.Is(err, core.ErrMalformed) {
			return nil, missing("%v", err)
		}
		return nil, fmt.Errorf("read pair %s: %w", pool.Hex(), err)
	}
	var quote common.Address
	switch contract {
	case token0:
		quote = token1
	case token1:
		quote = token0
	default:
		return nil, missing("pair %s does not hold token %s", pool.Hex(), contract.Hex())
	}
	if in.QuoteToken != (common.Address{}) && quote != in.QuoteToken {
		return nil, missing("pair %s quotes %s, chain quote token is %s", pool.Hex(), quote.Hex(), in.QuoteToken.Hex())
	}
	quoteDecimals, err := core.Decimals(ctx, caller, quote)
	if err != nil {
		return nil, fmt.Errorf("read decimals of %s: %w", quote.Hex(), err)
	}

	value := in.Tx.Value
	if value == nil {
		value = new(big.Int)
	}

	tokenToPool, ethToPool, source, mintIdx := d.liquidity(in, parts, pool, contract == token0, value)

	meta := &database.GraduationMetadata{
		PoolAddress:       database.AddressToString(pool),
		Trigger:           database.AddressToString(in.Tx.From),
		TokenToPool:       tokenToPool.String(),
		EthToPool:         ethToPool.String(),
		UserTokens:        parts.UserBuy.Amount.String(),
		UserEth:           value.String(),
		LiquiditySource:   source,
		GraduationLogIdx:  parts.Graduation.Log.Index,
		LiquidityLogIndex: mintIdx,
	}

	buy := &database.TransferRecord{
		TokenID:     in.Token.ID,
		ChainID:     in.Token.ChainID,
		BlockNumber: in.Tx.BlockNumber,
		BlockTime:   in.BlockTime,
		TxHash:      in.Tx.Hash,
		LogIndex:    parts.UserBuy.Log.Index,
		From:        common.Address{},
		To:          parts.UserBuy.To,
		Amount:      new(big.Int).Set(parts.UserBuy.Amount),
		EthAmount:   new(big.Int).Set(value),
		Price:       core.UnitPrice(value, core.DefaultDecimals, parts.UserBuy.Amount, in.Token.Decimals),
		EthUSD:      in.EthUSD,
		Side:        database.SideBuy,
		Source:      database.SourceCurve,
	}

	grad := &database.TransferRecord{
		TokenID:     in.Token.ID,
		ChainID:     in.Token.ChainID,
		BlockNumber: in.Tx.BlockNumber,
		BlockTime:   in.BlockTime,
		TxHash:      in.Tx.Hash,
		LogIndex:    parts.Graduation.Log.Index,
		From:        contract,
		To:          pool,
		Amount:      tokenToPool,
		EthAmount:   ethToPool,
		Price:       core.UnitPrice(ethToPool, quoteDecimals, tokenToPool, in.Token.Decimals),
		EthUSD:      in.EthUSD,
		Side:        database.SideGraduation,
		Source:      database.SourceCurve,
		Metadata:    meta,
	}

	return &database.Graduation{
		Buy:  buy,
		Grad: grad,
		Pool: &database.DexPool{
			TokenID:         in.Token.ID,
			ChainID:         in.Token.ChainID,
			PairAddress:     pool,
			Token0:          token0,
			Token1:          token1,
			QuoteToken:      quote,
			TokenDecimals:   in.Token.Decimals,
			QuoteDecimals:   quoteDecimals,
			GraduationBlock: in.Tx.BlockNumber,
			GraduationTx:    in.Tx.Hash,
		},
	}, nil
}

func (d *Detector) poolAddress(det *Detection, parts GraduationParts) (common.Address, error) {
	if det != nil && det.Event != nil && d.poolArg != "" {
		if pool, err := det.Event.Addr(d.poolArg); err == nil && pool != (common.Address{}) {
			return pool, nil
		}
	}
	if parts.LPTransfer != nil {
		return parts.LPTransfer.To, nil
	}
	return common.Address{}, missing("no pool address: neither graduation event nor liquidity transfer")
}

// liquidity resolves the token and ETH amounts added to the pool. The pair's
// Mint event is authoritative; without it the token side comes from the
// liquidity transfer or the graduation event and the ETH side from tx value.
func (d *Detector) liquidity(in GraduationTx, parts GraduationParts, pool common.Address, tokenIsToken0 bool, value *big.Int) (tokens, eth *big.Int, source string, logIndex *uint) {
	if in.Detection != nil && in.Detection.Receipt != nil {
		for _, l := range in.Detection.Receipt.Logs {
			if l.Address != pool || len(l.Topics) == 0 || l.Topics[0] != core.MintTopic {
				continue
			}
			ev, err := d.parser.ParseEvent(l)
			if err != nil {
				continue
			}
			a0, err0 := ev.Uint("amount0")
			a1, err1 := ev.Uint("amount1")
			if err0 != nil || err1 != nil {
				continue
			}
			idx := l.Index
			if tokenIsToken0 {
				return new(big.Int).Set(a0), new(big.Int).Set(a1), LiquidityPairMint, &idx
			}
			return new(big.Int).Set(a1), new(big.Int).Set(a0), LiquidityPairMint, &idx
		}
	}

	switch {
	case parts.LPTransfer != nil:
		tokens = parts.LPTransfer.Amount
	case in.Detection != nil && in.Detection.Event != nil && d.tokenAmtArg != "":
		if v, err := in.Detection.Event.Uint(d.tokenAmtArg); err == nil {
			tokens = v
		}
	}
	if tokens == nil {
		tokens = parts.Graduation.Amount
	}
	return new(big.Int).Set(tokens), new(big.Int).Set(value), LiquidityTxValue, nil
}
