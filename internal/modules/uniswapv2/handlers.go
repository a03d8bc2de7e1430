package uniswapv2

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/curvestream/indexer/internal/database"
	"github.com/curvestream/indexer/internal/modules/core"
)

// Swap is a decoded pair Swap event.
type Swap struct {
	Log        *types.Log
	Sender     common.Address
	To         common.Address
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int
}

// Sync is a decoded pair Sync event.
type Sync struct {
	Log      *types.Log
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// Trade is a swap seen from the launchpad token's side.
type Trade struct {
	Side        database.Side
	TokenAmount *big.Int
	QuoteAmount *big.Int
}

// decodeSwap
// topics[1] = indexed sender, topics[2] = indexed to
// data = amount0In, amount1In, amount0Out, amount1Out
func decodeSwap(parser *core.EventParser, log *types.Log) (*Swap, error) {
	ev, err := parser.ParseEvent(log)
	if err != nil {
		return nil, err
	}
	if ev.EventName != "Swap" {
		return nil, core.ErrInvalidEvent{Reason: fmt.Sprintf("expected Swap, got %s", ev.EventName)}
	}

	s := &Swap{Log: log}
	if s.Sender, err = ev.Addr("sender"); err != nil {
		return nil, err
	}
	if s.To, err = ev.Addr("to"); err != nil {
		return nil, err
	}
	if s.Amount0In, err = ev.Uint("amount0In"); err != nil {
		return nil, err
	}
	if s.Amount1In, err = ev.Uint("amount1In"); err != nil {
		return nil, err
	}
	if s.Amount0Out, err = ev.Uint("amount0Out"); err != nil {
		return nil, err
	}
	if s.Amount1Out, err = ev.Uint("amount1Out"); err != nil {
		return nil, err
	}
	return s, nil
}

// decodeSync
// data = reserve0, reserve1
func decodeSync(parser *core.EventParser, log *types.Log) (*Sync, error) {
	ev, err := parser.ParseEvent(log)
	if err != nil {
		return nil, err
	}
	if ev.EventName != "Sync" {
		return nil, core.ErrInvalidEvent{Reason: fmt.Sprintf("expected Sync, got %s", ev.EventName)}
	}

	s := &Sync{Log: log}
	if s.Reserve0, err = ev.Uint("reserve0"); err != nil {
		return nil, err
	}
	if s.Reserve1, err = ev.Uint("reserve1"); err != nil {
		return nil, err
	}
	return s, nil
}

// ToTrade orients a swap. A positive net output of the launchpad token is a
// BUY, a positive net input a SELL. ok is false when either leg nets to zero.
func (s *Swap) ToTrade(tokenIsToken0 bool) (Trade, bool) {
	tokenIn, tokenOut := s.Amount1In, s.Amount1Out
	quoteIn, quoteOut := s.Amount0In, s.Amount0Out
	if tokenIsToken0 {
		tokenIn, tokenOut = s.Amount0In, s.Amount0Out
		quoteIn, quoteOut = s.Amount1In, s.Amount1Out
	}

	netToken := new(big.Int).Sub(tokenOut, tokenIn)
	netQuote := new(big.Int).Sub(quoteIn, quoteOut)

	switch {
	case netToken.Sign() > 0 && netQuote.Sign() > 0:
		return Trade{Side: database.SideBuy, TokenAmount: netToken, QuoteAmount: netQuote}, true
	case netToken.Sign() < 0 && netQuote.Sign() < 0:
		return Trade{Side: database.SideSell, TokenAmount: netToken.Neg(netToken), QuoteAmount: netQuote.Neg(netQuote)}, true
	}
	return Trade{}, false
}

// Reserves orients a sync as (token reserve, quote reserve).
func (s *Sync) Reserves(tokenIsToken0 bool) (token, quote *big.Int) {
	if tokenIsToken0 {
		return s.Reserve0, s.Reserve1
	}
	return s.Reserve1, s.Reserve0
}
