package core

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/curvestream/indexer/internal/rpc"
)

// Caller is the view-call half of rpc.Provider.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error)
}

var uint256Args = abi.Arguments{{Type: mustType("uint256")}}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// CallData encodes a call to sel with uint256 arguments.
func CallData(sel Selector, args ...*big.Int) []byte {
	data := append([]byte{}, sel[:]...)
	for _, a := range args {
		packed, _ := uint256Args.Pack(a)
		data = append(data, packed...)
	}
	return data
}

// View calls a view on addr. A revert or an empty return means the contract
// lacks the capability: ok is false and err is nil. Any other failure is
// returned as an error. A nil block reads the latest state.
func View(ctx context.Context, c Caller, addr common.Address, data []byte, block *big.Int) (ret []byte, ok bool, err error) {
	out, err := c.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, block)
	if err != nil {
		if rpc.IsRevert(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(out) < 32 {
		return nil, false, nil
	}
	return out, true, nil
}

// ViewUint reads a single uint return value.
func ViewUint(ctx context.Context, c Caller, addr common.Address, data []byte, block *big.Int) (*big.Int, bool, error) {
	out, ok, err := View(ctx, c, addr, data, block)
	if !ok || err != nil {
		return nil, ok, err
	}
	return new(big.Int).SetBytes(out[:32]), true, nil
}

// ViewAddress reads a single address return value.
func ViewAddress(ctx context.Context, c Caller, addr common.Address, data []byte, block *big.Int) (common.Address, bool, error) {
	out, ok, err := View(ctx, c, addr, data, block)
	if !ok || err != nil {
		return common.Address{}, ok, err
	}
	return common.BytesToAddress(out[12:32]), true, nil
}

var (
	selToken0   = SelectorOf("token0()")
	selToken1   = SelectorOf("token1()")
	selDecimals = SelectorOf("decimals()")
)

// PairTokens reads token0 and token1 of a UniswapV2-style pair.
func PairTokens(ctx context.Context, c Caller, pair common.Address) (token0, token1 common.Address, err error) {
	token0, ok0, err := ViewAddress(ctx, c, pair, CallData(selToken0), nil)
	if err != nil {
		return token0, token1, err
	}
	token1, ok1, err := ViewAddress(ctx, c, pair, CallData(selToken1), nil)
	if err != nil {
		return token0, token1, err
	}
	if !ok0 || !ok1 {
		return token0, token1, ErrInvalidEvent{Reason: "pair " + pair.Hex() + " does not expose token0/token1"}
	}
	return token0, token1, nil
}

// Decimals reads ERC20 decimals, falling back to DefaultDecimals.
func Decimals(ctx context.Context, c Caller, token common.Address) (int, error) {
	v, ok, err := ViewUint(ctx, c, token, CallData(selDecimals), nil)
	if err != nil {
		return 0, err
	}
	if !ok || !v.IsInt64() || v.Int64() > 77 {
		return DefaultDecimals, nil
	}
	return int(v.Int64()), nil
}
