package launchpad

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/curvestream/indexer/internal/modules/core"
	"github.com/curvestream/indexer/internal/modules/loader"
)

var (
	tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	creator   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	poolAddr  = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	weth      = common.HexToAddress("0x4200000000000000000000000000000000000006")
	zero      = common.Address{}
)

func ether(milli int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(milli), big.NewInt(1e15))
}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func addrTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func transferLog(from, to common.Address, amount *big.Int, index uint) types.Log {
	return types.Log{
		Address: tokenAddr,
		Topics:  []common.Hash{core.TransferTopic, addrTopic(from), addrTopic(to)},
		Data:    word(amount),
		Index:   index,
	}
}

func mintLog(pair common.Address, amount0, amount1 *big.Int, index uint) types.Log {
	return types.Log{
		Address: pair,
		Topics:  []common.Hash{core.MintTopic, addrTopic(tokenAddr)},
		Data:    append(word(amount0), word(amount1)...),
		Index:   index,
	}
}

func graduatedLog(t *testing.T, pool common.Address, tokenAmount, ethAmount *big.Int, index uint) types.Log {
	t.Helper()
	m := manifest(t)
	return types.Log{
		Address: tokenAddr,
		Topics:  []common.Hash{m.GraduatedTopic(), addrTopic(pool)},
		Data:    append(word(tokenAmount), word(ethAmount)...),
		Index:   index,
	}
}

func manifest(t *testing.T) *core.Resolved {
	t.Helper()
	m, err := loader.Default()
	require.NoError(t, err)
	return m
}

func decode(t *testing.T, logs ...types.Log) []TransferLog {
	t.Helper()
	s := NewScanner(nil, nil, manifest(t))
	out := make([]TransferLog, 0, len(logs))
	for i := range logs {
		tl, err := s.decodeTransfer(&logs[i])
		require.NoError(t, err)
		out = append(out, tl)
	}
	return out
}

// chainCalls answers the views the pipeline reads: pair token0/token1,
// quote decimals and the curve's sell price as a function of block.
type chainCalls struct {
	t         *testing.T
	m         *core.Resolved
	token0    common.Address
	token1    common.Address
	sellPrice func(amount *big.Int, block uint64) *big.Int
	sellCalls []uint64
}

func (c *chainCalls) call(msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	sel := msg.Data[:4]
	switch {
	case *msg.To == poolAddr && bytes.Equal(sel, core.SelectorOf("token0()").Bytes()):
		return common.LeftPadBytes(c.token0.Bytes(), 32), nil
	case *msg.To == poolAddr && bytes.Equal(sel, core.SelectorOf("token1()").Bytes()):
		return common.LeftPadBytes(c.token1.Bytes(), 32), nil
	case *msg.To == weth && bytes.Equal(sel, core.SelectorOf("decimals()").Bytes()):
		return word(big.NewInt(18)), nil
	case *msg.To == tokenAddr && bytes.Equal(sel, c.m.SellPrice[:]) && c.sellPrice != nil:
		require.NotNil(c.t, block, "sell price must be read at a fixed block")
		c.sellCalls = append(c.sellCalls, block.Uint64())
		amount := new(big.Int).SetBytes(msg.Data[4:36])
		return word(c.sellPrice(amount, block.Uint64())), nil
	}
	return nil, errReverted
}

type revertErr struct{}

func (revertErr) Error() string { return "execution reverted" }

var errReverted error = revertErr{}
