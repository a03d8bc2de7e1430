package rpc

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Provider is the subset of chain RPC the pipeline needs. Client talks to a
// node; Limited wraps any Provider with rate-limit handling.
type Provider interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
	Transaction(ctx context.Context, hash common.Hash) (*Transaction, error)
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	Logs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error)
}

// Transaction is the part of a transaction the classifier looks at.
type Transaction struct {
	Hash        common.Hash
	BlockNumber uint64
	From        common.Address
	To          *common.Address
	Value       *big.Int
	Input       []byte
}

// Selector returns the 4-byte function selector of the input, or nil.
func (t *Transaction) Selector() []byte {
	if len(t.Input) < 4 {
		return nil
	}
	return t.Input[:4]
}
