package rpc

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RawTransaction is eth_getTransactionByHash decoded loosely, so that typed
// transactions ethclient cannot decode (L2 deposit types and the like) still
// yield sender, value and input.
type RawTransaction struct {
	Type        *hexutil.Big    `json:"type"`
	Hash        common.Hash     `json:"hash"`
	BlockHash   *common.Hash    `json:"blockHash"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Value       *hexutil.Big    `json:"value"`
	Input       hexutil.Bytes   `json:"input"`
}

// RawHeader carries only what BlockTime needs.
type RawHeader struct {
	Number    *hexutil.Big   `json:"number"`
	Hash      common.Hash    `json:"hash"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

func (rt *RawTransaction) toTransaction() (*Transaction, error) {
	if rt.BlockNumber == nil {
		return nil, fmt.Errorf("transaction %s is pending", rt.Hash.Hex())
	}
	value := new(big.Int)
	if rt.Value != nil {
		value = (*big.Int)(rt.Value)
	}
	return &Transaction{
		Hash:        rt.Hash,
		BlockNumber: (*big.Int)(rt.BlockNumber).Uint64(),
		From:        rt.From,
		To:          rt.To,
		Value:       value,
		Input:       rt.Input,
	}, nil
}
