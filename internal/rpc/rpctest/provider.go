// Package rpctest provides a scripted in-memory rpc.Provider for tests.
package rpctest

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/curvestream/indexer/internal/rpc"
)

// Genesis is the timestamp of block 0; block n is Genesis + n*BlockInterval
// unless overridden in Times.
var Genesis = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

const BlockInterval = 12 * time.Second

type CallFunc func(msg ethereum.CallMsg, block *big.Int) ([]byte, error)

type Provider struct {
	mu sync.Mutex

	Head     uint64
	Times    map[uint64]time.Time
	Txs      map[common.Hash]*rpc.Transaction
	Receipts map[common.Hash]*types.Receipt
	AllLogs  []types.Log

	// OnCall answers eth_call; nil means every call reverts.
	OnCall CallFunc
	// LogsErr, when set, is consulted before every eth_getLogs.
	LogsErr func(q ethereum.FilterQuery) error

	calls map[string]int
}

var (
	_ rpc.Provider = (*Provider)(nil)
	_ rpc.Batcher  = (*Provider)(nil)
)

func New(head uint64) *Provider {
	return &Provider{
		Head:     head,
		Times:    make(map[uint64]time.Time),
		Txs:      make(map[common.Hash]*rpc.Transaction),
		Receipts: make(map[common.Hash]*types.Receipt),
		calls:    make(map[string]int),
	}
}

// AddTx registers a transaction and the logs it emitted. Log block number
// and tx hash are filled from the transaction; indexes are kept as given.
func (p *Provider) AddTx(tx *rpc.Transaction, logs ...types.Log) {
	p.mu.Lock()
	defer p.mu.Unlock()

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash,
		BlockNumber: new(big.Int).SetUint64(tx.BlockNumber),
	}
	for i := range logs {
		logs[i].TxHash = tx.Hash
		logs[i].BlockNumber = tx.BlockNumber
		l := logs[i]
		receipt.Logs = append(receipt.Logs, &l)
	}
	p.Txs[tx.Hash] = tx
	p.Receipts[tx.Hash] = receipt
	p.AllLogs = append(p.AllLogs, logs...)
}

// Count returns how many times method was invoked.
func (p *Provider) Count(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

func (p *Provider) hit(method string) {
	p.mu.Lock()
	p.calls[method]++
	p.mu.Unlock()
}

func (p *Provider) BlockNumber(ctx context.Context) (uint64, error) {
	p.hit("BlockNumber")
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Head, nil
}

func (p *Provider) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	p.hit("BlockTime")
	p.mu.Lock()
	defer p.mu.Unlock()
	if number > p.Head {
		return time.Time{}, fmt.Errorf("block %d: %w", number, ethereum.NotFound)
	}
	if ts, ok := p.Times[number]; ok {
		return ts, nil
	}
	return Genesis.Add(time.Duration(number) * BlockInterval), nil
}

func (p *Provider) Transaction(ctx context.Context, hash common.Hash) (*rpc.Transaction, error) {
	p.hit("Transaction")
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.Txs[hash]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", hash.Hex(), ethereum.NotFound)
	}
	return tx, nil
}

func (p *Provider) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	p.hit("Receipt")
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.Receipts[hash]
	if !ok {
		return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), ethereum.NotFound)
	}
	return r, nil
}

func (p *Provider) Logs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	p.hit("Logs")
	if p.LogsErr != nil {
		if err := p.LogsErr(q); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var out []types.Log
	for _, l := range p.AllLogs {
		if !matches(q, l) {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

func matches(q ethereum.FilterQuery, l types.Log) bool {
	if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
		return false
	}
	if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
		return false
	}
	if len(q.Addresses) > 0 {
		found := false
		for _, a := range q.Addresses {
			if a == l.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for i, alternatives := range q.Topics {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(l.Topics) {
			return false
		}
		found := false
		for _, t := range alternatives {
			if t == l.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (p *Provider) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	p.hit("CallContract")
	if p.OnCall == nil {
		return nil, fmt.Errorf("execution reverted")
	}
	return p.OnCall(msg, block)
}

func (p *Provider) TransactionsBatch(ctx context.Context, hashes []common.Hash) ([]*rpc.Transaction, error) {
	p.hit("TransactionsBatch")
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*rpc.Transaction, 0, len(hashes))
	for _, h := range hashes {
		tx, ok := p.Txs[h]
		if !ok {
			return nil, fmt.Errorf("transaction %s: %w", h.Hex(), ethereum.NotFound)
		}
		out = append(out, tx)
	}
	return out, nil
}

func (p *Provider) BlockTimesBatch(ctx context.Context, numbers []uint64) ([]time.Time, error) {
	p.hit("BlockTimesBatch")
	out := make([]time.Time, 0, len(numbers))
	for _, n := range numbers {
		p.mu.Lock()
		ts, ok := p.Times[n]
		head := p.Head
		p.mu.Unlock()
		if n > head {
			return nil, fmt.Errorf("block %d: %w", n, ethereum.NotFound)
		}
		if !ok {
			ts = Genesis.Add(time.Duration(n) * BlockInterval)
		}
		out = append(out, ts)
	}
	return out, nil
}
