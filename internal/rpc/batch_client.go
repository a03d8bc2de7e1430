package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// DefaultBatchSize bounds the number of requests in one JSON-RPC batch.
const DefaultBatchSize = 100

// Batcher fetches many transactions or block timestamps per round trip.
// Results are returned in request order.
type Batcher interface {
	TransactionsBatch(ctx context.Context, hashes []common.Hash) ([]*Transaction, error)
	BlockTimesBatch(ctx context.Context, numbers []uint64) ([]time.Time, error)
}

var _ Batcher = (*Client)(nil)

func (c *Client) batch(ctx context.Context, elems []rpc.BatchElem) error {
	for start := 0; start < len(elems); start += DefaultBatchSize {
		end := start + DefaultBatchSize
		if end > len(elems) {
			end = len(elems)
		}

		callCtx, cancel := c.withTimeout(ctx)
		err := c.raw.BatchCallContext(callCtx, elems[start:end])
		cancel()
		if err != nil {
			return err
		}

		c.logger.Debug().Int("batch_size", end-start).Str("method", elems[start].Method).Msg("Batch call done")
	}
	for _, e := range elems {
		if e.Error != nil {
			return e.Error
		}
	}
	return nil
}

func (c *Client) TransactionsBatch(ctx context.Context, hashes []common.Hash) ([]*Transaction, error) {
	raws := make([]*RawTransaction, len(hashes))
	elems := make([]rpc.BatchElem, len(hashes))
	for i, h := range hashes {
		elems[i] = rpc.BatchElem{
			Method: "eth_getTransactionByHash",
			Args:   []interface{}{h},
			Result: &raws[i],
		}
	}
	if err := c.batch(ctx, elems); err != nil {
		return nil, fmt.Errorf("batch get transactions: %w", err)
	}

	out := make([]*Transaction, len(hashes))
	for i, raw := range raws {
		if raw == nil {
			return nil, fmt.Errorf("transaction %s: %w", hashes[i].Hex(), ethereum.NotFound)
		}
		tx, err := raw.toTransaction()
		if err != nil {
			return nil, err
		}
		out[i] = tx
	}
	return out, nil
}

func (c *Client) BlockTimesBatch(ctx context.Context, numbers []uint64) ([]time.Time, error) {
	headers := make([]*RawHeader, len(numbers))
	elems := make([]rpc.BatchElem, len(numbers))
	for i, n := range numbers {
		elems[i] = rpc.BatchElem{
			Method: "eth_getBlockByNumber",
			Args:   []interface{}{hexutil.EncodeUint64(n), false},
			Result: &headers[i],
		}
	}
	if err := c.batch(ctx, elems); err != nil {
		return nil, fmt.Errorf("batch get blocks: %w", err)
	}

	out := make([]time.Time, len(numbers))
	for i, h := range headers {
		if h == nil {
			return nil, fmt.Errorf("block %d: %w", numbers[i], ethereum.NotFound)
		}
		out[i] = time.Unix(int64(h.Timestamp), 0).UTC()
	}
	return out, nil
}
