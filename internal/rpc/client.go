package rpc

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

// Client talks to one chain's JSON-RPC endpoint. It does no retrying of its
// own; wrap it in Limited for that.
type Client struct {
	client      *ethclient.Client
	raw         *rpc.Client
	endpoint    string
	chainID     *big.Int
	callTimeout time.Duration
	logger      zerolog.Logger
}

var _ Provider = (*Client)(nil)

// NewClient dials the endpoint and verifies the chain id.
func NewClient(ctx context.Context, endpoint string, chainID int64, callTimeout time.Duration, logger zerolog.Logger) (*Client, error) {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	rawClient, err := rpc.DialOptions(ctx, endpoint, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	client := ethclient.NewClient(rawClient)

	verifyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	networkID, err := client.ChainID(verifyCtx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to verify chain ID, continuing anyway")
	} else if networkID.Int64() != chainID {
		rawClient.Close()
		return nil, fmt.Errorf("chain id mismatch: configured %d, endpoint reports %d", chainID, networkID.Int64())
	}

	logger.Info().
		Str("endpoint", endpoint).
		Int64("chain_id", chainID).
		Msg("Connected to RPC endpoint")

	return &Client{
		client:      client,
		raw:         rawClient,
		endpoint:    endpoint,
		chainID:     big.NewInt(chainID),
		callTimeout: callTimeout,
		logger:      logger,
	}, nil
}

// Close closes the RPC client connection
func (c *Client) Close() {
	c.client.Close()
	c.logger.Debug().Msg("RPC client connection closed")
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline || c.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	blockNumber, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	return blockNumber, nil
}

// BlockTime fetches only the header fields needed for a timestamp.
func (c *Client) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var header *RawHeader
	if err := c.raw.CallContext(ctx, &header, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false); err != nil {
		return time.Time{}, fmt.Errorf("failed to get block %d: %w", number, err)
	}
	if header == nil {
		return time.Time{}, fmt.Errorf("block %d: %w", number, ethereum.NotFound)
	}
	return time.Unix(int64(header.Timestamp), 0).UTC(), nil
}

func (c *Client) Transaction(ctx context.Context, hash common.Hash) (*Transaction, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var raw *RawTransaction
	if err := c.raw.CallContext(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", hash.Hex(), err)
	}
	if raw == nil {
		return nil, fmt.Errorf("transaction %s: %w", hash.Hex(), ethereum.NotFound)
	}
	return raw.toTransaction()
}

func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	receipt, err := c.client.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction receipt %s: %w", hash.Hex(), err)
	}
	return receipt, nil
}

func (c *Client) Logs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	logs, err := c.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	return logs, nil
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := c.client.CallContract(ctx, msg, block)
	if err != nil {
		return nil, fmt.Errorf("eth_call %s: %w", msg.To.Hex(), err)
	}
	return out, nil
}

// GetEndpoint returns the RPC endpoint URL
func (c *Client) GetEndpoint() string {
	return c.endpoint
}
