// Package uniswapv2 follows a graduated token's UniswapV2-style pair: Swap
// events become DEX ledger records and Sync events become reserve snapshots.
package uniswapv2

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/curvestream/indexer/internal/database"
	"github.com/curvestream/indexer/internal/metrics"
	"github.com/curvestream/indexer/internal/modules/core"
	"github.com/curvestream/indexer/internal/prices"
	"github.com/curvestream/indexer/internal/rpc"
)

// Store is what the DEX pass reads and writes.
type Store interface {
	database.PoolStore
	UpsertTransfers(ctx context.Context, records []*database.TransferRecord) error
}

// Processor runs the Swap and Sync scans of a pool. Each scan has its own
// cursor; a failure in one does not stop the other.
type Processor struct {
	store  Store
	prices prices.Provider
	parser *core.EventParser
}

func NewProcessor(store Store, priceProvider prices.Provider) *Processor {
	parser := core.NewEventParser()
	parser.AddABI(&core.PairV2)
	return &Processor{
		store:  store,
		prices: priceProvider,
		parser: parser,
	}
}

func (p *Processor) Name() string { return "dex" }

func (p *Processor) Run(ctx context.Context, job *core.TokenJob) error {
	logger := job.Logger.With().Str("component", "dex_processor").Logger()

	pool, err := p.store.GetPool(ctx, job.Token.ID)
	if errors.Is(err, database.ErrNotFound) {
		logger.Debug().Msg("No pool yet, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get pool: %w", err)
	}

	logger = logger.With().Str("pair", pool.PairAddress.Hex()).Logger()
	provider := job.Chain.Provider

	head, err := provider.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get head: %w", err)
	}

	tokenIsToken0, err := resolveOrdering(ctx, provider, pool, logger)
	if err != nil {
		return err
	}

	sc := &scan{
		chain:         strconv.FormatInt(job.Chain.Profile.ChainID, 10),
		pool:          pool,
		token:         job.Token,
		tokenIsToken0: tokenIsToken0,
		windowSize:    job.Chain.Profile.WindowSize,
		head:          head,
		times:         make(map[uint64]time.Time),
		txs:           make(map[common.Hash]*rpc.Transaction),
		logger:        logger,
	}
	if usd, ok := p.prices.PriceETHUSD(ctx); ok {
		sc.ethUSD = usd
	}

	swapErr := p.scanSwaps(ctx, provider, sc)
	if swapErr != nil {
		logger.Error().Err(swapErr).Msg("Swap scan failed")
	}
	syncErr := p.scanSyncs(ctx, provider, sc)
	if syncErr != nil {
		logger.Error().Err(syncErr).Msg("Sync scan failed")
	}
	return errors.Join(swapErr, syncErr)
}

// resolveOrdering reads the pair's live token0/token1. The recorded ordering
// is the fallback when the pair cannot be read.
func resolveOrdering(ctx context.Context, c core.Caller, pool *database.DexPool, logger zerolog.Logger) (bool, error) {
	token0, token1, err := core.PairTokens(ctx, c, pool.PairAddress)
	var tokenIsToken0 bool
	switch {
	case errors.Is(err, core.ErrMalformed):
		logger.Warn().Err(err).Msg("Pair ordering unreadable, using recorded ordering")
		tokenIsToken0 = pool.TokenIsToken0()
	case err != nil:
		return false, fmt.Errorf("read pair ordering: %w", err)
	case token1 == pool.QuoteToken:
		tokenIsToken0 = true
	case token0 == pool.QuoteToken:
		tokenIsToken0 = false
	default:
		logger.Warn().
			Str("token0", token0.Hex()).
			Str("token1", token1.Hex()).
			Str("quote", pool.QuoteToken.Hex()).
			Msg("Pair does not hold the recorded quote token, using recorded ordering")
		tokenIsToken0 = pool.TokenIsToken0()
	}
	return tokenIsToken0, nil
}

type scan struct {
	chain         string
	pool          *database.DexPool
	token         *database.Token
	tokenIsToken0 bool
	windowSize    uint64
	head          uint64
	ethUSD        decimal.Decimal
	times         map[uint64]time.Time
	txs           map[common.Hash]*rpc.Transaction
	logger        zerolog.Logger
}

func (s *scan) windows(cursor uint64, fn func(from, to uint64) error) error {
	size := s.windowSize
	if size == 0 {
		size = 2000
	}
	for from := cursor + 1; from <= s.head; from += size {
		to := from + size - 1
		if to > s.head {
			to = s.head
		}
		if err := fn(from, to); err != nil {
			return fmt.Errorf("window [%d, %d]: %w", from, to, err)
		}
	}
	return nil
}

func (s *scan) logs(ctx context.Context, provider rpc.Provider, topic common.Hash, from, to uint64) ([]types.Log, error) {
	logs, err := provider.Logs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.pool.PairAddress},
		Topics:    [][]common.Hash{{topic}},
	})
	if err != nil {
		return nil, fmt.Errorf("get logs: %w", err)
	}
	return logs, nil
}

func (s *scan) blockTime(ctx context.Context, provider rpc.Provider, n uint64) (time.Time, error) {
	if ts, ok := s.times[n]; ok {
		return ts, nil
	}
	ts, err := provider.BlockTime(ctx, n)
	if err != nil {
		return time.Time{}, fmt.Errorf("get block %d time: %w", n, err)
	}
	s.times[n] = ts
	return ts, nil
}

func (s *scan) transaction(ctx context.Context, provider rpc.Provider, hash common.Hash) (*rpc.Transaction, error) {
	if tx, ok := s.txs[hash]; ok {
		return tx, nil
	}
	tx, err := provider.Transaction(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", hash.Hex(), err)
	}
	s.txs[hash] = tx
	return tx, nil
}

func (p *Processor) scanSwaps(ctx context.Context, provider rpc.Provider, s *scan) error {
	written := 0
	err := s.windows(s.pool.LastProcessedBlock, func(from, to uint64) error {
		logs, err := s.logs(ctx, provider, core.SwapTopic, from, to)
		if err != nil {
			return err
		}

		var records []*database.TransferRecord
		for i := range logs {
			rec, err := p.swapRecord(ctx, provider, s, &logs[i])
			if err != nil {
				return err
			}
			if rec != nil {
				records = append(records, rec)
			}
		}

		if len(records) > 0 {
			if err := p.store.UpsertTransfers(ctx, records); err != nil {
				return fmt.Errorf("write swaps: %w", err)
			}
			for _, r := range records {
				metrics.LedgerRecords.WithLabelValues(s.chain, string(r.Side), string(r.Source)).Inc()
			}
			written += len(records)
		}
		if err := p.store.AdvanceSwapCursor(ctx, s.pool.TokenID, to); err != nil {
			return fmt.Errorf("advance swap cursor: %w", err)
		}
		return nil
	})
	s.logger.Info().Int("records", written).Uint64("head", s.head).Msg("Swap scan done")
	return err
}

// swapRecord returns nil for swaps that are skipped.
func (p *Processor) swapRecord(ctx context.Context, provider rpc.Provider, s *scan, log *types.Log) (*database.TransferRecord, error) {
	swap, err := decodeSwap(p.parser, log)
	if err != nil {
		s.logger.Warn().Err(err).Str("tx", log.TxHash.Hex()).Uint("log_index", log.Index).Msg("Skipping malformed Swap")
		metrics.SkippedItems.WithLabelValues(s.chain, "malformed").Inc()
		return nil, nil
	}

	trade, ok := swap.ToTrade(s.tokenIsToken0)
	if !ok {
		s.logger.Debug().Str("tx", log.TxHash.Hex()).Uint("log_index", log.Index).Msg("Dropping zero-amount swap")
		metrics.SkippedItems.WithLabelValues(s.chain, "zero_swap").Inc()
		return nil, nil
	}

	ts, err := s.blockTime(ctx, provider, log.BlockNumber)
	if err != nil {
		return nil, err
	}

	from, to := s.pool.PairAddress, swap.To
	if trade.Side == database.SideSell {
		tx, err := s.transaction(ctx, provider, log.TxHash)
		if err != nil {
			return nil, err
		}
		from, to = tx.From, s.pool.PairAddress
	}

	return &database.TransferRecord{
		TokenID:     s.pool.TokenID,
		ChainID:     s.pool.ChainID,
		BlockNumber: log.BlockNumber,
		BlockTime:   ts,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
		From:        from,
		To:          to,
		Amount:      trade.TokenAmount,
		EthAmount:   trade.QuoteAmount,
		Price:       core.UnitPrice(trade.QuoteAmount, s.pool.QuoteDecimals, trade.TokenAmount, s.tokenDecimals()),
		EthUSD:      s.ethUSD,
		Side:        trade.Side,
		Source:      database.SourceDex,
	}, nil
}

func (s *scan) tokenDecimals() int {
	if s.pool.TokenDecimals > 0 {
		return s.pool.TokenDecimals
	}
	return s.token.Decimals
}

func (p *Processor) scanSyncs(ctx context.Context, provider rpc.Provider, s *scan) error {
	written := 0
	err := s.windows(s.pool.LastProcessedSyncBlock, func(from, to uint64) error {
		logs, err := s.logs(ctx, provider, core.SyncTopic, from, to)
		if err != nil {
			return err
		}

		var snapshots []*database.PairSnapshot
		for i := range logs {
			log := &logs[i]
			ev, err := decodeSync(p.parser, log)
			if err != nil {
				s.logger.Warn().Err(err).Str("tx", log.TxHash.Hex()).Uint("log_index", log.Index).Msg("Skipping malformed Sync")
				metrics.SkippedItems.WithLabelValues(s.chain, "malformed").Inc()
				continue
			}
			ts, err := s.blockTime(ctx, provider, log.BlockNumber)
			if err != nil {
				return err
			}
			tokenRes, quoteRes := ev.Reserves(s.tokenIsToken0)
			snapshots = append(snapshots, &database.PairSnapshot{
				ChainID:      s.pool.ChainID,
				PairAddress:  s.pool.PairAddress,
				BlockNumber:  log.BlockNumber,
				BlockTime:    ts,
				LogIndex:     log.Index,
				ReserveToken: tokenRes,
				ReserveQuote: quoteRes,
				Price:        core.UnitPrice(quoteRes, s.pool.QuoteDecimals, tokenRes, s.tokenDecimals()),
			})
		}

		if len(snapshots) > 0 {
			if err := p.store.UpsertSnapshots(ctx, snapshots); err != nil {
				return fmt.Errorf("write snapshots: %w", err)
			}
			metrics.DexSnapshots.WithLabelValues(s.chain).Add(float64(len(snapshots)))
			written += len(snapshots)
		}
		if err := p.store.AdvanceSyncCursor(ctx, s.pool.TokenID, to); err != nil {
			return fmt.Errorf("advance sync cursor: %w", err)
		}
		return nil
	})
	s.logger.Info().Int("snapshots", written).Uint64("head", s.head).Msg("Sync scan done")
	return err
}
