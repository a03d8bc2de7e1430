// Package launchpad scans launchpad token contracts for Transfer logs and turns
// them into ledger records, consolidating the graduation transaction.
package launchpad

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
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

// Store is what the scanner reads and writes.
type Store interface {
	database.TokenStore
	database.LedgerStore
	GetPool(ctx context.Context, tokenID int64) (*database.DexPool, error)
}

// Scanner advances a token's cursor over fixed-size block windows.
type Scanner struct {
	store     Store
	prices    prices.Provider
	manifest  *core.Resolved
	selectors Selectors
	detector  *Detector
	parser    *core.EventParser
}

func NewScanner(store Store, priceProvider prices.Provider, manifest *core.Resolved) *Scanner {
	parser := core.NewEventParser()
	parser.AddABI(&core.ERC20)
	return &Scanner{
		store:     store,
		prices:    priceProvider,
		manifest:  manifest,
		selectors: SelectorsFrom(manifest),
		detector:  NewDetector(manifest),
		parser:    parser,
	}
}

func (s *Scanner) Name() string { return "scanner" }

// Run scans [cursor+1, head]. The cursor only moves to the end of a window
// whose records were all written; a failing window stops the token.
func (s *Scanner) Run(ctx context.Context, job *core.TokenJob) error {
	token := job.Token
	chain := job.Chain
	logger := job.Logger.With().Str("component", "log_scanner").Logger()
	chainLabel := strconv.FormatInt(chain.Profile.ChainID, 10)

	head, err := chain.Provider.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get head: %w", err)
	}

	start := token.LastProcessedBlock + 1
	if token.LastProcessedBlock < token.DeployBlock {
		start = token.DeployBlock
	}
	if start > head {
		logger.Debug().Uint64("cursor", token.LastProcessedBlock).Uint64("head", head).Msg("Token is up to date")
		return nil
	}

	creator, err := s.resolveCreator(ctx, chain.Provider, token)
	if err != nil {
		return err
	}

	size := chain.Profile.WindowSize
	if size == 0 {
		size = 2000
	}

	windows := 0
	for from := start; from <= head; from += size {
		to := from + size - 1
		if to > head {
			to = head
		}

		ws := &window{
			token:   token,
			creator: creator,
			from:    from,
			to:      to,
			quote:   chain.Profile.QuoteToken,
			times:   make(map[uint64]time.Time),
			txs:     make(map[common.Hash]*rpc.Transaction),
			chain:   chainLabel,
			logger:  logger.With().Uint64("from", from).Uint64("to", to).Logger(),
		}
		if err := s.scanWindow(ctx, chain.Provider, ws); err != nil {
			metrics.ScannerWindows.WithLabelValues(chainLabel, "error").Inc()
			return fmt.Errorf("window [%d, %d]: %w", from, to, err)
		}

		if err := s.store.UpsertCursor(ctx, token.ID, token.ChainID, to); err != nil {
			metrics.ScannerWindows.WithLabelValues(chainLabel, "error").Inc()
			return fmt.Errorf("advance cursor to %d: %w", to, err)
		}
		token.LastProcessedBlock = to
		metrics.ScannerWindows.WithLabelValues(chainLabel, "ok").Inc()
		metrics.ScannerCursor.WithLabelValues(chainLabel, strconv.FormatInt(token.ID, 10)).Set(float64(to))
		windows++
	}

	logger.Info().
		Uint64("start", start).
		Uint64("head", head).
		Int("windows", windows).
		Msg("Scan complete")
	return nil
}

func (s *Scanner) resolveCreator(ctx context.Context, p rpc.Provider, token *database.Token) (common.Address, error) {
	if token.Creator != (common.Address{}) {
		return token.Creator, nil
	}
	creator, ok, err := core.ViewAddress(ctx, p, token.Address, core.CallData(s.manifest.Creator), nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("read creator: %w", err)
	}
	if !ok {
		return common.Address{}, nil
	}
	return creator, nil
}

// window carries the per-window caches.
type window struct {
	token   *database.Token
	creator common.Address
	from    uint64
	to      uint64
	ethUSD  decimal.Decimal
	pool    *database.DexPool
	quote   common.Address
	times   map[uint64]time.Time
	txs     map[common.Hash]*rpc.Transaction
	chain   string
	logger  zerolog.Logger
}

type txGroup struct {
	hash      common.Hash
	block     uint64
	transfers []TransferLog
	bad       error
}

func (s *Scanner) scanWindow(ctx context.Context, p rpc.Provider, w *window) error {
	logs, err := p.Logs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(w.from),
		ToBlock:   new(big.Int).SetUint64(w.to),
		Addresses: []common.Address{w.token.Address},
		Topics:    [][]common.Hash{{core.TransferTopic}},
	})
	if err != nil {
		return fmt.Errorf("get logs: %w", err)
	}
	if len(logs) == 0 {
		return nil
	}

	pool, err := s.store.GetPool(ctx, w.token.ID)
	switch {
	case errors.Is(err, database.ErrNotFound):
	case err != nil:
		return fmt.Errorf("get pool: %w", err)
	default:
		w.pool = pool
	}

	groups := s.group(logs)
	gradWindow := isGraduationWindow(w.from, w.pool, groups)
	if err := s.prefetch(ctx, p, w, groups); err != nil {
		return err
	}

	if price, ok := s.prices.PriceETHUSD(ctx); ok {
		w.ethUSD = price
	}

	var records []*database.TransferRecord
	for _, g := range groups {
		if g.bad != nil {
			w.logger.Warn().Err(g.bad).Str("tx", g.hash.Hex()).Msg("Skipping transaction with malformed log")
			metrics.SkippedItems.WithLabelValues(w.chain, "malformed").Inc()
			continue
		}

		tx, err := s.transaction(ctx, p, w, g.hash)
		if err != nil {
			return err
		}

		if (gradWindow && len(g.transfers) >= 3) || hasCandidate(g.transfers, w.token.Address) {
			handled, err := s.tryGraduation(ctx, p, w, tx, g)
			if err != nil {
				return err
			}
			if handled {
				continue
			}
		}

		recs, err := s.classify(ctx, p, w, tx, g)
		if err != nil {
			return err
		}
		records = append(records, recs...)
	}

	if len(records) == 0 {
		return nil
	}
	if err := s.store.UpsertTransfers(ctx, records); err != nil {
		return fmt.Errorf("write transfers: %w", err)
	}
	for _, r := range records {
		metrics.LedgerRecords.WithLabelValues(w.chain, string(r.Side), string(r.Source)).Inc()
	}
	w.logger.Info().Int("logs", len(logs)).Int("records", len(records)).Msg("Window processed")
	return nil
}

// group decodes logs and buckets them by transaction in block order.
func (s *Scanner) group(logs []types.Log) []*txGroup {
	byHash := make(map[common.Hash]*txGroup)
	var groups []*txGroup
	for i := range logs {
		l := &logs[i]
		g, ok := byHash[l.TxHash]
		if !ok {
			g = &txGroup{hash: l.TxHash, block: l.BlockNumber}
			byHash[l.TxHash] = g
			groups = append(groups, g)
		}
		if g.bad != nil {
			continue
		}
		t, err := s.decodeTransfer(l)
		if err != nil {
			g.bad = err
			continue
		}
		g.transfers = append(g.transfers, t)
	}
	for _, g := range groups {
		sort.Slice(g.transfers, func(i, j int) bool { return g.transfers[i].Log.Index < g.transfers[j].Log.Index })
	}
	return groups
}

func (s *Scanner) decodeTransfer(l *types.Log) (TransferLog, error) {
	ev, err := s.parser.ParseEvent(l)
	if err != nil {
		return TransferLog{}, err
	}
	from, err := ev.Addr("from")
	if err != nil {
		return TransferLog{}, err
	}
	to, err := ev.Addr("to")
	if err != nil {
		return TransferLog{}, err
	}
	value, err := ev.Uint("value")
	if err != nil {
		return TransferLog{}, err
	}
	return TransferLog{Log: l, From: from, To: to, Amount: value}, nil
}

// isGraduationWindow reports whether a window must be checked for the
// graduation transaction: once the pool exists every window from its
// graduation block on is; before that, any window holding a transaction with
// at least three transfers of the contract is.
func isGraduationWindow(from uint64, pool *database.DexPool, groups []*txGroup) bool {
	if pool != nil {
		return from >= pool.GraduationBlock
	}
	for _, g := range groups {
		if len(g.transfers) >= 3 {
			return true
		}
	}
	return false
}

func hasCandidate(transfers []TransferLog, contract common.Address) bool {
	for _, t := range transfers {
		if t.IsMint() && t.To == contract {
			return true
		}
	}
	return false
}

// tryGraduation reports whether the transaction was consumed as a
// graduation, recorded or deliberately skipped.
func (s *Scanner) tryGraduation(ctx context.Context, p rpc.Provider, w *window, tx *rpc.Transaction, g *txGroup) (bool, error) {
	receipt, err := p.Receipt(ctx, tx.Hash)
	if err != nil {
		return false, fmt.Errorf("get receipt %s: %w", tx.Hash.Hex(), err)
	}

	det, ok := s.detector.Detect(receipt, g.transfers, w.token.Address)
	if !ok {
		return false, nil
	}

	logger := w.logger.With().Str("tx", tx.Hash.Hex()).Uint64("block", tx.BlockNumber).Logger()

	existing, err := s.store.GraduationRecord(ctx, w.token.ID)
	switch {
	case errors.Is(err, database.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("get graduation record: %w", err)
	case existing.TxHash != tx.Hash:
		logger.Warn().
			Str("recorded_tx", existing.TxHash.Hex()).
			Uint64("recorded_block", existing.BlockNumber).
			Msg("Token already graduated in another transaction, skipping")
		metrics.SkippedItems.WithLabelValues(w.chain, "duplicate_graduation").Inc()
		return true, nil
	}

	blockTime, err := s.blockTime(ctx, p, w, tx.BlockNumber)
	if err != nil {
		return false, err
	}

	grad, err := s.detector.Consolidate(ctx, p, GraduationTx{
		Token:      w.token,
		Tx:         tx,
		BlockTime:  blockTime,
		Transfers:  g.transfers,
		Detection:  det,
		QuoteToken: w.quote,
		EthUSD:     w.ethUSD,
	})
	if errors.Is(err, core.ErrMissingCompanion) {
		logger.Warn().Err(err).Bool("event", det.Event != nil).Msg("Graduation detected but companion logs are missing, skipping transaction")
		metrics.SkippedItems.WithLabelValues(w.chain, "missing_companion").Inc()
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if err := s.store.RecordGraduation(ctx, grad); err != nil {
		return false, fmt.Errorf("record graduation: %w", err)
	}
	w.token.Graduated = true
	if w.pool == nil {
		w.pool = grad.Pool
	}

	metrics.Graduations.WithLabelValues(w.chain).Inc()
	metrics.LedgerRecords.WithLabelValues(w.chain, string(database.SideBuy), string(database.SourceCurve)).Inc()
	metrics.LedgerRecords.WithLabelValues(w.chain, string(database.SideGraduation), string(database.SourceCurve)).Inc()
	logger.Info().
		Str("pool", grad.Pool.PairAddress.Hex()).
		Str("quote", grad.Pool.QuoteToken.Hex()).
		Str("token_to_pool", grad.Grad.Amount.String()).
		Str("eth_to_pool", grad.Grad.EthAmount.String()).
		Str("liquidity_source", grad.Grad.Metadata.LiquiditySource).
		Msg("Graduation consolidated")
	return true, nil
}

func (s *Scanner) classify(ctx context.Context, p rpc.Provider, w *window, tx *rpc.Transaction, g *txGroup) ([]*database.TransferRecord, error) {
	var out []*database.TransferRecord
	for _, t := range g.transfers {
		kind := Classify(t, tx, w.token.Address, w.creator, s.selectors)
		side, ok := kind.Side()
		if !ok {
			w.logger.Debug().
				Str("tx", tx.Hash.Hex()).
				Uint("log_index", t.Log.Index).
				Stringer("kind", kind).
				Msg("Transfer not recorded")
			continue
		}

		blockTime, err := s.blockTime(ctx, p, w, tx.BlockNumber)
		if err != nil {
			return nil, err
		}

		rec := &database.TransferRecord{
			TokenID:     w.token.ID,
			ChainID:     w.token.ChainID,
			BlockNumber: tx.BlockNumber,
			BlockTime:   blockTime,
			TxHash:      tx.Hash,
			LogIndex:    t.Log.Index,
			From:        t.From,
			To:          t.To,
			Amount:      new(big.Int).Set(t.Amount),
			EthAmount:   new(big.Int),
			EthUSD:      w.ethUSD,
			Side:        side,
			Source:      database.SourceCurve,
		}

		switch kind {
		case KindBuy, KindBuyLock:
			if tx.Value != nil {
				rec.EthAmount.Set(tx.Value)
			}
		case KindSell:
			proceeds, err := s.sellProceeds(ctx, p, w, t.Amount, tx.BlockNumber)
			if err != nil {
				return nil, err
			}
			rec.EthAmount = proceeds
		}
		rec.Price = core.UnitPrice(rec.EthAmount, core.DefaultDecimals, rec.Amount, w.token.Decimals)

		w.logger.Debug().
			Str("tx", tx.Hash.Hex()).
			Uint("log_index", t.Log.Index).
			Str("side", string(side)).
			Str("amount", rec.Amount.String()).
			Str("eth", rec.EthAmount.String()).
			Msg("Classified transfer")
		out = append(out, rec)
	}
	return out, nil
}

// sellProceeds evaluates the curve's sell price for amount at the block
// before the sale; the sale's own block already reflects the trade.
func (s *Scanner) sellProceeds(ctx context.Context, p rpc.Provider, w *window, amount *big.Int, block uint64) (*big.Int, error) {
	at := block
	if at > 0 {
		at--
	}
	v, ok, err := core.ViewUint(ctx, p, w.token.Address, core.CallData(s.manifest.SellPrice, amount), new(big.Int).SetUint64(at))
	if err != nil {
		return nil, fmt.Errorf("sell price at %d: %w", at, err)
	}
	if !ok {
		w.logger.Warn().Uint64("block", at).Str("amount", amount.String()).Msg("Sell price unavailable, recording SELL without proceeds")
		metrics.SkippedItems.WithLabelValues(w.chain, "sell_price_unavailable").Inc()
		return new(big.Int), nil
	}
	return v, nil
}

// prefetch fills the window caches with one batch per kind when the
// provider can batch.
func (s *Scanner) prefetch(ctx context.Context, p rpc.Provider, w *window, groups []*txGroup) error {
	b, ok := p.(rpc.Batcher)
	if !ok {
		return nil
	}

	var hashes []common.Hash
	var blocks []uint64
	seen := make(map[uint64]bool)
	for _, g := range groups {
		if g.bad != nil {
			continue
		}
		if _, ok := w.txs[g.hash]; !ok {
			hashes = append(hashes, g.hash)
		}
		if _, ok := w.times[g.block]; !ok && !seen[g.block] {
			seen[g.block] = true
			blocks = append(blocks, g.block)
		}
	}

	if len(hashes) > 0 {
		txs, err := b.TransactionsBatch(ctx, hashes)
		if err != nil {
			return fmt.Errorf("prefetch transactions: %w", err)
		}
		for _, tx := range txs {
			w.txs[tx.Hash] = tx
		}
	}
	if len(blocks) > 0 {
		times, err := b.BlockTimesBatch(ctx, blocks)
		if err != nil {
			return fmt.Errorf("prefetch block times: %w", err)
		}
		for i, n := range blocks {
			w.times[n] = times[i]
		}
	}
	return nil
}

func (s *Scanner) transaction(ctx context.Context, p rpc.Provider, w *window, hash common.Hash) (*rpc.Transaction, error) {
	if tx, ok := w.txs[hash]; ok {
		return tx, nil
	}
	tx, err := p.Transaction(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", hash.Hex(), err)
	}
	w.txs[hash] = tx
	return tx, nil
}

func (s *Scanner) blockTime(ctx context.Context, p rpc.Provider, w *window, number uint64) (time.Time, error) {
	if ts, ok := w.times[number]; ok {
		return ts, nil
	}
	ts, err := p.BlockTime(ctx, number)
	if err != nil {
		return time.Time{}, fmt.Errorf("get block %d time: %w", number, err)
	}
	w.times[number] = ts
	return ts, nil
}
