// Package processor runs the per-token passes over every configured chain.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/curvestream/indexer/internal/config"
	"github.com/curvestream/indexer/internal/database"
	"github.com/curvestream/indexer/internal/ledger"
	"github.com/curvestream/indexer/internal/metrics"
	"github.com/curvestream/indexer/internal/modules/core"
	"github.com/curvestream/indexer/internal/modules/launchpad"
	"github.com/curvestream/indexer/internal/modules/uniswapv2"
	"github.com/curvestream/indexer/internal/prices"
	"github.com/curvestream/indexer/internal/rpc"
	"github.com/curvestream/indexer/internal/stats"
)

// ChainSet is the set of dialed chains a run covers. It is closed when the
// run ends.
type ChainSet interface {
	Chains() []*rpc.Chain
	Chain(chainID int64) (*rpc.Chain, bool)
	Skipped() []int64
	Close()
}

// Dialer builds a fresh ChainSet. Every run and every SyncToken call dials
// its own, so a chain left out of one run is tried again on the next.
type Dialer func(ctx context.Context) (ChainSet, error)

// Tokens lists the tokens of a run.
type Tokens interface {
	ListTokens(ctx context.Context, filter database.TokenFilter) ([]*database.Token, error)
	GetToken(ctx context.Context, id int64) (*database.Token, error)
}

// Step is one pass in the per-token order. When a Required step fails the
// steps after it are skipped for that token; other failures are logged and
// the token moves on.
type Step struct {
	Pass     core.Pass
	Required bool
}

// Steps wires the default pass order: scanner, dex, ledger, stats.
func Steps(store database.Store, priceProvider prices.Provider, manifest *core.Resolved, agg config.AggregatorConfig) []Step {
	return []Step{
		{Pass: launchpad.NewScanner(store, priceProvider, manifest)},
		{Pass: uniswapv2.NewProcessor(store, priceProvider)},
		{Pass: ledger.NewReconstructor(store), Required: true},
		{Pass: stats.NewAggregator(store, priceProvider, manifest, agg)},
	}
}

// Summary is the outcome of one run.
type Summary struct {
	RunID         string        `json:"run_id"`
	Status        string        `json:"status"`
	Chains        int           `json:"chains"`
	SkippedChains []int64       `json:"skipped_chains,omitempty"`
	Tokens        int           `json:"tokens"`
	Failed        int           `json:"failed"`
	Duration      time.Duration `json:"duration"`
	FinishedAt    time.Time     `json:"finished_at"`
}

type Pipeline struct {
	dial   Dialer
	tokens Tokens
	steps  []Step
	logger zerolog.Logger

	mu   sync.RWMutex
	last *Summary
}

func NewPipeline(dial Dialer, tokens Tokens, steps []Step, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		dial:   dial,
		tokens: tokens,
		steps:  steps,
		logger: logger.With().Str("component", "pipeline").Logger(),
	}
}

// Run processes chains in id order and each chain's tokens in id order. A
// token's failure never stops the run; cancellation does.
func (p *Pipeline) Run(ctx context.Context, filter database.TokenFilter) (*Summary, error) {
	start := time.Now()
	sum := &Summary{RunID: uuid.NewString()}
	logger := p.logger.With().Str("run_id", sum.RunID).Logger()
	logger.Info().Msg("Run started")

	var err error
	chains, dialErr := p.dial(ctx)
	if dialErr != nil {
		err = fmt.Errorf("dial chains: %w", dialErr)
	} else {
		sum.SkippedChains = chains.Skipped()
		err = p.run(ctx, chains, filter, sum, logger)
		chains.Close()
	}
	sum.Duration = time.Since(start)
	metrics.RunLatency.Observe(sum.Duration.Seconds())

	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case sum.Failed > 0, len(sum.SkippedChains) > 0:
		status = "partial"
	}
	metrics.RunsTotal.WithLabelValues(status).Inc()
	sum.Status = status
	sum.FinishedAt = time.Now()

	p.mu.Lock()
	cp := *sum
	p.last = &cp
	p.mu.Unlock()

	logger.Info().
		Str("status", status).
		Int("chains", sum.Chains).
		Int("tokens", sum.Tokens).
		Int("failed", sum.Failed).
		Dur("duration", sum.Duration).
		Msg("Run finished")
	return sum, err
}

func (p *Pipeline) run(ctx context.Context, chains ChainSet, filter database.TokenFilter, sum *Summary, logger zerolog.Logger) error {
	for _, chain := range chains.Chains() {
		if filter.ChainID != nil && *filter.ChainID != chain.Profile.ChainID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		chainID := chain.Profile.ChainID
		f := filter
		f.ChainID = &chainID
		tokens, err := p.tokens.ListTokens(ctx, f)
		if err != nil {
			logger.Error().Err(err).Int64("chain_id", chainID).Msg("Failed to list tokens, skipping chain")
			continue
		}

		sum.Chains++
		logger.Info().Int64("chain_id", chainID).Str("chain", chain.Profile.Name).Int("tokens", len(tokens)).Msg("Processing chain")

		for _, token := range tokens {
			if err := ctx.Err(); err != nil {
				return err
			}
			sum.Tokens++
			if err := p.runToken(ctx, chain, token, sum.RunID, logger); err != nil {
				sum.Failed++
			}
		}
	}
	return nil
}

// LastRun returns the summary of the most recent finished run.
func (p *Pipeline) LastRun() (Summary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return Summary{}, false
	}
	return *p.last, true
}

// SyncToken runs every pass for one token now.
func (p *Pipeline) SyncToken(ctx context.Context, tokenID int64) error {
	token, err := p.tokens.GetToken(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("get token %d: %w", tokenID, err)
	}
	chains, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial chains: %w", err)
	}
	defer chains.Close()

	chain, ok := chains.Chain(token.ChainID)
	if !ok {
		return fmt.Errorf("token %d: chain %d is not configured", tokenID, token.ChainID)
	}
	runID := uuid.NewString()
	return p.runToken(ctx, chain, token, runID, p.logger.With().Str("run_id", runID).Logger())
}

func (p *Pipeline) runToken(ctx context.Context, chain *rpc.Chain, token *database.Token, runID string, logger zerolog.Logger) error {
	chainLabel := strconv.FormatInt(chain.Profile.ChainID, 10)
	job := &core.TokenJob{
		Chain: chain,
		Token: token,
		RunID: runID,
		Logger: logger.With().
			Int64("chain_id", chain.Profile.ChainID).
			Int64("token_id", token.ID).
			Str("token", token.Address.Hex()).
			Logger(),
	}

	var errs []error
	for i, step := range p.steps {
		name := step.Pass.Name()
		start := time.Now()
		err := step.Pass.Run(ctx, job)
		metrics.PassLatency.WithLabelValues(chainLabel, name).Observe(time.Since(start).Seconds())
		if err == nil {
			job.Logger.Debug().Str("pass", name).Str("status", string(core.StatusOK)).Msg("Pass done")
			continue
		}

		metrics.PassErrors.WithLabelValues(chainLabel, name).Inc()
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
		job.Logger.Error().Err(err).Str("pass", name).Str("status", string(core.StatusError)).Msg("Pass failed")

		if step.Required {
			for _, rest := range p.steps[i+1:] {
				job.Logger.Warn().Str("pass", rest.Pass.Name()).Str("status", string(core.StatusSkipped)).
					Msgf("Skipped after %s failure", name)
			}
			break
		}
	}
	return errors.Join(errs...)
}
