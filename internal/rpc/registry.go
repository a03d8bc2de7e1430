package rpc

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/curvestream/indexer/internal/config"
)

// Chain is one registered chain: its resolved profile and the rate-limited
// provider every component must use for it.
type Chain struct {
	Profile  config.ChainProfile
	Provider Provider

	closer func()
}

// Registry holds one provider per configured chain for the lifetime of a
// run. It is built at the start of every run and closed when the run ends.
type Registry struct {
	chains  map[int64]*Chain
	skipped []int64
	logger  zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		chains: make(map[int64]*Chain),
		logger: logger.With().Str("component", "chain_registry").Logger(),
	}
}

// Dial builds a registry from configuration. Chains whose endpoint cannot be
// dialled or fails the health check are logged and left out; the run goes on
// with the rest.
func Dial(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Registry, error) {
	r := NewRegistry(logger)

	for _, chainCfg := range cfg.EnabledChains() {
		profile := chainCfg.Profile(cfg.RPC)
		chainLogger := logger.With().Int64("chain_id", profile.ChainID).Str("chain", profile.Name).Logger()

		client, err := NewClient(ctx, profile.RPCEndpoint, profile.ChainID, profile.CallTimeout, chainLogger)
		if err != nil {
			chainLogger.Error().Err(err).Msg("Failed to dial chain, skipping for this run")
			r.skipped = append(r.skipped, profile.ChainID)
			continue
		}

		chain := r.Register(profile, client, client.Close)
		if cfg.RPC.SkipHealthCheck {
			continue
		}
		if err := r.healthCheck(ctx, chain, cfg.RPC.HealthCheckTimeout); err != nil {
			chainLogger.Error().Err(err).Msg("Chain failed health check, skipping for this run")
			r.remove(profile.ChainID)
			r.skipped = append(r.skipped, profile.ChainID)
		}
	}

	if len(r.chains) == 0 {
		return nil, fmt.Errorf("no usable chains")
	}
	return r, nil
}

// Register adds a chain backed by the given provider, wrapped in Limited.
func (r *Registry) Register(profile config.ChainProfile, provider Provider, closer func()) *Chain {
	chain := &Chain{
		Profile:  profile,
		Provider: NewLimited(provider, profile, r.logger),
		closer:   closer,
	}
	r.chains[profile.ChainID] = chain
	return chain
}

func (r *Registry) healthCheck(ctx context.Context, chain *Chain, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	head, err := chain.Provider.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	r.logger.Info().
		Int64("chain_id", chain.Profile.ChainID).
		Uint64("head", head).
		Msg("Chain healthy")
	return nil
}

func (r *Registry) remove(chainID int64) {
	if chain, ok := r.chains[chainID]; ok {
		if chain.closer != nil {
			chain.closer()
		}
		delete(r.chains, chainID)
	}
}

// Skipped lists the configured chains left out of this run.
func (r *Registry) Skipped() []int64 {
	return r.skipped
}

func (r *Registry) Chain(chainID int64) (*Chain, bool) {
	chain, ok := r.chains[chainID]
	return chain, ok
}

// Chains returns the registered chains ordered by chain id.
func (r *Registry) Chains() []*Chain {
	out := make([]*Chain, 0, len(r.chains))
	for _, chain := range r.chains {
		out = append(out, chain)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Profile.ChainID < out[j].Profile.ChainID })
	return out
}

func (r *Registry) Close() {
	for id := range r.chains {
		r.remove(id)
	}
}
