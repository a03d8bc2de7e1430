package processor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/curvestream/indexer/internal/config"
	"github.com/curvestream/indexer/internal/database"
	"github.com/curvestream/indexer/internal/modules/loader"
	"github.com/curvestream/indexer/internal/prices"
	"github.com/curvestream/indexer/internal/rpc"
)

// Runtime is everything a command needs to run the pipeline against live
// infrastructure. Chains are not part of it: each run dials its own.
type Runtime struct {
	DB       *database.Database
	Store    *database.Repository
	Pipeline *Pipeline
}

// Open connects the database, applies migrations and wires the default pass
// order with a dialer over every enabled chain.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Runtime, error) {
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	manifest, err := loader.NewManifestLoader(logger).Load(cfg.Manifest.Path)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	priceProvider, err := prices.New(cfg.Prices, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prices: %w", err)
	}

	store := database.NewRepository(db, logger)
	return &Runtime{
		DB:       db,
		Store:    store,
		Pipeline: NewPipeline(DialConfig(cfg, logger), store, Steps(store, priceProvider, manifest, cfg.Aggregator), logger),
	}, nil
}

// DialConfig dials the configured chains afresh on every call.
func DialConfig(cfg *config.Config, logger zerolog.Logger) Dialer {
	return func(ctx context.Context) (ChainSet, error) {
		reg, err := rpc.Dial(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return reg, nil
	}
}

func (r *Runtime) Close() {
	r.DB.Close()
}

// FilterFrom turns the configured filters into a token filter. Zero ids do
// not filter.
func FilterFrom(cfg config.FilterConfig) (database.TokenFilter, error) {
	var f database.TokenFilter
	if cfg.TokenID > 0 {
		f.TokenID = &cfg.TokenID
	}
	if cfg.FromID > 0 {
		f.FromID = &cfg.FromID
	}
	if cfg.ToID > 0 {
		f.ToID = &cfg.ToID
	}
	if cfg.ChainID > 0 {
		f.ChainID = &cfg.ChainID
	}
	graduated, err := config.ParseGraduated(cfg.Graduated)
	if err != nil {
		return f, err
	}
	f.Graduated = graduated
	return f, nil
}
