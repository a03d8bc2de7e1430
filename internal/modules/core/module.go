package core

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/curvestream/indexer/internal/database"
	"github.com/curvestream/indexer/internal/rpc"
)

// Pass is one per-token processing step. The pipeline runs passes in a
// fixed dependency order: scan, dex, balances, stats.
type Pass interface {
	// Name returns the unique name of the pass
	Name() string

	// Run processes one token against one chain. Errors abort only this
	// token's pass.
	Run(ctx context.Context, job *TokenJob) error
}

// TokenJob is the unit of work handed to every pass.
type TokenJob struct {
	Chain  *rpc.Chain
	Token  *database.Token
	RunID  string
	Logger zerolog.Logger
}

// PassStatus is the outcome label used in logs and metrics.
type PassStatus string

const (
	StatusOK      PassStatus = "ok"
	StatusSkipped PassStatus = "skipped"
	StatusError   PassStatus = "error"
)
