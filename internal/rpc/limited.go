package rpc

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/curvestream/indexer/internal/config"
	"github.com/curvestream/indexer/internal/metrics"
)

// Limited wraps a Provider so every call retries rate-limit errors with the
// chain's backoff and is followed by the chain's minimum inter-call delay.
// Any other error is returned on first occurrence.
type Limited struct {
	next    Provider
	profile config.ChainProfile
	limiter *rate.Limiter
	chain   string
	logger  zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

var _ Provider = (*Limited)(nil)

func NewLimited(next Provider, profile config.ChainProfile, logger zerolog.Logger) *Limited {
	l := &Limited{
		next:    next,
		profile: profile,
		chain:   profile.Name,
		logger:  logger.With().Str("component", "rpc_limiter").Str("chain", profile.Name).Logger(),
		sleep:   sleepCtx,
	}
	if profile.MaxRPS > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(profile.MaxRPS), 1)
	}
	return l
}

// Profile returns the tunables the wrapper was built with.
func (l *Limited) Profile() config.ChainProfile {
	return l.profile
}

// Call runs fn under the wrapper's policy.
func Call[T any](ctx context.Context, l *Limited, method string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := l.profile.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; ; attempt++ {
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return zero, err
			}
		}

		out, err := fn(ctx)
		if err == nil {
			metrics.RPCCalls.WithLabelValues(l.chain, method, "ok").Inc()
			if l.profile.MinCallDelay > 0 {
				_ = l.sleep(ctx, l.profile.MinCallDelay)
			}
			return out, nil
		}

		// rate limits and timeouts are transient; a timeout of the caller's
		// own context is not
		reason := "rate_limited"
		switch {
		case IsRateLimit(err):
		case IsTimeout(err) && ctx.Err() == nil:
			reason = "timeout"
		default:
			metrics.RPCCalls.WithLabelValues(l.chain, method, "error").Inc()
			return zero, err
		}

		metrics.RPCCalls.WithLabelValues(l.chain, method, reason).Inc()
		if attempt+1 >= attempts {
			if reason == "timeout" {
				return zero, fmt.Errorf("%s timed out after %d attempts: %w", method, attempts, err)
			}
			return zero, fmt.Errorf("%s after %d attempts: %w (last: %v)", method, attempts, ErrRateLimited, err)
		}

		wait := l.backoff(attempt)
		metrics.RPCRateLimitRetries.WithLabelValues(l.chain).Inc()
		l.logger.Warn().
			Err(err).
			Str("method", method).
			Str("reason", reason).
			Int("attempt", attempt+1).
			Dur("wait", wait).
			Msg("Transient provider error, backing off")

		if err := l.sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
}

func (l *Limited) backoff(attempt int) time.Duration {
	b := l.profile.Backoff
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := time.Duration(float64(b.Initial) * math.Pow(mult, float64(attempt)))
	if b.Max > 0 && (d > b.Max || d <= 0) {
		d = b.Max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (l *Limited) BlockNumber(ctx context.Context) (uint64, error) {
	return Call(ctx, l, "eth_blockNumber", l.next.BlockNumber)
}

func (l *Limited) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	return Call(ctx, l, "eth_getBlockByNumber", func(ctx context.Context) (time.Time, error) {
		return l.next.BlockTime(ctx, number)
	})
}

func (l *Limited) Transaction(ctx context.Context, hash common.Hash) (*Transaction, error) {
	return Call(ctx, l, "eth_getTransactionByHash", func(ctx context.Context) (*Transaction, error) {
		return l.next.Transaction(ctx, hash)
	})
}

func (l *Limited) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return Call(ctx, l, "eth_getTransactionReceipt", func(ctx context.Context) (*types.Receipt, error) {
		return l.next.Receipt(ctx, hash)
	})
}

func (l *Limited) Logs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return Call(ctx, l, "eth_getLogs", func(ctx context.Context) ([]types.Log, error) {
		return l.next.Logs(ctx, query)
	})
}

func (l *Limited) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	return Call(ctx, l, "eth_call", func(ctx context.Context) ([]byte, error) {
		return l.next.CallContract(ctx, msg, block)
	})
}

var _ Batcher = (*Limited)(nil)

// TransactionsBatch sends one batch when the wrapped provider supports it and
// one call per hash otherwise.
func (l *Limited) TransactionsBatch(ctx context.Context, hashes []common.Hash) ([]*Transaction, error) {
	b, ok := l.next.(Batcher)
	if !ok {
		out := make([]*Transaction, 0, len(hashes))
		for _, h := range hashes {
			tx, err := l.Transaction(ctx, h)
			if err != nil {
				return nil, err
			}
			out = append(out, tx)
		}
		return out, nil
	}
	return Call(ctx, l, "batch_getTransactionByHash", func(ctx context.Context) ([]*Transaction, error) {
		return b.TransactionsBatch(ctx, hashes)
	})
}

func (l *Limited) BlockTimesBatch(ctx context.Context, numbers []uint64) ([]time.Time, error) {
	b, ok := l.next.(Batcher)
	if !ok {
		out := make([]time.Time, 0, len(numbers))
		for _, n := range numbers {
			ts, err := l.BlockTime(ctx, n)
			if err != nil {
				return nil, err
			}
			out = append(out, ts)
		}
		return out, nil
	}
	return Call(ctx, l, "batch_getBlockByNumber", func(ctx context.Context) ([]time.Time, error) {
		return b.BlockTimesBatch(ctx, numbers)
	})
}
