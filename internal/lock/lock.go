// Package lock guarantees at most one active pipeline run.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/curvestream/indexer/internal/config"
)

// ErrLockHeld means another run holds the lock. Callers exit without work.
var ErrLockHeld = errors.New("run lock held by another process")

// Release gives the lock back. It is safe to call more than once.
type Release func(ctx context.Context) error

type Locker interface {
	TryAcquire(ctx context.Context) (Release, error)
}

// New builds the configured backend.
func New(cfg config.LockConfig, pool *pgxpool.Pool, logger zerolog.Logger) (Locker, error) {
	switch cfg.Backend {
	case "", "postgres":
		return NewAdvisory(pool, cfg.Key, logger), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("connect redis lock backend: %w", err)
		}
		return NewRedis(client, fmt.Sprintf("launchpad:runlock:%d", cfg.Key), cfg.TTL, logger), nil
	}
	return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
}

// Advisory is a session-level Postgres advisory lock held on one pooled
// connection for the whole run.
type Advisory struct {
	pool   *pgxpool.Pool
	key    int64
	logger zerolog.Logger
}

func NewAdvisory(pool *pgxpool.Pool, key int64, logger zerolog.Logger) *Advisory {
	return &Advisory{
		pool:   pool,
		key:    key,
		logger: logger.With().Str("component", "run_lock").Str("backend", "postgres").Logger(),
	}
}

func (a *Advisory) TryAcquire(ctx context.Context) (Release, error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, a.key).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("pg_try_advisory_lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, ErrLockHeld
	}

	a.logger.Debug().Int64("key", a.key).Msg("Run lock acquired")

	released := false
	return func(ctx context.Context) error {
		if released {
			return nil
		}
		released = true
		defer conn.Release()

		var unlocked bool
		if err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, a.key).Scan(&unlocked); err != nil {
			// the session lock dies with the connection
			_ = conn.Conn().Close(ctx)
			return fmt.Errorf("pg_advisory_unlock: %w", err)
		}
		if !unlocked {
			a.logger.Warn().Int64("key", a.key).Msg("Run lock was not held at release")
		}
		return nil
	}, nil
}

// compare-and-delete so a run never frees a lock it lost to TTL expiry
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis is a SET NX lock with a TTL.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedis(client *redis.Client, key string, ttl time.Duration, logger zerolog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Redis{
		client: client,
		key:    key,
		ttl:    ttl,
		logger: logger.With().Str("component", "run_lock").Str("backend", "redis").Logger(),
	}
}

func (r *Redis) TryAcquire(ctx context.Context) (Release, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis SETNX %s: %w", r.key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	r.logger.Debug().Str("key", r.key).Dur("ttl", r.ttl).Msg("Run lock acquired")

	released := false
	return func(ctx context.Context) error {
		if released {
			return nil
		}
		released = true
		if err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Err(); err != nil {
			return fmt.Errorf("redis release %s: %w", r.key, err)
		}
		return nil
	}, nil
}
