// Package db provides the shared connection-pool plumbing for the source and
// target stores.
package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool the readers depend on. Satisfied by
// pgxmock.PgxPoolIface in tests.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PoolConfig tunes one store's connection pool.
type PoolConfig struct {
	MaxConns       int32         `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns       int32         `yaml:"min_conns" mapstructure:"min_conns"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout" mapstructure:"acquire_timeout"`
}

// Defaults applied when the config leaves pool tuning unset.
const (
	defaultMaxConns       = 8
	defaultMinConns       = 1
	DefaultAcquireTimeout = 5 * time.Second
)

// NewPool opens a bounded pgx pool against connString and verifies it with a
// ping. Callers that cannot check out a connection within the acquire timeout
// fail with resilience.ErrPoolExhausted (mapped by the readers) instead of
// blocking forever.
func NewPool(ctx context.Context, connString string, cfg PoolConfig) (*pgxpool.Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "db: parse conn string")
	}

	maxConns := int32(defaultMaxConns)
	minConns := int32(defaultMinConns)
	if cfg.MaxConns > 0 {
		maxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		minConns = cfg.MinConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "db: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "db: ping")
	}
	return pool, nil
}

// AcquireTimeoutOrDefault returns the configured acquire timeout or the default.
func (c PoolConfig) AcquireTimeoutOrDefault() time.Duration {
	if c.AcquireTimeout > 0 {
		return c.AcquireTimeout
	}
	return DefaultAcquireTimeout
}
