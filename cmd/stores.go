package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/replcheck/internal/config"
	"github.com/sells-group/replcheck/internal/db"
	"github.com/sells-group/replcheck/internal/reader"
)

// pools holds the two sides of the pipeline for the duration of a command.
type pools struct {
	source *pgxpool.Pool
	target *pgxpool.Pool
}

// initPools opens both connection pools. Callers must Close.
func initPools(ctx context.Context) (*pools, error) {
	source, err := db.NewPool(ctx, cfg.Source.URL, cfg.Source.Pool.PoolConfig())
	if err != nil {
		return nil, eris.Wrap(err, "connect source")
	}
	target, err := db.NewPool(ctx, cfg.Target.URL, cfg.Target.Pool.PoolConfig())
	if err != nil {
		source.Close()
		return nil, eris.Wrap(err, "connect target")
	}
	return &pools{source: source, target: target}, nil
}

func (p *pools) Close() {
	p.source.Close()
	p.target.Close()
}

// sourceReader builds a retrying reader for spec over the source pool.
func (p *pools) sourceReader(spec reader.Spec) *reader.Postgres {
	return newReader(p.source, spec, cfg.Source)
}

// targetReader builds a retrying reader for spec over the target pool.
func (p *pools) targetReader(spec reader.Spec) *reader.Postgres {
	return newReader(p.target, spec, cfg.Target)
}

func newReader(pool db.Pool, spec reader.Spec, store config.StoreConfig) *reader.Postgres {
	return reader.NewPostgres(pool, spec,
		reader.WithRetry(cfg.Retry.Policy()),
		reader.WithAcquireTimeout(store.Pool.PoolConfig().AcquireTimeoutOrDefault()),
	)
}
