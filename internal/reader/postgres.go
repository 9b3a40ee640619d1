package reader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/replcheck/internal/db"
	"github.com/sells-group/replcheck/internal/resilience"
	"github.com/sells-group/replcheck/internal/row"
)

// Postgres reads one table through a shared connection pool. The retry
// policy is injected so transient read failures (connection resets, pool
// exhaustion, statement timeouts) are retried with backoff here rather than
// at every call site.
type Postgres struct {
	pool           db.Pool
	spec           Spec
	retry          resilience.RetryConfig
	acquireTimeout time.Duration

	mu       sync.Mutex
	lastAsOf time.Time
}

// Option tunes a Postgres reader.
type Option func(*Postgres)

// WithRetry overrides the default retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(p *Postgres) { p.retry = cfg }
}

// WithAcquireTimeout bounds how long a read may wait for a pooled connection
// before failing with resilience.ErrPoolExhausted.
func WithAcquireTimeout(d time.Duration) Option {
	return func(p *Postgres) { p.acquireTimeout = d }
}

// NewPostgres creates a reader for one table over the given pool.
func NewPostgres(pool db.Pool, spec Spec, opts ...Option) *Postgres {
	p := &Postgres{
		pool:           pool,
		spec:           spec,
		retry:          resilience.DefaultRetryConfig(),
		acquireTimeout: db.DefaultAcquireTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Spec returns the table specification this reader serves.
func (p *Postgres) Spec() Spec { return p.spec }

// Read returns snapshots for keys within kr, committed no later than asOf
// when the table carries a commit-time column. Rows come back ordered by
// primary key.
func (p *Postgres) Read(ctx context.Context, kr KeyRange, asOf time.Time) ([]row.Snapshot, error) {
	if err := p.advanceAsOf(asOf); err != nil {
		return nil, err
	}

	sql, args := p.buildSelect(kr, asOf)
	return resilience.DoVal(ctx, p.retry, func(ctx context.Context) ([]row.Snapshot, error) {
		return p.readOnce(ctx, sql, args)
	})
}

func (p *Postgres) readOnce(ctx context.Context, sql string, args []any) ([]row.Snapshot, error) {
	tx, err := p.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "reader: query %s", p.spec.Table)
	}
	snaps, err := p.scan(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrapf(err, "reader: commit read of %s", p.spec.Table)
	}
	return snaps, nil
}

func (p *Postgres) scan(rows pgx.Rows) ([]row.Snapshot, error) {
	defer rows.Close()

	nKeys := len(p.spec.KeyColumns)
	nData := len(p.spec.Columns)
	nTotal := nKeys + nData
	if p.spec.SequenceColumn != "" {
		nTotal++
	}
	if p.spec.CommitTimeColumn != "" {
		nTotal++
	}

	var snaps []row.Snapshot
	for rows.Next() {
		vals := make([]any, nTotal)
		ptrs := make([]any, nTotal)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrapf(err, "reader: scan %s", p.spec.Table)
		}

		keyParts := make([]any, nKeys)
		copy(keyParts, vals[:nKeys])
		snap := row.Snapshot{
			Key:     row.KeyOf(keyParts...),
			Columns: make(map[string]row.Value, nKeys+nData),
		}
		for i, name := range p.spec.KeyColumns {
			snap.Columns[name] = row.Normalize(vals[i])
		}
		for i, name := range p.spec.Columns {
			snap.Columns[name] = row.Normalize(vals[nKeys+i])
		}

		idx := nKeys + nData
		if p.spec.SequenceColumn != "" {
			if seq, ok := row.Normalize(vals[idx]).(int64); ok {
				snap.Marker.Seq = seq
			}
			idx++
		}
		if p.spec.CommitTimeColumn != "" {
			if at, ok := row.Normalize(vals[idx]).(time.Time); ok {
				snap.Marker.At = at
			}
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "reader: iterate %s", p.spec.Table)
	}
	return snaps, nil
}

// Write inserts a synthetic probe row and returns its commit marker. The
// commit time comes from the database clock so probe latency is measured
// against the store's notion of time, not the harness host's.
func (p *Postgres) Write(ctx context.Context, snap row.Snapshot) (row.Marker, error) {
	names := make([]string, 0, len(snap.Columns))
	for name := range snap.Columns {
		names = append(names, name)
	}
	sort.Strings(names)

	placeholders := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = snap.Columns[name]
	}

	returning := "now()"
	if p.spec.CommitTimeColumn != "" {
		returning = quoteIdent(p.spec.CommitTimeColumn)
	}
	if p.spec.SequenceColumn != "" {
		returning = quoteIdent(p.spec.SequenceColumn) + ", " + returning
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		quoteTable(p.spec.Table), quoteJoin(names), strings.Join(placeholders, ", "), returning)

	return resilience.DoVal(ctx, p.retry, func(ctx context.Context) (row.Marker, error) {
		var m row.Marker
		var err error
		if p.spec.SequenceColumn != "" {
			err = p.pool.QueryRow(ctx, sql, args...).Scan(&m.Seq, &m.At)
		} else {
			err = p.pool.QueryRow(ctx, sql, args...).Scan(&m.At)
		}
		if err != nil {
			return row.Marker{}, eris.Wrapf(err, "reader: insert probe into %s", p.spec.Table)
		}
		m.At = m.At.UTC()
		return m, nil
	})
}

// Delete removes probe rows by key. Used for cleanup after a latency run so
// synthetic rows never pollute reconciliation.
func (p *Postgres) Delete(ctx context.Context, keys []row.Key) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	if len(p.spec.KeyColumns) == 1 {
		ids := make([]string, len(keys))
		for i, k := range keys {
			ids[i] = k.String()
		}
		sql := fmt.Sprintf("DELETE FROM %s WHERE %s::text = ANY($1)",
			quoteTable(p.spec.Table), quoteIdent(p.spec.KeyColumns[0]))
		return resilience.DoVal(ctx, p.retry, func(ctx context.Context) (int64, error) {
			tag, err := p.pool.Exec(ctx, sql, ids)
			if err != nil {
				return 0, eris.Wrapf(err, "reader: delete probes from %s", p.spec.Table)
			}
			return tag.RowsAffected(), nil
		})
	}

	// Composite keys: delete per key tuple.
	var total int64
	conds := make([]string, len(p.spec.KeyColumns))
	for i, col := range p.spec.KeyColumns {
		conds[i] = fmt.Sprintf("%s::text = $%d", quoteIdent(col), i+1)
	}
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s", quoteTable(p.spec.Table), strings.Join(conds, " AND "))
	for _, k := range keys {
		args := make([]any, len(k))
		for i, part := range k {
			args[i] = part
		}
		n, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) (int64, error) {
			tag, err := p.pool.Exec(ctx, sql, args...)
			if err != nil {
				return 0, eris.Wrapf(err, "reader: delete probe from %s", p.spec.Table)
			}
			return tag.RowsAffected(), nil
		})
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// advanceAsOf enforces the monotonic watermark contract.
func (p *Postgres) advanceAsOf(asOf time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if asOf.Before(p.lastAsOf) {
		return eris.Wrapf(resilience.ErrAsOfRegression, "reader: %s asked for %s after %s",
			p.spec.Table, asOf.Format(time.RFC3339Nano), p.lastAsOf.Format(time.RFC3339Nano))
	}
	p.lastAsOf = asOf
	return nil
}

// begin opens a read transaction, bounding connection acquisition so a
// saturated pool surfaces as ErrPoolExhausted instead of blocking the run.
func (p *Postgres) begin(ctx context.Context) (pgx.Tx, error) {
	actx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	tx, err := p.pool.Begin(actx)
	if err != nil {
		if (actx.Err() != nil || errors.Is(err, context.DeadlineExceeded)) && ctx.Err() == nil {
			return nil, eris.Wrapf(resilience.ErrPoolExhausted, "reader: begin on %s", p.spec.Table)
		}
		return nil, eris.Wrapf(err, "reader: begin on %s", p.spec.Table)
	}
	return tx, nil
}

func (p *Postgres) buildSelect(kr KeyRange, asOf time.Time) (string, []any) {
	cols := make([]string, 0, len(p.spec.KeyColumns)+len(p.spec.Columns)+2)
	for _, c := range p.spec.KeyColumns {
		cols = append(cols, quoteIdent(c))
	}
	for _, c := range p.spec.Columns {
		cols = append(cols, quoteIdent(c))
	}
	if p.spec.SequenceColumn != "" {
		cols = append(cols, quoteIdent(p.spec.SequenceColumn))
	}
	if p.spec.CommitTimeColumn != "" {
		cols = append(cols, quoteIdent(p.spec.CommitTimeColumn))
	}

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	// Key bounds compare the text form of the key tuple under the C
	// collation. Key.Compare orders bytewise, so the bounds and ORDER BY
	// must too; the database's default collation may not.
	keyTuple := make([]string, len(p.spec.KeyColumns))
	for i, c := range p.spec.KeyColumns {
		keyTuple[i] = quoteIdent(c) + `::text COLLATE "C"`
	}
	tuple := "(" + strings.Join(keyTuple, ", ") + ")"

	if kr.Start != nil {
		ph := make([]string, len(kr.Start))
		for i, part := range kr.Start {
			ph[i] = arg(part)
		}
		conds = append(conds, fmt.Sprintf("%s >= (%s)", tuple, strings.Join(ph, ", ")))
	}
	if kr.End != nil {
		ph := make([]string, len(kr.End))
		for i, part := range kr.End {
			ph[i] = arg(part)
		}
		conds = append(conds, fmt.Sprintf("%s <= (%s)", tuple, strings.Join(ph, ", ")))
	}
	if p.spec.CommitTimeColumn != "" {
		conds = append(conds, fmt.Sprintf("%s <= %s", quoteIdent(p.spec.CommitTimeColumn), arg(asOf)))
	}

	sql := "SELECT " + strings.Join(cols, ", ") + " FROM " + quoteTable(p.spec.Table)
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " ORDER BY " + strings.Join(keyTuple, ", ")
	return sql, args
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	return pgx.Identifier(parts).Sanitize()
}

func quoteJoin(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
