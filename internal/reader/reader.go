// Package reader provides ordered point-in-time access to the source and
// target stores. Both sides of the pipeline are read through the same
// interface so the differencer and the latency measurer never care which
// store they are talking to.
package reader

import (
	"context"
	"time"

	"github.com/sells-group/replcheck/internal/row"
)

// Spec describes one replicated table: how to key it, which columns to
// compare, and where its commit marker lives.
type Spec struct {
	// Table is the (optionally schema-qualified) table name.
	Table string `yaml:"table" mapstructure:"table"`

	// KeyColumns form the primary key, in order.
	KeyColumns []string `yaml:"key_columns" mapstructure:"key_columns"`

	// Columns are the data columns compared between stores. Key and marker
	// columns must not be repeated here.
	Columns []string `yaml:"columns" mapstructure:"columns"`

	// SequenceColumn optionally names a monotonically increasing change
	// sequence column.
	SequenceColumn string `yaml:"sequence_column" mapstructure:"sequence_column"`

	// CommitTimeColumn optionally names the commit-timestamp column. Without
	// it rows cannot be aged against the grace period, so every missing row
	// counts as a hard discrepancy.
	CommitTimeColumn string `yaml:"commit_time_column" mapstructure:"commit_time_column"`
}

// KeyRange bounds a read by primary key. Both bounds are inclusive; a nil
// bound is unbounded. The zero value reads the whole table.
type KeyRange struct {
	Start row.Key
	End   row.Key
}

// Exact returns the range that matches exactly one key.
func Exact(k row.Key) KeyRange {
	return KeyRange{Start: k, End: k}
}

// RowReader reads ordered row snapshots. The asOf watermark must be
// monotonically non-decreasing per reader instance; implementations reject
// regressions with resilience.ErrAsOfRegression.
type RowReader interface {
	Read(ctx context.Context, kr KeyRange, asOf time.Time) ([]row.Snapshot, error)
}

// RowWriter writes synthetic probe rows and cleans them up afterwards.
// Reconciliation itself never writes.
type RowWriter interface {
	Write(ctx context.Context, snap row.Snapshot) (row.Marker, error)
	Delete(ctx context.Context, keys []row.Key) (int64, error)
}

// Store combines reading and probe writing for one table in one store.
type Store interface {
	RowReader
	RowWriter
}
