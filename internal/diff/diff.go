// Package diff implements the row differencer: a pure comparison of a source
// row set against a target row set keyed by primary key.
package diff

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/replcheck/internal/resilience"
	"github.com/sells-group/replcheck/internal/row"
)

// Kind classifies a discrepancy.
type Kind string

const (
	// MissingInTarget: the key exists in the source but not in the target.
	MissingInTarget Kind = "missing_in_target"
	// MissingInSource: the key exists in the target but not in the source.
	MissingInSource Kind = "missing_in_source"
	// ValueMismatch: the key exists on both sides with differing values.
	ValueMismatch Kind = "value_mismatch"
)

// ColumnDiff holds the differing values of one column for a ValueMismatch.
type ColumnDiff struct {
	Source row.Value `json:"source"`
	Target row.Value `json:"target"`
}

// Record is one discrepancy. Never mutated after creation.
type Record struct {
	Key     row.Key               `json:"key"`
	Kind    Kind                  `json:"kind"`
	Columns map[string]ColumnDiff `json:"columns,omitempty"`

	// Marker carries the commit marker of the row that exists: the source
	// marker for MissingInTarget and ValueMismatch, the target marker for
	// MissingInSource. The engine uses it to age discrepancies against the
	// grace period.
	Marker row.Marker `json:"marker"`
}

// Result is the outcome of one diff: discrepancies in ascending key order
// plus the counts needed for aggregation.
type Result struct {
	Records []Record
	Matched int
	Sampled int // distinct keys across both sides
}

// Diff compares the two row sets under the policy. Records come back in
// ascending key order so repeated runs over the same inputs are
// byte-identical. Returns resilience.ErrSchemaMismatch when the sides do not
// share an identical column signature.
func Diff(source, target []row.Snapshot, policy row.Policy) (*Result, error) {
	if err := checkSignatures(source, target); err != nil {
		return nil, err
	}

	srcByKey := indexByKey(source)
	tgtByKey := indexByKey(target)

	keys := make(map[string]row.Key, len(srcByKey)+len(tgtByKey))
	for id, s := range srcByKey {
		keys[id] = s.Key
	}
	for id, s := range tgtByKey {
		keys[id] = s.Key
	}

	ordered := make([]row.Key, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Compare(ordered[j]) < 0 })

	res := &Result{Sampled: len(ordered)}
	for _, k := range ordered {
		id := k.String()
		src, inSrc := srcByKey[id]
		tgt, inTgt := tgtByKey[id]

		switch {
		case inSrc && !inTgt:
			res.Records = append(res.Records, Record{Key: k, Kind: MissingInTarget, Marker: src.Marker})
		case !inSrc && inTgt:
			res.Records = append(res.Records, Record{Key: k, Kind: MissingInSource, Marker: tgt.Marker})
		default:
			cols := compareColumns(src, tgt, policy)
			if len(cols) == 0 {
				res.Matched++
				continue
			}
			res.Records = append(res.Records, Record{Key: k, Kind: ValueMismatch, Columns: cols, Marker: src.Marker})
		}
	}
	return res, nil
}

func compareColumns(src, tgt row.Snapshot, policy row.Policy) map[string]ColumnDiff {
	var cols map[string]ColumnDiff
	for name, sv := range src.Columns {
		tv := tgt.Columns[name]
		if policy.Equal(sv, tv) {
			continue
		}
		if cols == nil {
			cols = make(map[string]ColumnDiff)
		}
		cols[name] = ColumnDiff{Source: sv, Target: tv}
	}
	return cols
}

func indexByKey(rows []row.Snapshot) map[string]row.Snapshot {
	m := make(map[string]row.Snapshot, len(rows))
	for _, r := range rows {
		m[r.Key.String()] = r
	}
	return m
}

// checkSignatures verifies that every snapshot on both sides carries the same
// set of column names. Differing signatures make the comparison meaningless.
func checkSignatures(source, target []row.Snapshot) error {
	var sig string
	verify := func(side string, rows []row.Snapshot) error {
		for _, r := range rows {
			s := signature(r)
			if sig == "" {
				sig = s
				continue
			}
			if s != sig {
				return eris.Wrapf(resilience.ErrSchemaMismatch, "diff: %s row %s has columns [%s], expected [%s]",
					side, r.Key.String(), s, sig)
			}
		}
		return nil
	}
	if err := verify("source", source); err != nil {
		return err
	}
	return verify("target", target)
}

func signature(r row.Snapshot) string {
	names := r.ColumnNames()
	sort.Strings(names)
	return strings.Join(names, ",")
}
