package row

import "time"

// Marker identifies when a write became durable at its origin: a change
// sequence (if the table carries one) and the source commit timestamp.
type Marker struct {
	Seq int64     `json:"seq,omitempty"`
	At  time.Time `json:"at"`
}

// Snapshot is a point-in-time view of one row: its key, normalized column
// values, and the commit marker observed at read time. Snapshots are
// read-only once a reader has produced them.
type Snapshot struct {
	Key     Key
	Columns map[string]Value
	Marker  Marker
}

// ColumnNames returns the column names of the snapshot in no particular
// order. Used for schema-signature checks.
func (s Snapshot) ColumnNames() []string {
	names := make([]string, 0, len(s.Columns))
	for name := range s.Columns {
		names = append(names, name)
	}
	return names
}
