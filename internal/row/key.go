// Package row defines the row snapshot model shared by the readers, the
// differencer, and the latency measurer: primary keys, normalized column
// values, commit markers, and the type-aware comparison policy.
package row

import "strings"

// keySep joins key parts for map indexing. Unit separator never appears in
// normalized values.
const keySep = "\x1f"

// Key is the ordered tuple of normalized primary-key column values. Keys are
// the comparison unit across stores; ordering is lexicographic part by part,
// with a shorter key sorting before its extensions.
type Key []string

// KeyOf builds a Key from raw column values, normalizing each part to its
// canonical string form.
func KeyOf(parts ...any) Key {
	k := make(Key, len(parts))
	for i, p := range parts {
		k[i] = CanonicalString(Normalize(p))
	}
	return k
}

// String returns a stable representation usable as a map index.
func (k Key) String() string {
	return strings.Join(k, keySep)
}

// Compare returns -1, 0, or 1 ordering k relative to o.
func (k Key) Compare(o Key) int {
	for i := 0; i < len(k) && i < len(o); i++ {
		if c := strings.Compare(k[i], o[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(k) < len(o):
		return -1
	case len(k) > len(o):
		return 1
	default:
		return 0
	}
}

// Equal reports whether two keys are identical.
func (k Key) Equal(o Key) bool {
	return k.Compare(o) == 0
}
