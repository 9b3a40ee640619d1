package row

import (
	"bytes"
	"math"
	"strings"
	"time"
)

// Policy is the type-aware equality used when comparing column values across
// stores. The zero value is strict equality.
type Policy struct {
	// NumericEpsilon is the absolute tolerance when comparing numeric values.
	NumericEpsilon float64

	// TimestampTruncate rounds timestamps down to this granularity before
	// comparing, absorbing sub-precision drift between stores (e.g. MySQL
	// DATETIME(0) vs Postgres timestamptz).
	TimestampTruncate time.Duration

	// CaseInsensitive folds case when comparing strings.
	CaseInsensitive bool
}

// Equal reports whether two normalized values are equivalent under the
// policy.
func (p Policy) Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		if !bok {
			return false
		}
		if p.NumericEpsilon > 0 {
			return math.Abs(af-bf) <= p.NumericEpsilon
		}
		return af == bf
	}

	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return false
		}
		if p.TimestampTruncate > 0 {
			return av.Truncate(p.TimestampTruncate).Equal(bv.Truncate(p.TimestampTruncate))
		}
		return av.Equal(bv)
	case string:
		bv, ok := b.(string)
		if !ok {
			return false
		}
		if p.CaseInsensitive {
			return strings.EqualFold(av, bv)
		}
		return av == bv
	case []byte:
		bv, ok := b.([]byte)
		if !ok {
			return false
		}
		return bytes.Equal(av, bv)
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return false
		}
		return av == bv
	default:
		return CanonicalString(a) == CanonicalString(b)
	}
}

func asFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}
