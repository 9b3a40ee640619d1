package row

import (
	"fmt"
	"math/big"
	"strconv"
	"time"
)

// Value is a normalized column value: nil, bool, int64, float64, string,
// []byte, or time.Time (UTC).
type Value any

// Normalize collapses driver-specific scalar types into the canonical Value
// set so that values read from different stores compare cleanly.
func Normalize(v any) Value {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case float64:
		return x
	case string:
		return x
	case []byte:
		b := make([]byte, len(x))
		copy(b, x)
		return b
	case time.Time:
		return x.UTC()
	case *big.Float:
		f, _ := x.Float64()
		return f
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

// CanonicalString renders a normalized value for key construction and report
// output. Numeric values use the shortest round-trippable form, timestamps
// use RFC 3339 with nanoseconds.
func CanonicalString(v Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", x)
	}
}
