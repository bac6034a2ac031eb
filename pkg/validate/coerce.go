package validate

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// toFloat converts JSON-decoded values to float64. Numeric strings are
// accepted since the conversion is lossless and unambiguous.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// toInt converts to int64, truncating fractional parts. NaN and Inf do
// not convert.
func toInt(v any) (int64, bool) {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}

	return int64(f), true
}

// truthy coerces arbitrary JSON values into a bool: non-zero numbers,
// non-empty strings and non-empty collections are true.
func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case nil:
		return false
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		f, ok := toFloat(v)
		if ok {
			return f != 0
		}

		return true
	}
}

// clamp01 maps NaN and Inf to zero and clamps to the unit interval.
func clamp01(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}

	return math.Max(0, math.Min(1, f))
}

func clampInt(v, low, high int64) int64 {
	if v < low {
		return low
	}

	if v > high {
		return high
	}

	return v
}
