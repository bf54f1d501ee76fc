package scenario

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Format renders a loosely-typed scenario value as prompt text.
// Whole floats print without a fraction since JSON numbers decode as float64.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return Format(float64(x))
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			parts = append(parts, Format(item))
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(x, ", ")
	case Map:
		parts := make([]string, 0, x.Len())
		x.Each(func(k string, val any) {
			parts = append(parts, k+": "+Format(val))
		})
		return "{" + strings.Join(parts, ", ") + "}"
	case map[string]any:
		m, _ := AsMap(x)
		return Format(m)
	}
	return fmt.Sprint(v)
}

func stringOf(v any) string { return Format(v) }

// Number extracts a numeric value from a loosely-typed scenario value.
func Number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}
