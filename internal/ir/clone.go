package ir

import "reflect"

// CloneValue deep-copies a JSON tree. Scalars are returned as-is.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneObject(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = CloneValue(elem)
		}
		return out
	default:
		return v
	}
}

// CloneObject deep-copies a JSON object.
func CloneObject(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// EqualValues reports whether two JSON trees are equal.
func EqualValues(a, b any) bool {
	return reflect.DeepEqual(normalizeNumbers(a), normalizeNumbers(b))
}

// normalizeNumbers maps every integer type to float64 so values decoded by
// encoding/json compare equal to values built in Go.
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalizeNumbers(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeNumbers(e)
		}
		return out
	default:
		return v
	}
}
