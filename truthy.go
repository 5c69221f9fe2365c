package podflow

import (
	"strconv"
	"strings"
)

// IsTruthy determines whether a node output satisfies an activation
// condition. Empty collections, zero numbers, empty strings, and nil are
// falsy; anything else is truthy.
func IsTruthy(v any) bool {
	if v == nil {
		return false
	}

	switch val := v.(type) {
	case bool:
		return val
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case []string:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// LookupPath walks a dotted path into nested maps and slices. Slice segments
// accept either a bare index ("0") or the row-index form ("$0"). A missing
// segment yields (nil, false).
func LookupPath(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}

	current := v
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, ok := sliceIndex(part)
			if !ok || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		case []string:
			idx, ok := sliceIndex(part)
			if !ok || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func sliceIndex(part string) (int, bool) {
	part = strings.TrimPrefix(part, "$")
	idx, err := strconv.Atoi(part)
	if err != nil {
		return 0, false
	}
	return idx, true
}
