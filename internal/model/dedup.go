package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// stableJSONKey renders a map[string]any deterministically regardless of Go
// map iteration order, so two pushes with equal data hash to the same dedup
// key (spec §3 QueueItem "Dedup key", §8 "Queue push with numeric IDs").
//
// Numeric values are coerced to their decimal string form before hashing,
// per spec §8: "numbers are coerced to strings before hashing" for external
// queue item identifiers, and the same rule is applied uniformly here so a
// push with {"id": 123} and one with {"id": "123"} collide (by design) while
// {"id": 123} and {"id": 456} never do.
func stableJSONKey(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(stableScalar(data[k]))
	}
	return b.String()
}

func stableScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case map[string]any:
		return stableJSONKey(t)
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = stableScalar(e)
		}
		return "[" + strings.Join(parts, ";") + "]"
	default:
		return fmt.Sprintf("%v", t)
	}
}
