package view

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// --------------------------------------------------------------------------
// Collation
// --------------------------------------------------------------------------

// type ranks in collation order
const (
	rankNull = iota
	rankFalse
	rankTrue
	rankNumber
	rankString
	rankArray
	rankObject
	rankOther
)

// Collate compares two view keys and returns -1, 0 or 1.
//
// Order: null < false < true < numbers < strings < arrays < objects.
// Strings compare bytewise, arrays element-wise (a shorter prefix sorts first),
// objects by their sorted keys and values. Values of unknown types sort last
// by their string representation.
func Collate(a, b any) int {
	a, b = normalize(a), normalize(b)
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}

	switch ra {
	case rankNull, rankFalse, rankTrue:
		return 0
	case rankNumber:
		return cmpFloat(a.(float64), b.(float64))
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankArray:
		aa, ba := a.([]any), b.([]any)
		for i := 0; i < len(aa) && i < len(ba); i++ {
			if c := Collate(aa[i], ba[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(aa), len(ba))
	case rankObject:
		am, bm := a.(map[string]any), b.(map[string]any)
		ak, bk := sortedKeys(am), sortedKeys(bm)
		for i := 0; i < len(ak) && i < len(bk); i++ {
			if c := strings.Compare(ak[i], bk[i]); c != 0 {
				return c
			}
			if c := Collate(am[ak[i]], bm[bk[i]]); c != 0 {
				return c
			}
		}
		return cmpInt(len(ak), len(bk))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

// normalize maps Go values onto the JSON value model used for collation.
// Integer and float types become float64, string slices become []any.
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	default:
		return v
	}
}

// normalizeDeep normalizes v and all nested values.
func normalizeDeep(v any) any {
	v = normalize(v)
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeDeep(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeDeep(e)
		}
		return out
	default:
		return v
	}
}

func rank(v any) int {
	switch t := v.(type) {
	case nil:
		return rankNull
	case bool:
		if t {
			return rankTrue
		}
		return rankFalse
	case float64:
		return rankNumber
	case string:
		return rankString
	case []any:
		return rankArray
	case map[string]any:
		return rankObject
	default:
		return rankOther
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	// NaN sorts before all other numbers
	switch {
	case math.IsNaN(a) && math.IsNaN(b):
		return 0
	case math.IsNaN(a):
		return -1
	case math.IsNaN(b):
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// hasPrefix reports whether key is an array whose first elements collate equal to prefix.
func hasPrefix(key any, prefix []any) bool {
	arr, ok := normalize(key).([]any)
	if !ok || len(arr) < len(prefix) {
		return false
	}
	for i := range prefix {
		if Collate(arr[i], prefix[i]) != 0 {
			return false
		}
	}
	return true
}
