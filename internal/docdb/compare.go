// Type-aware total order over document values.

package docdb

import (
	"bytes"
	"cmp"
	"slices"
	"strings"
	"time"
)

// Compare orders two values. Values of different classes order by class;
// null is smallest. Returns an *UnsupportedComparisonError for classes
// without a natural order (regex, function).
func Compare(a, b any) (int, error) {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, nil
		case a == nil:
			return -1, nil
		default:
			return 1, nil
		}
	}
	ca, cb := TypeOf(a), TypeOf(b)
	if ca != cb {
		return cmp.Compare(ca, cb), nil
	}
	switch ca {
	case ClassNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return cmp.Compare(fa, fb), nil
	case ClassString:
		return strings.Compare(a.(string), b.(string)), nil
	case ClassBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0, nil
		case !ba:
			return -1, nil
		default:
			return 1, nil
		}
	case ClassBinary:
		return bytes.Compare(a.([]byte), b.([]byte)), nil
	case ClassDate:
		return a.(time.Time).Compare(b.(time.Time)), nil
	case ClassArray:
		return compareArrays(a.([]any), b.([]any))
	case ClassObject:
		ma, okA := asMap(a)
		mb, okB := asMap(b)
		if !okA || !okB {
			return 0, &UnsupportedComparisonError{Class: ca}
		}
		return compareArrays(flattenMap(ma), flattenMap(mb))
	default:
		return 0, &UnsupportedComparisonError{Class: ca}
	}
}

func compareArrays(a, b []any) (int, error) {
	for i := range min(len(a), len(b)) {
		c, err := Compare(a[i], b[i])
		if err != nil || c != 0 {
			return c, err
		}
	}
	return cmp.Compare(len(a), len(b)), nil
}

// flattenMap returns [k1, v1, k2, v2, ...] with keys in sorted order.
func flattenMap(m map[string]any) []any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]any, 0, 2*len(m))
	for _, k := range keys {
		out = append(out, k, m[k])
	}
	return out
}
