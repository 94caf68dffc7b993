// Value model shared by the selector and sort compilers.

package docdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"time"
)

// Document is a single JSON-like record. The "_id" key holds its identifier.
type Document map[string]any

// ID returns the document's "_id" if it is a string.
func (d Document) ID() string {
	s, _ := d["_id"].(string)
	return s
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// TypeClass is the ordering class of a value.
type TypeClass int

// Ordering classes, in sort order.
const (
	ClassNull     TypeClass = 0
	ClassNumber   TypeClass = 1
	ClassString   TypeClass = 2
	ClassObject   TypeClass = 3
	ClassArray    TypeClass = 4
	ClassBinary   TypeClass = 5
	ClassBool     TypeClass = 7
	ClassDate     TypeClass = 8
	ClassRegex    TypeClass = 9
	ClassFunction TypeClass = 100
)

func (c TypeClass) String() string {
	switch c {
	case ClassNull:
		return "null"
	case ClassNumber:
		return "number"
	case ClassString:
		return "string"
	case ClassObject:
		return "object"
	case ClassArray:
		return "array"
	case ClassBinary:
		return "binary"
	case ClassBool:
		return "boolean"
	case ClassDate:
		return "date"
	case ClassRegex:
		return "regex"
	case ClassFunction:
		return "function"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// typeCode returns the code matched by the $type operator.
func (c TypeClass) typeCode() int {
	switch c {
	case ClassNumber:
		return 1
	case ClassString:
		return 2
	case ClassObject:
		return 3
	case ClassArray:
		return 4
	case ClassBinary:
		return 5
	case ClassBool:
		return 8
	case ClassDate:
		return 9
	case ClassNull:
		return 10
	case ClassRegex:
		return 11
	case ClassFunction:
		return 13
	default:
		return 3
	}
}

// TypeOf classifies v. Unknown values are objects.
func TypeOf(v any) TypeClass {
	switch t := v.(type) {
	case nil:
		return ClassNull
	case string:
		return ClassString
	case bool:
		return ClassBool
	case []byte:
		return ClassBinary
	case []any:
		return ClassArray
	case time.Time:
		return ClassDate
	case *regexp.Regexp:
		return ClassRegex
	case map[string]any, Document, Selector:
		return ClassObject
	default:
		if _, ok := toFloat(t); ok {
			return ClassNumber
		}
		if reflect.TypeOf(v).Kind() == reflect.Func {
			return ClassFunction
		}
		return ClassObject
	}
}

// toFloat unifies every numeric representation into float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	case Selector:
		return m, true
	}
	return nil, false
}

func asArray(v any) ([]any, bool) {
	a, ok := v.([]any)
	return a, ok
}

// Normalize converts v into the value model used by the store: numbers
// become float64, typed slices and maps become []any and map[string]any.
// Dates, binaries, regexps and funcs are kept. Other values round-trip
// through encoding/json.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, float64, time.Time, *regexp.Regexp:
		return v, nil
	case []byte:
		return bytes.Clone(t), nil
	case Document:
		return normalizeMap(t)
	case Selector:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case []Selector:
		out := make([]any, len(t))
		for i, d := range t {
			n, err := normalizeMap(d)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case []Document:
		out := make([]any, len(t))
		for i, d := range t {
			n, err := normalizeMap(d)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(t))
		for i, d := range t {
			n, err := normalizeMap(d)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}
	if f, ok := toFloat(v); ok {
		return f, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func:
		return v, nil
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			n, err := Normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize %T: %w", v, err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to normalize %T: %w", v, err)
	}
	return out, nil
}

func normalizeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		n, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

// NormalizeDocument returns a normalized deep copy of d.
func NormalizeDocument(d Document) (Document, error) {
	m, err := normalizeMap(d)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// cloneValue deep copies a normalized value.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case Document:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []byte:
		return bytes.Clone(t)
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	return v
}

// DeepEqual reports structural equality. Numbers compare by value across
// representations; values of different classes are never equal.
func DeepEqual(a, b any) bool {
	ca, cb := TypeOf(a), TypeOf(b)
	if ca != cb {
		return false
	}
	switch ca {
	case ClassNull:
		return true
	case ClassNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return fa == fb
	case ClassString:
		return a.(string) == b.(string)
	case ClassBool:
		return a.(bool) == b.(bool)
	case ClassBinary:
		return bytes.Equal(a.([]byte), b.([]byte))
	case ClassDate:
		return a.(time.Time).Equal(b.(time.Time))
	case ClassRegex:
		return a.(*regexp.Regexp).String() == b.(*regexp.Regexp).String()
	case ClassArray:
		return slices.EqualFunc(a.([]any), b.([]any), DeepEqual)
	case ClassObject:
		ma, okA := asMap(a)
		mb, okB := asMap(b)
		if !okA || !okB {
			return reflect.DeepEqual(a, b)
		}
		if len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !DeepEqual(va, vb) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// isFalsy mirrors the "empty" notion used to reject {_id: <empty>}.
func isFalsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	}
	if m, ok := asMap(v); ok {
		return len(m) == 0
	}
	if f, ok := toFloat(v); ok {
		return f == 0
	}
	return false
}

func isTruthy(v any) bool {
	return !isFalsy(v)
}
