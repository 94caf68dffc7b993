// Compiles MongoDB-style selectors into document predicates.

package docdb

import (
	"encoding/json"
	"slices"
	"strings"
)

// Selector is a query in mapping form: keys are dot-paths or logical
// operators ($and, $or, $nor, $where).
type Selector map[string]any

// Predicate is a plain Go filter usable as a selector or as a $where
// operand.
type Predicate func(Document) bool

// Matcher is a compiled selector.
type Matcher func(Document) (bool, error)

// docMatcher matches a raw value treated as a document, so that $elemMatch
// can run a document selector against array elements of any type.
type docMatcher func(v any) (bool, error)

type valueMatcher func(v any) (bool, error)

func matchNothing(any) (bool, error) { return false, nil }

func matchAll(any) (bool, error) { return true, nil }

// CompileSelector compiles spec into a Matcher.
//
// spec may be a Matcher or Predicate, a Selector (or any map[string]any),
// or a scalar, which is shorthand for _id equality. An empty mapping, or one
// whose _id is present but empty, matches nothing.
func CompileSelector(spec any) (Matcher, error) {
	switch s := spec.(type) {
	case Matcher:
		return s, nil
	case func(Document) (bool, error):
		return s, nil
	case Predicate:
		return func(d Document) (bool, error) { return s(d), nil }, nil
	case func(Document) bool:
		return func(d Document) (bool, error) { return s(d), nil }, nil
	case []any, []Selector, []Document:
		return nil, configErrorf("selector must be a mapping or a scalar, got %T", spec)
	}
	if m, ok := asMap(spec); ok {
		if len(m) == 0 {
			return wrapDoc(matchNothing), nil
		}
		if id, ok := m["_id"]; ok && isFalsy(id) {
			return wrapDoc(matchNothing), nil
		}
		n, err := normalizeMap(m)
		if err != nil {
			return nil, configErrorf("%v", err)
		}
		dm, err := compileDocumentSelector(n)
		if err != nil {
			return nil, err
		}
		return wrapDoc(dm), nil
	}
	id, err := Normalize(spec)
	if err != nil {
		return nil, configErrorf("%v", err)
	}
	return func(d Document) (bool, error) {
		return DeepEqual(d["_id"], id), nil
	}, nil
}

// ParseSelectorJSON decodes the JSON selector wire format. A regex is
// written as an operator object: {"$regex": "pattern", "$options": "i"}.
func ParseSelectorJSON(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, configErrorf("failed to decode selector: %v", err)
	}
	return v, nil
}

func wrapDoc(dm docMatcher) Matcher {
	return func(d Document) (bool, error) {
		return dm(map[string]any(d))
	}
}

func compileDocumentSelector(m map[string]any) (docMatcher, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	matchers := make([]docMatcher, 0, len(keys))
	for _, k := range keys {
		var dm docMatcher
		var err error
		if strings.HasPrefix(k, "$") {
			build, ok := logicalOperators[k]
			if !ok {
				return nil, configErrorf("unknown top-level operator %s", k)
			}
			dm, err = build(m[k])
		} else {
			dm, err = compileFieldSelector(k, m[k])
		}
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, dm)
	}
	return allOf(matchers), nil
}

// compileSubSelector compiles an element of a $and/$or/$nor operand.
func compileSubSelector(spec any) (docMatcher, error) {
	switch s := spec.(type) {
	case Matcher:
		return func(v any) (bool, error) { return s(asDocument(v)) }, nil
	case Predicate:
		return func(v any) (bool, error) { return s(asDocument(v)), nil }, nil
	case func(Document) bool:
		return func(v any) (bool, error) { return s(asDocument(v)), nil }, nil
	}
	m, ok := asMap(spec)
	if !ok {
		return nil, configErrorf("sub-selector must be a mapping, got %T", spec)
	}
	return compileDocumentSelector(m)
}

func asDocument(v any) Document {
	m, _ := asMap(v)
	return m
}

func allOf(matchers []docMatcher) docMatcher {
	if len(matchers) == 1 {
		return matchers[0]
	}
	return func(v any) (bool, error) {
		for _, m := range matchers {
			ok, err := m(v)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

func compileFieldSelector(path string, spec any) (docMatcher, error) {
	lookup := compileLookup(path)
	vm, err := compileValueSelector(spec)
	if err != nil {
		return nil, err
	}
	return func(v any) (bool, error) {
		for _, b := range lookup(v) {
			ok, err := vm(b)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}, nil
}

func compileValueSelector(spec any) (valueMatcher, error) {
	if spec == nil {
		return func(v any) (bool, error) {
			return anyIfArray(v, func(x any) (bool, error) { return x == nil, nil })
		}, nil
	}
	switch TypeOf(spec) {
	case ClassRegex:
		re, err := compileRegex(spec, nil)
		if err != nil {
			return nil, err
		}
		return regexMatcher(re), nil
	case ClassArray:
		return func(v any) (bool, error) {
			if _, ok := asArray(v); !ok {
				return false, nil
			}
			return anyIfArrayPlus(v, equalTo(spec))
		}, nil
	case ClassObject:
		m, ok := asMap(spec)
		if !ok {
			break
		}
		isOps, err := hasOperators(m)
		if err != nil {
			return nil, err
		}
		if isOps {
			return compileOperators(m)
		}
		return func(v any) (bool, error) {
			return anyIfArrayPlus(v, equalTo(m))
		}, nil
	}
	return func(v any) (bool, error) {
		return anyIfArray(v, equalTo(spec))
	}, nil
}

// hasOperators reports whether every key of m is $-prefixed. Mixing
// operator and literal keys is an error.
func hasOperators(m map[string]any) (bool, error) {
	seen := false
	isOps := false
	for k := range m {
		op := strings.HasPrefix(k, "$")
		if !seen {
			isOps, seen = op, true
		} else if op != isOps {
			return false, configErrorf("inconsistent selector: operator and literal keys mixed in %v", keysOf(m))
		}
	}
	return isOps, nil
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func compileOperators(m map[string]any) (valueMatcher, error) {
	keys := keysOf(m)
	matchers := make([]valueMatcher, 0, len(keys))
	for _, k := range keys {
		build, ok := valueOperators[k]
		if !ok {
			return nil, configErrorf("unrecognized operator %s", k)
		}
		vm, err := build(m[k], m)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, vm)
	}
	return func(v any) (bool, error) {
		for _, vm := range matchers {
			ok, err := vm(v)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}, nil
}

func equalTo(operand any) func(x any) (bool, error) {
	return func(x any) (bool, error) { return DeepEqual(x, operand), nil }
}

// anyIfArray applies f to each element of v if it is an array, to v
// otherwise.
func anyIfArray(v any, f func(any) (bool, error)) (bool, error) {
	a, ok := asArray(v)
	if !ok {
		return f(v)
	}
	for _, x := range a {
		ok, err := f(x)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// anyIfArrayPlus applies f to v and, if v is an array, to each element.
func anyIfArrayPlus(v any, f func(any) (bool, error)) (bool, error) {
	ok, err := f(v)
	if err != nil || ok {
		return ok, err
	}
	if _, isArr := asArray(v); !isArr {
		return false, nil
	}
	return anyIfArray(v, f)
}
