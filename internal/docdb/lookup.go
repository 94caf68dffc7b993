package docdb

import (
	"strconv"
	"strings"
)

// lookupFunc returns the branch values found at a compiled dot-path.
type lookupFunc func(v any) []any

// compileLookup compiles a dot-path. Arrays met along the way fan out into
// one branch per element, unless the next segment is a numeric index.
func compileLookup(path string) lookupFunc {
	first, rest, ok := strings.Cut(path, ".")
	if !ok {
		return func(v any) []any {
			return []any{field(v, first)}
		}
	}
	next := compileLookup(rest)
	seg, _, _ := strings.Cut(rest, ".")
	nextIsIndex := isIndex(seg)
	return func(v any) []any {
		if v == nil {
			return []any{nil}
		}
		firstLevel := field(v, first)
		branches, isArr := asArray(firstLevel)
		if isArr && len(branches) == 0 {
			return []any{nil}
		}
		if !isArr || nextIsIndex {
			branches = []any{firstLevel}
		}
		var out []any
		for _, b := range branches {
			out = append(out, next(b)...)
		}
		return out
	}
}

// Lookup returns the branch values of path in doc.
func Lookup(path string, doc Document) []any {
	return compileLookup(path)(map[string]any(doc))
}

// field returns v[key] for a mapping, or v[index] for an array addressed by
// a numeric key, and nil otherwise.
func field(v any, key string) any {
	if m, ok := asMap(v); ok {
		return m[key]
	}
	if a, ok := asArray(v); ok && isIndex(key) {
		i, err := strconv.Atoi(key)
		if err == nil && i < len(a) {
			return a[i]
		}
	}
	return nil
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
