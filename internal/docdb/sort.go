// Provides multi-key sorting of documents.

package docdb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// SortKey orders documents by the value at Path.
type SortKey struct {
	Path       string
	Descending bool
}

// SortSpec is an ordered list of sort keys. The first key is the primary
// one.
type SortSpec []SortKey

// Asc returns an ascending key.
func Asc(path string) SortKey { return SortKey{Path: path} }

// Desc returns a descending key.
func Desc(path string) SortKey { return SortKey{Path: path, Descending: true} }

// ParseSort converts the Go forms of a sort specification:
//   - SortSpec or []SortKey;
//   - []string or []any of bare paths and [path, "asc"|"desc"] pairs;
//   - a map of path to +1/-1 with a single key (Go maps have no order).
func ParseSort(spec any) (SortSpec, error) {
	switch s := spec.(type) {
	case nil:
		return nil, nil
	case SortSpec:
		return s, nil
	case []SortKey:
		return SortSpec(s), nil
	case []string:
		out := make(SortSpec, len(s))
		for i, p := range s {
			if p == "" {
				return nil, configErrorf("empty sort path")
			}
			out[i] = Asc(p)
		}
		return out, nil
	case []any:
		out := make(SortSpec, 0, len(s))
		for _, item := range s {
			k, err := parseSortItem(item)
			if err != nil {
				return nil, err
			}
			out = append(out, k)
		}
		return out, nil
	}
	if m, ok := asMap(spec); ok {
		if len(m) > 1 {
			return nil, configErrorf("sort mapping with %d keys has no defined order; use a list", len(m))
		}
		out := make(SortSpec, 0, 1)
		for p, dir := range m {
			k, err := sortKeyFromDirection(p, dir)
			if err != nil {
				return nil, err
			}
			out = append(out, k)
		}
		return out, nil
	}
	return nil, configErrorf("bad sort specification of type %T", spec)
}

func parseSortItem(item any) (SortKey, error) {
	switch t := item.(type) {
	case string:
		if t == "" {
			return SortKey{}, configErrorf("empty sort path")
		}
		return Asc(t), nil
	case SortKey:
		return t, nil
	case []string:
		pair := make([]any, len(t))
		for i, s := range t {
			pair[i] = s
		}
		return parseSortItem(pair)
	case []any:
		if len(t) == 0 || len(t) > 2 {
			return SortKey{}, configErrorf("sort pair must be [path] or [path, direction]")
		}
		p, ok := t[0].(string)
		if !ok || p == "" {
			return SortKey{}, configErrorf("sort path must be a non-empty string")
		}
		if len(t) == 1 {
			return Asc(p), nil
		}
		return sortKeyFromDirection(p, t[1])
	}
	return SortKey{}, configErrorf("bad sort item of type %T", item)
}

func sortKeyFromDirection(path string, dir any) (SortKey, error) {
	if path == "" {
		return SortKey{}, configErrorf("empty sort path")
	}
	if f, ok := toFloat(dir); ok {
		switch f {
		case 1:
			return Asc(path), nil
		case -1:
			return Desc(path), nil
		}
		return SortKey{}, configErrorf("sort direction for %q must be 1 or -1, got %v", path, f)
	}
	if s, ok := dir.(string); ok {
		switch strings.ToLower(s) {
		case "asc", "ascending":
			return Asc(path), nil
		case "desc", "descending":
			return Desc(path), nil
		}
	}
	return SortKey{}, configErrorf("bad sort direction %v for %q", dir, path)
}

// ParseSortJSON decodes the sort wire format: an array of paths and
// [path, direction] pairs, or an object of path to +1/-1 whose key order is
// kept.
func ParseSortJSON(data []byte) (SortSpec, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if data[0] != '{' {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, configErrorf("failed to decode sort: %v", err)
		}
		return ParseSort(v)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, configErrorf("failed to decode sort: %v", err)
	}
	var out SortSpec
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, configErrorf("failed to decode sort: %v", err)
		}
		path, ok := tok.(string)
		if !ok {
			return nil, configErrorf("bad sort key %v", tok)
		}
		var dir any
		if err := dec.Decode(&dir); err != nil {
			return nil, configErrorf("failed to decode sort direction for %q: %v", path, err)
		}
		k, err := sortKeyFromDirection(path, dir)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	if _, err := dec.Token(); err != nil {
		return nil, configErrorf("failed to decode sort: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, configErrorf("trailing data after sort object")
	}
	return out, nil
}

// Comparator orders two documents.
type Comparator func(a, b Document) (int, error)

// CompileSort compiles spec into a Comparator. An empty spec considers all
// documents equal.
func CompileSort(spec SortSpec) Comparator {
	type key struct {
		lookup lookupFunc
		desc   bool
	}
	keys := make([]key, len(spec))
	for i, k := range spec {
		keys[i] = key{lookup: compileLookup(k.Path), desc: k.Descending}
	}
	return func(a, b Document) (int, error) {
		for _, k := range keys {
			va, err := reduceBranches(k.lookup(map[string]any(a)), k.desc)
			if err != nil {
				return 0, err
			}
			vb, err := reduceBranches(k.lookup(map[string]any(b)), k.desc)
			if err != nil {
				return 0, err
			}
			c, err := Compare(va, vb)
			if err != nil {
				return 0, err
			}
			if c != 0 {
				if k.desc {
					return -c, nil
				}
				return c, nil
			}
		}
		return 0, nil
	}
}

// reduceBranches picks the representative value of a document for one key:
// the minimum of its flattened branch values when ascending, the maximum
// when descending.
func reduceBranches(branches []any, desc bool) (any, error) {
	var flat []any
	for _, b := range branches {
		if a, ok := asArray(b); ok {
			if len(a) == 0 {
				flat = append(flat, nil)
			} else {
				flat = append(flat, a...)
			}
			continue
		}
		flat = append(flat, b)
	}
	if len(flat) == 0 {
		return nil, nil
	}
	best := flat[0]
	for _, v := range flat[1:] {
		c, err := Compare(v, best)
		if err != nil {
			return nil, err
		}
		if (desc && c > 0) || (!desc && c < 0) {
			best = v
		}
	}
	return best, nil
}

// Sort sorts docs in place, stably. The first comparison error aborts the
// sort and is returned.
func (s SortSpec) Sort(docs []Document) error {
	if len(s) == 0 {
		return nil
	}
	cmpFn := CompileSort(s)
	var sortErr error
	slices.SortStableFunc(docs, func(a, b Document) int {
		if sortErr != nil {
			return 0
		}
		c, err := cmpFn(a, b)
		if err != nil {
			sortErr = err
		}
		return c
	})
	if sortErr != nil {
		return fmt.Errorf("failed to sort: %w", sortErr)
	}
	return nil
}
