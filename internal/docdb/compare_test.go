package docdb

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestCompare(t *testing.T) {
	t.Parallel()
	now := time.Now()
	tests := []struct {
		name string
		a, b any
		want int
	}{
		{"null null", nil, nil, 0},
		{"null first", nil, 0.0, -1},
		{"null last", "", nil, 1},
		{"int float", 3, 3.0, 0},
		{"int64 float32", int64(2), float32(2.5), -1},
		{"json number", json.Number("10"), 9, 1},
		{"strings", "a", "b", -1},
		{"bools", false, true, -1},
		{"bool equal", true, true, 0},
		{"class order", "z", 1.0, 1},
		{"number before object", 100.0, map[string]any{}, -1},
		{"array prefix", []any{1.0}, []any{1.0, 2.0}, -1},
		{"array element", []any{2.0}, []any{1.0, 9.0}, 1},
		{"objects by key", map[string]any{"a": 1.0}, map[string]any{"b": 0.0}, -1},
		{"objects by value", map[string]any{"a": 1.0}, map[string]any{"a": 2.0}, -1},
		{"dates", now, now.Add(time.Second), -1},
		{"binary", []byte("a"), []byte("b"), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Compare(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Compare failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCompareFunctions(t *testing.T) {
	t.Parallel()
	f := func() {}
	_, err := Compare(f, f)
	var uerr *UnsupportedComparisonError
	if !errors.As(err, &uerr) || uerr.Class != ClassFunction {
		t.Fatalf("error = %v, want UnsupportedComparisonError for functions", err)
	}
}

func TestDeepEqual(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"numbers", 1, 1.0, true},
		{"bool vs number", true, 1.0, false},
		{"nested", map[string]any{"a": []any{1.0, "x"}}, Document{"a": []any{1, "x"}}, true},
		{"key sets", map[string]any{"a": nil}, map[string]any{"b": nil}, false},
		{"lengths", []any{1.0}, []any{1.0, 1.0}, false},
		{"string vs array", "a", []any{"a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := DeepEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("DeepEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		path string
		doc  Document
		want []any
	}{
		{"branching", "a.b", Document{"a": []any{map[string]any{"b": 1.0}, map[string]any{"b": 2.0}}}, []any{1.0, 2.0}},
		{"top level", "a", Document{"a": 1.0}, []any{1.0}},
		{"missing", "x", Document{"a": 1.0}, []any{nil}},
		{"missing nested", "a.b.c", Document{"a": map[string]any{}}, []any{nil}},
		{"empty array", "a.b", Document{"a": []any{}}, []any{nil}},
		{"nested object", "a.b", Document{"a": map[string]any{"b": "x"}}, []any{"x"}},
		{"index", "a.0.b", Document{"a": []any{map[string]any{"b": 7.0}, map[string]any{"b": 8.0}}}, []any{7.0}},
		{"index out of range", "a.5", Document{"a": []any{1.0}}, []any{nil}},
		{"scalar branch", "a.b", Document{"a": []any{1.0, map[string]any{"b": 2.0}}}, []any{nil, 2.0}},
		{"array leaf", "a", Document{"a": []any{1.0, 2.0}}, []any{[]any{1.0, 2.0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Lookup(tt.path, tt.doc)
			if !slices.EqualFunc(got, tt.want, DeepEqual) {
				t.Errorf("Lookup(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	type point struct {
		X int `json:"x"`
	}
	got, err := Normalize(map[string]any{
		"i":   3,
		"s":   []string{"a"},
		"p":   point{X: 2},
		"ps":  []point{{X: 1}},
		"doc": Document{"n": uint8(4)},
	})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	want := map[string]any{
		"i":   3.0,
		"s":   []any{"a"},
		"p":   map[string]any{"x": 2.0},
		"ps":  []any{map[string]any{"x": 1.0}},
		"doc": map[string]any{"n": 4.0},
	}
	if !DeepEqual(got, want) {
		t.Errorf("Normalize = %#v", got)
	}
	m := got.(map[string]any)
	if _, ok := m["i"].(float64); !ok {
		t.Errorf("int not converted: %T", m["i"])
	}
	if _, ok := m["doc"].(map[string]any); !ok {
		t.Errorf("Document not converted: %T", m["doc"])
	}
}
