package graph

import (
	"sort"

	"github.com/brunobiangulo/theoremgraph/record"
)

// Dedupe collapses records sharing a key. The last occurrence wins outright;
// fields are not merged. The result is ordered by key.
func Dedupe[T any](items []T, key func(T) string) []T {
	byKey := make(map[string]T, len(items))
	for _, it := range items {
		byKey[key(it)] = it
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, byKey[k])
	}
	return out
}

func theoremName(t record.Theorem) string { return t.Name }
func exampleName(e record.Example) string { return e.Name }

// DedupeTheorems keeps the last theorem seen for each name.
func DedupeTheorems(ts []record.Theorem) []record.Theorem { return Dedupe(ts, theoremName) }

// DedupeExamples keeps the last example seen for each name.
func DedupeExamples(es []record.Example) []record.Example { return Dedupe(es, exampleName) }
