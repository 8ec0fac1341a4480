package graph

import (
	"context"
	"fmt"

	"github.com/brunobiangulo/theoremgraph/record"
	"github.com/brunobiangulo/theoremgraph/store"
)

// maxPrerequisiteDepth bounds Prerequisites regardless of the caller's depth.
const maxPrerequisiteDepth = 5

// Prerequisite is a theorem reached by following DEPENDS_ON edges.
type Prerequisite struct {
	Theorem record.Theorem `json:"theorem"`
	// Depth is the number of hops from the starting theorem.
	Depth int `json:"depth"`
}

// Prerequisites walks DEPENDS_ON edges breadth-first from name, up to
// maxDepth hops, and returns every theorem reached once, nearest first.
// Cycles are tolerated.
func Prerequisites(ctx context.Context, g store.Graph, name string, maxDepth int) ([]Prerequisite, error) {
	if maxDepth <= 0 {
		return nil, nil
	}
	maxDepth = min(maxDepth, maxPrerequisiteDepth)

	visited := map[string]bool{name: true}
	queue := []string{name}
	var out []Prerequisite

	for depth := 1; depth <= maxDepth && len(queue) > 0; depth++ {
		var next []string
		for _, cur := range queue {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			deps, err := g.Dependencies(ctx, cur)
			if err != nil {
				return nil, fmt.Errorf("graph: dependencies of %q: %w", cur, err)
			}
			for _, d := range deps {
				if visited[d.Name] {
					continue
				}
				visited[d.Name] = true
				out = append(out, Prerequisite{Theorem: d, Depth: depth})
				next = append(next, d.Name)
			}
		}
		queue = next
	}
	return out, nil
}
