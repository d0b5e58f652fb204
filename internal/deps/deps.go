// Package deps collects the transitive dependencies of a set of targets.
//
// Dependencies follow outgoing reference edges only: the entity being
// governed holds the reference to its governor, so what a target points at
// is what it needs to be read alongside it.
package deps

import (
	"slices"
	"time"

	"github.com/roach88/sdd/internal/ir"
)

const (
	// DefaultDepth applies when the caller passes a negative depth.
	DefaultDepth = 3
	// MaxDepth caps every traversal.
	MaxDepth = 5
)

// Graph is the part of the reference graph traversal needs.
// *graph.RefGraph satisfies it.
type Graph interface {
	Has(ref ir.EntityRef) bool
	Outgoing(ref ir.EntityRef) []ir.Edge
}

// Dependency is one entity reached from the targets.
type Dependency struct {
	Ref ir.EntityRef `json:"ref"`
	// Depth is the number of edges from the nearest target.
	Depth int `json:"depth"`
	// Via is the edge through which the entity was first discovered.
	Via ir.Edge `json:"via"`
	// Modified is when the entity last changed, when known. Collect leaves
	// it unset; callers holding the entities fill it in.
	Modified time.Time `json:"modified,omitzero"`
}

// Result is the dependency subset of the graph for a batch of targets.
type Result struct {
	Targets      []ir.EntityRef `json:"targets"`
	Dependencies []Dependency   `json:"dependencies"`
	// Edges are the edges walked, including ones that led to an entity
	// already visited.
	Edges []ir.Edge `json:"edges"`
}

// Refs returns the dependency refs in discovery order.
func (r *Result) Refs() []ir.EntityRef {
	refs := make([]ir.EntityRef, len(r.Dependencies))
	for i, d := range r.Dependencies {
		refs[i] = d.Ref
	}
	return refs
}

// ClampDepth resolves the effective depth: negative means DefaultDepth,
// anything above MaxDepth is MaxDepth.
func ClampDepth(depth int) int {
	switch {
	case depth < 0:
		return DefaultDepth
	case depth > MaxDepth:
		return MaxDepth
	}
	return depth
}

// Collect walks outgoing edges breadth-first from targets up to maxDepth.
//
// A single visited set, seeded with the targets, is shared by the whole
// batch and an entity is marked on discovery, so no entity appears twice
// and no target appears as a dependency. Cycles terminate because a
// visited entity is never expanded again.
//
// Empty targets is BAD_REQUEST; a target missing from g is NOT_FOUND.
// Depth 0 always yields no dependencies.
func Collect(targets []ir.EntityRef, maxDepth int, g Graph) (*Result, error) {
	if len(targets) == 0 {
		return nil, ir.Errorf(ir.CodeBadRequest, "at least one target is required")
	}
	depth := ClampDepth(maxDepth)

	visited := make(map[ir.EntityRef]bool, len(targets))
	result := &Result{Dependencies: []Dependency{}, Edges: []ir.Edge{}}
	for _, t := range targets {
		if !g.Has(t) {
			return nil, ir.Errorf(ir.CodeNotFound, "target %s not found", t).WithRef(t, "")
		}
		if visited[t] {
			continue
		}
		visited[t] = true
		result.Targets = append(result.Targets, t)
	}

	type item struct {
		ref   ir.EntityRef
		depth int
	}
	queue := make([]item, 0, len(result.Targets))
	for _, t := range result.Targets {
		queue = append(queue, item{ref: t})
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= depth {
			continue
		}
		for _, edge := range g.Outgoing(cur.ref) {
			result.Edges = append(result.Edges, edge)
			next := edge.To()
			if visited[next] {
				continue
			}
			visited[next] = true
			result.Dependencies = append(result.Dependencies, Dependency{Ref: next, Depth: cur.depth + 1, Via: edge})
			queue = append(queue, item{ref: next, depth: cur.depth + 1})
		}
	}

	slices.SortStableFunc(result.Edges, ir.CompareEdges)
	result.Edges = slices.CompactFunc(result.Edges, func(a, b ir.Edge) bool { return a == b })
	return result, nil
}
