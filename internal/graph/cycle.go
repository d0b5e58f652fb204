package graph

import (
	"slices"

	"github.com/roach88/sdd/internal/ir"
)

// Cycle is a strongly connected set of entities, with one traversal path
// through it. Path starts and ends at the same entity.
type Cycle struct {
	Members []ir.EntityRef `json:"members"`
	Path    []ir.EntityRef `json:"path"`
}

// Cycles returns reference cycles: strongly connected components with
// more than one member, or a single entity referencing itself.
//
// Reference cycles are legal data. The no-cycles lint rule decides
// whether they are worth reporting.
func (g *RefGraph) Cycles() []Cycle {
	var cycles []Cycle
	for _, scc := range g.tarjanSCC() {
		if len(scc) > 1 || g.hasSelfLoop(scc[0]) {
			slices.SortFunc(scc, ir.CompareRefs)
			cycles = append(cycles, Cycle{Members: scc, Path: g.cyclePath(scc)})
		}
	}
	slices.SortFunc(cycles, func(a, b Cycle) int { return ir.CompareRefs(a.Members[0], b.Members[0]) })
	return cycles
}

func (g *RefGraph) hasSelfLoop(node ir.EntityRef) bool {
	for _, e := range g.outgoing[node] {
		if e.To() == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so the result is deterministic.
func (g *RefGraph) tarjanSCC() [][]ir.EntityRef {
	var (
		index   = 0
		stack   []ir.EntityRef
		indices = make(map[ir.EntityRef]int)
		lowlink = make(map[ir.EntityRef]int)
		onStack = make(map[ir.EntityRef]bool)
		sccs    [][]ir.EntityRef
	)

	var strongConnect func(ir.EntityRef)
	strongConnect = func(v ir.EntityRef) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, e := range g.outgoing[v] {
			w := e.To()
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []ir.EntityRef
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range g.nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// cyclePath follows edges inside the component from its first member
// until it returns to the start.
func (g *RefGraph) cyclePath(scc []ir.EntityRef) []ir.EntityRef {
	members := make(map[ir.EntityRef]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	start := scc[0]
	current := start
	path := []ir.EntityRef{current}
	visited := make(map[ir.EntityRef]bool)
	for {
		visited[current] = true
		var next *ir.EntityRef
		for _, e := range g.outgoing[current] {
			to := e.To()
			if members[to] && (!visited[to] || to == start) {
				next = &to
				break
			}
		}
		if next == nil {
			break
		}
		path = append(path, *next)
		if *next == start {
			break
		}
		current = *next
	}
	return path
}
