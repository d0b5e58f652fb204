package deps

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sdd/internal/bundle"
	"github.com/roach88/sdd/internal/graph"
	"github.com/roach88/sdd/internal/ir"
	"github.com/roach88/sdd/internal/testutil"
)

func ref(typ, id string) ir.EntityRef { return ir.EntityRef{Type: typ, ID: id} }

var (
	authLogin  = ref("Feature", "auth-login")
	authLogout = ref("Feature", "auth-logout")
)

func loadSampleGraph(t *testing.T) *graph.RefGraph {
	t.Helper()
	b, err := bundle.Load(context.Background(), testutil.SampleBundle(t))
	require.NoError(t, err)
	return b.Graph
}

func TestScenarioA_SingleTargetDepthOne(t *testing.T) {
	g := loadSampleGraph(t)

	res, err := Collect([]ir.EntityRef{authLogin}, 1, g)
	require.NoError(t, err)

	assert.ElementsMatch(t, []ir.EntityRef{
		ref("Requirement", "REQ-001"),
		ref("Requirement", "REQ-002"),
		ref("ADR", "ADR-001"),
	}, res.Refs())
	assert.NotContains(t, res.Refs(), authLogin)
	assert.Equal(t, []ir.EntityRef{authLogin}, res.Targets)
	assert.Len(t, res.Edges, 3)
	for _, d := range res.Dependencies {
		assert.Equal(t, 1, d.Depth)
		assert.Equal(t, authLogin, d.Via.From())
	}
}

func TestScenarioB_SharedDependencyAppearsOnce(t *testing.T) {
	g := loadSampleGraph(t)

	res, err := Collect([]ir.EntityRef{authLogin, authLogout}, 1, g)
	require.NoError(t, err)

	assert.Len(t, res.Dependencies, 3)
	count := 0
	for _, r := range res.Refs() {
		if r == ref("Requirement", "REQ-002") {
			count++
		}
	}
	assert.Equal(t, 1, count, "REQ-002 must appear exactly once")
	assert.Len(t, res.Edges, 4, "both edges into REQ-002 are reported")
}

func TestDepthZeroIsEmpty(t *testing.T) {
	g := loadSampleGraph(t)

	res, err := Collect([]ir.EntityRef{authLogin, authLogout}, 0, g)
	require.NoError(t, err)
	assert.Empty(t, res.Dependencies)
	assert.Empty(t, res.Edges)
	assert.Len(t, res.Targets, 2)
}

func TestDepthTwoReachesConstraint(t *testing.T) {
	g := loadSampleGraph(t)

	res, err := Collect([]ir.EntityRef{authLogin}, 2, g)
	require.NoError(t, err)
	require.Len(t, res.Dependencies, 4)
	last := res.Dependencies[3]
	assert.Equal(t, ref("Constraint", "CON-001"), last.Ref)
	assert.Equal(t, 2, last.Depth)
	assert.Equal(t, ref("Requirement", "REQ-001"), last.Via.From())
}

func TestMonotonicInDepth(t *testing.T) {
	g := chain(t, 8)
	target := []ir.EntityRef{ref("Node", "n0")}

	prev := map[ir.EntityRef]bool{}
	for d := 0; d <= MaxDepth+1; d++ {
		res, err := Collect(target, d, g)
		require.NoError(t, err)
		cur := map[ir.EntityRef]bool{}
		for _, r := range res.Refs() {
			cur[r] = true
		}
		for r := range prev {
			assert.True(t, cur[r], "depth %d lost %s", d, r)
		}
		prev = cur
	}
}

func TestDepthClamping(t *testing.T) {
	g := chain(t, 10)
	target := []ir.EntityRef{ref("Node", "n0")}

	res, err := Collect(target, 100, g)
	require.NoError(t, err)
	assert.Len(t, res.Dependencies, MaxDepth)

	res, err = Collect(target, -1, g)
	require.NoError(t, err)
	assert.Len(t, res.Dependencies, DefaultDepth)

	assert.Equal(t, 0, ClampDepth(0))
	assert.Equal(t, 4, ClampDepth(4))
}

func TestCyclesTerminate(t *testing.T) {
	entities := []*ir.Entity{
		{Type: "Node", ID: "a", Data: ir.Document{"next": []any{"b"}}},
		{Type: "Node", ID: "b", Data: ir.Document{"next": []any{"a", "c"}}},
		{Type: "Node", ID: "c", Data: ir.Document{"next": []any{"a"}}},
	}
	g := graph.Build(entities, nodeMeta{})

	res, err := Collect([]ir.EntityRef{ref("Node", "a")}, MaxDepth, g)
	require.NoError(t, err)
	assert.Equal(t, []ir.EntityRef{ref("Node", "b"), ref("Node", "c")}, res.Refs())
}

func TestDuplicateTargetsCollapse(t *testing.T) {
	g := loadSampleGraph(t)

	res, err := Collect([]ir.EntityRef{authLogin, authLogin}, 1, g)
	require.NoError(t, err)
	assert.Equal(t, []ir.EntityRef{authLogin}, res.Targets)
	assert.Len(t, res.Dependencies, 3)
}

func TestTargetIsNeverADependency(t *testing.T) {
	g := loadSampleGraph(t)

	// REQ-001 is reachable from auth-login but is itself a target.
	res, err := Collect([]ir.EntityRef{authLogin, ref("Requirement", "REQ-001")}, 2, g)
	require.NoError(t, err)
	assert.NotContains(t, res.Refs(), ref("Requirement", "REQ-001"))
	assert.Contains(t, res.Refs(), ref("Constraint", "CON-001"))
}

func TestCollectErrors(t *testing.T) {
	g := loadSampleGraph(t)

	_, err := Collect(nil, 1, g)
	assert.Equal(t, ir.CodeBadRequest, ir.CodeOf(err))

	_, err = Collect([]ir.EntityRef{ref("Feature", "missing")}, 1, g)
	assert.Equal(t, ir.CodeNotFound, ir.CodeOf(err))
}

type nodeMeta struct{}

func (nodeMeta) ReferenceFields(string) []ir.ReferenceField {
	return []ir.ReferenceField{{Field: "next", Many: true}}
}

// chain builds n0 -> n1 -> ... -> n(length-1).
func chain(t *testing.T, length int) *graph.RefGraph {
	t.Helper()
	entities := make([]*ir.Entity, length)
	for i := range entities {
		data := ir.Document{"id": fmt.Sprintf("n%d", i)}
		if i+1 < length {
			data["next"] = []any{fmt.Sprintf("n%d", i+1)}
		}
		entities[i] = &ir.Entity{Type: "Node", ID: fmt.Sprintf("n%d", i), Data: data}
	}
	return graph.Build(entities, nodeMeta{})
}
