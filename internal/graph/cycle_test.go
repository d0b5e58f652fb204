package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sdd/internal/ir"
)

func TestCyclesNone(t *testing.T) {
	g := Build([]*ir.Entity{
		entity("Requirement", "A", ir.Document{"related": []any{"B"}}),
		entity("Requirement", "B", ir.Document{"related": []any{"C"}}),
		entity("Requirement", "C", nil),
	}, testMeta)
	assert.Empty(t, g.Cycles(), "DAG has no cycles")
}

func TestCyclesThreeNode(t *testing.T) {
	g := Build([]*ir.Entity{
		entity("Requirement", "A", ir.Document{"related": []any{"B"}}),
		entity("Requirement", "B", ir.Document{"related": []any{"C"}}),
		entity("Requirement", "C", ir.Document{"related": []any{"A"}}),
		entity("Requirement", "D", ir.Document{"related": []any{"A"}}),
	}, testMeta)

	cycles := g.Cycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, []ir.EntityRef{ref("Requirement", "A"), ref("Requirement", "B"), ref("Requirement", "C")}, cycles[0].Members)
	assert.Equal(t, []ir.EntityRef{
		ref("Requirement", "A"), ref("Requirement", "B"), ref("Requirement", "C"), ref("Requirement", "A"),
	}, cycles[0].Path)
}

func TestCyclesSelfLoop(t *testing.T) {
	g := Build([]*ir.Entity{
		entity("Requirement", "A", ir.Document{"related": []any{"A"}}),
	}, testMeta)

	cycles := g.Cycles()
	require.Len(t, cycles, 1)
	assert.Equal(t, []ir.EntityRef{ref("Requirement", "A"), ref("Requirement", "A")}, cycles[0].Path)
}

func TestCyclesMultiple(t *testing.T) {
	g := Build([]*ir.Entity{
		entity("Requirement", "A", ir.Document{"related": []any{"B"}}),
		entity("Requirement", "B", ir.Document{"related": []any{"A"}}),
		entity("Requirement", "X", ir.Document{"related": []any{"Y"}}),
		entity("Requirement", "Y", ir.Document{"related": []any{"X"}}),
	}, testMeta)

	cycles := g.Cycles()
	require.Len(t, cycles, 2)
	assert.Equal(t, "A", cycles[0].Members[0].ID)
	assert.Equal(t, "X", cycles[1].Members[0].ID)
}
