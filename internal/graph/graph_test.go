package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sdd/internal/ir"
)

type staticMeta map[string][]ir.ReferenceField

func (m staticMeta) ReferenceFields(entityType string) []ir.ReferenceField {
	return m[entityType]
}

var testMeta = staticMeta{
	"Feature": {
		{Field: "adr", AllowedTargets: []string{"ADR"}},
		{Field: "requirements", AllowedTargets: []string{"Requirement"}, Many: true},
	},
	"Requirement": {
		{Field: "related", Many: true},
	},
}

func entity(typ, id string, data ir.Document) *ir.Entity {
	if data == nil {
		data = ir.Document{}
	}
	data["id"] = id
	return &ir.Entity{Type: typ, ID: id, Data: data}
}

func ref(typ, id string) ir.EntityRef { return ir.EntityRef{Type: typ, ID: id} }

func TestBuildEdges(t *testing.T) {
	entities := []*ir.Entity{
		entity("Feature", "auth-login", ir.Document{
			"requirements": []any{"REQ-002", "REQ-001"},
			"adr":          "ADR-001",
		}),
		entity("Requirement", "REQ-001", nil),
		entity("Requirement", "REQ-002", nil),
		entity("ADR", "ADR-001", nil),
	}

	g := Build(entities, testMeta)

	assert.Empty(t, g.Diagnostics)
	assert.Equal(t, []ir.Edge{
		{FromType: "Feature", FromID: "auth-login", FromField: "adr", ToType: "ADR", ToID: "ADR-001"},
		{FromType: "Feature", FromID: "auth-login", FromField: "requirements[0]", ToType: "Requirement", ToID: "REQ-002"},
		{FromType: "Feature", FromID: "auth-login", FromField: "requirements[1]", ToType: "Requirement", ToID: "REQ-001"},
	}, g.Edges)

	assert.Len(t, g.Outgoing(ref("Feature", "auth-login")), 3)
	assert.Empty(t, g.Outgoing(ref("Requirement", "REQ-001")))
	incoming := g.Incoming(ref("Requirement", "REQ-001"))
	require.Len(t, incoming, 1)
	assert.Equal(t, "auth-login", incoming[0].FromID)

	assert.True(t, g.Has(ref("ADR", "ADR-001")))
	assert.False(t, g.Has(ref("ADR", "ADR-999")))
	assert.Len(t, g.Nodes(), 4)
}

func TestBuildReferencesInsideArrayItems(t *testing.T) {
	meta := staticMeta{
		"Feature": {
			{Field: "dependsOn[].adrs", AllowedTargets: []string{"ADR"}, Many: true},
			{Field: "dependsOn[].feature", AllowedTargets: []string{"Feature"}},
		},
	}
	entities := []*ir.Entity{
		entity("Feature", "auth-login", ir.Document{
			"dependsOn": []any{
				map[string]any{"feature": "auth-logout", "adrs": []any{"ADR-001"}},
				map[string]any{"feature": "missing"},
			},
		}),
		entity("Feature", "auth-logout", nil),
		entity("ADR", "ADR-001", nil),
	}

	g := Build(entities, meta)

	assert.Equal(t, []ir.Edge{
		{FromType: "Feature", FromID: "auth-login", FromField: "dependsOn[0].adrs[0]", ToType: "ADR", ToID: "ADR-001"},
		{FromType: "Feature", FromID: "auth-login", FromField: "dependsOn[0].feature", ToType: "Feature", ToID: "auth-logout"},
	}, g.Edges)
	require.Len(t, g.Diagnostics, 1)
	assert.Equal(t, ir.CodeRefNotFound, g.Diagnostics[0].Code)
	assert.Equal(t, "dependsOn[1].feature", g.Diagnostics[0].Field)
}

func TestBuildNotFound(t *testing.T) {
	g := Build([]*ir.Entity{
		entity("Feature", "auth-login", ir.Document{"requirements": []any{"REQ-404"}}),
	}, testMeta)

	assert.Empty(t, g.Edges, "dangling references must not become edges")
	require.Len(t, g.Diagnostics, 1)
	d := g.Diagnostics[0]
	assert.Equal(t, ir.CodeRefNotFound, d.Code)
	assert.Equal(t, ir.SeverityError, d.Severity)
	assert.Equal(t, "requirements[0]", d.Field)
	assert.Contains(t, d.Message, "REQ-404")
}

func TestBuildTypeMismatch(t *testing.T) {
	g := Build([]*ir.Entity{
		entity("Feature", "auth-login", ir.Document{"requirements": []any{"ADR-001"}}),
		entity("ADR", "ADR-001", nil),
	}, testMeta)

	assert.Empty(t, g.Edges)
	require.Len(t, g.Diagnostics, 1)
	assert.Equal(t, ir.CodeRefTypeMismatch, g.Diagnostics[0].Code)
	assert.Contains(t, g.Diagnostics[0].Message, "ADR:ADR-001")
}

func TestBuildAmbiguous(t *testing.T) {
	g := Build([]*ir.Entity{
		entity("Requirement", "REQ-001", ir.Document{"related": []any{"shared"}}),
		entity("ADR", "shared", nil),
		entity("Feature", "shared", nil),
	}, testMeta)

	require.Len(t, g.Edges, 1)
	assert.Equal(t, "ADR", g.Edges[0].ToType, "first type in sorted order wins")
	require.Len(t, g.Diagnostics, 1)
	assert.Equal(t, ir.CodeRefAmbiguous, g.Diagnostics[0].Code)
	assert.Equal(t, ir.SeverityWarning, g.Diagnostics[0].Severity)
}

func TestBuildInvalidValues(t *testing.T) {
	g := Build([]*ir.Entity{
		entity("Feature", "a", ir.Document{"requirements": "REQ-001", "adr": 7}),
		entity("Feature", "b", ir.Document{"requirements": []any{""}}),
		entity("Requirement", "REQ-001", nil),
	}, testMeta)

	assert.Empty(t, g.Edges)
	require.Len(t, g.Diagnostics, 3)
	for _, d := range g.Diagnostics {
		assert.Equal(t, ir.CodeRefInvalid, d.Code)
	}
}

func TestBuildSkipsAbsentFields(t *testing.T) {
	g := Build([]*ir.Entity{
		entity("Feature", "a", ir.Document{"adr": nil}),
	}, testMeta)
	assert.Empty(t, g.Edges)
	assert.Empty(t, g.Diagnostics)
}

func TestBuildDeterministic(t *testing.T) {
	fixture := func() []*ir.Entity {
		return []*ir.Entity{
			entity("Requirement", "REQ-002", ir.Document{"related": []any{"REQ-001", "missing"}}),
			entity("Feature", "f", ir.Document{"requirements": []any{"REQ-002", "REQ-001", "nope"}}),
			entity("Requirement", "REQ-001", ir.Document{"related": []any{"REQ-002"}}),
		}
	}
	a := Build(fixture(), testMeta)
	reversed := fixture()
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	b := Build(reversed, testMeta)

	assert.Equal(t, a.Edges, b.Edges)
	assert.Equal(t, a.Diagnostics, b.Diagnostics)
}
