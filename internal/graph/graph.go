// Package graph derives the reference graph of a bundle.
//
// The graph is always rebuilt from scratch from the current entity set;
// it is never patched. Build is a pure function: the same entities and
// schema metadata yield the same edges and diagnostics in the same order.
package graph

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/sdd/internal/ir"
)

// Metadata answers which fields of an entity type hold references.
// *schema.Registry satisfies it.
type Metadata interface {
	ReferenceFields(entityType string) []ir.ReferenceField
}

// RefGraph is the derived reference graph of one entity set.
type RefGraph struct {
	// Edges is every resolved reference, sorted by CompareEdges.
	Edges []ir.Edge `json:"edges"`

	// Diagnostics holds unresolved, mistyped, ambiguous and malformed references.
	Diagnostics []ir.Diagnostic `json:"diagnostics,omitempty"`

	nodes    []ir.EntityRef
	outgoing map[ir.EntityRef][]ir.Edge
	incoming map[ir.EntityRef][]ir.Edge
}

// Build computes the reference graph for entities.
func Build(entities []*ir.Entity, meta Metadata) *RefGraph {
	sorted := slices.Clone(entities)
	slices.SortFunc(sorted, func(a, b *ir.Entity) int { return ir.CompareRefs(a.Ref(), b.Ref()) })

	b := &builder{
		byID: make(map[string][]string),
		g: &RefGraph{
			outgoing: make(map[ir.EntityRef][]ir.Edge),
			incoming: make(map[ir.EntityRef][]ir.Edge),
		},
	}
	for _, e := range sorted {
		b.byID[e.ID] = append(b.byID[e.ID], e.Type)
		b.g.nodes = append(b.g.nodes, e.Ref())
	}
	for id := range b.byID {
		sort.Strings(b.byID[id])
	}

	for _, e := range sorted {
		for _, field := range meta.ReferenceFields(e.Type) {
			b.visitField(e, field)
		}
	}

	slices.SortFunc(b.g.Edges, ir.CompareEdges)
	ir.SortDiagnostics(b.g.Diagnostics)
	for _, edge := range b.g.Edges {
		b.g.outgoing[edge.From()] = append(b.g.outgoing[edge.From()], edge)
		b.g.incoming[edge.To()] = append(b.g.incoming[edge.To()], edge)
	}
	return b.g
}

type builder struct {
	byID map[string][]string // id -> types holding that id, sorted
	g    *RefGraph
}

func (b *builder) visitField(e *ir.Entity, field ir.ReferenceField) {
	for _, path := range itemPaths(e.Data, field.Field) {
		b.visitPath(e, field, path)
	}
}

func (b *builder) visitPath(e *ir.Entity, field ir.ReferenceField, path string) {
	value, ok := e.Data.Get(path)
	if !ok || value == nil {
		return
	}

	if !field.Many {
		b.resolve(e, field, path, value)
		return
	}

	list, ok := value.([]any)
	if !ok {
		b.diag(e, ir.SeverityError, ir.CodeRefInvalid, path,
			fmt.Sprintf("reference list expected, got %T", value))
		return
	}
	for i, item := range list {
		b.resolve(e, field, fmt.Sprintf("%s[%d]", path, i), item)
	}
}

// itemPaths expands each "[]" in path to the indexes present in doc, so
// "dependsOn[].feature" becomes "dependsOn[0].feature", "dependsOn[1].feature".
// A path without "[]" is returned as is.
func itemPaths(doc ir.Document, path string) []string {
	before, after, found := strings.Cut(path, "[]")
	if !found {
		return []string{path}
	}
	list, ok := doc.Get(before)
	items, isList := list.([]any)
	if !ok || !isList {
		return nil
	}
	var paths []string
	for i := range items {
		paths = append(paths, itemPaths(doc, fmt.Sprintf("%s[%d]%s", before, i, after))...)
	}
	return paths
}

func (b *builder) resolve(e *ir.Entity, field ir.ReferenceField, label string, value any) {
	id, ok := value.(string)
	if !ok || strings.TrimSpace(id) == "" {
		b.diag(e, ir.SeverityError, ir.CodeRefInvalid, label,
			fmt.Sprintf("reference must be a non-empty entity id, got %v", value))
		return
	}

	holders := b.byID[id]
	var allowed []string
	for _, t := range holders {
		if field.Allows(t) {
			allowed = append(allowed, t)
		}
	}

	switch {
	case len(allowed) > 0:
		if len(allowed) > 1 {
			b.diag(e, ir.SeverityWarning, ir.CodeRefAmbiguous, label,
				fmt.Sprintf("%q matches %s; resolved to %s:%s", id, strings.Join(allowed, ", "), allowed[0], id))
		}
		b.g.Edges = append(b.g.Edges, ir.Edge{
			FromType:  e.Type,
			FromID:    e.ID,
			FromField: label,
			ToType:    allowed[0],
			ToID:      id,
		})
	case len(holders) > 0:
		b.diag(e, ir.SeverityError, ir.CodeRefTypeMismatch, label,
			fmt.Sprintf("%s:%s is not an allowed target (allowed: %s)", holders[0], id, strings.Join(field.AllowedTargets, ", ")))
	default:
		msg := fmt.Sprintf("referenced entity %q not found", id)
		if len(field.AllowedTargets) > 0 {
			msg = fmt.Sprintf("referenced entity %q not found (expected %s)", id, strings.Join(field.AllowedTargets, " or "))
		}
		b.diag(e, ir.SeverityError, ir.CodeRefNotFound, label, msg)
	}
}

func (b *builder) diag(e *ir.Entity, sev ir.Severity, code, field, msg string) {
	b.g.Diagnostics = append(b.g.Diagnostics, ir.Diagnostic{
		Severity:   sev,
		Code:       code,
		Message:    msg,
		EntityType: e.Type,
		EntityID:   e.ID,
		Field:      field,
	})
}

// Nodes returns every entity in the graph, sorted.
func (g *RefGraph) Nodes() []ir.EntityRef {
	return slices.Clone(g.nodes)
}

// Outgoing returns edges whose source is ref, sorted.
func (g *RefGraph) Outgoing(ref ir.EntityRef) []ir.Edge {
	return slices.Clone(g.outgoing[ref])
}

// Incoming returns edges whose target is ref, sorted.
func (g *RefGraph) Incoming(ref ir.EntityRef) []ir.Edge {
	return slices.Clone(g.incoming[ref])
}

// Has reports whether ref is a node of the graph.
func (g *RefGraph) Has(ref ir.EntityRef) bool {
	_, ok := slices.BinarySearchFunc(g.nodes, ref, ir.CompareRefs)
	return ok
}
