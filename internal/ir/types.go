package ir

import (
	"fmt"
	"strings"
	"time"
)

// EntityRef identifies an entity by type and id.
type EntityRef struct {
	Type string `json:"type" yaml:"type"`
	ID   string `json:"id" yaml:"id"`
}

// String renders the ref as "Type:ID".
func (r EntityRef) String() string {
	return r.Type + ":" + r.ID
}

// ParseEntityRef parses "Type:ID".
func ParseEntityRef(s string) (EntityRef, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(typ) == "" || strings.TrimSpace(id) == "" {
		return EntityRef{}, fmt.Errorf("invalid entity reference %q, expected \"Type:id\"", s)
	}
	return EntityRef{Type: typ, ID: id}, nil
}

// CompareRefs orders refs by type, then id.
func CompareRefs(a, b EntityRef) int {
	if c := strings.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Entity is one schema-typed document loaded from a file.
//
// Data is owned by the bundle snapshot that loaded it. Callers that need to
// modify it must Clone first.
type Entity struct {
	Type     string    `json:"type"`
	ID       string    `json:"id"`
	Data     Document  `json:"data"`
	FilePath string    `json:"file_path"`
	ModTime  time.Time `json:"-"`
}

// Ref returns the entity's identity.
func (e *Entity) Ref() EntityRef {
	return EntityRef{Type: e.Type, ID: e.ID}
}

// Edge is a directed reference from one entity's field to another entity.
// Edges are derived from reference fields and never hand-authored.
type Edge struct {
	FromType  string `json:"from_type"`
	FromID    string `json:"from_id"`
	FromField string `json:"from_field"`
	ToType    string `json:"to_type"`
	ToID      string `json:"to_id"`
}

// From returns the source entity ref.
func (e Edge) From() EntityRef { return EntityRef{Type: e.FromType, ID: e.FromID} }

// To returns the target entity ref.
func (e Edge) To() EntityRef { return EntityRef{Type: e.ToType, ID: e.ToID} }

// CompareEdges orders edges by source, field, then target.
func CompareEdges(a, b Edge) int {
	if c := CompareRefs(a.From(), b.From()); c != 0 {
		return c
	}
	if c := strings.Compare(a.FromField, b.FromField); c != 0 {
		return c
	}
	return CompareRefs(a.To(), b.To())
}

// ReferenceField is schema metadata for a field holding entity ids.
type ReferenceField struct {
	Field          string   `json:"field"`           // dotted path, e.g. "ownerId" or "links.adrIds"; "[]" spans array items, e.g. "dependsOn[].feature"
	AllowedTargets []string `json:"allowed_targets"` // empty means any declared type
	Many           bool     `json:"many"`            // array of ids
}

// Allows reports whether the field may point at entityType.
func (f ReferenceField) Allows(entityType string) bool {
	if len(f.AllowedTargets) == 0 {
		return true
	}
	for _, t := range f.AllowedTargets {
		if t == entityType {
			return true
		}
	}
	return false
}

// ChangeOp is the kind of mutation a ProposedChange performs.
type ChangeOp string

const (
	// OpSet assigns NewValue at FieldPath. An empty FieldPath replaces the whole document.
	OpSet ChangeOp = "set"
	// OpUnset removes FieldPath.
	OpUnset ChangeOp = "unset"
	// OpCreate creates a new entity whose document is NewValue.
	OpCreate ChangeOp = "create"
	// OpDelete removes the entity and its file.
	OpDelete ChangeOp = "delete"
)

// ValidOps lists the accepted change operations.
var ValidOps = map[ChangeOp]bool{
	OpSet:    true,
	OpUnset:  true,
	OpCreate: true,
	OpDelete: true,
}

// ProposedChange is a single edit proposed by an external actor.
// A batch of changes is the atomic unit accepted by the apply service.
type ProposedChange struct {
	Op         ChangeOp `json:"op,omitempty" yaml:"op,omitempty"`
	EntityType string   `json:"entity_type" yaml:"entityType"`
	EntityID   string   `json:"entity_id" yaml:"entityId"`
	FieldPath  string   `json:"field_path,omitempty" yaml:"fieldPath,omitempty"`
	OldValue   any      `json:"old_value,omitempty" yaml:"oldValue,omitempty"`
	NewValue   any      `json:"new_value,omitempty" yaml:"newValue,omitempty"`
	Rationale  string   `json:"rationale,omitempty" yaml:"rationale,omitempty"`
}

// Operation returns the effective op, defaulting to OpSet.
func (c ProposedChange) Operation() ChangeOp {
	if c.Op == "" {
		return OpSet
	}
	return c.Op
}

// Ref returns the target entity ref.
func (c ProposedChange) Ref() EntityRef {
	return EntityRef{Type: c.EntityType, ID: c.EntityID}
}

// Describe renders a one-line summary of the change.
func (c ProposedChange) Describe() string {
	switch c.Operation() {
	case OpCreate:
		return fmt.Sprintf("create %s", c.Ref())
	case OpDelete:
		return fmt.Sprintf("delete %s", c.Ref())
	case OpUnset:
		return fmt.Sprintf("unset %s.%s", c.Ref(), c.FieldPath)
	default:
		if c.FieldPath == "" {
			return fmt.Sprintf("replace %s", c.Ref())
		}
		return fmt.Sprintf("set %s.%s", c.Ref(), c.FieldPath)
	}
}
