package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/encoding/jsonschema"

	"github.com/roach88/sdd/internal/ir"
)

const (
	// RefFormat marks a string property as an entity reference.
	RefFormat = "sdd-ref"
	// RefTargetsKey lists the entity types a reference may point at.
	RefTargetsKey = "x-sdd-refTargets"
)

// compiled is one entity type's schema.
type compiled struct {
	path   string
	value  cue.Value
	fields []ir.ReferenceField
}

// Registry holds compiled schemas keyed by entity type.
//
// CUE values are not safe for concurrent use, so every evaluation is
// serialized on mu. Reference metadata is computed once at load and is
// read-only afterwards.
type Registry struct {
	mu      sync.Mutex
	ctx     *cue.Context
	schemas map[string]*compiled
}

// LoadRegistry compiles the schema file bound to each entity type.
// bindings maps entity type to a schema path relative to root/schemaDir.
//
// A missing schema file is NOT_FOUND; a schema that is not valid JSON or
// cannot be converted is BAD_REQUEST.
func LoadRegistry(root, schemaDir string, bindings map[string]string) (*Registry, error) {
	r := &Registry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]*compiled, len(bindings)),
	}

	types := make([]string, 0, len(bindings))
	for t := range bindings {
		types = append(types, t)
	}
	sort.Strings(types)

	for _, entityType := range types {
		path := filepath.Join(root, schemaDir, bindings[entityType])
		c, err := r.compile(entityType, path)
		if err != nil {
			return nil, err
		}
		r.schemas[entityType] = c
	}
	return r, nil
}

func (r *Registry) compile(entityType, path string) (*compiled, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ir.WrapError(ir.CodeNotFound, fmt.Sprintf("schema for %s not found: %s", entityType, path), err)
	}
	if err != nil {
		return nil, ir.WrapError(ir.CodeInternal, fmt.Sprintf("reading schema for %s", entityType), err)
	}

	// JSON is valid CUE, so the raw schema compiles directly.
	doc := r.ctx.CompileBytes(raw, cue.Filename(path))
	if err := doc.Err(); err != nil {
		return nil, ir.WrapError(ir.CodeBadRequest, fmt.Sprintf("schema for %s is not valid JSON", entityType), err)
	}

	file, err := jsonschema.Extract(doc, &jsonschema.Config{})
	if err != nil {
		return nil, ir.WrapError(ir.CodeBadRequest, fmt.Sprintf("converting schema for %s", entityType), err)
	}
	value := r.ctx.BuildFile(file)
	if err := value.Err(); err != nil {
		return nil, ir.WrapError(ir.CodeBadRequest, fmt.Sprintf("building schema for %s", entityType), err)
	}

	fields, err := referenceFields(doc, "")
	if err != nil {
		return nil, ir.WrapError(ir.CodeBadRequest, fmt.Sprintf("reference metadata for %s", entityType), err)
	}

	return &compiled{path: path, value: value, fields: fields}, nil
}

// Types returns the registered entity types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Has reports whether entityType has a schema.
func (r *Registry) Has(entityType string) bool {
	_, ok := r.schemas[entityType]
	return ok
}

// Path returns the schema file path for entityType.
func (r *Registry) Path(entityType string) string {
	if c, ok := r.schemas[entityType]; ok {
		return c.path
	}
	return ""
}

// ReferenceFields returns the reference fields declared for entityType,
// sorted by field path. Unknown types have none.
func (r *Registry) ReferenceFields(entityType string) []ir.ReferenceField {
	c, ok := r.schemas[entityType]
	if !ok {
		return nil
	}
	return slices.Clone(c.fields)
}

// Validate checks data against the schema for entityType and returns one
// schema-violation diagnostic per failure. Valid data yields nil.
func (r *Registry) Validate(entityType, id string, data ir.Document) []ir.Diagnostic {
	c, ok := r.schemas[entityType]
	if !ok {
		return []ir.Diagnostic{{
			Severity:   ir.SeverityError,
			Code:       ir.CodeSchemaViolation,
			Message:    fmt.Sprintf("no schema registered for type %s", entityType),
			EntityType: entityType,
			EntityID:   id,
		}}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v := c.value.Unify(r.ctx.Encode(map[string]any(data)))
	err := v.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}
	return Diagnostics(err, ir.SeverityError, ir.CodeSchemaViolation, ir.EntityRef{Type: entityType, ID: id})
}

// Diagnostics flattens a CUE error into one diagnostic per underlying
// error, using the CUE path as the field.
func Diagnostics(err error, severity ir.Severity, code string, ref ir.EntityRef) []ir.Diagnostic {
	var out []ir.Diagnostic
	seen := make(map[string]bool)
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		d := ir.Diagnostic{
			Severity:   severity,
			Code:       code,
			Message:    fmt.Sprintf(format, args...),
			EntityType: ref.Type,
			EntityID:   ref.ID,
			Field:      strings.Join(e.Path(), "."),
		}
		// CUE reports the same conflict once per disjunct branch.
		if seen[d.Key()] {
			continue
		}
		seen[d.Key()] = true
		out = append(out, d)
	}
	if len(out) == 0 {
		out = append(out, ir.Diagnostic{
			Severity:   severity,
			Code:       code,
			Message:    err.Error(),
			EntityType: ref.Type,
			EntityID:   ref.ID,
		})
	}
	return out
}
