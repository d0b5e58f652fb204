// Package bundle is the entity store: it loads a bundle directory into an
// immutable in-memory snapshot and serializes entities back to files.
//
// A loaded *Bundle is never modified. Reloads and applies produce a new
// snapshot that replaces the old one wholesale.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sdd/internal/graph"
	"github.com/roach88/sdd/internal/ir"
	"github.com/roach88/sdd/internal/schema"
)

// Bundle is one loaded snapshot of a bundle directory.
type Bundle struct {
	Root     string
	Manifest *Manifest
	Schemas  *schema.Registry

	// Entities is keyed by entity type, then id.
	Entities map[string]map[string]*ir.Entity

	// Graph is derived from Entities at load time.
	Graph *graph.RefGraph

	// DomainNotes is the text of the manifest's domainNotes file, if any.
	DomainNotes string

	// LoadDiagnostics are per-file failures found while loading.
	LoadDiagnostics []ir.Diagnostic
}

// Load reads the bundle rooted at root.
//
// Manifest and schema failures abort the load. Per-file failures
// (unparseable YAML, missing id, duplicate id) become entity-scoped
// diagnostics so one malformed file never hides the rest of the bundle.
func Load(ctx context.Context, root string) (*Bundle, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, ir.WrapError(ir.CodeBadRequest, fmt.Sprintf("resolving bundle path %s", root), err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, ir.WrapError(ir.CodeNotFound, fmt.Sprintf("bundle directory not found: %s", abs), err)
	}

	manifest, err := LoadManifest(abs)
	if err != nil {
		return nil, err
	}
	schemas, err := schema.LoadRegistry(abs, manifest.SchemaDir, manifest.SchemaBindings())
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		Root:     abs,
		Manifest: manifest,
		Schemas:  schemas,
		Entities: make(map[string]map[string]*ir.Entity, len(manifest.Entities)),
	}

	if manifest.DomainNotes != "" {
		notes, err := os.ReadFile(filepath.Join(abs, manifest.DomainNotes))
		if err != nil {
			b.LoadDiagnostics = append(b.LoadDiagnostics, ir.Diagnostic{
				Severity: ir.SeverityWarning,
				Code:     ir.CodeDomainNotes,
				Message:  fmt.Sprintf("domain notes %s unreadable: %v", manifest.DomainNotes, err),
			})
		} else {
			b.DomainNotes = string(notes)
		}
	}

	for _, entityType := range sortedKeys(manifest.Entities) {
		b.Entities[entityType] = make(map[string]*ir.Entity)
		if err := b.loadType(ctx, entityType); err != nil {
			return nil, err
		}
	}

	ir.SortDiagnostics(b.LoadDiagnostics)
	b.Graph = graph.Build(b.List(), schemas)
	return b, nil
}

func (b *Bundle) loadType(ctx context.Context, entityType string) error {
	dir := filepath.Join(b.Root, b.Manifest.Entities[entityType].Dir)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				// A declared type with no directory yet has no entities.
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() || !IsEntityFile(path) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		b.loadFile(entityType, path)
		return nil
	})
	if err != nil {
		return ir.WrapError(ir.CodeInternal, fmt.Sprintf("reading %s entities", entityType), err)
	}
	return nil
}

func (b *Bundle) loadFile(entityType, path string) {
	rel := b.RelPath(path)
	fileDiag := func(code, msg string) {
		b.LoadDiagnostics = append(b.LoadDiagnostics, ir.Diagnostic{
			Severity:   ir.SeverityError,
			Code:       code,
			Message:    fmt.Sprintf("%s: %s", rel, msg),
			EntityType: entityType,
		})
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		fileDiag(ir.CodeParseError, err.Error())
		return
	}
	data, err := DecodeDocument(raw)
	if err != nil {
		fileDiag(ir.CodeParseError, err.Error())
		return
	}

	id, ok := data["id"].(string)
	if !ok || strings.TrimSpace(id) == "" {
		fileDiag(ir.CodeMissingID, "document has no string id")
		return
	}

	byID := b.Entities[entityType]
	if prev, dup := byID[id]; dup {
		b.LoadDiagnostics = append(b.LoadDiagnostics, ir.Diagnostic{
			Severity:   ir.SeverityError,
			Code:       ir.CodeDuplicateID,
			Message:    fmt.Sprintf("%s: id already declared in %s", rel, b.RelPath(prev.FilePath)),
			EntityType: entityType,
			EntityID:   id,
			Field:      "id",
		})
		return
	}

	e := &ir.Entity{Type: entityType, ID: id, Data: data, FilePath: path}
	if info, err := os.Stat(path); err == nil {
		e.ModTime = info.ModTime()
	}
	byID[id] = e
}

// DecodeDocument parses one entity file. The top level must be a mapping.
func DecodeDocument(raw []byte) (ir.Document, error) {
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	m, ok := ir.Normalize(v).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top level must be a mapping, got %T", v)
	}
	return ir.Document(m), nil
}

// IsEntityFile reports whether path has a YAML extension.
func IsEntityFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Lookup returns the entity identified by ref.
func (b *Bundle) Lookup(ref ir.EntityRef) (*ir.Entity, bool) {
	e, ok := b.Entities[ref.Type][ref.ID]
	return e, ok
}

// HasType reports whether the manifest declares entityType.
func (b *Bundle) HasType(entityType string) bool {
	_, ok := b.Manifest.Entities[entityType]
	return ok
}

// List returns every entity sorted by type, then id.
func (b *Bundle) List() []*ir.Entity {
	var out []*ir.Entity
	for _, byID := range b.Entities {
		for _, e := range byID {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(x, y *ir.Entity) int { return ir.CompareRefs(x.Ref(), y.Ref()) })
	return out
}

// Refs returns every entity ref, sorted.
func (b *Bundle) Refs() []ir.EntityRef {
	list := b.List()
	refs := make([]ir.EntityRef, len(list))
	for i, e := range list {
		refs[i] = e.Ref()
	}
	return refs
}

// TypesForID returns the types holding an entity with id, sorted.
func (b *Bundle) TypesForID(id string) []string {
	var types []string
	for t, byID := range b.Entities {
		if _, ok := byID[id]; ok {
			types = append(types, t)
		}
	}
	sort.Strings(types)
	return types
}

// Count returns the number of loaded entities.
func (b *Bundle) Count() int {
	n := 0
	for _, byID := range b.Entities {
		n += len(byID)
	}
	return n
}

// EntityPath returns the file a new entity of entityType would be written to.
func (b *Bundle) EntityPath(entityType, id string) (string, error) {
	binding, ok := b.Manifest.Entities[entityType]
	if !ok {
		return "", ir.Errorf(ir.CodeNotFound, "unknown entity type %q", entityType)
	}
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", ir.Errorf(ir.CodeBadRequest, "id %q cannot be used as a file name", id)
	}
	return filepath.Join(b.Root, binding.Dir, id+".yaml"), nil
}

// RelPath returns path relative to the bundle root, or path itself when it
// lies outside the root.
func (b *Bundle) RelPath(path string) string {
	rel, err := filepath.Rel(b.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

// WatchPaths lists the directories whose contents make up the bundle.
func (b *Bundle) WatchPaths() []string {
	paths := []string{b.Root, filepath.Join(b.Root, b.Manifest.SchemaDir)}
	for _, t := range sortedKeys(b.Manifest.Entities) {
		paths = append(paths, filepath.Join(b.Root, b.Manifest.Entities[t].Dir))
	}
	return paths
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
