package apply

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/roach88/sdd/internal/bundle"
	"github.com/roach88/sdd/internal/graph"
	"github.com/roach88/sdd/internal/ir"
)

// Plan is a staged batch: the exact bytes each touched file will hold.
// A Plan is produced by Prepare and consumed once by Commit.
type Plan struct {
	Base        *bundle.Bundle
	Changes     []ir.ProposedChange
	ChangeSetID string
	// Touched lists the entities whose files change, sorted.
	Touched []ir.EntityRef

	writes []fileWrite
}

// Files returns the planned file paths relative to the bundle root, sorted.
func (p *Plan) Files() []string {
	files := make([]string, len(p.writes))
	for i, w := range p.writes {
		files[i] = w.rel
	}
	return files
}

type fileWrite struct {
	ref      ir.EntityRef
	path     string
	rel      string
	content  []byte
	delete   bool
	original []byte
	existed  bool
}

// working is the in-memory copy of one touched entity.
type working struct {
	doc     ir.Document // nil once deleted
	created bool
}

// stage applies changes to copies of the affected entities and encodes the
// resulting files. Nothing is written.
func stage(base *bundle.Bundle, changes []ir.ProposedChange) (*Plan, error) {
	if len(changes) == 0 {
		return nil, ir.Errorf(ir.CodeBadRequest, "change batch is empty")
	}

	touched := make(map[ir.EntityRef]*working)
	current := func(ref ir.EntityRef) (ir.Document, bool) {
		if w, ok := touched[ref]; ok {
			return w.doc, w.doc != nil
		}
		if e, ok := base.Lookup(ref); ok {
			return e.Data, true
		}
		return nil, false
	}

	for i, c := range changes {
		if err := stageChange(base, touched, current, c); err != nil {
			var e *ir.Error
			if errors.As(err, &e) && e.Ref == nil {
				e.WithRef(c.Ref(), c.FieldPath)
			}
			if e != nil {
				e.Message = fmt.Sprintf("change %d: %s", i+1, e.Message)
			}
			return nil, err
		}
	}

	id, err := ir.ChangeSetID(changes)
	if err != nil {
		return nil, ir.WrapError(ir.CodeBadRequest, "change values cannot be hashed", err)
	}
	plan := &Plan{Base: base, Changes: changes, ChangeSetID: id}

	refs := make([]ir.EntityRef, 0, len(touched))
	for ref := range touched {
		refs = append(refs, ref)
	}
	slices.SortFunc(refs, ir.CompareRefs)

	for _, ref := range refs {
		w, err := planWrite(base, ref, touched[ref])
		if err != nil {
			return nil, err
		}
		if w == nil {
			continue
		}
		plan.writes = append(plan.writes, *w)
		plan.Touched = append(plan.Touched, ref)
	}
	if len(plan.writes) == 0 {
		return nil, ir.Errorf(ir.CodeBadRequest, "change batch has no effect")
	}
	slices.SortFunc(plan.writes, func(a, b fileWrite) int { return strings.Compare(a.rel, b.rel) })

	if err := checkDeletes(base, touched); err != nil {
		return nil, err
	}
	return plan, nil
}

func stageChange(base *bundle.Bundle, touched map[ir.EntityRef]*working, current func(ir.EntityRef) (ir.Document, bool), c ir.ProposedChange) error {
	op := c.Operation()
	if !ir.ValidOps[op] {
		return ir.Errorf(ir.CodeBadRequest, "unknown operation %q", c.Op)
	}
	if c.EntityType == "" || c.EntityID == "" {
		return ir.Errorf(ir.CodeBadRequest, "entity type and id are required")
	}
	if !base.HasType(c.EntityType) {
		return ir.Errorf(ir.CodeNotFound, "unknown entity type %q", c.EntityType)
	}

	ref := c.Ref()
	doc, exists := current(ref)

	switch op {
	case ir.OpCreate:
		if exists {
			return ir.Errorf(ir.CodeBadRequest, "entity already exists")
		}
		if _, err := base.EntityPath(c.EntityType, c.EntityID); err != nil {
			return err
		}
		created, err := documentValue(c.NewValue)
		if err != nil {
			return err
		}
		if err := checkID(created, c.EntityID); err != nil {
			return err
		}
		created["id"] = c.EntityID
		w := touched[ref]
		if w == nil {
			w = &working{}
			touched[ref] = w
		}
		w.doc = created
		if _, inBase := base.Lookup(ref); !inBase {
			w.created = true
		}
		return nil

	case ir.OpDelete:
		if !exists {
			return ir.Errorf(ir.CodeNotFound, "entity not found")
		}
		touched[ref] = &working{created: touched[ref] != nil && touched[ref].created}
		return nil
	}

	if !exists {
		return ir.Errorf(ir.CodeNotFound, "entity not found")
	}
	if isIDPath(c.FieldPath) {
		return ir.Errorf(ir.CodeBadRequest, "the id field cannot be changed; delete and create instead")
	}

	w := touched[ref]
	if w == nil {
		w = &working{doc: doc.Clone()}
		touched[ref] = w
	}

	switch op {
	case ir.OpUnset:
		if c.FieldPath == "" {
			return ir.Errorf(ir.CodeBadRequest, "unset requires a field path")
		}
		found, err := w.doc.Unset(c.FieldPath)
		if err != nil {
			return ir.WrapError(ir.CodeBadRequest, "invalid field path", err)
		}
		if !found {
			return ir.Errorf(ir.CodeNotFound, "field not found")
		}
	default:
		if c.FieldPath == "" {
			replaced, err := documentValue(c.NewValue)
			if err != nil {
				return err
			}
			if err := checkID(replaced, c.EntityID); err != nil {
				return err
			}
			replaced["id"] = c.EntityID
			w.doc = replaced
			return nil
		}
		if err := w.doc.Set(c.FieldPath, ir.Normalize(c.NewValue)); err != nil {
			return ir.WrapError(ir.CodeBadRequest, "invalid field path", err)
		}
	}
	return nil
}

// planWrite encodes one touched entity. It returns nil when the file would
// not change.
func planWrite(base *bundle.Bundle, ref ir.EntityRef, w *working) (*fileWrite, error) {
	existing, inBase := base.Lookup(ref)

	if w.doc == nil {
		if !inBase {
			return nil, nil
		}
		original, err := readOriginal(base, existing)
		if err != nil {
			return nil, err
		}
		return &fileWrite{
			ref:      ref,
			path:     existing.FilePath,
			rel:      base.RelPath(existing.FilePath),
			delete:   true,
			original: original,
			existed:  true,
		}, nil
	}

	fw := &fileWrite{ref: ref}
	if inBase {
		if ir.ValuesEqual(map[string]any(w.doc), map[string]any(existing.Data)) {
			return nil, nil
		}
		fw.path = existing.FilePath
		original, err := readOriginal(base, existing)
		if err != nil {
			return nil, err
		}
		fw.original = original
		fw.existed = true
	} else {
		path, err := base.EntityPath(ref.Type, ref.ID)
		if err != nil {
			return nil, err
		}
		if _, err := os.Lstat(path); err == nil {
			return nil, ir.Errorf(ir.CodeBadRequest, "file %s already exists", base.RelPath(path)).WithRef(ref, "")
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, ir.WrapError(ir.CodeInternal, "checking "+base.RelPath(path), err)
		}
		fw.path = path
	}
	fw.rel = base.RelPath(fw.path)

	content, err := bundle.Encode(w.doc, fw.original)
	if err != nil {
		return nil, ir.WrapError(ir.CodeBadRequest, "encoding document", err).WithRef(ref, "")
	}
	fw.content = content
	return fw, nil
}

// readOriginal returns the bytes on disk for an entity of base. The file
// must still decode to the snapshot's data: staging works from the
// snapshot, so writing over a newer file would silently undo that edit.
func readOriginal(base *bundle.Bundle, e *ir.Entity) ([]byte, error) {
	rel := base.RelPath(e.FilePath)
	original, err := os.ReadFile(e.FilePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ir.Errorf(ir.CodeDirtyState, "%s was removed since the bundle was loaded; reload and retry", rel).WithRef(e.Ref(), "")
	}
	if err != nil {
		return nil, ir.WrapError(ir.CodeInternal, "reading "+rel, err)
	}
	onDisk, err := bundle.DecodeDocument(original)
	if err != nil || !ir.ValuesEqual(map[string]any(onDisk), map[string]any(e.Data)) {
		return nil, ir.Errorf(ir.CodeDirtyState, "%s changed since the bundle was loaded; reload and retry", rel).WithRef(e.Ref(), "")
	}
	return original, nil
}

// checkDeletes rejects deleting an entity that a surviving entity still
// references. The staged graph keeps deleted entities as nodes so their
// incoming edges stay visible.
func checkDeletes(base *bundle.Bundle, touched map[ir.EntityRef]*working) error {
	deleted := make(map[ir.EntityRef]bool)
	for ref, w := range touched {
		if w.doc == nil {
			deleted[ref] = true
		}
	}
	if len(deleted) == 0 {
		return nil
	}

	var entities []*ir.Entity
	for _, e := range base.List() {
		if w, ok := touched[e.Ref()]; ok && w.doc != nil {
			entities = append(entities, &ir.Entity{Type: e.Type, ID: e.ID, Data: w.doc, FilePath: e.FilePath})
			continue
		}
		entities = append(entities, e)
	}
	for ref, w := range touched {
		if _, inBase := base.Lookup(ref); !inBase && w.doc != nil {
			entities = append(entities, &ir.Entity{Type: ref.Type, ID: ref.ID, Data: w.doc})
		}
	}
	staged := graph.Build(entities, base.Schemas)

	refs := make([]ir.EntityRef, 0, len(deleted))
	for ref := range deleted {
		refs = append(refs, ref)
	}
	slices.SortFunc(refs, ir.CompareRefs)

	for _, ref := range refs {
		var dependents []string
		for _, edge := range staged.Incoming(ref) {
			if !deleted[edge.From()] {
				dependents = append(dependents, fmt.Sprintf("%s.%s", edge.From(), edge.FromField))
			}
		}
		if len(dependents) > 0 {
			slices.Sort(dependents)
			dependents = slices.Compact(dependents)
			return ir.Errorf(ir.CodeDeleteBlocked, "still referenced by %s", strings.Join(dependents, ", ")).WithRef(ref, "")
		}
	}
	return nil
}

func documentValue(v any) (ir.Document, error) {
	if v == nil {
		return ir.Document{}, nil
	}
	m, ok := ir.Normalize(v).(map[string]any)
	if !ok {
		return nil, ir.Errorf(ir.CodeBadRequest, "new value must be a mapping, got %T", v)
	}
	return ir.Document(m).Clone(), nil
}

func checkID(doc ir.Document, id string) error {
	if v, ok := doc["id"]; ok && v != id {
		return ir.Errorf(ir.CodeBadRequest, "document id %v does not match entity id %q", v, id)
	}
	return nil
}

func isIDPath(path string) bool {
	return path == "id" || strings.HasPrefix(path, "id.") || strings.HasPrefix(path, "id[")
}
