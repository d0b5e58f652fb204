package schema

import (
	"fmt"
	"sort"

	"cuelang.org/go/cue"

	"github.com/roach88/sdd/internal/ir"
)

// referenceFields walks the properties of a raw JSON Schema document and
// collects fields marked as references. Nested object properties are
// addressed with dotted paths; properties of array items with "[]", as in
// "dependsOn[].feature".
func referenceFields(schema cue.Value, prefix string) ([]ir.ReferenceField, error) {
	props := schema.LookupPath(cue.MakePath(cue.Str("properties")))
	if !props.Exists() {
		return nil, nil
	}
	iter, err := props.Fields()
	if err != nil {
		return nil, fmt.Errorf("properties: %w", err)
	}

	var fields []ir.ReferenceField
	for iter.Next() {
		name := iter.Selector().Unquoted()
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		prop := iter.Value()

		if ok, targets, err := refMarker(prop); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		} else if ok {
			fields = append(fields, ir.ReferenceField{Field: path, AllowedTargets: targets})
			continue
		}

		if items := prop.LookupPath(cue.MakePath(cue.Str("items"))); items.Exists() {
			ok, targets, err := refMarker(items)
			if err != nil {
				return nil, fmt.Errorf("%s.items: %w", path, err)
			}
			if ok {
				fields = append(fields, ir.ReferenceField{Field: path, AllowedTargets: targets, Many: true})
				continue
			}
			// Array of objects: references inside each item.
			nested, err := referenceFields(items, path+"[]")
			if err != nil {
				return nil, err
			}
			fields = append(fields, nested...)
			continue
		}

		nested, err := referenceFields(prop, path)
		if err != nil {
			return nil, err
		}
		fields = append(fields, nested...)
	}

	sort.Slice(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
	return fields, nil
}

// refMarker reports whether a property schema is marked as a reference and
// which targets it allows.
func refMarker(prop cue.Value) (bool, []string, error) {
	marked := false
	if f := prop.LookupPath(cue.MakePath(cue.Str("format"))); f.Exists() {
		if s, err := f.String(); err == nil && s == RefFormat {
			marked = true
		}
	}

	var targets []string
	if t := prop.LookupPath(cue.MakePath(cue.Str(RefTargetsKey))); t.Exists() {
		marked = true
		if err := t.Decode(&targets); err != nil {
			return false, nil, fmt.Errorf("%s must be a list of type names: %w", RefTargetsKey, err)
		}
		sort.Strings(targets)
	}
	return marked, targets, nil
}
