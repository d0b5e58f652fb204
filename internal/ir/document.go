package ir

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Document is the opaque structured content of an entity.
//
// Values are restricted to what YAML/JSON decoding produces after Normalize:
// nil, bool, int, int64, float64, string, []any and map[string]any.
type Document map[string]any

// PathSegment is one step of a field path: either a map key or a list index.
type PathSegment struct {
	Key     string
	Index   int
	IsIndex bool
}

// ParseFieldPath parses "a.b[2].c" into segments.
func ParseFieldPath(path string) ([]PathSegment, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty field path")
	}
	var segs []PathSegment
	for _, part := range strings.Split(path, ".") {
		key := part
		var indexes []int
		if i := strings.IndexByte(part, '['); i >= 0 {
			key = part[:i]
			rest := part[i:]
			for rest != "" {
				if rest[0] != '[' {
					return nil, fmt.Errorf("invalid field path %q", path)
				}
				end := strings.IndexByte(rest, ']')
				if end < 0 {
					return nil, fmt.Errorf("invalid field path %q: unclosed index", path)
				}
				n, err := strconv.Atoi(rest[1:end])
				if err != nil || n < 0 {
					return nil, fmt.Errorf("invalid field path %q: bad index %q", path, rest[1:end])
				}
				indexes = append(indexes, n)
				rest = rest[end+1:]
			}
		}
		if key == "" {
			return nil, fmt.Errorf("invalid field path %q: empty segment", path)
		}
		segs = append(segs, PathSegment{Key: key})
		for _, n := range indexes {
			segs = append(segs, PathSegment{Index: n, IsIndex: true})
		}
	}
	return segs, nil
}

// Get returns the value at path.
func (d Document) Get(path string) (any, bool) {
	segs, err := ParseFieldPath(path)
	if err != nil {
		return nil, false
	}
	var cur any = map[string]any(d)
	for _, seg := range segs {
		switch c := cur.(type) {
		case map[string]any:
			if seg.IsIndex {
				return nil, false
			}
			v, ok := c[seg.Key]
			if !ok {
				return nil, false
			}
			cur = v
		case Document:
			if seg.IsIndex {
				return nil, false
			}
			v, ok := c[seg.Key]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			if !seg.IsIndex || seg.Index >= len(c) {
				return nil, false
			}
			cur = c[seg.Index]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set assigns value at path, creating intermediate objects as needed.
// An index equal to the list length appends.
func (d Document) Set(path string, value any) error {
	segs, err := ParseFieldPath(path)
	if err != nil {
		return err
	}
	_, err = setAt(map[string]any(d), segs, value, path)
	return err
}

func setAt(container any, segs []PathSegment, value any, path string) (any, error) {
	seg := segs[0]
	last := len(segs) == 1

	if seg.IsIndex {
		list, ok := container.([]any)
		if !ok {
			if container != nil || seg.Index != 0 {
				return nil, fmt.Errorf("field path %q: index %d applied to non-list", path, seg.Index)
			}
			list = []any{}
		}
		if seg.Index > len(list) {
			return nil, fmt.Errorf("field path %q: index %d out of range (len %d)", path, seg.Index, len(list))
		}
		if last {
			if seg.Index == len(list) {
				return append(list, value), nil
			}
			list[seg.Index] = value
			return list, nil
		}
		var child any
		if seg.Index < len(list) {
			child = list[seg.Index]
		}
		updated, err := setAt(child, segs[1:], value, path)
		if err != nil {
			return nil, err
		}
		if seg.Index == len(list) {
			return append(list, updated), nil
		}
		list[seg.Index] = updated
		return list, nil
	}

	var obj map[string]any
	switch c := container.(type) {
	case map[string]any:
		obj = c
	case Document:
		obj = c
	case nil:
		obj = map[string]any{}
	default:
		return nil, fmt.Errorf("field path %q: key %q applied to non-object", path, seg.Key)
	}
	if last {
		obj[seg.Key] = value
		return obj, nil
	}
	updated, err := setAt(obj[seg.Key], segs[1:], value, path)
	if err != nil {
		return nil, err
	}
	obj[seg.Key] = updated
	return obj, nil
}

// Unset removes the value at path. It reports whether anything was removed.
func (d Document) Unset(path string) (bool, error) {
	segs, err := ParseFieldPath(path)
	if err != nil {
		return false, err
	}
	parentPath := segs[:len(segs)-1]
	leaf := segs[len(segs)-1]

	var parent any = map[string]any(d)
	var grand any
	var grandSeg PathSegment
	for _, seg := range parentPath {
		grand = parent
		grandSeg = seg
		switch c := parent.(type) {
		case map[string]any:
			v, ok := c[seg.Key]
			if seg.IsIndex || !ok {
				return false, nil
			}
			parent = v
		case []any:
			if !seg.IsIndex || seg.Index >= len(c) {
				return false, nil
			}
			parent = c[seg.Index]
		default:
			return false, nil
		}
	}

	switch c := parent.(type) {
	case map[string]any:
		if leaf.IsIndex {
			return false, nil
		}
		if _, ok := c[leaf.Key]; !ok {
			return false, nil
		}
		delete(c, leaf.Key)
		return true, nil
	case []any:
		if !leaf.IsIndex || leaf.Index >= len(c) {
			return false, nil
		}
		shrunk := append(c[:leaf.Index:leaf.Index], c[leaf.Index+1:]...)
		// the shortened list has to be written back into its container
		switch g := grand.(type) {
		case map[string]any:
			g[grandSeg.Key] = shrunk
		case []any:
			g[grandSeg.Index] = shrunk
		}
		return true, nil
	}
	return false, nil
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]any(d)).(map[string]any)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = cloneValue(e)
		}
		return out
	case Document:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Normalize converts decoder output into the value shapes Document allows:
// map keys become strings, timestamps become RFC 3339 text, sized integers
// become int, float32 becomes float64, and typed slices and maps become
// []any and map[string]any.
func Normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = Normalize(e)
		}
		return out
	case Document:
		return Normalize(map[string]any(val))
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[fmt.Sprint(k)] = Normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = Normalize(e)
		}
		return out
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format(time.DateOnly)
		}
		return val.Format(time.RFC3339)
	case int8:
		return int(val)
	case int16:
		return int(val)
	case int32:
		return int(val)
	case uint:
		return int(val)
	case uint8:
		return int(val)
	case uint16:
		return int(val)
	case uint32:
		return int(val)
	case uint64:
		return int(val)
	case float32:
		return float64(val)
	default:
		return normalizeReflect(v)
	}
}

// normalizeReflect handles typed containers such as []string or
// map[string]int, which callers building documents in Go pass in.
func normalizeReflect(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = Normalize(iter.Value().Interface())
		}
		return out
	default:
		return v
	}
}

// ValuesEqual compares two normalized values structurally.
func ValuesEqual(a, b any) bool {
	return reflect.DeepEqual(Normalize(a), Normalize(b))
}
