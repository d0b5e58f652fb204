package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/sdd/internal/ir"
)

// marshalContext converts a session context to canonical JSON TEXT.
func marshalContext(ctx map[string]any) (string, error) {
	if len(ctx) == 0 {
		return "{}", nil
	}
	data, err := ir.MarshalCanonical(ir.Normalize(ctx))
	if err != nil {
		return "", fmt.Errorf("marshal context: %w", err)
	}
	return string(data), nil
}

// marshalJSON encodes structs with HTML escaping disabled. Struct field
// order is fixed, so the output is deterministic.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

func marshalTouched(refs []ir.EntityRef) (string, error) {
	if len(refs) == 0 {
		return "[]", nil
	}
	s, err := marshalJSON(refs)
	if err != nil {
		return "", fmt.Errorf("marshal touched: %w", err)
	}
	return s, nil
}

func marshalDiagnostics(diags []ir.Diagnostic) (string, error) {
	if len(diags) == 0 {
		return "[]", nil
	}
	s, err := marshalJSON(diags)
	if err != nil {
		return "", fmt.Errorf("marshal diagnostics: %w", err)
	}
	return s, nil
}

func unmarshalContext(data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	return m, nil
}

func unmarshalTouched(data string) ([]ir.EntityRef, error) {
	refs := []ir.EntityRef{}
	if data == "" || data == "[]" {
		return refs, nil
	}
	if err := json.Unmarshal([]byte(data), &refs); err != nil {
		return nil, fmt.Errorf("unmarshal touched: %w", err)
	}
	return refs, nil
}

func unmarshalDiagnostics(data string) ([]ir.Diagnostic, error) {
	diags := []ir.Diagnostic{}
	if data == "" || data == "[]" {
		return diags, nil
	}
	if err := json.Unmarshal([]byte(data), &diags); err != nil {
		return nil, fmt.Errorf("unmarshal diagnostics: %w", err)
	}
	return diags, nil
}
