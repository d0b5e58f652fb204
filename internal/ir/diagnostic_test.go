package ir

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortDiagnostics(t *testing.T) {
	diags := []Diagnostic{
		{Severity: SeverityWarning, Code: CodeOrphan, EntityType: "Requirement", EntityID: "REQ-002"},
		{Severity: SeverityError, Code: CodeRefNotFound, EntityType: "Feature", EntityID: "auth-login", Field: "requirements"},
		{Severity: SeverityInfo, Code: "note", EntityType: "Feature", EntityID: "auth-login", Field: "requirements"},
		{Severity: SeverityError, Code: CodeParseError},
	}

	SortDiagnostics(diags)

	assert.Equal(t, CodeParseError, diags[0].Code, "bundle-level diagnostics first")
	assert.Equal(t, CodeRefNotFound, diags[1].Code, "errors before info on the same field")
	assert.Equal(t, "note", diags[2].Code)
	assert.Equal(t, CodeOrphan, diags[3].Code)
}

func TestDiagnosticString(t *testing.T) {
	d := Diagnostic{
		Severity:   SeverityError,
		Code:       CodeRefTypeMismatch,
		Message:    "ADR:ADR-001 is not an allowed target",
		EntityType: "Feature",
		EntityID:   "auth-login",
		Field:      "requirements[0]",
	}
	assert.Equal(t, "[error ref-type-mismatch] Feature:auth-login requirements[0]: ADR:ADR-001 is not an allowed target", d.String())
	assert.Equal(t, d.String(), d.Error())
}

func TestCountAndFilter(t *testing.T) {
	diags := []Diagnostic{
		{Severity: SeverityError, Code: "a"},
		{Severity: SeverityWarning, Code: "b"},
		{Severity: SeverityError, Code: "c"},
	}
	assert.True(t, HasErrors(diags))
	assert.False(t, HasErrors(diags[1:2]))
	assert.Len(t, Errors(diags), 2)
	assert.Equal(t, map[Severity]int{SeverityError: 2, SeverityWarning: 1}, CountBySeverity(diags))
}

func TestNewErrors(t *testing.T) {
	dup := Diagnostic{Severity: SeverityError, Code: CodeRefNotFound, EntityType: "Feature", EntityID: "x"}
	before := []Diagnostic{dup}
	after := []Diagnostic{
		dup,
		dup,
		{Severity: SeverityWarning, Code: CodeOrphan},
		{Severity: SeverityError, Code: CodeSchemaViolation, EntityType: "Feature", EntityID: "y"},
	}

	fresh := NewErrors(before, after)
	require.Len(t, fresh, 2)
	assert.Equal(t, dup, fresh[0], "second occurrence of a known error counts as new")
	assert.Equal(t, CodeSchemaViolation, fresh[1].Code)
}

func TestIsReferenceCode(t *testing.T) {
	assert.True(t, IsReferenceCode(CodeRefNotFound))
	assert.True(t, IsReferenceCode(CodeRefTypeMismatch))
	assert.False(t, IsReferenceCode(CodeRefAmbiguous))
	assert.False(t, IsReferenceCode(CodeSchemaViolation))
}

func TestErrorCodes(t *testing.T) {
	base := Errorf(CodeNotFound, "entity %s not found", "Feature:x").WithRef(EntityRef{Type: "Feature", ID: "x"}, "title")
	wrapped := fmt.Errorf("apply: %w", base)

	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, CodeNotFound))
	assert.True(t, Recoverable(wrapped))
	assert.Equal(t, "NOT_FOUND: entity Feature:x not found (Feature:x title)", base.Error())

	assert.Equal(t, CodeInternal, CodeOf(errors.New("disk on fire")))
	assert.False(t, Recoverable(errors.New("disk on fire")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))

	cause := errors.New("exit status 128")
	internal := WrapError(CodeInternal, "git commit failed", cause)
	assert.ErrorIs(t, internal, cause)
	assert.Equal(t, "INTERNAL: git commit failed: exit status 128", internal.Error())
}

func TestParseEntityRef(t *testing.T) {
	ref, err := ParseEntityRef("Feature:auth-login")
	require.NoError(t, err)
	assert.Equal(t, EntityRef{Type: "Feature", ID: "auth-login"}, ref)
	assert.Equal(t, "Feature:auth-login", ref.String())

	for _, bad := range []string{"", "Feature", ":x", "Feature:"} {
		_, err := ParseEntityRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestReferenceFieldAllows(t *testing.T) {
	open := ReferenceField{Field: "refs"}
	assert.True(t, open.Allows("ADR"))

	req := ReferenceField{Field: "requirements", AllowedTargets: []string{"Requirement"}}
	assert.True(t, req.Allows("Requirement"))
	assert.False(t, req.Allows("ADR"))
}

func TestProposedChangeDescribe(t *testing.T) {
	assert.Equal(t, "set Feature:a.title", ProposedChange{EntityType: "Feature", EntityID: "a", FieldPath: "title"}.Describe())
	assert.Equal(t, "replace Feature:a", ProposedChange{EntityType: "Feature", EntityID: "a"}.Describe())
	assert.Equal(t, "create ADR:ADR-002", ProposedChange{Op: OpCreate, EntityType: "ADR", EntityID: "ADR-002"}.Describe())
	assert.Equal(t, "delete ADR:ADR-002", ProposedChange{Op: OpDelete, EntityType: "ADR", EntityID: "ADR-002"}.Describe())
	assert.Equal(t, "unset Feature:a.draft", ProposedChange{Op: OpUnset, EntityType: "Feature", EntityID: "a", FieldPath: "draft"}.Describe())
}
