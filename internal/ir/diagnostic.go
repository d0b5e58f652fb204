package ir

import (
	"fmt"
	"slices"
	"strings"
)

// Severity classifies a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ValidSeverities lists accepted severities.
var ValidSeverities = map[Severity]bool{
	SeverityError:   true,
	SeverityWarning: true,
	SeverityInfo:    true,
}

// severityRank orders error before warning before info.
func severityRank(s Severity) int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// Diagnostic codes produced by the engine.
const (
	// Entity store (load)
	CodeParseError      = "parse-error"  // entity file is not valid YAML
	CodeMissingID       = "missing-id"   // entity document has no id
	CodeDuplicateID     = "duplicate-id" // two files declare the same (type, id)
	CodeWorkingTree     = "working-tree-dirty"
	CodeSchemaViolation = "schema-violation"
	CodeDomainNotes     = "domain-notes-unreadable"

	// Reference graph
	CodeRefNotFound     = "ref-not-found"
	CodeRefTypeMismatch = "ref-type-mismatch"
	CodeRefAmbiguous    = "ref-ambiguous"
	CodeRefInvalid      = "ref-invalid"

	// Lint rules
	CodeRequiredField = "required-field"
	CodeIDPattern     = "id-pattern"
	CodeOrphan        = "orphan-entity"
	CodeRefCycle      = "ref-cycle"
	CodeConstraint    = "constraint-violation"
	CodeInvalidRule   = "invalid-rule" // rule configuration cannot be compiled

	// Conformance
	CodeConformanceViolation   = "conformance-violation"
	CodeConformanceRequirement = "conformance-requirement-missing"
)

// referenceCodes are the diagnostic codes that classify as REFERENCE_ERROR.
var referenceCodes = map[string]bool{
	CodeRefNotFound:     true,
	CodeRefTypeMismatch: true,
	CodeRefInvalid:      true,
}

// IsReferenceCode reports whether code is a reference-integrity code.
func IsReferenceCode(code string) bool {
	return referenceCodes[code]
}

// Diagnostic is a structured validation or lint finding.
// Diagnostics are recomputed on every pass and never persisted as bundle state.
type Diagnostic struct {
	Severity   Severity `json:"severity"`
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	EntityType string   `json:"entity_type,omitempty"`
	EntityID   string   `json:"entity_id,omitempty"`
	Field      string   `json:"field,omitempty"`
}

// Error implements the error interface so a diagnostic can be returned directly.
func (d Diagnostic) Error() string {
	return d.String()
}

// String renders "[severity code] Type:id field: message".
func (d Diagnostic) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s %s]", d.Severity, d.Code)
	if d.EntityType != "" || d.EntityID != "" {
		fmt.Fprintf(&b, " %s:%s", d.EntityType, d.EntityID)
	}
	if d.Field != "" {
		fmt.Fprintf(&b, " %s", d.Field)
	}
	fmt.Fprintf(&b, ": %s", d.Message)
	return b.String()
}

// Key identifies a diagnostic for baseline comparison.
func (d Diagnostic) Key() string {
	return strings.Join([]string{string(d.Severity), d.Code, d.EntityType, d.EntityID, d.Field, d.Message}, "\x00")
}

// CompareDiagnostics orders diagnostics by entity, field, severity, code, message.
func CompareDiagnostics(a, b Diagnostic) int {
	if c := strings.Compare(a.EntityType, b.EntityType); c != 0 {
		return c
	}
	if c := strings.Compare(a.EntityID, b.EntityID); c != 0 {
		return c
	}
	if c := strings.Compare(a.Field, b.Field); c != 0 {
		return c
	}
	if c := severityRank(a.Severity) - severityRank(b.Severity); c != 0 {
		return c
	}
	if c := strings.Compare(a.Code, b.Code); c != 0 {
		return c
	}
	return strings.Compare(a.Message, b.Message)
}

// SortDiagnostics sorts in place, stable.
func SortDiagnostics(diags []Diagnostic) {
	slices.SortStableFunc(diags, CompareDiagnostics)
}

// HasErrors reports whether any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	var out []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// CountBySeverity tallies diagnostics per severity.
func CountBySeverity(diags []Diagnostic) map[Severity]int {
	counts := make(map[Severity]int, 3)
	for _, d := range diags {
		counts[d.Severity]++
	}
	return counts
}

// NewErrors returns error diagnostics in after that are not present in before.
// Duplicates are matched as a multiset.
func NewErrors(before, after []Diagnostic) []Diagnostic {
	seen := make(map[string]int)
	for _, d := range before {
		if d.Severity == SeverityError {
			seen[d.Key()]++
		}
	}
	var out []Diagnostic
	for _, d := range after {
		if d.Severity != SeverityError {
			continue
		}
		if seen[d.Key()] > 0 {
			seen[d.Key()]--
			continue
		}
		out = append(out, d)
	}
	return out
}
