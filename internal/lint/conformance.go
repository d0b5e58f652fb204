package lint

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/sdd/internal/bundle"
	"github.com/roach88/sdd/internal/ir"
	"github.com/roach88/sdd/internal/schema"
)

// Report is the audit view of one conformance profile.
type Report struct {
	Profile     string          `json:"profile"`
	Title       string          `json:"title,omitempty"`
	Passed      bool            `json:"passed"`
	Rules       []RuleResult    `json:"rules"`
	Diagnostics []ir.Diagnostic `json:"diagnostics,omitempty"`
}

// RuleResult is the outcome of one conformance rule, expanded with the
// requirement it enforces.
type RuleResult struct {
	ID               string         `json:"id"`
	Requirement      ir.EntityRef   `json:"requirement"`
	RequirementTitle string         `json:"requirement_title,omitempty"`
	RequirementFound bool           `json:"requirement_found"`
	EntityType       string         `json:"entity_type"`
	Checked          int            `json:"checked"`
	Failed           []ir.EntityRef `json:"failed,omitempty"`
	Passed           bool           `json:"passed"`
}

// Conformance evaluates the profile with id against b.
// An unknown profile is NOT_FOUND.
func (e *Engine) Conformance(b *bundle.Bundle, profileID string) (*Report, error) {
	profile, ok := b.Manifest.Lint.Profile(profileID)
	if !ok {
		return nil, ir.Errorf(ir.CodeNotFound, "conformance profile %q not found", profileID)
	}

	ctx := cuecontext.New()
	report := &Report{Profile: profile.ID, Title: profile.Title, Passed: true}
	for _, spec := range profile.Rules {
		result, diags := evaluateConformanceRule(ctx, b, spec)
		report.Rules = append(report.Rules, result)
		report.Diagnostics = append(report.Diagnostics, diags...)
		if !result.Passed {
			report.Passed = false
		}
	}
	return report, nil
}

func evaluateConformanceRule(ctx *cue.Context, b *bundle.Bundle, spec bundle.ConformanceRuleSpec) (RuleResult, []ir.Diagnostic) {
	severity := severityOr(spec.Severity)
	reqRef := ir.EntityRef{Type: spec.RequirementType, ID: spec.Requirement}
	result := RuleResult{
		ID:          spec.ID,
		Requirement: reqRef,
		EntityType:  spec.EntityType,
		Passed:      true,
	}

	var diags []ir.Diagnostic
	reqLabel := reqRef.String()
	if req, ok := b.Lookup(reqRef); ok {
		result.RequirementFound = true
		if title, ok := req.Data["title"].(string); ok {
			result.RequirementTitle = title
			reqLabel = fmt.Sprintf("%s (%s)", reqRef, title)
		}
	} else {
		result.Passed = false
		diags = append(diags, ir.Diagnostic{
			Severity:   severity,
			Code:       ir.CodeConformanceRequirement,
			Message:    fmt.Sprintf("rule %s: linked requirement %s not found", spec.ID, reqRef),
			EntityType: reqRef.Type,
			EntityID:   reqRef.ID,
		})
	}

	constraint := ctx.CompileString(spec.Constraint, cue.Filename(spec.ID))
	if err := constraint.Err(); err != nil {
		result.Passed = false
		diags = append(diags, ir.Diagnostic{
			Severity: ir.SeverityError,
			Code:     ir.CodeInvalidRule,
			Message:  fmt.Sprintf("rule %s: constraint: %v", spec.ID, err),
		})
		return result, diags
	}

	for _, ent := range b.List() {
		if ent.Type != spec.EntityType {
			continue
		}
		result.Checked++
		err := checkConstraint(ctx, constraint, ent.Data)
		if err == nil {
			continue
		}
		result.Passed = false
		result.Failed = append(result.Failed, ent.Ref())
		for _, d := range schema.Diagnostics(err, severity, ir.CodeConformanceViolation, ent.Ref()) {
			d.Message = fmt.Sprintf("rule %s violates %s: %s", spec.ID, reqLabel, d.Message)
			diags = append(diags, d)
		}
	}
	return result, diags
}
