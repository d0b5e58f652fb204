package lint

import (
	"fmt"
	"regexp"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/sdd/internal/bundle"
	"github.com/roach88/sdd/internal/ir"
	"github.com/roach88/sdd/internal/schema"
)

// Built-in rule kinds configurable from the manifest.
const (
	KindRequiredField = "required-field"
	KindIDPattern     = "id-pattern"
	KindNoOrphans     = "no-orphans"
	KindNoCycles      = "no-cycles"
	KindCUE           = "cue"
)

// FromSpec builds the rule a manifest entry describes. A spec that cannot
// be compiled yields a rule reporting why.
func FromSpec(ctx *cue.Context, spec bundle.RuleSpec) Rule {
	base := ruleBase{spec: spec, severity: severityOr(spec.Severity)}
	switch spec.Kind {
	case KindRequiredField:
		return &requiredFieldRule{base}
	case KindIDPattern:
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return &invalidRule{base, fmt.Errorf("pattern: %w", err)}
		}
		return &idPatternRule{base, re}
	case KindNoOrphans:
		return &noOrphansRule{base}
	case KindNoCycles:
		return &noCyclesRule{base}
	case KindCUE:
		v := ctx.CompileString(spec.Constraint, cue.Filename(spec.Name))
		if err := v.Err(); err != nil {
			return &invalidRule{base, fmt.Errorf("constraint: %w", err)}
		}
		return &cueRule{base, ctx, v}
	default:
		return &invalidRule{base, fmt.Errorf("unknown kind %q", spec.Kind)}
	}
}

func severityOr(s string) ir.Severity {
	if s == "" {
		return bundle.DefaultRuleSeverity
	}
	return ir.Severity(s)
}

type ruleBase struct {
	spec     bundle.RuleSpec
	severity ir.Severity
}

func (r ruleBase) Name() string { return r.spec.Name }

// entities returns the entities the rule applies to.
func (r ruleBase) entities(b *bundle.Bundle) []*ir.Entity {
	all := b.List()
	if r.spec.EntityType == "" {
		return all
	}
	var out []*ir.Entity
	for _, e := range all {
		if e.Type == r.spec.EntityType {
			out = append(out, e)
		}
	}
	return out
}

func (r ruleBase) diag(code string, e *ir.Entity, field, msg string) ir.Diagnostic {
	if r.spec.Message != "" {
		msg = r.spec.Message
	}
	d := ir.Diagnostic{
		Severity: r.severity,
		Code:     code,
		Message:  fmt.Sprintf("%s: %s", r.spec.Name, msg),
		Field:    field,
	}
	if e != nil {
		d.EntityType, d.EntityID = e.Type, e.ID
	}
	return d
}

type invalidRule struct {
	ruleBase
	err error
}

func (r *invalidRule) Evaluate(*bundle.Bundle) []ir.Diagnostic {
	return []ir.Diagnostic{{
		Severity: ir.SeverityError,
		Code:     ir.CodeInvalidRule,
		Message:  fmt.Sprintf("rule %s: %v", r.spec.Name, r.err),
	}}
}

type requiredFieldRule struct{ ruleBase }

func (r *requiredFieldRule) Evaluate(b *bundle.Bundle) []ir.Diagnostic {
	var diags []ir.Diagnostic
	for _, e := range r.entities(b) {
		v, ok := e.Data.Get(r.spec.Field)
		if ok && !isEmpty(v) {
			continue
		}
		diags = append(diags, r.diag(ir.CodeRequiredField, e, r.spec.Field,
			fmt.Sprintf("%s is required", r.spec.Field)))
	}
	return diags
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

type idPatternRule struct {
	ruleBase
	re *regexp.Regexp
}

func (r *idPatternRule) Evaluate(b *bundle.Bundle) []ir.Diagnostic {
	var diags []ir.Diagnostic
	for _, e := range r.entities(b) {
		if !r.re.MatchString(e.ID) {
			diags = append(diags, r.diag(ir.CodeIDPattern, e, "id",
				fmt.Sprintf("id %q does not match %s", e.ID, r.re)))
		}
	}
	return diags
}

// noOrphansRule reports entities that neither reference nor are referenced.
type noOrphansRule struct{ ruleBase }

func (r *noOrphansRule) Evaluate(b *bundle.Bundle) []ir.Diagnostic {
	var diags []ir.Diagnostic
	for _, e := range r.entities(b) {
		ref := e.Ref()
		if len(b.Graph.Outgoing(ref)) == 0 && len(b.Graph.Incoming(ref)) == 0 {
			diags = append(diags, r.diag(ir.CodeOrphan, e, "", "entity is not connected to any other entity"))
		}
	}
	return diags
}

type noCyclesRule struct{ ruleBase }

func (r *noCyclesRule) Evaluate(b *bundle.Bundle) []ir.Diagnostic {
	var diags []ir.Diagnostic
	for _, c := range b.Graph.Cycles() {
		if r.spec.EntityType != "" && !cycleHasType(c.Members, r.spec.EntityType) {
			continue
		}
		steps := make([]string, len(c.Path))
		for i, ref := range c.Path {
			steps[i] = ref.String()
		}
		first, _ := b.Lookup(c.Members[0])
		diags = append(diags, r.diag(ir.CodeRefCycle, first, "",
			fmt.Sprintf("reference cycle: %s", strings.Join(steps, " -> "))))
	}
	return diags
}

func cycleHasType(members []ir.EntityRef, entityType string) bool {
	for _, m := range members {
		if m.Type == entityType {
			return true
		}
	}
	return false
}

// cueRule unifies each entity's data with a CUE constraint.
type cueRule struct {
	ruleBase
	ctx        *cue.Context
	constraint cue.Value
}

func (r *cueRule) Evaluate(b *bundle.Bundle) []ir.Diagnostic {
	var diags []ir.Diagnostic
	for _, e := range r.entities(b) {
		err := checkConstraint(r.ctx, r.constraint, e.Data)
		if err == nil {
			continue
		}
		found := schema.Diagnostics(err, r.severity, ir.CodeConstraint, e.Ref())
		if r.spec.Message != "" {
			found = found[:1]
		}
		for _, d := range found {
			diags = append(diags, r.diag(ir.CodeConstraint, e, d.Field, d.Message))
		}
	}
	return diags
}

// checkConstraint reports whether data satisfies constraint. Fields the
// constraint names but data lacks make the result incomplete, which counts
// as a violation.
func checkConstraint(ctx *cue.Context, constraint cue.Value, data ir.Document) error {
	v := constraint.Unify(ctx.Encode(map[string]any(data)))
	return v.Validate(cue.Concrete(true))
}
