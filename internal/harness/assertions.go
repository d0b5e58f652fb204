package harness

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/sdd/internal/bundle"
	"github.com/roach88/sdd/internal/ir"
)

// Assertion checks the state left behind by a scenario.
type Assertion struct {
	// Type selects the check:
	//   - "clean_tree": the working tree has no changes
	//   - "commit_count": exactly Count commits were made
	//   - "field_equals": Entity's Field equals Value on disk
	//   - "entity_absent": Entity does not exist on disk
	//   - "transition_path": the journaled statuses match Statuses
	//   - "apply_outcomes": the journaled apply outcomes match Outcomes
	Type string `yaml:"type"`

	// Entity is a "Type:id" reference (field_equals, entity_absent).
	Entity string `yaml:"entity,omitempty"`

	// Field is a field path (field_equals).
	Field string `yaml:"field,omitempty"`

	// Value is the expected field value (field_equals).
	Value any `yaml:"value,omitempty"`

	// Count is the expected number of commits (commit_count).
	Count int `yaml:"count,omitempty"`

	// Statuses starts with the first transition's source status and
	// follows every target status (transition_path).
	Statuses []string `yaml:"statuses,omitempty"`

	// Outcomes lists apply outcomes in journal order (apply_outcomes).
	Outcomes []string `yaml:"outcomes,omitempty"`
}

// Assertion type constants.
const (
	AssertCleanTree      = "clean_tree"
	AssertCommitCount    = "commit_count"
	AssertFieldEquals    = "field_equals"
	AssertEntityAbsent   = "entity_absent"
	AssertTransitionPath = "transition_path"
	AssertApplyOutcomes  = "apply_outcomes"
)

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	switch a.Type {
	case AssertCleanTree:
	case AssertCommitCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for commit_count", index)
		}
	case AssertFieldEquals:
		if _, err := ir.ParseEntityRef(a.Entity); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Field == "" {
			return fmt.Errorf("assertions[%d]: field is required for field_equals", index)
		}
	case AssertEntityAbsent:
		if _, err := ir.ParseEntityRef(a.Entity); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertTransitionPath:
		if len(a.Statuses) < 2 {
			return fmt.Errorf("assertions[%d]: transition_path needs at least two statuses", index)
		}
	case AssertApplyOutcomes:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// check evaluates one assertion. The repository is still on disk.
func (h *Harness) check(ctx context.Context, result *Result, a *Assertion) error {
	switch a.Type {
	case AssertCleanTree:
		if !result.Clean {
			return fmt.Errorf("working tree is dirty")
		}
	case AssertCommitCount:
		if result.Commits != a.Count {
			return fmt.Errorf("%d commits, want %d", result.Commits, a.Count)
		}
	case AssertFieldEquals, AssertEntityAbsent:
		return h.checkEntity(ctx, a)
	case AssertTransitionPath:
		var got []string
		for i, tr := range result.Transitions {
			if i == 0 {
				got = append(got, tr.From)
			}
			got = append(got, tr.To)
		}
		if !slices.Equal(got, a.Statuses) {
			return fmt.Errorf("path %v, want %v", got, a.Statuses)
		}
	case AssertApplyOutcomes:
		got := make([]string, len(result.ApplyRecords))
		for i, rec := range result.ApplyRecords {
			got[i] = rec.Outcome
		}
		if !slices.Equal(got, a.Outcomes) {
			return fmt.Errorf("outcomes %v, want %v", got, a.Outcomes)
		}
	}
	return nil
}

func (h *Harness) checkEntity(ctx context.Context, a *Assertion) error {
	ref, err := ir.ParseEntityRef(a.Entity)
	if err != nil {
		return err
	}
	b, err := bundle.Load(ctx, h.root)
	if err != nil {
		return fmt.Errorf("failed to load bundle: %w", err)
	}
	e, ok := b.Lookup(ref)
	if a.Type == AssertEntityAbsent {
		if ok {
			return fmt.Errorf("%s exists", ref)
		}
		return nil
	}
	if !ok {
		return fmt.Errorf("%s not found", ref)
	}
	got, ok := e.Data.Get(a.Field)
	if !ok {
		return fmt.Errorf("%s.%s is not set", ref, a.Field)
	}
	if !ir.ValuesEqual(got, a.Value) {
		return fmt.Errorf("%s.%s = %v, want %v", ref, a.Field, got, a.Value)
	}
	return nil
}
