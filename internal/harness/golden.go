package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/sdd/internal/ir"
)

// Snapshot renders the deterministic part of a result for golden
// comparison: step outcomes, the transition journal and the repository
// summary. Commit hashes and messages are left out.
func Snapshot(name string, r *Result) ([]byte, error) {
	steps := make([]any, len(r.Steps))
	for i, s := range r.Steps {
		m := map[string]any{
			"op":     s.Op,
			"status": s.Status,
		}
		if s.Op == OpAccept {
			m["committed"] = s.Committed
		}
		if s.ErrorCode != "" {
			m["error_code"] = s.ErrorCode
		}
		if len(s.Codes) > 0 {
			m["codes"] = s.Codes
		}
		if len(s.Touched) > 0 {
			m["touched"] = s.Touched
		}
		steps[i] = m
	}

	transitions := make([]any, len(r.Transitions))
	for i, tr := range r.Transitions {
		m := map[string]any{
			"seq":   tr.Seq,
			"event": tr.Event,
			"from":  tr.From,
			"to":    tr.To,
		}
		if tr.ErrorCode != "" {
			m["error_code"] = tr.ErrorCode
		}
		transitions[i] = m
	}

	return ir.MarshalCanonical(map[string]any{
		"scenario":    name,
		"session_id":  r.SessionID,
		"steps":       steps,
		"transitions": transitions,
		"commits":     r.Commits,
		"clean":       r.Clean,
	})
}

// RunWithGolden runs scenario and compares its snapshot with
// testdata/golden/<name>.golden. Failed expectations fail the test too.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Errorf("%s: %s", scenario.Name, msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
