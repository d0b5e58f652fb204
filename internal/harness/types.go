package harness

import (
	"github.com/roach88/sdd/internal/store"
)

// StepResult is the observed outcome of one step.
type StepResult struct {
	Op        string   `json:"op"`
	Status    string   `json:"status"`
	ErrorCode string   `json:"error_code,omitempty"`
	Codes     []string `json:"codes,omitempty"`
	// Committed is only meaningful for accept steps.
	Committed bool     `json:"committed,omitempty"`
	Touched   []string `json:"touched,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	SessionID string `json:"session_id"`

	// Steps starts with the implicit start step.
	Steps []StepResult `json:"steps"`

	// Transitions is the session's journal, in seq order.
	Transitions []store.Transition `json:"transitions"`

	// ApplyRecords is the journal of accept attempts, in seq order.
	ApplyRecords []store.ApplyRecord `json:"apply_records"`

	// Commits counts the commits made after the fixture commit.
	Commits int `json:"commits"`

	// Clean reports whether the working tree was clean after the last step.
	Clean bool `json:"clean"`

	// Errors lists failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Errors: []string{},
	}
}

// AddError records a failed check and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
