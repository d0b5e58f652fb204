package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sdd/internal/bundle"
	"github.com/roach88/sdd/internal/conversation"
	"github.com/roach88/sdd/internal/ir"
)

// Scenario is one conversation run against a fixture bundle.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	// Bundle is the fixture directory. Relative paths are resolved against
	// the scenario file's directory by LoadScenario.
	Bundle string `yaml:"bundle"`

	// SessionID pins the session id. Default: testutil.DefaultSessionID.
	SessionID string `yaml:"session_id,omitempty"`

	// Context is passed to the session at start.
	Context conversation.Context `yaml:"context,omitempty"`

	// Edits are written into the fixture copy before the initial commit.
	// Keys are slash paths relative to the bundle root.
	Edits map[string]string `yaml:"edits,omitempty"`

	// Dirty files are written after the initial commit, leaving the
	// working tree dirty when the session starts.
	Dirty map[string]string `yaml:"dirty,omitempty"`

	// Start checks the outcome of starting the session. Nil expects it to
	// succeed.
	Start *Expect `yaml:"start,omitempty"`

	// Agent scripts the backend: each send step consumes the next reply.
	Agent []AgentReply `yaml:"agent,omitempty"`

	// Steps run in order after the session starts.
	Steps []Step `yaml:"steps"`

	// Assertions check the repository and journal after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// AgentReply is one scripted backend reply.
type AgentReply struct {
	Text    string              `yaml:"text"`
	Changes []ir.ProposedChange `yaml:"changes,omitempty"`
	// Error makes the backend fail instead of replying.
	Error string `yaml:"error,omitempty"`
}

// Step is one session operation. Exactly one of the operation fields is set.
type Step struct {
	Propose  []ir.ProposedChange `yaml:"propose,omitempty"`
	Send     string              `yaml:"send,omitempty"`
	Accept   bool                `yaml:"accept,omitempty"`
	Rollback bool                `yaml:"rollback,omitempty"`
	Abort    bool                `yaml:"abort,omitempty"`

	// Expect checks the step's outcome. Nil checks nothing.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Step operations.
const (
	OpStart    = "start"
	OpPropose  = "propose"
	OpSend     = "send"
	OpAccept   = "accept"
	OpRollback = "rollback"
	OpAbort    = "abort"
)

// Op names the operation the step performs, or "" when none or several
// are set.
func (s Step) Op() string {
	var ops []string
	if len(s.Propose) > 0 {
		ops = append(ops, OpPropose)
	}
	if s.Send != "" {
		ops = append(ops, OpSend)
	}
	if s.Accept {
		ops = append(ops, OpAccept)
	}
	if s.Rollback {
		ops = append(ops, OpRollback)
	}
	if s.Abort {
		ops = append(ops, OpAbort)
	}
	if len(ops) != 1 {
		return ""
	}
	return ops[0]
}

// Expect is a subset match on a step outcome: unset fields are not checked.
type Expect struct {
	// Status is the session status after the step.
	Status string `yaml:"status,omitempty"`

	// ErrorCode is the code of the step's error. "none" requires success.
	ErrorCode string `yaml:"error_code,omitempty"`

	// Committed reports whether the step produced a commit.
	Committed *bool `yaml:"committed,omitempty"`

	// Codes are the diagnostic codes attached to the error, in any order.
	Codes []string `yaml:"codes,omitempty"`
}

// ExpectNoError is the ErrorCode value requiring a step to succeed.
const ExpectNoError = "none"

var validStatuses = map[string]bool{
	string(conversation.StatusIdle):           true,
	string(conversation.StatusActive):         true,
	string(conversation.StatusPendingChanges): true,
	string(conversation.StatusLinting):        true,
	string(conversation.StatusCommitted):      true,
	string(conversation.StatusError):          true,
}

// LoadScenario reads a scenario file. Unknown fields are rejected, so a
// typo such as "assertion:" fails loudly instead of checking nothing.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Bundle != "" && !filepath.IsAbs(scenario.Bundle) {
		scenario.Bundle = filepath.Join(filepath.Dir(path), scenario.Bundle)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, in name order.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Bundle == "" {
		return fmt.Errorf("bundle is required")
	}
	if _, err := os.Stat(filepath.Join(s.Bundle, bundle.ManifestFile)); err != nil {
		return fmt.Errorf("bundle %s: no %s", s.Bundle, bundle.ManifestFile)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for rel := range s.Edits {
		if err := checkRelPath(rel); err != nil {
			return fmt.Errorf("edits: %w", err)
		}
	}
	for rel := range s.Dirty {
		if err := checkRelPath(rel); err != nil {
			return fmt.Errorf("dirty: %w", err)
		}
	}
	if err := validateExpect(s.Start); err != nil {
		return fmt.Errorf("start.expect: %w", err)
	}

	sends := 0
	for i, step := range s.Steps {
		op := step.Op()
		if op == "" {
			return fmt.Errorf("steps[%d]: exactly one of propose, send, accept, rollback or abort is required", i)
		}
		if op == OpSend {
			sends++
		}
		if err := validateExpect(step.Expect); err != nil {
			return fmt.Errorf("steps[%d].expect: %w", i, err)
		}
	}
	if sends > len(s.Agent) {
		return fmt.Errorf("%d send steps but only %d agent replies", sends, len(s.Agent))
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateExpect(e *Expect) error {
	if e == nil {
		return nil
	}
	if e.Status != "" && !validStatuses[e.Status] {
		return fmt.Errorf("unknown status %q", e.Status)
	}
	if len(e.Codes) > 0 && (e.ErrorCode == "" || e.ErrorCode == ExpectNoError) {
		return fmt.Errorf("codes require an error_code")
	}
	return nil
}

func checkRelPath(rel string) error {
	if rel == "" || filepath.IsAbs(rel) || !filepath.IsLocal(filepath.FromSlash(rel)) {
		return fmt.Errorf("path %q must be relative to the bundle root", rel)
	}
	return nil
}
