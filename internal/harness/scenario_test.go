package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sdd/internal/bundle"
	"github.com/roach88/sdd/internal/ir"
)

// writeScenario writes content next to a minimal fixture and returns its path.
func writeScenario(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture")
	require.NoError(t, os.MkdirAll(fixture, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(fixture, bundle.ManifestFile), []byte("name: fixture\n"), 0o644))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario(t *testing.T) {
	path := writeScenario(t, `
name: example
description: loads
bundle: fixture
session_id: s-1
context:
  focus:
    - {type: Feature, id: auth-login}
  profile: security
agent:
  - text: ok
steps:
  - propose:
      - op: delete
        entityType: ADR
        entityId: ADR-001
  - send: hello
  - accept: true
    expect:
      status: active
      committed: true
assertions:
  - type: entity_absent
    entity: ADR:ADR-001
`)

	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "example", s.Name)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "fixture"), s.Bundle)
	assert.Equal(t, []ir.EntityRef{{Type: "Feature", ID: "auth-login"}}, s.Context.Focus)
	assert.Equal(t, "security", s.Context.Profile)
	require.Len(t, s.Steps, 3)
	assert.Equal(t, OpPropose, s.Steps[0].Op())
	assert.Equal(t, ir.OpDelete, s.Steps[0].Propose[0].Op)
	assert.Equal(t, OpSend, s.Steps[1].Op())
	assert.Equal(t, OpAccept, s.Steps[2].Op())
	require.NotNil(t, s.Steps[2].Expect.Committed)
	assert.True(t, *s.Steps[2].Expect.Committed)
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "unknown field",
			content: "name: x\nbundle: fixture\nsteps: [{abort: true}]\nassertion: []\n",
			errMsg:  "field assertion not found",
		},
		{
			name:    "missing name",
			content: "bundle: fixture\nsteps: [{abort: true}]\n",
			errMsg:  "name is required",
		},
		{
			name:    "missing bundle manifest",
			content: "name: x\nbundle: nowhere\nsteps: [{abort: true}]\n",
			errMsg:  "no bundle.yaml",
		},
		{
			name:    "no steps",
			content: "name: x\nbundle: fixture\n",
			errMsg:  "steps list is required",
		},
		{
			name:    "two operations in one step",
			content: "name: x\nbundle: fixture\nsteps: [{accept: true, abort: true}]\n",
			errMsg:  "steps[0]: exactly one of",
		},
		{
			name:    "unknown status",
			content: "name: x\nbundle: fixture\nsteps: [{abort: true, expect: {status: done}}]\n",
			errMsg:  `unknown status "done"`,
		},
		{
			name:    "codes without error",
			content: "name: x\nbundle: fixture\nsteps: [{accept: true, expect: {codes: [ref-not-found]}}]\n",
			errMsg:  "codes require an error_code",
		},
		{
			name:    "send without reply",
			content: "name: x\nbundle: fixture\nsteps: [{send: hi}]\n",
			errMsg:  "1 send steps but only 0 agent replies",
		},
		{
			name:    "edit escapes bundle",
			content: "name: x\nbundle: fixture\nedits: {../outside.yaml: x}\nsteps: [{abort: true}]\n",
			errMsg:  "must be relative to the bundle root",
		},
		{
			name:    "unknown assertion",
			content: "name: x\nbundle: fixture\nsteps: [{abort: true}]\nassertions: [{type: trace_contains}]\n",
			errMsg:  `unknown assertion type "trace_contains"`,
		},
		{
			name:    "bad entity reference",
			content: "name: x\nbundle: fixture\nsteps: [{abort: true}]\nassertions: [{type: entity_absent, entity: ADR-001}]\n",
			errMsg:  "invalid entity reference",
		},
		{
			name:    "short transition path",
			content: "name: x\nbundle: fixture\nsteps: [{abort: true}]\nassertions: [{type: transition_path, statuses: [idle]}]\n",
			errMsg:  "at least two statuses",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}
