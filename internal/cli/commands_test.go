package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sdd/internal/store"
	"github.com/roach88/sdd/internal/testutil"
)

// decode parses a JSON CLIResponse whose data is an object.
func decode(t *testing.T, out string) (string, map[string]any) {
	t.Helper()
	var resp struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
		Error  *CLIError      `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	if resp.Error != nil {
		return resp.Status, map[string]any{"code": resp.Error.Code, "message": resp.Error.Message}
	}
	return resp.Status, resp.Data
}

// gitSample returns a sample bundle committed to a fresh repository.
func gitSample(t *testing.T) string {
	t.Helper()
	root := testutil.SampleBundle(t)
	testutil.GitRepo(t, root)
	return root
}

// changesFile writes a changes document outside any bundle.
func changesFile(t *testing.T, content string) string {
	t.Helper()
	return testutil.WriteFile(t, t.TempDir(), "changes.yaml", content)
}

func TestValidate_Clean(t *testing.T) {
	code, stdout, _ := run(t, "validate", testutil.SampleBundle(t))

	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "sample: 6 entities, valid (0 errors, 0 warnings)\n", stdout)
}

func TestValidate_JSON(t *testing.T) {
	code, stdout, _ := run(t, "validate", testutil.SampleBundle(t), "--format", "json", "--profile", "security")
	require.Equal(t, ExitSuccess, code)

	status, data := decode(t, stdout)
	assert.Equal(t, "ok", status)
	assert.Equal(t, "sample", data["bundle"])
	assert.Equal(t, 6.0, data["entities"])
	assert.Equal(t, "security", data["profile"])
	assert.Equal(t, true, data["valid"])
	assert.Empty(t, data["diagnostics"])
}

func TestValidate_BrokenReference(t *testing.T) {
	root := testutil.SampleBundle(t)
	testutil.WriteFile(t, root, "bundle/features/auth-logout.yaml",
		"id: auth-logout\ntitle: User logout\nrequirements:\n  - REQ-404\n")

	code, stdout, _ := run(t, "validate", root)

	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "ref-not-found")
	assert.Contains(t, stdout, "Feature:auth-logout")
	assert.Contains(t, stdout, "invalid (1 errors")
}

func TestValidate_BundleFromEnv(t *testing.T) {
	t.Setenv(EnvBundlePath, testutil.SampleBundle(t))

	code, stdout, _ := run(t, "validate")

	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "valid")
}

func TestValidate_UnknownProfile(t *testing.T) {
	code, stdout, _ := run(t, "validate", testutil.SampleBundle(t), "--profile", "nope", "--format", "json")

	assert.Equal(t, ExitCommandError, code)
	status, data := decode(t, stdout)
	assert.Equal(t, "error", status)
	assert.Equal(t, "NOT_FOUND", data["code"])
}

func TestValidate_MissingBundle(t *testing.T) {
	code, stdout, _ := run(t, "validate", filepath.Join(t.TempDir(), "missing"))

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stdout, "failed to open bundle")
}

func TestDeps(t *testing.T) {
	code, stdout, _ := run(t, "deps", testutil.SampleBundle(t), "Feature:auth-login")

	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "Feature:auth-login: 4 dependencies")
	assert.Contains(t, stdout, "Constraint:CON-001  (via Requirement:REQ-001.constraints)  modified ")
}

func TestDeps_DepthFromEnv(t *testing.T) {
	t.Setenv(EnvBundlePath, testutil.SampleBundle(t))

	code, stdout, _ := run(t, "deps", "Feature:auth-login", "--depth", "1")

	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "Feature:auth-login: 3 dependencies")
	assert.NotContains(t, stdout, "CON-001")
}

func TestDeps_Errors(t *testing.T) {
	root := testutil.SampleBundle(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"malformed target", []string{"deps", root, "auth-login", "--format", "json"}, "BAD_REQUEST"},
		{"unknown target", []string{"deps", root, "Feature:nope", "--format", "json"}, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, _ := run(t, tt.args...)

			assert.Equal(t, ExitCommandError, code)
			_, data := decode(t, stdout)
			assert.Equal(t, tt.want, data["code"])
		})
	}
}

func TestConformance(t *testing.T) {
	root := testutil.SampleBundle(t)

	code, stdout, _ := run(t, "conformance", root, "security")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "profile security (Security baseline): PASS")

	testutil.WriteFile(t, root, "bundle/features/auth-logout.yaml", "id: auth-logout\ntitle: User logout\n")
	code, stdout, _ = run(t, "conformance", root, "security")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "FAIL features-trace-requirements -> REQ-002")
	assert.Contains(t, stdout, "auth-logout")

	code, _, _ = run(t, "conformance", root, "nope")
	assert.Equal(t, ExitCommandError, code)
}

func TestApply_Commits(t *testing.T) {
	root := gitSample(t)
	changes := changesFile(t, `changes:
  - entityType: Feature
    entityId: auth-login
    fieldPath: title
    newValue: Sign in
    rationale: match UI copy
`)

	code, stdout, stderr := run(t, "apply", root, changes, "--format", "json")
	require.Equal(t, ExitSuccess, code, stderr)

	_, data := decode(t, stdout)
	assert.NotEmpty(t, data["commit_ref"])
	assert.NotEmpty(t, data["change_set_id"])
	assert.Equal(t, []any{"Feature:auth-login"}, data["touched"])
	assert.Equal(t, 2, testutil.CommitCount(t, root))
	assert.True(t, testutil.IsClean(t, root))
	assert.Contains(t, testutil.ReadFile(t, root, "bundle/features/auth-login.yaml"), "title: Sign in")
}

func TestApply_ReferenceMismatch(t *testing.T) {
	root := gitSample(t)
	before := testutil.Snapshot(t, root)
	changes := changesFile(t, `changes:
  - entityType: Feature
    entityId: auth-logout
    fieldPath: adr
    newValue: REQ-001
`)

	code, stdout, _ := run(t, "apply", root, changes)

	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "Error [REFERENCE_ERROR]")
	assert.Contains(t, stdout, "ref-type-mismatch")
	assert.Equal(t, 1, testutil.CommitCount(t, root))
	assert.Equal(t, before, testutil.Snapshot(t, root))
}

func TestApply_DryRun(t *testing.T) {
	root := gitSample(t)
	changes := changesFile(t, `changes:
  - op: create
    entityType: Constraint
    entityId: CON-002
    newValue:
      id: CON-002
      title: Sessions are signed
`)

	code, stdout, stderr := run(t, "apply", root, changes, "--dry-run")

	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "would write 1 file(s)")
	assert.Contains(t, stdout, "CON-002.yaml")
	assert.Equal(t, 1, testutil.CommitCount(t, root))
	assert.True(t, testutil.IsClean(t, root))
	_, err := os.Stat(filepath.Join(root, "bundle/constraints/CON-002.yaml"))
	assert.True(t, os.IsNotExist(err))
}

func TestApply_DirtyTree(t *testing.T) {
	root := gitSample(t)
	testutil.WriteFile(t, root, "NOTES.md", "scratch\n")
	changes := changesFile(t, "changes:\n  - entityType: ADR\n    entityId: ADR-001\n    fieldPath: title\n    newValue: x\n")

	code, stdout, _ := run(t, "apply", root, changes)

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stdout, "DIRTY_STATE")
}

func TestApply_BadChangesFile(t *testing.T) {
	root := gitSample(t)

	tests := []struct {
		name    string
		content string
	}{
		{"empty", "changes: []\n"},
		{"unknown field", "changes:\n  - entityType: ADR\n    entityId: ADR-001\n    colour: red\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, _ := run(t, "apply", root, changesFile(t, tt.content))

			assert.Equal(t, ExitCommandError, code)
			assert.Contains(t, stdout, "BAD_REQUEST")
		})
	}

	code, _, _ := run(t, "apply", root, changesFile(t, "changes:\n  - entityType: ADR\n    entityId: ADR-001\n"), "--policy", "lenient")
	assert.Equal(t, ExitCommandError, code)
}

func TestApply_Journal(t *testing.T) {
	root := gitSample(t)
	journalPath := filepath.Join(t.TempDir(), "journal.db")
	changes := changesFile(t, `context:
  profile: security
changes:
  - entityType: ADR
    entityId: ADR-001
    fieldPath: title
    newValue: Server sessions
`)

	code, stdout, stderr := run(t, "apply", root, changes, "--journal", journalPath, "--format", "json")
	require.Equal(t, ExitSuccess, code, stderr)
	_, data := decode(t, stdout)
	sessionID, _ := data["session_id"].(string)
	require.NotEmpty(t, sessionID)

	journal, err := store.Open(journalPath)
	require.NoError(t, err)
	defer journal.Close()

	records, err := journal.ReadApplyRecords(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "committed", records[0].Outcome)
	assert.Equal(t, data["commit_ref"], records[0].CommitRef)
}

func TestTestCommand(t *testing.T) {
	testutil.RequireGit(t)

	code, stdout, _ := run(t, "test", "../harness/testdata/scenarios")

	assert.Equal(t, ExitSuccess, code, stdout)
	assert.Contains(t, stdout, "✓ commit_valid_batch")
	assert.Contains(t, stdout, "5 passed, 0 failed, 5 total")
}

func TestTestCommand_FilterAndUpdate(t *testing.T) {
	testutil.RequireGit(t)
	golden := t.TempDir()

	code, stdout, _ := run(t, "test", "../harness/testdata/scenarios",
		"--filter", "dirty_*", "--golden", golden, "--update")

	assert.Equal(t, ExitSuccess, code, stdout)
	assert.Contains(t, stdout, "✓ dirty_tree (golden updated)")
	assert.Contains(t, stdout, "1 passed, 0 failed, 1 total")
	assert.Equal(t,
		testutil.ReadFile(t, "../harness/testdata/golden", "dirty_tree.golden"),
		testutil.ReadFile(t, golden, "dirty_tree.golden"))
}

func TestTestCommand_MissingDir(t *testing.T) {
	code, _, stderr := run(t, "test", filepath.Join(t.TempDir(), "nope"))

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "scenarios directory not found")
}
