package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sdd/internal/testutil"
)

// run executes the CLI and returns the exit code, stdout and stderr.
func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"validate", "deps", "apply", "conformance", "test"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestRootCommand_GlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
}

func TestExecute_InvalidFormat(t *testing.T) {
	code, stdout, stderr := run(t, "validate", testutil.SampleBundle(t), "--format", "xml")

	assert.Equal(t, ExitCommandError, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, `invalid format "xml"`)
}

func TestExecute_UnknownCommand(t *testing.T) {
	code, _, stderr := run(t, "frobnicate")

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "unknown command")
}

func TestExecute_MissingBundle(t *testing.T) {
	t.Setenv(EnvBundlePath, "")

	code, _, stderr := run(t, "validate")

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, EnvBundlePath+" is not set")
}

func TestSplitBundle(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		env      string
		args     []string
		fixed    int
		wantPath string
		wantRest []string
		wantErr  bool
	}{
		{"fixed with bundle", "", []string{dir, "c.yaml"}, 1, dir, []string{"c.yaml"}, false},
		{"fixed from env", "/env", []string{"c.yaml"}, 1, "/env", []string{"c.yaml"}, false},
		{"fixed no bundle", "", []string{"c.yaml"}, 1, "", nil, true},
		{"optional only", "", []string{dir}, 0, dir, []string{}, false},
		{"variadic with dir", "/env", []string{dir, "Feature:a"}, -1, dir, []string{"Feature:a"}, false},
		{"variadic from env", "/env", []string{"Feature:a", "Feature:b"}, -1, "/env", []string{"Feature:a", "Feature:b"}, false},
		{"variadic missing dir", "", []string{filepath.Join(dir, "nope"), "Feature:a"}, -1, "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvBundlePath, tt.env)

			path, rest, err := splitBundle(tt.args, tt.fixed)
			if tt.wantErr {
				assert.Equal(t, ExitCommandError, GetExitCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, path)
			assert.Equal(t, tt.wantRest, rest)
		})
	}
}
