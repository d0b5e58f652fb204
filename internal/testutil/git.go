package testutil

import (
	"os/exec"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// WorkBranch is the branch GitRepo leaves checked out. It is not protected.
const WorkBranch = "work"

// RequireGit skips the test when the git executable is unavailable.
func RequireGit(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

// GitRepo turns dir into a git repository with everything committed on
// main, then checks out WorkBranch.
func GitRepo(t testing.TB, dir string) {
	t.Helper()
	RequireGit(t)
	Git(t, dir, "init", "-q", "-b", "main")
	Git(t, dir, "config", "user.name", "sdd test")
	Git(t, dir, "config", "user.email", "sdd@example.com")
	Git(t, dir, "config", "commit.gpgsign", "false")
	Git(t, dir, "add", "-A")
	Git(t, dir, "commit", "-q", "-m", "initial")
	Git(t, dir, "checkout", "-q", "-b", WorkBranch)
}

// Git runs a git command in dir and returns trimmed stdout.
func Git(t testing.TB, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

// CommitCount returns the number of commits reachable from HEAD.
func CommitCount(t testing.TB, dir string) int {
	t.Helper()
	n, err := strconv.Atoi(Git(t, dir, "rev-list", "--count", "HEAD"))
	require.NoError(t, err)
	return n
}

// ChangedFiles lists the files touched by the HEAD commit.
func ChangedFiles(t testing.TB, dir string) []string {
	t.Helper()
	out := Git(t, dir, "show", "--name-only", "--format=", "HEAD")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// IsClean reports whether the working tree has no changes.
func IsClean(t testing.TB, dir string) bool {
	t.Helper()
	return Git(t, dir, "status", "--porcelain", "--untracked-files=all") == ""
}
