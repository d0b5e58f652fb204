package harness

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// WorkBranch is the branch scenarios run on. The fixture is committed on
// main, which bundles usually protect.
const WorkBranch = "work"

// initRepo turns root into a repository with everything committed on main
// and WorkBranch checked out.
func initRepo(ctx context.Context, root string) error {
	steps := [][]string{
		{"init", "-q", "-b", "main"},
		{"config", "user.name", "sdd harness"},
		{"config", "user.email", "harness@example.com"},
		{"config", "commit.gpgsign", "false"},
		{"add", "-A"},
		{"commit", "-q", "--no-verify", "-m", "fixture"},
		{"checkout", "-q", "-b", WorkBranch},
	}
	for _, args := range steps {
		if _, err := git(ctx, root, args...); err != nil {
			return err
		}
	}
	return nil
}

func commitCount(ctx context.Context, root string) (int, error) {
	out, err := git(ctx, root, "rev-list", "--count", "HEAD")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(out)
}

func git(ctx context.Context, root string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", root}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
