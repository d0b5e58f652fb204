// Package vcs adapts version control to the apply protocol: a clean-tree
// precondition, a single commit per accepted batch, and file-level revert.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// VersionControl is the capability the apply service consumes.
// Paths in files are relative to root, slash-separated.
type VersionControl interface {
	// IsClean reports whether root has no uncommitted or untracked changes.
	IsClean(ctx context.Context, root string) (bool, error)
	// Branch returns the checked-out branch name, or "HEAD" when detached.
	Branch(ctx context.Context, root string) (string, error)
	// Commit records files as one commit and returns its reference. An
	// error wrapping ErrCommitRefUnknown means the commit was recorded.
	Commit(ctx context.Context, root string, files []string, message string) (string, error)
	// Revert restores files to their committed content, removing files
	// that were never committed.
	Revert(ctx context.Context, root string, files []string) error
}

// ErrCommitRefUnknown reports a commit that was recorded but whose
// reference could not be read back.
var ErrCommitRefUnknown = errors.New("commit recorded but its ref is unknown")

// DetachedHead is what Branch returns when no branch is checked out.
const DetachedHead = "HEAD"

// Git implements VersionControl by running the git executable.
//
// Commands are scoped to the bundle directory, which may be a subdirectory
// of the repository. Timeouts come from the caller's context.
type Git struct {
	// Binary is the git executable. Default: "git".
	Binary string
	// AuthorName and AuthorEmail, when set, override the repository identity.
	AuthorName  string
	AuthorEmail string
}

// CommandError is a failed git invocation.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

func (g *Git) run(ctx context.Context, root string, args ...string) (string, error) {
	bin := g.Binary
	if bin == "" {
		bin = "git"
	}
	full := []string{"-C", root}
	if g.AuthorName != "" {
		full = append(full, "-c", "user.name="+g.AuthorName)
	}
	if g.AuthorEmail != "" {
		full = append(full, "-c", "user.email="+g.AuthorEmail)
	}
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, bin, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return "", &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// IsClean implements VersionControl.
func (g *Git) IsClean(ctx context.Context, root string) (bool, error) {
	out, err := g.run(ctx, root, "status", "--porcelain", "--untracked-files=all", "--", ".")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// Branch implements VersionControl.
func (g *Git) Branch(ctx context.Context, root string) (string, error) {
	return g.run(ctx, root, "rev-parse", "--abbrev-ref", "HEAD")
}

// Commit implements VersionControl. Deleted files are staged as removals.
func (g *Git) Commit(ctx context.Context, root string, files []string, message string) (string, error) {
	if len(files) == 0 {
		return "", errors.New("commit: no files")
	}
	if _, err := g.run(ctx, root, append([]string{"add", "-A", "--"}, files...)...); err != nil {
		return "", err
	}
	commit := append([]string{"commit", "-q", "--no-verify", "-m", message, "--"}, files...)
	if _, err := g.run(ctx, root, commit...); err != nil {
		return "", err
	}
	ref, err := g.run(ctx, root, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCommitRefUnknown, err)
	}
	return ref, nil
}

// Revert implements VersionControl.
func (g *Git) Revert(ctx context.Context, root string, files []string) error {
	var errs []error
	for _, f := range files {
		// The index may hold a partially staged batch; drop it first.
		if _, err := g.run(ctx, root, "reset", "-q", "--", f); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := g.run(ctx, root, "cat-file", "-e", "HEAD:./"+f); err != nil {
			// Never committed: the file is new in this batch.
			if rmErr := os.Remove(filepath.Join(root, filepath.FromSlash(f))); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				errs = append(errs, rmErr)
			}
			continue
		}
		if _, err := g.run(ctx, root, "checkout", "HEAD", "--", f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
