package testutil

import (
	"context"
	"fmt"
	"sync"
)

// FakeVCS is an in-memory version control double.
//
// It records every call. Error fields, when set, are returned by the
// corresponding method; OnCommit runs before a commit is recorded.
type FakeVCS struct {
	mu sync.Mutex

	Clean     bool
	BranchVal string

	CleanErr  error
	BranchErr error
	CommitErr error
	RevertErr error
	// RefErr, when set, is returned after a commit has been recorded.
	RefErr error

	OnCommit func(files []string) error

	Commits []FakeCommit
	Reverts [][]string
}

// FakeCommit is one recorded commit.
type FakeCommit struct {
	Ref     string
	Files   []string
	Message string
}

// NewFakeVCS returns a clean FakeVCS on WorkBranch.
func NewFakeVCS() *FakeVCS {
	return &FakeVCS{Clean: true, BranchVal: WorkBranch}
}

func (f *FakeVCS) IsClean(ctx context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CleanErr != nil {
		return false, f.CleanErr
	}
	return f.Clean, nil
}

func (f *FakeVCS) Branch(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BranchErr != nil {
		return "", f.BranchErr
	}
	return f.BranchVal, nil
}

func (f *FakeVCS) Commit(ctx context.Context, path string, files []string, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CommitErr != nil {
		return "", f.CommitErr
	}
	if f.OnCommit != nil {
		if err := f.OnCommit(files); err != nil {
			return "", err
		}
	}
	ref := fmt.Sprintf("fake-%04d", len(f.Commits)+1)
	f.Commits = append(f.Commits, FakeCommit{Ref: ref, Files: append([]string(nil), files...), Message: message})
	if f.RefErr != nil {
		return "", f.RefErr
	}
	return ref, nil
}

func (f *FakeVCS) Revert(ctx context.Context, path string, files []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reverts = append(f.Reverts, append([]string(nil), files...))
	return f.RevertErr
}

// CommitCount returns the number of recorded commits.
func (f *FakeVCS) CommitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Commits)
}

// SetClean changes the reported working tree state.
func (f *FakeVCS) SetClean(clean bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Clean = clean
}
