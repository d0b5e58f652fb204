package apply

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/sdd/internal/bundle"
	"github.com/roach88/sdd/internal/ir"
	"github.com/roach88/sdd/internal/metrics"
	"github.com/roach88/sdd/internal/vcs"
)

// backup is the pre-batch state of one file.
type backup struct {
	path    string
	rel     string
	content []byte
	existed bool
	// dirs lists directories created for the write, deepest first.
	dirs []string
}

func (s *Service) commit(ctx context.Context, plan *Plan, start time.Time) (*Result, error) {
	s.mu.Lock()
	if plan == nil || s.pending != plan {
		s.mu.Unlock()
		return nil, ir.Errorf(ir.CodeBadRequest, "no prepared change set to commit")
	}
	s.pending = nil
	s.mu.Unlock()

	log := s.logger.With("bundle", s.root, "changeset", plan.ChangeSetID)

	// The tree may have changed between Prepare and Commit.
	if err := s.checkPreconditions(ctx, plan.Base.Manifest); err != nil {
		s.metrics.ObserveApply(metrics.OutcomeRejected, s.now().Sub(start))
		return nil, err
	}
	for _, w := range plan.writes {
		if err := checkUnchanged(w); err != nil {
			s.metrics.ObserveApply(metrics.OutcomeRejected, s.now().Sub(start))
			return nil, err
		}
	}

	baseline, err := s.baseline(plan.Base)
	if err != nil {
		s.metrics.ObserveApply(metrics.OutcomeRejected, s.now().Sub(start))
		return nil, err
	}

	// Step 3: write-through.
	backups, err := writeAll(plan.writes, s.writeFile)
	if err != nil {
		return nil, s.fail(ctx, log, backups, false, ir.WrapError(ir.CodeInternal, "writing files", err), start)
	}

	// Step 4: re-derive from disk.
	next, err := s.load(ctx, s.root)
	if err != nil {
		return nil, s.fail(ctx, log, backups, false, ir.WrapError(ir.CodeInternal, "reloading bundle", err), start)
	}
	diags, err := s.lint.Evaluate(next, s.cfg)
	if err != nil {
		return nil, s.fail(ctx, log, backups, false, ir.WrapError(ir.CodeInternal, "evaluating lint rules", err), start)
	}
	ir.SortDiagnostics(diags)
	s.metrics.ObserveDiagnostics(diags)

	// Step 5: decide.
	if blocking := s.blocking(baseline, diags); len(blocking) > 0 {
		code := ir.CodeValidation
		if allReferences(blocking) {
			code = ir.CodeReference
		}
		verr := ir.Errorf(code, "change set introduces %d error diagnostic(s)", len(blocking))
		verr.Diagnostics = blocking
		if rerr := s.revert(ctx, backups, false); rerr != nil {
			s.keep(backups)
			s.metrics.ObserveApply(metrics.OutcomeError, s.now().Sub(start))
			log.Error("revert failed", "error", rerr)
			return nil, ir.WrapError(ir.CodeInternal, "reverting rejected change set", errors.Join(verr, rerr))
		}
		s.metrics.ObserveApply(metrics.OutcomeRolledBack, s.now().Sub(start))
		log.Warn("change set rolled back", "code", code, "errors", len(blocking))
		return nil, verr
	}

	files := plan.Files()
	ref, err := s.vc.Commit(ctx, s.root, files, commitMessage(plan))
	if errors.Is(err, vcs.ErrCommitRefUnknown) {
		// The commit landed; reverting now would leave the files behind
		// HEAD. Report it as committed without a ref.
		log.Warn("commit ref unavailable", "error", err)
		ref, err = "", nil
	}
	if err != nil {
		return nil, s.fail(ctx, log, backups, true, ir.WrapError(ir.CodeInternal, "committing change set", err), start)
	}

	s.metrics.ObserveApply(metrics.OutcomeCommitted, s.now().Sub(start))
	log.Info("change set committed", "commit", ref, "files", len(files))
	return &Result{
		Bundle:      next,
		CommitRef:   ref,
		ChangeSetID: plan.ChangeSetID,
		Touched:     plan.Touched,
		Files:       files,
		Diagnostics: diags,
	}, nil
}

// baseline evaluates the base snapshot when the policy needs it.
func (s *Service) baseline(base *bundle.Bundle) ([]ir.Diagnostic, error) {
	if s.policy != BlockNewErrors {
		return nil, nil
	}
	return s.lint.Evaluate(base, s.cfg)
}

func (s *Service) blocking(baseline, diags []ir.Diagnostic) []ir.Diagnostic {
	if s.policy == BlockNewErrors {
		return ir.NewErrors(baseline, diags)
	}
	return ir.Errors(diags)
}

func allReferences(diags []ir.Diagnostic) bool {
	for _, d := range diags {
		if !ir.IsReferenceCode(d.Code) {
			return false
		}
	}
	return true
}

// fail reverts after an unexpected failure and returns cause, or an error
// joining cause with the revert failure.
func (s *Service) fail(ctx context.Context, log *slog.Logger, backups []backup, committed bool, cause *ir.Error, start time.Time) error {
	s.metrics.ObserveApply(metrics.OutcomeError, s.now().Sub(start))
	log.Error("apply failed", "code", cause.Code, "error", cause)
	if rerr := s.revert(ctx, backups, committed); rerr != nil {
		s.keep(backups)
		log.Error("revert failed", "error", rerr)
		cause.Err = errors.Join(cause.Err, rerr)
	}
	return cause
}

func (s *Service) keep(backups []backup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leftovers = append(s.leftovers, backups...)
}

// revert restores backups. When the vcs may have staged the files, the
// index is reset through it as well. Revert runs to completion even if the
// caller's context is already done.
func (s *Service) revert(ctx context.Context, backups []backup, staged bool) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, b := range backups {
		if err := restore(b); err != nil {
			errs = append(errs, err)
		}
	}
	if staged && len(backups) > 0 {
		rels := make([]string, len(backups))
		for i, b := range backups {
			rels[i] = b.rel
		}
		// The commit may have staged the files; this also resets the index.
		if err := s.vc.Revert(ctx, s.root, rels); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func checkUnchanged(w fileWrite) error {
	current, err := os.ReadFile(w.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !w.existed {
			return nil
		}
	case err != nil:
		return ir.WrapError(ir.CodeInternal, "reading "+w.rel, err)
	case w.existed && bytes.Equal(current, w.original):
		return nil
	}
	return ir.Errorf(ir.CodeDirtyState, "%s changed since the change set was prepared", w.rel).WithRef(w.ref, "")
}

// writeAll performs every write, stopping at the first failure. The
// returned backups cover every file touched so far.
func writeAll(writes []fileWrite, writeFile func(string, []byte) error) ([]backup, error) {
	backups := make([]backup, 0, len(writes))
	for _, w := range writes {
		b := backup{path: w.path, rel: w.rel, content: w.original, existed: w.existed}
		if w.delete {
			backups = append(backups, b)
			if err := os.Remove(w.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return backups, err
			}
			continue
		}
		dirs, err := mkdirAll(filepath.Dir(w.path))
		b.dirs = dirs
		backups = append(backups, b)
		if err != nil {
			return backups, err
		}
		if err := writeFile(w.path, w.content); err != nil {
			return backups, err
		}
	}
	return backups, nil
}

// mkdirAll creates dir and returns the directories it created, deepest first.
func mkdirAll(dir string) ([]string, error) {
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		if _, err := os.Stat(d); err == nil {
			break
		}
		missing = append(missing, d)
		if filepath.Dir(d) == d {
			break
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	return missing, os.MkdirAll(dir, 0o755)
}

func restore(b backup) error {
	var err error
	if b.existed {
		err = writeFileAtomic(b.path, b.content)
	} else if rerr := os.Remove(b.path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
		err = rerr
	}
	if err != nil {
		return fmt.Errorf("restoring %s: %w", b.rel, err)
	}
	for _, d := range b.dirs {
		// Only empty directories go; anything else was not ours.
		_ = os.Remove(d)
	}
	return nil
}

// writeFileAtomic writes content through a temp file in the same directory
// and renames it into place, keeping the previous file mode.
func writeFileAtomic(path string, content []byte) error {
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
