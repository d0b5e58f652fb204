// Package apply is the transactional core: it takes a batch of proposed
// changes and either lands all of them as one version-control commit or
// leaves the bundle exactly as it was.
//
// The protocol has two halves:
//
//	Prepare: precondition check, then staging in memory (no writes)
//	Commit:  write-through, full reload and lint, then commit or revert
//
// Failures in Prepare never touch disk and are always retriable. Failures
// in Commit revert every written file before they are reported, so the
// files, the in-memory snapshot and the working tree agree whenever
// control returns to the caller.
package apply

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/sdd/internal/bundle"
	"github.com/roach88/sdd/internal/ir"
	"github.com/roach88/sdd/internal/lint"
	"github.com/roach88/sdd/internal/lock"
	"github.com/roach88/sdd/internal/metrics"
	"github.com/roach88/sdd/internal/vcs"
)

// Policy decides which diagnostics block a commit.
type Policy int

const (
	// BlockAnyError blocks when the new state has any error diagnostic.
	BlockAnyError Policy = iota
	// BlockNewErrors blocks only on errors absent from the base state.
	BlockNewErrors
)

func (p Policy) String() string {
	if p == BlockNewErrors {
		return "block-new-errors"
	}
	return "block-any-error"
}

// ParsePolicy parses the String form of a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "block-any-error", "":
		return BlockAnyError, nil
	case "block-new-errors":
		return BlockNewErrors, nil
	}
	return BlockAnyError, ir.Errorf(ir.CodeBadRequest, "unknown policy %q: must be block-any-error or block-new-errors", s)
}

// Result describes a committed batch.
type Result struct {
	// Bundle is the snapshot reloaded after the commit.
	Bundle *bundle.Bundle `json:"-"`
	// CommitRef identifies the version-control commit.
	CommitRef string `json:"commit_ref"`
	// ChangeSetID is the content hash of the batch.
	ChangeSetID string `json:"change_set_id"`
	// Touched lists the entities written, sorted.
	Touched []ir.EntityRef `json:"touched"`
	// Files lists the committed files relative to the bundle root, sorted.
	Files []string `json:"files"`
	// Diagnostics is the full non-blocking diagnostic set of the new state.
	Diagnostics []ir.Diagnostic `json:"diagnostics,omitempty"`
}

// Service applies change batches to one bundle directory.
//
// Apply, Commit and Rollback hold the bundle's gate exclusively, so at most
// one of them runs per directory at a time even across Service values.
type Service struct {
	root    string
	vc      vcs.VersionControl
	gate    *lock.Gate
	lint    *lint.Engine
	cfg     lint.Config
	policy  Policy
	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time

	// Disk seams, replaced in tests to inject I/O failures.
	writeFile func(path string, content []byte) error
	load      func(ctx context.Context, root string) (*bundle.Bundle, error)

	mu      sync.Mutex
	pending *Plan
	// leftovers are backups a failed revert could not restore. Rollback
	// retries them.
	leftovers []backup
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithPolicy sets the blocking policy. Default: BlockAnyError.
func WithPolicy(p Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithLintEngine sets the engine used to re-derive diagnostics.
func WithLintEngine(e *lint.Engine) Option {
	return func(s *Service) {
		s.lint = e
	}
}

// WithLintConfig sets the lint configuration of the re-derive step, e.g.
// to make a conformance profile part of the commit gate.
func WithLintConfig(cfg lint.Config) Option {
	return func(s *Service) {
		s.cfg = cfg
	}
}

// WithMetrics records outcomes to c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) {
		s.metrics = c
	}
}

// WithGate overrides the process-wide gate for the bundle path.
func WithGate(g *lock.Gate) Option {
	return func(s *Service) {
		s.gate = g
	}
}

// New creates a Service for the bundle at root.
func New(root string, vc vcs.VersionControl, opts ...Option) *Service {
	resolved := lock.Resolve(root)
	s := &Service{
		root:   resolved,
		vc:     vc,
		logger:    slog.Default(),
		now:       time.Now,
		writeFile: writeFileAtomic,
		load:      bundle.Load,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gate == nil {
		s.gate = lock.For(resolved)
	}
	if s.lint == nil {
		s.lint = lint.New(lint.WithLogger(s.logger))
	}
	return s
}

// Root returns the resolved bundle root.
func (s *Service) Root() string { return s.root }

// Gate returns the bundle's exclusive section.
func (s *Service) Gate() *lock.Gate { return s.gate }

// Apply runs the whole protocol for changes against base.
func (s *Service) Apply(ctx context.Context, base *bundle.Bundle, changes []ir.ProposedChange) (*Result, error) {
	start := s.now()
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.gate.Unlock()

	plan, err := s.prepare(ctx, base, changes)
	if err != nil {
		s.metrics.ObserveApply(metrics.OutcomeRejected, s.now().Sub(start))
		s.logger.Info("apply rejected", "bundle", s.root, "code", ir.CodeOf(err), "error", err)
		return nil, err
	}
	return s.commit(ctx, plan, start)
}

// Prepare checks preconditions and stages changes in memory. The returned
// plan becomes the pending plan until Commit or Rollback.
func (s *Service) Prepare(ctx context.Context, base *bundle.Bundle, changes []ir.ProposedChange) (*Plan, error) {
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.gate.Unlock()
	return s.prepare(ctx, base, changes)
}

func (s *Service) prepare(ctx context.Context, base *bundle.Bundle, changes []ir.ProposedChange) (*Plan, error) {
	if base == nil {
		return nil, ir.Errorf(ir.CodeBadRequest, "no bundle loaded")
	}
	if err := s.checkPreconditions(ctx, base.Manifest); err != nil {
		return nil, err
	}
	plan, err := stage(base, changes)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.pending = plan
	s.mu.Unlock()
	return plan, nil
}

// Commit writes, re-validates and commits a plan returned by Prepare.
// A plan that was rolled back or already committed is BAD_REQUEST.
func (s *Service) Commit(ctx context.Context, plan *Plan) (*Result, error) {
	start := s.now()
	if err := s.lock(ctx); err != nil {
		return nil, err
	}
	defer s.gate.Unlock()
	return s.commit(ctx, plan, start)
}

// lock takes the gate exclusively. Giving up because ctx ended is
// INTERNAL: nothing was attempted and the caller may retry.
func (s *Service) lock(ctx context.Context) error {
	if err := s.gate.Lock(ctx); err != nil {
		return ir.WrapError(ir.CodeInternal, "waiting for the bundle lock", err)
	}
	return nil
}

// Pending reports whether a prepared plan awaits Commit or Rollback.
func (s *Service) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Rollback discards the pending plan, if any, and restores files a failed
// revert left behind. With nothing pending it does nothing.
func (s *Service) Rollback(ctx context.Context) error {
	// Rollback waits out an in-flight apply even if ctx is done.
	if err := s.lock(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	defer s.gate.Unlock()

	s.mu.Lock()
	plan := s.pending
	s.pending = nil
	leftovers := s.leftovers
	s.leftovers = nil
	s.mu.Unlock()

	if plan != nil {
		s.logger.Info("pending changes discarded", "bundle", s.root, "changeset", plan.ChangeSetID)
	}
	if len(leftovers) == 0 {
		return nil
	}
	if err := s.revert(ctx, leftovers, true); err != nil {
		return ir.WrapError(ir.CodeInternal, "rollback could not restore files", err)
	}
	return nil
}

// CheckPreconditions verifies the working tree is clean and on a branch
// that may receive commits, reading the protected list from the manifest.
func (s *Service) CheckPreconditions(ctx context.Context) error {
	manifest, err := bundle.LoadManifest(s.root)
	if err != nil {
		return err
	}
	return s.checkPreconditions(ctx, manifest)
}

func (s *Service) checkPreconditions(ctx context.Context, manifest *bundle.Manifest) error {
	clean, err := s.vc.IsClean(ctx, s.root)
	if err != nil {
		return ir.WrapError(ir.CodeInternal, "checking working tree", err)
	}
	if !clean {
		return ir.Errorf(ir.CodeDirtyState, "working tree has uncommitted changes")
	}
	branch, err := s.vc.Branch(ctx, s.root)
	if err != nil {
		return ir.WrapError(ir.CodeInternal, "reading current branch", err)
	}
	if branch == vcs.DetachedHead {
		return ir.Errorf(ir.CodeDirtyState, "HEAD is detached; check out a working branch")
	}
	if manifest.IsProtected(branch) {
		return ir.Errorf(ir.CodeDirtyState, "branch %q is protected; check out a working branch", branch)
	}
	return nil
}
