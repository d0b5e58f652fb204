// Package workspace is the session handle over one bundle directory.
//
// A Workspace holds the last committed snapshot behind an atomic pointer.
// Readers take the pointer and never block; a successful Apply or Reload
// swaps it. Snapshots are never mutated in place.
package workspace

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/sdd/internal/apply"
	"github.com/roach88/sdd/internal/bundle"
	"github.com/roach88/sdd/internal/deps"
	"github.com/roach88/sdd/internal/ir"
	"github.com/roach88/sdd/internal/lint"
	"github.com/roach88/sdd/internal/metrics"
	"github.com/roach88/sdd/internal/vcs"
)

// Workspace is an open bundle.
type Workspace struct {
	root    string
	vc      vcs.VersionControl
	lint    *lint.Engine
	service *apply.Service
	logger  *slog.Logger
	metrics *metrics.Collector

	snapshot atomic.Pointer[bundle.Bundle]
}

type config struct {
	vc        vcs.VersionControl
	logger    *slog.Logger
	metrics   *metrics.Collector
	lint      *lint.Engine
	applyOpts []apply.Option
}

// Option configures Open.
type Option func(*config)

// WithVCS sets the version control used by Apply and the at-rest
// working tree check. Without it the workspace is read-only: Apply fails
// with BAD_REQUEST.
func WithVCS(vc vcs.VersionControl) Option {
	return func(c *config) {
		c.vc = vc
	}
}

// WithLogger sets the logger for the workspace and its services.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithMetrics records applies, reloads and diagnostics to m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithLintEngine sets the engine shared by Validate and Apply.
func WithLintEngine(e *lint.Engine) Option {
	return func(c *config) {
		c.lint = e
	}
}

// WithApplyOptions passes options through to the apply service.
func WithApplyOptions(opts ...apply.Option) Option {
	return func(c *config) {
		c.applyOpts = append(c.applyOpts, opts...)
	}
}

// Open loads the bundle at path and evaluates it once.
//
// The returned diagnostics are the full lint pass of the loaded snapshot,
// plus a working-tree-dirty warning when a VCS is configured and the tree
// has uncommitted changes.
func Open(ctx context.Context, path string, opts ...Option) (*Workspace, []ir.Diagnostic, error) {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.lint == nil {
		cfg.lint = lint.New(lint.WithLogger(cfg.logger))
	}

	b, err := bundle.Load(ctx, path)
	if err != nil {
		return nil, nil, err
	}

	w := &Workspace{
		root:    b.Root,
		vc:      cfg.vc,
		lint:    cfg.lint,
		logger:  cfg.logger.With("bundle", b.Root),
		metrics: cfg.metrics,
	}
	if cfg.vc != nil {
		applyOpts := append([]apply.Option{
			apply.WithLogger(cfg.logger),
			apply.WithLintEngine(cfg.lint),
			apply.WithMetrics(cfg.metrics),
		}, cfg.applyOpts...)
		w.service = apply.New(b.Root, cfg.vc, applyOpts...)
	}
	w.snapshot.Store(b)

	diags, err := w.Validate(ctx, "")
	if err != nil {
		return nil, nil, err
	}
	w.logger.Info("bundle opened", "entities", b.Count(), "diagnostics", len(diags))
	return w, diags, nil
}

// Root returns the absolute bundle path.
func (w *Workspace) Root() string { return w.root }

// Snapshot returns the last committed snapshot.
func (w *Workspace) Snapshot() *bundle.Bundle {
	return w.snapshot.Load()
}

// Service returns the apply service, or nil for a read-only workspace.
func (w *Workspace) Service() *apply.Service { return w.service }

// Reload re-reads the bundle from disk and swaps the snapshot. It waits
// for an in-flight apply to finish writing first.
func (w *Workspace) Reload(ctx context.Context) (*bundle.Bundle, error) {
	if w.service != nil {
		gate := w.service.Gate()
		if err := gate.RLock(ctx); err != nil {
			return nil, err
		}
		defer gate.RUnlock()
	}

	b, err := bundle.Load(ctx, w.root)
	w.metrics.ObserveReload(err)
	if err != nil {
		w.logger.Warn("reload failed", "code", ir.CodeOf(err), "error", err)
		return nil, err
	}
	w.snapshot.Store(b)
	w.logger.Info("bundle reloaded", "entities", b.Count())
	return b, nil
}

// Validate evaluates the current snapshot. A non-empty profile adds its
// conformance rules; an unknown profile is NOT_FOUND.
func (w *Workspace) Validate(ctx context.Context, profile string) ([]ir.Diagnostic, error) {
	b := w.Snapshot()
	diags, err := w.lint.Evaluate(b, lint.Config{Profile: profile})
	if err != nil {
		return nil, err
	}
	if d, ok := w.workingTree(ctx); ok {
		diags = append(diags, d)
	}
	ir.SortDiagnostics(diags)
	w.metrics.ObserveDiagnostics(diags)
	return diags, nil
}

// Conformance reports on one profile against the current snapshot.
func (w *Workspace) Conformance(profile string) (*lint.Report, error) {
	return w.lint.Conformance(w.Snapshot(), profile)
}

// CollectDependencies walks the current snapshot's reference graph and
// stamps each dependency with its last-modified time.
func (w *Workspace) CollectDependencies(targets []ir.EntityRef, depth int) (*deps.Result, error) {
	snap := w.Snapshot()
	res, err := deps.Collect(targets, depth, snap.Graph)
	if err != nil {
		return nil, err
	}
	for i, d := range res.Dependencies {
		if e, ok := snap.Lookup(d.Ref); ok {
			res.Dependencies[i].Modified = bundle.LastModified(e)
		}
	}
	return res, nil
}

// Apply applies changes against the current snapshot and swaps in the
// committed result.
func (w *Workspace) Apply(ctx context.Context, changes []ir.ProposedChange) (*apply.Result, error) {
	if w.service == nil {
		return nil, ir.Errorf(ir.CodeBadRequest, "workspace is read-only: no version control configured")
	}
	res, err := w.service.Apply(ctx, w.Snapshot(), changes)
	if err != nil {
		return nil, err
	}
	w.snapshot.Store(res.Bundle)
	return res, nil
}

// CheckPreconditions reports whether an apply could start now.
func (w *Workspace) CheckPreconditions(ctx context.Context) error {
	if w.service == nil {
		return ir.Errorf(ir.CodeBadRequest, "workspace is read-only: no version control configured")
	}
	return w.service.CheckPreconditions(ctx)
}

// Rollback discards pending work in the apply service. The snapshot is
// already the last committed state, so it stays as is.
func (w *Workspace) Rollback(ctx context.Context) error {
	if w.service == nil {
		return nil
	}
	return w.service.Rollback(ctx)
}

// workingTree returns the at-rest warning for uncommitted changes.
func (w *Workspace) workingTree(ctx context.Context) (ir.Diagnostic, bool) {
	if w.vc == nil {
		return ir.Diagnostic{}, false
	}
	clean, err := w.vc.IsClean(ctx, w.root)
	if err != nil {
		w.logger.Debug("working tree check skipped", "error", err)
		return ir.Diagnostic{}, false
	}
	if clean {
		return ir.Diagnostic{}, false
	}
	return ir.Diagnostic{
		Severity: ir.SeverityWarning,
		Code:     ir.CodeWorkingTree,
		Message:  "working tree has uncommitted changes; apply is blocked until they are committed or discarded",
	}, true
}
