// Package lint evaluates a bundle snapshot and produces the complete
// diagnostic set for one pass.
//
// A pass runs four stages in a fixed order and concatenates their output:
//
//  1. load diagnostics and per-entity schema validation
//  2. reference integrity from the derived graph
//  3. custom rules, from the manifest and then from Register
//  4. conformance rules, only when a profile is requested
//
// Evaluation never mutates the bundle and never stops at the first error;
// the caller decides what severity blocks.
package lint

import (
	"log/slog"
	"sync"

	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/sdd/internal/bundle"
	"github.com/roach88/sdd/internal/ir"
)

// Rule is a custom lint rule.
type Rule interface {
	Name() string
	Evaluate(b *bundle.Bundle) []ir.Diagnostic
}

// Config selects the optional parts of a pass.
type Config struct {
	// Profile is a conformance profile id. Empty skips stage 4.
	Profile string
}

// Engine runs lint passes. It is safe for concurrent use.
type Engine struct {
	mu     sync.RWMutex
	rules  []Rule
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRules registers programmatic rules at construction.
func WithRules(rules ...Rule) Option {
	return func(e *Engine) {
		e.rules = append(e.rules, rules...)
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a rule evaluated after the manifest's rules.
func (e *Engine) Register(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
}

// Evaluate runs one full pass over b.
//
// The only error is NOT_FOUND for an unknown profile; rule configuration
// problems are reported as invalid-rule diagnostics.
func (e *Engine) Evaluate(b *bundle.Bundle, cfg Config) ([]ir.Diagnostic, error) {
	var diags []ir.Diagnostic

	// Stage 1: schema
	diags = append(diags, b.LoadDiagnostics...)
	for _, ent := range b.List() {
		diags = append(diags, b.Schemas.Validate(ent.Type, ent.ID, ent.Data)...)
	}

	// Stage 2: references
	diags = append(diags, b.Graph.Diagnostics...)

	// Stage 3: custom rules
	for _, r := range e.customRules(b) {
		diags = append(diags, r.Evaluate(b)...)
	}

	// Stage 4: conformance
	if cfg.Profile != "" {
		report, err := e.Conformance(b, cfg.Profile)
		if err != nil {
			return nil, err
		}
		diags = append(diags, report.Diagnostics...)
	}

	counts := ir.CountBySeverity(diags)
	e.logger.Debug("lint pass",
		"bundle", b.Manifest.Name,
		"profile", cfg.Profile,
		"errors", counts[ir.SeverityError],
		"warnings", counts[ir.SeverityWarning],
		"info", counts[ir.SeverityInfo],
	)
	return diags, nil
}

// customRules compiles the manifest's rules and appends registered ones.
// CUE rules share one context per pass, so passes stay independent.
func (e *Engine) customRules(b *bundle.Bundle) []Rule {
	ctx := cuecontext.New()
	rules := make([]Rule, 0, len(b.Manifest.Lint.Rules)+len(e.rules))
	for _, spec := range b.Manifest.Lint.Rules {
		rules = append(rules, FromSpec(ctx, spec))
	}
	e.mu.RLock()
	rules = append(rules, e.rules...)
	e.mu.RUnlock()
	return rules
}
