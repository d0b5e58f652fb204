// Package metrics exposes Prometheus instruments for the apply service,
// lint passes, reloads and conversation transitions.
//
// Every Collector owns its registry so tests and multiple workspaces in
// one process never collide on registration. A nil *Collector is valid
// and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/sdd/internal/ir"
)

// Namespace prefixes every metric name.
const Namespace = "sdd"

// Apply outcomes used as the outcome label.
const (
	OutcomeCommitted  = "committed"
	OutcomeRejected   = "rejected"    // local validation failed before any write
	OutcomeRolledBack = "rolled_back" // written, re-validated, reverted
	OutcomeError      = "error"       // unexpected failure, reverted
)

// Collector holds the instruments.
type Collector struct {
	registry *prometheus.Registry

	ApplyTotal    *prometheus.CounterVec
	ApplyDuration prometheus.Histogram
	Diagnostics   *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	Reloads       *prometheus.CounterVec
}

// New creates a Collector with a fresh registry.
func New() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		ApplyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "apply_total",
				Help:      "Change batches processed, by outcome",
			},
			[]string{"outcome"},
		),
		ApplyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "apply_duration_seconds",
				Help:      "Time from precondition check to commit or revert",
				Buckets:   prometheus.DefBuckets,
			},
		),
		Diagnostics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "diagnostics_total",
				Help:      "Diagnostics produced by lint passes, by severity",
			},
			[]string{"severity"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "conversation_transitions_total",
				Help:      "Conversation state transitions",
			},
			[]string{"from", "to"},
		),
		Reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "reloads_total",
				Help:      "Bundle reloads from disk, by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(c.ApplyTotal, c.ApplyDuration, c.Diagnostics, c.Transitions, c.Reloads)
	return c
}

// Registry returns the collector's registry for exposition.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveApply records one batch outcome and its duration.
func (c *Collector) ObserveApply(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.ApplyTotal.WithLabelValues(outcome).Inc()
	c.ApplyDuration.Observe(d.Seconds())
}

// ObserveDiagnostics counts diagnostics by severity.
func (c *Collector) ObserveDiagnostics(diags []ir.Diagnostic) {
	if c == nil {
		return
	}
	for sev, n := range ir.CountBySeverity(diags) {
		c.Diagnostics.WithLabelValues(string(sev)).Add(float64(n))
	}
}

// ObserveTransition counts a conversation state change.
func (c *Collector) ObserveTransition(from, to string) {
	if c == nil {
		return
	}
	c.Transitions.WithLabelValues(from, to).Inc()
}

// ObserveReload counts a reload attempt.
func (c *Collector) ObserveReload(err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Reloads.WithLabelValues(result).Inc()
}
