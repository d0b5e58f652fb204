package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sdd/internal/ir"
)

func TestCollectorCounts(t *testing.T) {
	c := New()

	c.ObserveApply(OutcomeCommitted, 20*time.Millisecond)
	c.ObserveApply(OutcomeCommitted, 30*time.Millisecond)
	c.ObserveApply(OutcomeRolledBack, 10*time.Millisecond)
	c.ObserveDiagnostics([]ir.Diagnostic{
		{Severity: ir.SeverityError},
		{Severity: ir.SeverityWarning},
		{Severity: ir.SeverityWarning},
	})
	c.ObserveTransition("active", "pendingChanges")
	c.ObserveReload(nil)
	c.ObserveReload(errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ApplyTotal.WithLabelValues(OutcomeCommitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ApplyTotal.WithLabelValues(OutcomeRolledBack)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Diagnostics.WithLabelValues("warning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Transitions.WithLabelValues("active", "pendingChanges")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Reloads.WithLabelValues("error")))

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["sdd_apply_total"])
	assert.True(t, names["sdd_apply_duration_seconds"])
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveApply(OutcomeError, time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ApplyTotal.WithLabelValues(OutcomeError)))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveApply(OutcomeCommitted, time.Second)
		c.ObserveDiagnostics([]ir.Diagnostic{{Severity: ir.SeverityError}})
		c.ObserveTransition("idle", "active")
		c.ObserveReload(nil)
	})
	assert.Nil(t, c.Registry())
}
