package lint

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sdd/internal/bundle"
	"github.com/roach88/sdd/internal/ir"
	"github.com/roach88/sdd/internal/testutil"
)

func TestConformancePasses(t *testing.T) {
	b := loadSample(t, nil)

	report, err := New().Conformance(b, "security")
	require.NoError(t, err)

	assert.True(t, report.Passed)
	assert.Equal(t, "Security baseline", report.Title)
	require.Len(t, report.Rules, 2)
	r := report.Rules[0]
	assert.Equal(t, "features-trace-requirements", r.ID)
	assert.Equal(t, ir.EntityRef{Type: "Requirement", ID: "REQ-002"}, r.Requirement)
	assert.Equal(t, "Sessions expire after inactivity", r.RequirementTitle)
	assert.True(t, r.RequirementFound)
	assert.Equal(t, 2, r.Checked)
	assert.Empty(t, report.Diagnostics)
}

func TestConformanceViolation(t *testing.T) {
	b := loadSample(t, map[string]string{
		"bundle/features/auth-logout.yaml":  "id: auth-logout\ntitle: User logout\n",
		"bundle/requirements/REQ-002.yaml": "id: REQ-002\ntitle: Sessions expire after inactivity\npriority: urgent\n",
	})

	report, err := New().Conformance(b, "security")
	require.NoError(t, err)

	assert.False(t, report.Passed)
	assert.False(t, report.Rules[0].Passed)
	assert.Equal(t, []ir.EntityRef{{Type: "Feature", ID: "auth-logout"}}, report.Rules[0].Failed)
	assert.Equal(t, []ir.EntityRef{{Type: "Requirement", ID: "REQ-002"}}, report.Rules[1].Failed)

	require.NotEmpty(t, report.Diagnostics)
	first := report.Diagnostics[0]
	assert.Equal(t, ir.CodeConformanceViolation, first.Code)
	assert.Equal(t, ir.SeverityError, first.Severity)
	assert.Equal(t, "auth-logout", first.EntityID)
	assert.Contains(t, first.Message, "REQ-002 (Sessions expire after inactivity)")

	last := report.Diagnostics[len(report.Diagnostics)-1]
	assert.Equal(t, ir.SeverityWarning, last.Severity, "rule severity override")

	// The same findings appear as stage 4 of a full pass.
	diags, err := New().Evaluate(b, Config{Profile: "security"})
	require.NoError(t, err)
	assert.Equal(t, report.Diagnostics, diags[len(diags)-len(report.Diagnostics):])
}

func TestConformanceRequirementMissing(t *testing.T) {
	root := testutil.SampleBundle(t)
	manifest := testutil.ReadFile(t, root, bundle.ManifestFile)
	manifest = strings.Replace(manifest, "requirement: REQ-002", "requirement: REQ-999", 1)
	testutil.WriteFile(t, root, bundle.ManifestFile, manifest)
	b, err := bundle.Load(context.Background(), root)
	require.NoError(t, err)

	report, err := New().Conformance(b, "security")
	require.NoError(t, err)

	assert.False(t, report.Passed)
	assert.False(t, report.Rules[0].RequirementFound)
	require.Len(t, report.Diagnostics, 1)
	assert.Equal(t, ir.CodeConformanceRequirement, report.Diagnostics[0].Code)
	assert.Equal(t, "REQ-999", report.Diagnostics[0].EntityID)
}

func TestConformanceUnknownProfile(t *testing.T) {
	b := loadSample(t, nil)

	_, err := New().Conformance(b, "nope")
	assert.Equal(t, ir.CodeNotFound, ir.CodeOf(err))

	_, err = New().Evaluate(b, Config{Profile: "nope"})
	assert.Equal(t, ir.CodeNotFound, ir.CodeOf(err))
}
