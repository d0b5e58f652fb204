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

func loadSample(t *testing.T, edits map[string]string) *bundle.Bundle {
	t.Helper()
	root := testutil.SampleBundle(t)
	for rel, content := range edits {
		testutil.WriteFile(t, root, rel, content)
	}
	b, err := bundle.Load(context.Background(), root)
	require.NoError(t, err)
	return b
}

func codes(diags []ir.Diagnostic) []string {
	out := make([]string, len(diags))
	for i, d := range diags {
		out[i] = d.Code
	}
	return out
}

func TestEvaluateCleanSample(t *testing.T) {
	b := loadSample(t, nil)

	diags, err := New().Evaluate(b, Config{})
	require.NoError(t, err)
	assert.Empty(t, diags)

	diags, err = New().Evaluate(b, Config{Profile: "security"})
	require.NoError(t, err)
	assert.Empty(t, diags)
}

func TestEvaluateStageOrder(t *testing.T) {
	b := loadSample(t, map[string]string{
		"bundle/features/broken.yaml": "id: broken\npriority: high\nrequirements: [REQ-404]\n",
	})

	diags, err := New().Evaluate(b, Config{})
	require.NoError(t, err)

	got := codes(diags)
	schemaAt := indexOf(got, ir.CodeSchemaViolation)
	refAt := indexOf(got, ir.CodeRefNotFound)
	requiredAt := indexOf(got, ir.CodeRequiredField)
	require.True(t, schemaAt >= 0 && refAt >= 0 && requiredAt >= 0, "codes: %v", got)
	assert.Less(t, schemaAt, refAt, "schema validation runs before reference checks")
	assert.Less(t, refAt, requiredAt, "reference checks run before custom rules")
}

func TestEvaluateNeverDeduplicates(t *testing.T) {
	// A missing title violates both the schema and the required-field rule.
	b := loadSample(t, map[string]string{
		"bundle/features/untitled.yaml": "id: untitled\nrequirements: [REQ-001]\n",
	})

	diags, err := New().Evaluate(b, Config{})
	require.NoError(t, err)

	var onEntity []string
	for _, d := range diags {
		if d.EntityID == "untitled" {
			onEntity = append(onEntity, d.Code)
		}
	}
	assert.Contains(t, onEntity, ir.CodeSchemaViolation)
	assert.Contains(t, onEntity, ir.CodeRequiredField)
}

func TestBuiltinRules(t *testing.T) {
	b := loadSample(t, map[string]string{
		"bundle/requirements/REQ-1.yaml":  "id: REQ-1\ntitle: short id\n",
		"bundle/constraints/CON-002.yaml": "id: CON-002\ntitle: unused\n",
		"bundle/adrs/ADR-002.yaml":        "id: ADR-002\ntitle: loop\nstatus: draft\nsupersedes: ADR-003\n",
		"bundle/adrs/ADR-003.yaml":        "id: ADR-003\ntitle: loop\nstatus: accepted\nsupersedes: ADR-002\n",
	})

	diags, err := New().Evaluate(b, Config{})
	require.NoError(t, err)

	byCode := map[string][]ir.Diagnostic{}
	for _, d := range diags {
		byCode[d.Code] = append(byCode[d.Code], d)
	}

	require.Len(t, byCode[ir.CodeIDPattern], 1)
	assert.Equal(t, "REQ-1", byCode[ir.CodeIDPattern][0].EntityID)

	orphans := map[string]bool{}
	for _, d := range byCode[ir.CodeOrphan] {
		orphans[d.EntityID] = true
		assert.Equal(t, ir.SeverityWarning, d.Severity)
	}
	assert.Equal(t, map[string]bool{"REQ-1": true, "CON-002": true}, orphans)

	require.Len(t, byCode[ir.CodeRefCycle], 1)
	assert.Contains(t, byCode[ir.CodeRefCycle][0].Message, "ADR:ADR-002 -> ADR:ADR-003 -> ADR:ADR-002")

	require.Len(t, byCode[ir.CodeConstraint], 1)
	c := byCode[ir.CodeConstraint][0]
	assert.Equal(t, "ADR-002", c.EntityID)
	assert.Equal(t, "adr-status: ADR status must be proposed, accepted or superseded", c.Message)
}

func TestInvalidRuleReported(t *testing.T) {
	root := testutil.SampleBundle(t)
	manifest := testutil.ReadFile(t, root, bundle.ManifestFile)
	manifest = strings.Replace(manifest, `'^REQ-[0-9]{3}$'`, `'^REQ-[0-9'`, 1)
	testutil.WriteFile(t, root, bundle.ManifestFile, manifest)

	b, err := bundle.Load(context.Background(), root)
	require.NoError(t, err)

	diags, err := New().Evaluate(b, Config{})
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, ir.CodeInvalidRule, diags[0].Code)
	assert.Contains(t, diags[0].Message, "requirement-ids")
}

type staticRule struct {
	name  string
	diags []ir.Diagnostic
}

func (r staticRule) Name() string                          { return r.name }
func (r staticRule) Evaluate(*bundle.Bundle) []ir.Diagnostic { return r.diags }

func TestRegisteredRulesRunAfterManifestRules(t *testing.T) {
	b := loadSample(t, map[string]string{
		"bundle/features/untitled.yaml": "id: untitled\ntitle: \"\"\nrequirements: [REQ-001]\n",
	})
	custom := ir.Diagnostic{Severity: ir.SeverityInfo, Code: "custom", Message: "hello"}

	e := New(WithRules(staticRule{name: "first"}))
	e.Register(staticRule{name: "second", diags: []ir.Diagnostic{custom}})

	diags, err := e.Evaluate(b, Config{})
	require.NoError(t, err)
	require.NotEmpty(t, diags)
	assert.Equal(t, custom, diags[len(diags)-1])
	assert.Equal(t, ir.CodeRequiredField, diags[len(diags)-2].Code)
}

func TestEvaluateIsPure(t *testing.T) {
	b := loadSample(t, map[string]string{
		"bundle/features/broken.yaml": "id: broken\nrequirements: [ADR-001]\n",
	})
	before := b.List()[0].Data.Clone()

	e := New()
	first, err := e.Evaluate(b, Config{Profile: "security"})
	require.NoError(t, err)
	second, err := e.Evaluate(b, Config{Profile: "security"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, b.List()[0].Data)
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
