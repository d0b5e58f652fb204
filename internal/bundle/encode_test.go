package bundle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sdd/internal/ir"
)

func TestEncodePreservesOrder(t *testing.T) {
	previous := []byte(`# Decision record
id: ADR-001
title: Use server-side sessions # short
status: accepted
meta:
  zeta: 1
  alpha: 2
`)
	doc, err := DecodeDocument(previous)
	require.NoError(t, err)
	doc["status"] = "superseded"
	doc["owner"] = "platform"
	doc["checked"] = true
	require.NoError(t, doc.Set("meta.beta", 3))

	out, err := Encode(doc, previous)
	require.NoError(t, err)

	assert.Equal(t, `# Decision record
id: ADR-001
title: Use server-side sessions # short
status: superseded
meta:
  zeta: 1
  alpha: 2
  beta: 3
checked: true
owner: platform
`, string(out))
}

func TestEncodeWithoutPrevious(t *testing.T) {
	out, err := Encode(ir.Document{
		"title":        "Login",
		"id":           "auth-login",
		"requirements": []any{"REQ-001"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "id: auth-login\nrequirements:\n  - REQ-001\ntitle: Login\n", string(out))
}

func TestEncodeRoundTrip(t *testing.T) {
	previous := []byte("id: x\ntitle: hello\ncount: 3\ntags:\n  - a\n  - b\n")
	doc, err := DecodeDocument(previous)
	require.NoError(t, err)

	out, err := Encode(doc, previous)
	require.NoError(t, err)
	assert.Equal(t, string(previous), string(out), "unchanged document must serialize byte-identically")
}

func TestEncodeDropsRemovedKeys(t *testing.T) {
	previous := []byte("id: x\ndraft: true\ntitle: t\n")
	doc, err := DecodeDocument(previous)
	require.NoError(t, err)
	_, err = doc.Unset("draft")
	require.NoError(t, err)

	out, err := Encode(doc, previous)
	require.NoError(t, err)
	assert.Equal(t, "id: x\ntitle: t\n", string(out))
}

func TestLastModified(t *testing.T) {
	mtime := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		data ir.Document
		want time.Time
	}{
		{"updatedAt wins", ir.Document{"updatedAt": "2024-05-01T10:00:00Z", "date": "2023-01-01"}, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"date only", ir.Document{"date": "2023-01-02"}, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"unparseable skipped", ir.Document{"updatedAt": "yesterday", "updated": "2022-03-04 05:06:07"}, time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC)},
		{"file mtime fallback", ir.Document{"title": "x"}, mtime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &ir.Entity{Type: "Feature", ID: "x", Data: tt.data, ModTime: mtime}
			assert.True(t, tt.want.Equal(LastModified(e)), "got %v", LastModified(e))
		})
	}
}
