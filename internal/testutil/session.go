package testutil

// DefaultSessionID is what FixedSessionGenerator returns when no id is
// configured.
const DefaultSessionID = "test-session-default"

// FixedSessionGenerator returns the same session id every time.
//
// Journals written by a scenario with a fixed id are byte-identical across
// runs, which keeps golden snapshots stable. Unlike
// conversation.FixedGenerator it never runs out.
//
// Thread-safety: FixedSessionGenerator is stateless and safe for concurrent use.
type FixedSessionGenerator struct {
	id string
}

// NewFixedSessionGenerator creates a generator for id. Scenarios usually set
// it in YAML:
//
//	session_id: session-0001
//
// An empty id falls back to DefaultSessionID.
func NewFixedSessionGenerator(id string) *FixedSessionGenerator {
	if id == "" {
		id = DefaultSessionID
	}
	return &FixedSessionGenerator{id: id}
}

// Generate implements conversation.IDGenerator.
func (g *FixedSessionGenerator) Generate() string {
	return g.id
}
