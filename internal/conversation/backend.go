package conversation

import (
	"context"

	"github.com/roach88/sdd/internal/ir"
)

// AgentBackend is the external actor a conversation talks to. It is
// consumed here, never implemented.
type AgentBackend interface {
	// SendMessage delivers text with the session's current state and
	// returns the reply, which may propose changes.
	SendMessage(ctx context.Context, state ConversationState, text string) (Reply, error)
}

// Reply is an agent turn.
type Reply struct {
	Text    string              `json:"text"`
	Changes []ir.ProposedChange `json:"changes,omitempty"`
}

// BackendFunc adapts a function to AgentBackend.
type BackendFunc func(ctx context.Context, state ConversationState, text string) (Reply, error)

// SendMessage implements AgentBackend.
func (f BackendFunc) SendMessage(ctx context.Context, state ConversationState, text string) (Reply, error) {
	return f(ctx, state, text)
}
