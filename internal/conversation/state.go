package conversation

import (
	"slices"

	"github.com/roach88/sdd/internal/ir"
)

// Status is a conversation state.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusActive         Status = "active"
	StatusPendingChanges Status = "pendingChanges"
	StatusLinting        Status = "linting"
	StatusCommitted      Status = "committed"
	// StatusError is terminal until Abort: an apply failed in a way that
	// may have left files behind.
	StatusError Status = "error"
)

// Message roles.
const (
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleSystem = "system"
)

// Context is what a conversation is started with.
type Context struct {
	// Focus lists the entities the conversation is about.
	Focus []ir.EntityRef `json:"focus,omitempty" yaml:"focus,omitempty"`
	// Profile scopes validation feedback to a conformance profile.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`
}

func (c Context) journal() map[string]any {
	m := map[string]any{}
	if len(c.Focus) > 0 {
		focus := make([]any, len(c.Focus))
		for i, ref := range c.Focus {
			focus[i] = ref.String()
		}
		m["focus"] = focus
	}
	if c.Profile != "" {
		m["profile"] = c.Profile
	}
	return m
}

// Message is one turn of the conversation.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Commit describes the last batch committed in a session.
type Commit struct {
	Ref         string         `json:"ref"`
	ChangeSetID string         `json:"change_set_id"`
	Touched     []ir.EntityRef `json:"touched"`
}

// ConversationState is the observable state of a session.
type ConversationState struct {
	ID             string              `json:"id"`
	Status         Status              `json:"status"`
	PendingChanges []ir.ProposedChange `json:"pending_changes,omitempty"`
	Messages       []Message           `json:"messages,omitempty"`
	LastError      *ir.Error           `json:"last_error,omitempty"`
	LastCommit     *Commit             `json:"last_commit,omitempty"`
	Context        Context             `json:"context"`
}

// clone returns a deep copy that shares nothing mutable with s.
func (s ConversationState) clone() ConversationState {
	out := s
	out.PendingChanges = slices.Clone(s.PendingChanges)
	for i := range out.PendingChanges {
		out.PendingChanges[i].NewValue = ir.Normalize(out.PendingChanges[i].NewValue)
		out.PendingChanges[i].OldValue = ir.Normalize(out.PendingChanges[i].OldValue)
	}
	out.Messages = slices.Clone(s.Messages)
	out.Context.Focus = slices.Clone(s.Context.Focus)
	if s.LastError != nil {
		e := *s.LastError
		e.Diagnostics = slices.Clone(s.LastError.Diagnostics)
		out.LastError = &e
	}
	if s.LastCommit != nil {
		c := *s.LastCommit
		c.Touched = slices.Clone(s.LastCommit.Touched)
		out.LastCommit = &c
	}
	return out
}
