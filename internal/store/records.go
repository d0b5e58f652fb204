package store

import "github.com/roach88/sdd/internal/ir"

// Session is the journal row written when a conversation starts.
type Session struct {
	ID         string
	BundlePath string
	// Context is the caller-supplied start context, stored as JSON.
	Context map[string]any
	Seq     int64
}

// Transition is one state change of a session.
type Transition struct {
	SessionID string
	Seq       int64
	From      string
	To        string
	// Event names what caused the change: start, propose, accept, rollback, abort.
	Event     string
	ErrorCode string
	Message   string
}

// ApplyRecord is the outcome of one accepted batch.
type ApplyRecord struct {
	SessionID   string
	Seq         int64
	ChangeSetID string
	// Outcome is one of the metrics outcome labels.
	Outcome     string
	CommitRef   string
	ErrorCode   string
	Touched     []ir.EntityRef
	Diagnostics []ir.Diagnostic
}
