// Package store provides the SQLite-backed session journal.
//
// The journal is an append-only audit trail of conversation sessions:
//   - Sessions: one row per started conversation
//   - Transitions: every state change of a session
//   - Apply records: every accepted batch and its outcome
//
// It is an audit aid only. Bundle state lives in the bundle files and
// version control; diagnostics and reference graphs are never persisted.
//
// # Ordering
//
// Rows are ordered by seq, a logical clock assigned by the caller, never by
// wall time. Every read orders by seq ASC, then id, so replaying a session
// yields identical results.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
