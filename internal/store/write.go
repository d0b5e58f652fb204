package store

import (
	"context"
	"fmt"
)

// WriteSession inserts a session row.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - rewriting a session is
// silently ignored.
func (s *Store) WriteSession(ctx context.Context, sess Session) error {
	contextJSON, err := marshalContext(sess.Context)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, bundle_path, context, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, sess.ID, sess.BundlePath, contextJSON, sess.Seq)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// WriteTransition appends a state change.
// The session must exist (foreign key constraint). A second row with the
// same (session, seq) is silently ignored.
func (s *Store) WriteTransition(ctx context.Context, tr Transition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transitions (session_id, seq, from_status, to_status, event, error_code, message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO NOTHING
	`, tr.SessionID, tr.Seq, tr.From, tr.To, tr.Event, tr.ErrorCode, tr.Message)
	if err != nil {
		return fmt.Errorf("write transition: %w", err)
	}
	return nil
}

// WriteApplyRecord appends the outcome of an accepted batch.
// The session must exist (foreign key constraint).
func (s *Store) WriteApplyRecord(ctx context.Context, rec ApplyRecord) error {
	touchedJSON, err := marshalTouched(rec.Touched)
	if err != nil {
		return fmt.Errorf("write apply record: %w", err)
	}
	diagsJSON, err := marshalDiagnostics(rec.Diagnostics)
	if err != nil {
		return fmt.Errorf("write apply record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO apply_records
		(session_id, seq, change_set_id, outcome, commit_ref, error_code, touched, diagnostics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO NOTHING
	`,
		rec.SessionID,
		rec.Seq,
		rec.ChangeSetID,
		rec.Outcome,
		rec.CommitRef,
		rec.ErrorCode,
		touchedJSON,
		diagsJSON,
	)
	if err != nil {
		return fmt.Errorf("write apply record: %w", err)
	}
	return nil
}
