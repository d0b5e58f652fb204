package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ReadSession retrieves a session by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	var contextJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, bundle_path, context, seq
		FROM sessions
		WHERE id = ?
	`, id).Scan(&sess.ID, &sess.BundlePath, &contextJSON, &sess.Seq)
	if err != nil {
		return Session{}, err
	}
	if sess.Context, err = unmarshalContext(contextJSON); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// ReadTransitions returns every transition of a session ordered by seq.
// Returns an empty slice (not nil) if the session has none.
func (s *Store) ReadTransitions(ctx context.Context, sessionID string) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq, from_status, to_status, event, error_code, message
		FROM transitions
		WHERE session_id = ?
		ORDER BY seq ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	transitions := []Transition{}
	for rows.Next() {
		var tr Transition
		if err := rows.Scan(&tr.SessionID, &tr.Seq, &tr.From, &tr.To, &tr.Event, &tr.ErrorCode, &tr.Message); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		transitions = append(transitions, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return transitions, nil
}

// ReadApplyRecords returns every apply record of a session ordered by seq.
// Returns an empty slice (not nil) if the session has none.
func (s *Store) ReadApplyRecords(ctx context.Context, sessionID string) ([]ApplyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq, change_set_id, outcome, commit_ref, error_code, touched, diagnostics
		FROM apply_records
		WHERE session_id = ?
		ORDER BY seq ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query apply records: %w", err)
	}
	defer rows.Close()

	records := []ApplyRecord{}
	for rows.Next() {
		rec, err := scanApplyRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate apply records: %w", err)
	}
	return records, nil
}

// FindApplyRecords returns every record of a change set across sessions,
// ordered by session, then seq.
func (s *Store) FindApplyRecords(ctx context.Context, changeSetID string) ([]ApplyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq, change_set_id, outcome, commit_ref, error_code, touched, diagnostics
		FROM apply_records
		WHERE change_set_id = ?
		ORDER BY session_id COLLATE BINARY ASC, seq ASC
	`, changeSetID)
	if err != nil {
		return nil, fmt.Errorf("query apply records: %w", err)
	}
	defer rows.Close()

	records := []ApplyRecord{}
	for rows.Next() {
		rec, err := scanApplyRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate apply records: %w", err)
	}
	return records, nil
}

// LastSeq returns the highest seq journaled for a session, or 0.
func (s *Store) LastSeq(ctx context.Context, sessionID string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM (
			SELECT seq FROM sessions WHERE id = ?
			UNION ALL SELECT seq FROM transitions WHERE session_id = ?
			UNION ALL SELECT seq FROM apply_records WHERE session_id = ?
		)
	`, sessionID, sessionID, sessionID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

func scanApplyRecord(rows *sql.Rows) (ApplyRecord, error) {
	var rec ApplyRecord
	var touchedJSON, diagsJSON string
	if err := rows.Scan(&rec.SessionID, &rec.Seq, &rec.ChangeSetID, &rec.Outcome, &rec.CommitRef, &rec.ErrorCode, &touchedJSON, &diagsJSON); err != nil {
		return ApplyRecord{}, fmt.Errorf("scan apply record: %w", err)
	}
	var err error
	if rec.Touched, err = unmarshalTouched(touchedJSON); err != nil {
		return ApplyRecord{}, err
	}
	if rec.Diagnostics, err = unmarshalDiagnostics(diagsJSON); err != nil {
		return ApplyRecord{}, err
	}
	return rec, nil
}
