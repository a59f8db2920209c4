package store

import (
	"context"
	"database/sql"
	"time"
)

// AppendExecutionLog records one executor operation. The log is append-only
// within a job.
func (s *Store) AppendExecutionLog(ctx context.Context, e *ExecutionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now().UTC()
	}
	var docID any
	if e.DocumentID != nil {
		docID = *e.DocumentID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_log (
			job_id, operation, source_path, target_path, document_id,
			success, error_message, duration_ms, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.JobID, e.Operation, e.SourcePath, e.TargetPath, docID,
		e.Success, e.ErrorMessage, e.DurationMS, e.ExecutedAt.Unix())
	if err != nil {
		return storeErr("append execution log", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// ListExecutionLog returns a job's operations in execution order.
func (s *Store) ListExecutionLog(ctx context.Context, jobID string) ([]*ExecutionLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, operation, source_path, target_path, document_id,
		       success, error_message, duration_ms, executed_at
		FROM execution_log WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, storeErr("query execution log", err)
	}
	defer rows.Close()

	var entries []*ExecutionLogEntry
	for rows.Next() {
		var e ExecutionLogEntry
		var docID sql.NullInt64
		var executed int64
		if err := rows.Scan(&e.ID, &e.JobID, &e.Operation, &e.SourcePath,
			&e.TargetPath, &docID, &e.Success, &e.ErrorMessage,
			&e.DurationMS, &executed); err != nil {
			return nil, storeErr("scan execution log", err)
		}
		if docID.Valid {
			e.DocumentID = &docID.Int64
		}
		e.ExecutedAt = time.Unix(executed, 0).UTC()
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate execution log", err)
	}
	return entries, nil
}

// SaveShortcut records one shortcut written in place of a duplicate.
func (s *Store) SaveShortcut(ctx context.Context, r *ShortcutRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO shortcut_records (
			job_id, document_id, shortcut_path, target_path,
			shortcut_type, original_path, original_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.JobID, r.DocumentID, r.ShortcutPath, r.TargetPath,
		r.ShortcutType, r.OriginalPath, r.OriginalHash)
	if err != nil {
		return storeErr("insert shortcut", err)
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// ListShortcuts returns a job's shortcut records.
func (s *Store) ListShortcuts(ctx context.Context, jobID string) ([]*ShortcutRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, document_id, shortcut_path, target_path,
		       shortcut_type, original_path, original_hash
		FROM shortcut_records WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, storeErr("query shortcuts", err)
	}
	defer rows.Close()

	var records []*ShortcutRecord
	for rows.Next() {
		var r ShortcutRecord
		if err := rows.Scan(&r.ID, &r.JobID, &r.DocumentID, &r.ShortcutPath,
			&r.TargetPath, &r.ShortcutType, &r.OriginalPath, &r.OriginalHash); err != nil {
			return nil, storeErr("scan shortcut", err)
		}
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate shortcuts", err)
	}
	return records, nil
}

// ClearExecutionState removes a job's shortcut records and execution log.
// Part of the rollback path together with ResetDocumentsForRollback.
func (s *Store) ClearExecutionState(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM shortcut_records WHERE job_id = ?", jobID); err != nil {
			return storeErr("clear shortcuts", err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM execution_log WHERE job_id = ?", jobID); err != nil {
			return storeErr("clear execution log", err)
		}
		return nil
	})
}
