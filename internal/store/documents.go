package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const documentColumns = `
	id, job_id, file_id, current_name, current_path, extension, file_size,
	mime_type, content_hash, source_mtime, summary, document_type, key_topics,
	proposed_name, proposed_path, proposed_tags, reasoning, final_name,
	final_path, status, error_message, changes_applied, is_deleted`

// UpsertDocument inserts a document item or, when (job_id, file_id) already
// exists, refreshes its indexed fields. The upsert keeps re-runs of the
// indexing phase idempotent.
func (s *Store) UpsertDocument(ctx context.Context, d *DocumentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.Status == "" {
		d.Status = ItemDiscovered
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO document_items (
			job_id, file_id, current_name, current_path, extension, file_size,
			mime_type, content_hash, source_mtime, summary, document_type,
			key_topics, proposed_tags, reasoning, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, file_id) DO UPDATE SET
			current_name = excluded.current_name,
			current_path = excluded.current_path,
			extension = excluded.extension,
			file_size = excluded.file_size,
			mime_type = excluded.mime_type,
			content_hash = excluded.content_hash,
			source_mtime = excluded.source_mtime,
			summary = excluded.summary,
			document_type = excluded.document_type,
			key_topics = excluded.key_topics,
			status = excluded.status,
			error_message = excluded.error_message`,
		d.JobID, d.FileID, d.CurrentName, d.CurrentPath, d.Extension, d.FileSize,
		d.MimeType, d.ContentHash, d.SourceMtime.Unix(), d.Summary, d.DocumentType,
		marshalStrings(d.KeyTopics), marshalStrings(d.ProposedTags), d.Reasoning,
		d.Status, d.ErrorMessage,
	)
	if err != nil {
		return storeErr("upsert document", err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		d.ID = id
	}
	if d.ID == 0 {
		row := s.db.QueryRowContext(ctx,
			"SELECT id FROM document_items WHERE job_id = ? AND file_id = ?", d.JobID, d.FileID)
		if err := row.Scan(&d.ID); err != nil {
			return storeErr("resolve document id", err)
		}
	}
	return nil
}

func scanDocument(row rowScanner) (*DocumentItem, error) {
	var d DocumentItem
	var mtime int64
	var topics, tags string
	var propName, propPath sql.NullString
	err := row.Scan(&d.ID, &d.JobID, &d.FileID, &d.CurrentName, &d.CurrentPath,
		&d.Extension, &d.FileSize, &d.MimeType, &d.ContentHash, &mtime, &d.Summary,
		&d.DocumentType, &topics, &propName, &propPath, &tags, &d.Reasoning,
		&d.FinalName, &d.FinalPath, &d.Status, &d.ErrorMessage, &d.ChangesApplied, &d.IsDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("scan document", err)
	}
	d.SourceMtime = time.Unix(mtime, 0).UTC()
	d.KeyTopics = unmarshalStrings(topics)
	d.ProposedTags = unmarshalStrings(tags)
	if propName.Valid {
		d.ProposedName = &propName.String
	}
	if propPath.Valid {
		d.ProposedPath = &propPath.String
	}
	return &d, nil
}

// GetDocument fetches one document by surrogate id.
func (s *Store) GetDocument(ctx context.Context, id int64) (*DocumentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT"+documentColumns+" FROM document_items WHERE id = ?", id)
	return scanDocument(row)
}

// ListDocuments returns all documents of a job ordered by path.
func (s *Store) ListDocuments(ctx context.Context, jobID string) ([]*DocumentItem, error) {
	return s.listDocuments(ctx,
		"SELECT"+documentColumns+" FROM document_items WHERE job_id = ? ORDER BY current_path, current_name", jobID)
}

// ListDocumentsByStatus returns a job's documents in one status.
func (s *Store) ListDocumentsByStatus(ctx context.Context, jobID string, status ItemStatus) ([]*DocumentItem, error) {
	return s.listDocuments(ctx,
		"SELECT"+documentColumns+" FROM document_items WHERE job_id = ? AND status = ? ORDER BY current_path, current_name",
		jobID, status)
}

// ListPlanningSet returns the items the organization planner operates on:
// not deleted, not shortcut-replaced duplicates, not archived versions.
func (s *Store) ListPlanningSet(ctx context.Context, jobID string) ([]*DocumentItem, error) {
	return s.listDocuments(ctx, `
		SELECT`+documentColumns+` FROM document_items d
		WHERE d.job_id = ?
		  AND d.is_deleted = 0
		  AND d.status NOT IN ('error', 'skipped')
		  AND NOT EXISTS (
			SELECT 1 FROM duplicate_members m
			JOIN duplicate_groups g ON g.id = m.group_id
			WHERE g.job_id = d.job_id AND m.document_id = d.id
			  AND m.action IN ('shortcut', 'delete'))
		  AND NOT EXISTS (
			SELECT 1 FROM version_chain_members v
			JOIN version_chains c ON c.id = v.chain_id
			WHERE c.job_id = d.job_id AND v.document_id = d.id AND v.is_current = 0)
		ORDER BY d.current_path, d.current_name`, jobID)
}

// ListVersionCandidates returns the items the version resolver may chain:
// not deleted and not already replaced by a shortcut or delete decision.
func (s *Store) ListVersionCandidates(ctx context.Context, jobID string) ([]*DocumentItem, error) {
	return s.listDocuments(ctx, `
		SELECT`+documentColumns+` FROM document_items d
		WHERE d.job_id = ?
		  AND d.is_deleted = 0
		  AND d.status NOT IN ('error', 'skipped')
		  AND NOT EXISTS (
			SELECT 1 FROM duplicate_members m
			JOIN duplicate_groups g ON g.id = m.group_id
			WHERE g.job_id = d.job_id AND m.document_id = d.id
			  AND m.action IN ('shortcut', 'delete'))
		ORDER BY d.current_path, d.current_name`, jobID)
}

func (s *Store) listDocuments(ctx context.Context, query string, args ...any) ([]*DocumentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query documents", err)
	}
	defer rows.Close()

	var docs []*DocumentItem
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate documents", err)
	}
	return docs, nil
}

// UpdateDocumentStatus moves one document to a new status, recording the
// error message for status=error.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id int64, status ItemStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE document_items SET status = ?, error_message = ? WHERE id = ?",
		status, errMsg, id)
	if err != nil {
		return storeErr("update document status", err)
	}
	return nil
}

// UpdateDocumentProposal writes the planner's proposed fields for one item.
// Passing nil name and path marks the item explicitly unchanged.
func (s *Store) UpdateDocumentProposal(ctx context.Context, id int64, name, path *string, tags []string, reasoning string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE document_items
		SET proposed_name = ?, proposed_path = ?, proposed_tags = ?, reasoning = ?, status = 'organized'
		WHERE id = ?`,
		name, path, marshalStrings(tags), reasoning, id)
	if err != nil {
		return storeErr("update document proposal", err)
	}
	return nil
}

// MarkDocumentApplied records the executed final location of one item.
func (s *Store) MarkDocumentApplied(ctx context.Context, id int64, finalName, finalPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE document_items
		SET final_name = ?, final_path = ?, status = 'applied', changes_applied = 1
		WHERE id = ?`,
		finalName, finalPath, id)
	if err != nil {
		return storeErr("mark document applied", err)
	}
	return nil
}

// MarkDocumentDeleted flags an item as removed by the duplicate resolver.
func (s *Store) MarkDocumentDeleted(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"UPDATE document_items SET is_deleted = 1 WHERE id = ?", id); err != nil {
		return storeErr("mark document deleted", err)
	}
	return nil
}

// ResetDocumentsForRollback returns applied items to the organized state and
// clears their execution outcome. Used by the idempotent rollback path.
func (s *Store) ResetDocumentsForRollback(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE document_items
		SET status = 'organized', final_name = '', final_path = '', changes_applied = 0
		WHERE job_id = ? AND status IN ('pending_apply', 'applying', 'applied')`,
		jobID)
	if err != nil {
		return storeErr("reset documents", err)
	}
	return nil
}

// CountDocumentsByStatus returns a status histogram for one job.
func (s *Store) CountDocumentsByStatus(ctx context.Context, jobID string) (map[ItemStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM document_items WHERE job_id = ? GROUP BY status", jobID)
	if err != nil {
		return nil, storeErr("count documents", err)
	}
	defer rows.Close()

	counts := map[ItemStatus]int{}
	for rows.Next() {
		var st ItemStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, storeErr("scan count", err)
		}
		counts[st] = n
	}
	return counts, rows.Err()
}
