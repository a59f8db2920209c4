package store

import (
	"context"
	"database/sql"
)

// DuplicateSet groups the documents of a job sharing one content hash.
type DuplicateSet struct {
	ContentHash string
	Documents   []*DocumentItem
}

// FindDuplicateSets returns, per content hash, the documents that appear more
// than once in a job, ignoring empty hashes and files below minSize bytes.
func (s *Store) FindDuplicateSets(ctx context.Context, jobID string, minSize int64) ([]DuplicateSet, error) {
	hashes, err := s.duplicateHashes(ctx, jobID, minSize)
	if err != nil {
		return nil, err
	}

	var sets []DuplicateSet
	for _, h := range hashes {
		docs, err := s.listDocuments(ctx,
			"SELECT"+documentColumns+" FROM document_items WHERE job_id = ? AND content_hash = ? ORDER BY current_path",
			jobID, h)
		if err != nil {
			return nil, err
		}
		sets = append(sets, DuplicateSet{ContentHash: h, Documents: docs})
	}
	return sets, nil
}

func (s *Store) duplicateHashes(ctx context.Context, jobID string, minSize int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash FROM document_items
		WHERE job_id = ? AND content_hash != '' AND file_size >= ? AND is_deleted = 0
		GROUP BY content_hash HAVING COUNT(*) > 1
		ORDER BY content_hash`, jobID, minSize)
	if err != nil {
		return nil, storeErr("query duplicate hashes", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, storeErr("scan hash", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate hashes", err)
	}
	return hashes, nil
}

// SaveDuplicateGroup persists a resolved group and its members in one
// transaction, replacing any previous resolution for the same hash.
func (s *Store) SaveDuplicateGroup(ctx context.Context, group *DuplicateGroup, members []*DuplicateMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM duplicate_groups WHERE job_id = ? AND content_hash = ?",
			group.JobID, group.ContentHash); err != nil {
			return storeErr("clear duplicate group", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO duplicate_groups (
				job_id, content_hash, file_count, total_size,
				primary_document_id, decision_reasoning, decided_by
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			group.JobID, group.ContentHash, group.FileCount, group.TotalSize,
			group.PrimaryDocumentID, group.DecisionReasoning, group.DecidedBy)
		if err != nil {
			return storeErr("insert duplicate group", err)
		}
		group.ID, err = res.LastInsertId()
		if err != nil {
			return storeErr("duplicate group id", err)
		}
		for _, m := range members {
			m.GroupID = group.ID
			res, err := tx.ExecContext(ctx, `
				INSERT INTO duplicate_members (
					group_id, document_id, is_primary, action,
					action_reasoning, shortcut_target_path
				) VALUES (?, ?, ?, ?, ?, ?)`,
				m.GroupID, m.DocumentID, m.IsPrimary, m.Action,
				m.ActionReasoning, m.ShortcutTargetPath)
			if err != nil {
				return storeErr("insert duplicate member", err)
			}
			m.ID, _ = res.LastInsertId()
		}
		return nil
	})
}

// ListDuplicateGroups returns all groups of a job with their members.
func (s *Store) ListDuplicateGroups(ctx context.Context, jobID string) ([]*DuplicateGroup, map[int64][]*DuplicateMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, content_hash, file_count, total_size,
		       primary_document_id, decision_reasoning, decided_by
		FROM duplicate_groups WHERE job_id = ? ORDER BY content_hash`, jobID)
	if err != nil {
		return nil, nil, storeErr("query duplicate groups", err)
	}
	defer rows.Close()

	var groups []*DuplicateGroup
	for rows.Next() {
		var g DuplicateGroup
		if err := rows.Scan(&g.ID, &g.JobID, &g.ContentHash, &g.FileCount,
			&g.TotalSize, &g.PrimaryDocumentID, &g.DecisionReasoning, &g.DecidedBy); err != nil {
			return nil, nil, storeErr("scan duplicate group", err)
		}
		groups = append(groups, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, storeErr("iterate duplicate groups", err)
	}

	members := map[int64][]*DuplicateMember{}
	for _, g := range groups {
		mrows, err := s.db.QueryContext(ctx, `
			SELECT id, group_id, document_id, is_primary, action,
			       action_reasoning, shortcut_target_path
			FROM duplicate_members WHERE group_id = ? ORDER BY id`, g.ID)
		if err != nil {
			return nil, nil, storeErr("query duplicate members", err)
		}
		for mrows.Next() {
			var m DuplicateMember
			if err := mrows.Scan(&m.ID, &m.GroupID, &m.DocumentID, &m.IsPrimary,
				&m.Action, &m.ActionReasoning, &m.ShortcutTargetPath); err != nil {
				mrows.Close()
				return nil, nil, storeErr("scan duplicate member", err)
			}
			members[g.ID] = append(members[g.ID], &m)
		}
		if err := mrows.Err(); err != nil {
			mrows.Close()
			return nil, nil, storeErr("iterate duplicate members", err)
		}
		mrows.Close()
	}
	return groups, members, nil
}
