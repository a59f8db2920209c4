package store

import (
	"context"
	"database/sql"
)

// SaveVersionChain persists a chain and its members in one transaction,
// replacing any previous chain with the same identity.
func (s *Store) SaveVersionChain(ctx context.Context, chain *VersionChain, members []*VersionChainMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM version_chains WHERE job_id = ? AND chain_name = ? AND base_path = ?",
			chain.JobID, chain.ChainName, chain.BasePath); err != nil {
			return storeErr("clear version chain", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO version_chains (
				job_id, chain_name, base_path, current_document_id,
				current_version_number, detection_method, detection_confidence,
				llm_reasoning, version_order_confirmed, archive_strategy, archive_path
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			chain.JobID, chain.ChainName, chain.BasePath, chain.CurrentDocumentID,
			chain.CurrentVersionNumber, chain.DetectionMethod, chain.DetectionConfidence,
			chain.LLMReasoning, chain.VersionOrderConfirmed, chain.ArchiveStrategy, chain.ArchivePath)
		if err != nil {
			return storeErr("insert version chain", err)
		}
		chain.ID, err = res.LastInsertId()
		if err != nil {
			return storeErr("version chain id", err)
		}
		for _, m := range members {
			m.ChainID = chain.ID
			res, err := tx.ExecContext(ctx, `
				INSERT INTO version_chain_members (
					chain_id, document_id, version_number, version_label, version_date,
					is_current, status, proposed_version_name, proposed_version_path
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				m.ChainID, m.DocumentID, m.VersionNumber, m.VersionLabel,
				unixOrNil(m.VersionDate), m.IsCurrent, m.Status,
				m.ProposedVersionName, m.ProposedVersionPath)
			if err != nil {
				return storeErr("insert chain member", err)
			}
			m.ID, _ = res.LastInsertId()
		}
		return nil
	})
}

// ListVersionChains returns all chains of a job with members ordered by
// version number.
func (s *Store) ListVersionChains(ctx context.Context, jobID string) ([]*VersionChain, map[int64][]*VersionChainMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, chain_name, base_path, current_document_id,
		       current_version_number, detection_method, detection_confidence,
		       llm_reasoning, version_order_confirmed, archive_strategy, archive_path
		FROM version_chains WHERE job_id = ? ORDER BY base_path, chain_name`, jobID)
	if err != nil {
		return nil, nil, storeErr("query version chains", err)
	}
	defer rows.Close()

	var chains []*VersionChain
	for rows.Next() {
		var c VersionChain
		if err := rows.Scan(&c.ID, &c.JobID, &c.ChainName, &c.BasePath,
			&c.CurrentDocumentID, &c.CurrentVersionNumber, &c.DetectionMethod,
			&c.DetectionConfidence, &c.LLMReasoning, &c.VersionOrderConfirmed,
			&c.ArchiveStrategy, &c.ArchivePath); err != nil {
			return nil, nil, storeErr("scan version chain", err)
		}
		chains = append(chains, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, storeErr("iterate version chains", err)
	}

	members := map[int64][]*VersionChainMember{}
	for _, c := range chains {
		mrows, err := s.db.QueryContext(ctx, `
			SELECT id, chain_id, document_id, version_number, version_label,
			       version_date, is_current, status, proposed_version_name, proposed_version_path
			FROM version_chain_members WHERE chain_id = ? ORDER BY version_number`, c.ID)
		if err != nil {
			return nil, nil, storeErr("query chain members", err)
		}
		for mrows.Next() {
			var m VersionChainMember
			var date sql.NullInt64
			if err := mrows.Scan(&m.ID, &m.ChainID, &m.DocumentID, &m.VersionNumber,
				&m.VersionLabel, &date, &m.IsCurrent, &m.Status,
				&m.ProposedVersionName, &m.ProposedVersionPath); err != nil {
				mrows.Close()
				return nil, nil, storeErr("scan chain member", err)
			}
			m.VersionDate = timePtr(date)
			members[c.ID] = append(members[c.ID], &m)
		}
		if err := mrows.Err(); err != nil {
			mrows.Close()
			return nil, nil, storeErr("iterate chain members", err)
		}
		mrows.Close()
	}
	return chains, members, nil
}

// DocumentInChain reports whether the document already belongs to a chain of
// this job. Enforces the one-chain-per-document invariant at resolve time.
func (s *Store) DocumentInChain(ctx context.Context, jobID string, documentID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM version_chain_members m
		JOIN version_chains c ON c.id = m.chain_id
		WHERE c.job_id = ? AND m.document_id = ?`, jobID, documentID).Scan(&n)
	if err != nil {
		return false, storeErr("query chain membership", err)
	}
	return n > 0, nil
}
