package store

import (
	"context"
	"database/sql"
)

// PlanAssignment is one document's proposed disposition. Nil Name and Path
// mean the file stays where it is.
type PlanAssignment struct {
	DocumentID int64
	Name       *string
	Path       *string
	Tags       []string
	Reasoning  string
}

// PlanArtifacts bundles everything one planning batch produces.
type PlanArtifacts struct {
	BatchID     string
	Schemas     []*NamingSchema
	Taxonomy    []*TagTaxonomy // must arrive parents-before-children
	Directories []*DirectoryStructure
	Assignments []*PlanAssignment
}

// SavePlan persists all planning artifacts and per-document assignments in a
// single transaction, replacing
// any previous batch for the job. Taxonomy rows are expected in topological
// order and directories ordered by depth so referential checks done by the
// planner hold in the database too.
func (s *Store) SavePlan(ctx context.Context, jobID string, plan *PlanArtifacts) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"naming_schemas", "tag_taxonomy", "directory_structure"} {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM "+table+" WHERE job_id = ?", jobID); err != nil {
				return storeErr("clear plan artifacts", err)
			}
		}
		for _, ns := range plan.Schemas {
			ns.JobID, ns.BatchID = jobID, plan.BatchID
			if ns.SchemaVersion == 0 {
				ns.SchemaVersion = 1
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO naming_schemas (
					job_id, batch_id, document_type, naming_pattern,
					example, description, placeholders, schema_version
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				ns.JobID, ns.BatchID, ns.DocumentType, ns.NamingPattern,
				ns.Example, ns.Description, marshalStringMap(ns.Placeholders), ns.SchemaVersion)
			if err != nil {
				return storeErr("insert naming schema", err)
			}
			ns.ID, _ = res.LastInsertId()
		}
		for _, tag := range plan.Taxonomy {
			tag.JobID, tag.BatchID = jobID, plan.BatchID
			res, err := tx.ExecContext(ctx, `
				INSERT INTO tag_taxonomy (
					job_id, batch_id, tag_name, parent_tag, description, usage_count
				) VALUES (?, ?, ?, ?, ?, ?)`,
				tag.JobID, tag.BatchID, tag.TagName, tag.ParentTag, tag.Description, tag.UsageCount)
			if err != nil {
				return storeErr("insert taxonomy tag", err)
			}
			tag.ID, _ = res.LastInsertId()
		}
		for _, dir := range plan.Directories {
			dir.JobID, dir.BatchID = jobID, plan.BatchID
			res, err := tx.ExecContext(ctx, `
				INSERT INTO directory_structure (
					job_id, batch_id, path, folder_name, parent_path, depth,
					purpose, expected_tags, expected_document_types
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				dir.JobID, dir.BatchID, dir.Path, dir.FolderName, dir.ParentPath,
				dir.Depth, dir.Purpose, marshalStrings(dir.ExpectedTags),
				marshalStrings(dir.ExpectedDocumentTypes))
			if err != nil {
				return storeErr("insert directory", err)
			}
			dir.ID, _ = res.LastInsertId()
		}
		for _, a := range plan.Assignments {
			if _, err := tx.ExecContext(ctx, `
				UPDATE document_items
				SET proposed_name = ?, proposed_path = ?, proposed_tags = ?,
				    reasoning = ?, status = 'organized'
				WHERE id = ?`,
				a.Name, a.Path, marshalStrings(a.Tags), a.Reasoning, a.DocumentID); err != nil {
				return storeErr("apply assignment", err)
			}
		}
		return nil
	})
}

// LoadPlan reads the current planning batch of a job.
func (s *Store) LoadPlan(ctx context.Context, jobID string) (*PlanArtifacts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan := &PlanArtifacts{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, document_type, naming_pattern, example,
		       description, placeholders, schema_version
		FROM naming_schemas WHERE job_id = ? ORDER BY document_type`, jobID)
	if err != nil {
		return nil, storeErr("query naming schemas", err)
	}
	for rows.Next() {
		var ns NamingSchema
		var placeholders string
		if err := rows.Scan(&ns.ID, &ns.BatchID, &ns.DocumentType, &ns.NamingPattern,
			&ns.Example, &ns.Description, &placeholders, &ns.SchemaVersion); err != nil {
			rows.Close()
			return nil, storeErr("scan naming schema", err)
		}
		ns.JobID = jobID
		ns.Placeholders = unmarshalStringMap(placeholders)
		plan.BatchID = ns.BatchID
		plan.Schemas = append(plan.Schemas, &ns)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, storeErr("iterate naming schemas", err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, batch_id, tag_name, parent_tag, description, usage_count
		FROM tag_taxonomy WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, storeErr("query taxonomy", err)
	}
	for rows.Next() {
		var tag TagTaxonomy
		var parent sql.NullString
		if err := rows.Scan(&tag.ID, &tag.BatchID, &tag.TagName, &parent,
			&tag.Description, &tag.UsageCount); err != nil {
			rows.Close()
			return nil, storeErr("scan taxonomy tag", err)
		}
		tag.JobID = jobID
		if parent.Valid {
			tag.ParentTag = &parent.String
		}
		plan.BatchID = tag.BatchID
		plan.Taxonomy = append(plan.Taxonomy, &tag)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, storeErr("iterate taxonomy", err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, batch_id, path, folder_name, parent_path, depth,
		       purpose, expected_tags, expected_document_types
		FROM directory_structure WHERE job_id = ? ORDER BY depth, path`, jobID)
	if err != nil {
		return nil, storeErr("query directories", err)
	}
	for rows.Next() {
		var dir DirectoryStructure
		var tags, types string
		if err := rows.Scan(&dir.ID, &dir.BatchID, &dir.Path, &dir.FolderName,
			&dir.ParentPath, &dir.Depth, &dir.Purpose, &tags, &types); err != nil {
			rows.Close()
			return nil, storeErr("scan directory", err)
		}
		dir.JobID = jobID
		dir.ExpectedTags = unmarshalStrings(tags)
		dir.ExpectedDocumentTypes = unmarshalStrings(types)
		plan.BatchID = dir.BatchID
		plan.Directories = append(plan.Directories, &dir)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, storeErr("iterate directories", err)
	}
	rows.Close()

	return plan, nil
}
