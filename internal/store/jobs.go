package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"git.home.luguber.info/inful/driveorg/internal/faults"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// CreateJob inserts a new pending job.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.Status == "" {
		job.Status = JobPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, current_phase, source_archive, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.Status, job.CurrentPhase, job.SourceArchive, job.CreatedAt.Unix(),
	)
	if err != nil {
		return storeErr("insert job", err)
	}
	return nil
}

// GetJob fetches one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, current_phase, progress, source_archive, output_archive,
		       files_processed, duplicates_found, shortcuts_created, version_chains_found,
		       files_renamed, files_moved, error_message, created_at, started_at, completed_at
		FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var created int64
	var started, completed sql.NullInt64
	err := row.Scan(&j.ID, &j.Status, &j.CurrentPhase, &j.Progress, &j.SourceArchive,
		&j.OutputArchive, &j.FilesProcessed, &j.DuplicatesFound, &j.ShortcutsCreated,
		&j.VersionChainsFound, &j.FilesRenamed, &j.FilesMoved, &j.ErrorMessage,
		&created, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("scan job", err)
	}
	j.CreatedAt = time.Unix(created, 0).UTC()
	j.StartedAt = timePtr(started)
	j.CompletedAt = timePtr(completed)
	return &j, nil
}

// ListJobs returns jobs ordered newest first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status JobStatus, limit int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, status, current_phase, progress, source_archive, output_archive,
		       files_processed, duplicates_found, shortcuts_created, version_chains_found,
		       files_renamed, files_moved, error_message, created_at, started_at, completed_at
		FROM jobs`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query jobs", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate jobs", err)
	}
	return jobs, nil
}

// TransitionJob atomically moves a job from one status to another and updates
// the current phase. It fails with faults.ErrConflict when the job is not in
// the expected status, which makes phase transitions safe against races.
func (s *Store) TransitionJob(ctx context.Context, id string, from, to JobStatus, phase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Unix()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, current_phase = ?,
			started_at = COALESCE(started_at, ?),
			completed_at = CASE WHEN ? IN ('completed','failed','cancelled') THEN ? ELSE completed_at END
		WHERE id = ? AND status = ?`,
		to, phase, now, to, now, id, from)
	if err != nil {
		return storeErr("transition job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("transition job", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s not in status %s: %w", id, from, faults.ErrConflict)
	}
	return nil
}

// FailJob marks a job failed (or cancelled) with an error message, from any
// non-terminal status.
func (s *Store) FailJob(ctx context.Context, id string, status JobStatus, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status NOT IN ('completed','failed','cancelled')`,
		status, msg, now, id)
	if err != nil {
		return storeErr("fail job", err)
	}
	return nil
}

// UpdateJobProgress sets the 0-100 progress value.
func (s *Store) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := s.db.ExecContext(ctx, "UPDATE jobs SET progress = ? WHERE id = ?", progress, id)
	if err != nil {
		return storeErr("update progress", err)
	}
	return nil
}

// UpdateJobCounters overwrites the job counters.
func (s *Store) UpdateJobCounters(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET files_processed = ?, duplicates_found = ?, shortcuts_created = ?,
			version_chains_found = ?, files_renamed = ?, files_moved = ?, output_archive = ?
		WHERE id = ?`,
		job.FilesProcessed, job.DuplicatesFound, job.ShortcutsCreated,
		job.VersionChainsFound, job.FilesRenamed, job.FilesMoved, job.OutputArchive, job.ID)
	if err != nil {
		return storeErr("update counters", err)
	}
	return nil
}

// PurgeJob deletes a job and, through cascading foreign keys, everything it owns.
func (s *Store) PurgeJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id); err != nil {
		return storeErr("purge job", err)
	}
	return nil
}

// PurgeCompletedBefore removes terminal jobs whose completion predates cutoff.
// Used by the serve-mode retention sweep.
func (s *Store) PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed','failed','cancelled') AND completed_at < ?`,
		cutoff.Unix())
	if err != nil {
		return 0, storeErr("purge completed jobs", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
