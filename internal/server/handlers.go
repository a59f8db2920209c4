package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/driveorg/internal/faults"
	"git.home.luguber.info/inful/driveorg/internal/logfields"
	"git.home.luguber.info/inful/driveorg/internal/store"
	"git.home.luguber.info/inful/driveorg/internal/version"
)

// JobResponse is the API view of a job.
type JobResponse struct {
	ID                 string     `json:"id"`
	Status             string     `json:"status"`
	CurrentPhase       string     `json:"current_phase,omitempty"`
	Progress           int        `json:"progress"`
	SourceArchive      string     `json:"source_archive"`
	OutputArchive      string     `json:"output_archive,omitempty"`
	FilesProcessed     int        `json:"files_processed"`
	DuplicatesFound    int        `json:"duplicates_found"`
	ShortcutsCreated   int        `json:"shortcuts_created"`
	VersionChainsFound int        `json:"version_chains_found"`
	FilesRenamed       int        `json:"files_renamed"`
	FilesMoved         int        `json:"files_moved"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// ErrorResponse is the API error envelope.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse is the health check envelope.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Uptime    float64   `json:"uptime_seconds"`
	Timestamp time.Time `json:"timestamp"`
}

type submitRequest struct {
	ArchivePath string `json:"archive_path"`
}

func toJobResponse(j *store.Job) JobResponse {
	return JobResponse{
		ID:                 j.ID,
		Status:             string(j.Status),
		CurrentPhase:       j.CurrentPhase,
		Progress:           j.Progress,
		SourceArchive:      j.SourceArchive,
		OutputArchive:      j.OutputArchive,
		FilesProcessed:     j.FilesProcessed,
		DuplicatesFound:    j.DuplicatesFound,
		ShortcutsCreated:   j.ShortcutsCreated,
		VersionChainsFound: j.VersionChainsFound,
		FilesRenamed:       j.FilesRenamed,
		FilesMoved:         j.FilesMoved,
		ErrorMessage:       j.ErrorMessage,
		CreatedAt:          j.CreatedAt,
		StartedAt:          j.StartedAt,
		CompletedAt:        j.CompletedAt,
	}
}

// handleSubmit accepts either a JSON body naming a server-side archive path
// or a raw ZIP upload, creates a job and starts processing in the background.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	archivePath, err := s.resolveArchive(r)
	if err != nil {
		writeFault(w, err)
		return
	}

	job, err := s.jobs.Submit(r.Context(), archivePath)
	if err != nil {
		writeFault(w, err)
		return
	}
	go func() {
		if err := s.jobs.Process(context.Background(), job.ID); err != nil {
			slog.Error("Job processing failed", logfields.JobID(job.ID), logfields.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func (s *Server) resolveArchive(r *http.Request) (string, error) {
	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/json"):
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", fmt.Errorf("decode request: %w", faults.ErrMalformed)
		}
		if req.ArchivePath == "" {
			return "", fmt.Errorf("archive_path is required: %w", faults.ErrValidation)
		}
		if _, err := os.Stat(req.ArchivePath); err != nil {
			return "", fmt.Errorf("archive %s not found: %w", req.ArchivePath, faults.ErrValidation)
		}
		return req.ArchivePath, nil

	case strings.HasPrefix(ct, "application/zip"), strings.HasPrefix(ct, "application/octet-stream"):
		// Uploads land in a subdirectory so the input watcher does not race
		// the API on the same deposit.
		dir := filepath.Join(s.cfg.Paths.Input, "uploads")
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("create upload directory: %w", err)
		}
		path := filepath.Join(dir, uuid.NewString()+".zip")
		f, err := os.Create(path)
		if err != nil {
			return "", fmt.Errorf("create upload file: %w", err)
		}
		defer f.Close()
		if _, err := io.Copy(f, r.Body); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("store upload: %w", err)
		}
		return path, nil

	default:
		return "", fmt.Errorf("unsupported content type %q: %w", ct, faults.ErrValidation)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	status := store.JobStatus(r.URL.Query().Get("status"))

	jobs, err := s.store.ListJobs(r.Context(), status, limit)
	if err != nil {
		writeFault(w, err)
		return
	}
	out := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// handleReport serves the execution manifest written by the executor.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		writeFault(w, err)
		return
	}
	data, err := os.ReadFile(filepath.Join(s.cfg.Paths.Reports, id+"_manifest.json"))
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "no execution report for job "+id)
		return
	}
	if err != nil {
		writeFault(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleApprove releases a job held at the review gate. Execution resumes in
// the background; poll the job for completion.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		writeFault(w, err)
		return
	}
	if job.Status != store.JobReviewRequired {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("job %s is %s, not awaiting review", id, job.Status))
		return
	}
	go func() {
		if err := s.jobs.Approve(context.Background(), id); err != nil {
			slog.Error("Job approval failed", logfields.JobID(id), logfields.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": id,
		"status": string(store.JobExecuting),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		writeFault(w, err)
		return
	}
	if err := s.jobs.Cancel(r.Context(), id); err != nil {
		writeFault(w, err)
		return
	}
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   version.Version,
		Uptime:    time.Since(s.started).Seconds(),
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	s.metrics.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("Response encode failed", logfields.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Timestamp: time.Now().UTC()})
}

// writeFault maps pipeline sentinel errors onto HTTP statuses.
func writeFault(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, faults.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, faults.ErrValidation), errors.Is(err, faults.ErrMalformed):
		status = http.StatusBadRequest
	case errors.Is(err, faults.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}
