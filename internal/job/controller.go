// Package job orchestrates the pipeline: it owns the job state machine and
// drives each phase against the store, the model clients and the filesystem.
package job

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/driveorg/internal/archive"
	"git.home.luguber.info/inful/driveorg/internal/config"
	"git.home.luguber.info/inful/driveorg/internal/dedup"
	"git.home.luguber.info/inful/driveorg/internal/events"
	"git.home.luguber.info/inful/driveorg/internal/executor"
	"git.home.luguber.info/inful/driveorg/internal/extract"
	"git.home.luguber.info/inful/driveorg/internal/faults"
	"git.home.luguber.info/inful/driveorg/internal/indexer"
	"git.home.luguber.info/inful/driveorg/internal/logfields"
	"git.home.luguber.info/inful/driveorg/internal/metrics"
	"git.home.luguber.info/inful/driveorg/internal/planner"
	"git.home.luguber.info/inful/driveorg/internal/store"
	"git.home.luguber.info/inful/driveorg/internal/versions"
)

// Summarizer is the local model surface the pipeline needs.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Deliberator is the remote model surface the planner needs.
type Deliberator interface {
	Deliberate(ctx context.Context, systemPrompt, prompt string) (string, error)
}

// phase progress checkpoints, roughly weighted by typical cost.
var phaseProgress = map[store.JobStatus]int{
	store.JobExtracting:     5,
	store.JobIndexing:       40,
	store.JobDeduplicating:  55,
	store.JobVersioning:     65,
	store.JobOrganizing:     80,
	store.JobReviewRequired: 80,
	store.JobExecuting:      95,
	store.JobCompleted:      100,
}

// Controller drives jobs through the pipeline.
type Controller struct {
	cfg      *config.Config
	store    *store.Store
	local    Summarizer
	remote   Deliberator
	recorder metrics.Recorder
	events   *events.Publisher
	client   *http.Client

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	active  atomic.Int64
}

// New builds a Controller. local may be nil (summaries and arbitration are
// skipped); remote may be nil only when the organizing phase never runs.
func New(cfg *config.Config, st *store.Store, local Summarizer, remote Deliberator, rec metrics.Recorder, pub *events.Publisher) *Controller {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Controller{
		cfg:      cfg,
		store:    st,
		local:    local,
		remote:   remote,
		recorder: rec,
		events:   pub,
		client:   &http.Client{Timeout: 30 * time.Second},
		cancels:  map[string]context.CancelFunc{},
	}
}

// Submit registers a new job for a deposited archive.
func (c *Controller) Submit(ctx context.Context, archivePath string) (*store.Job, error) {
	job := &store.Job{
		ID:            uuid.NewString(),
		Status:        store.JobPending,
		SourceArchive: archivePath,
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	slog.Info("Job submitted", logfields.JobID(job.ID), logfields.File(archivePath))
	return job, nil
}

// Process runs a job from its current status to completion, the review gate,
// or failure. Safe to call on a resumed job.
func (c *Controller) Process(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancels[jobID] = cancel
	c.mu.Unlock()
	c.recorder.SetActiveJobs(int(c.active.Add(1)))
	start := time.Now()
	defer func() {
		cancel()
		c.mu.Lock()
		delete(c.cancels, jobID)
		c.mu.Unlock()
		c.recorder.SetActiveJobs(int(c.active.Add(-1)))
	}()

	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() || job.Status == store.JobReviewRequired {
		return nil
	}
	status := job.Status
	if status == store.JobPending {
		if err := c.transition(ctx, jobID, store.JobPending, store.JobExtracting); err != nil {
			return err
		}
		status = store.JobExtracting
	}
	return c.runFrom(ctx, jobID, status, start)
}

// successor maps each phase to the next one in the pipeline.
var successor = map[store.JobStatus]store.JobStatus{
	store.JobExtracting:    store.JobIndexing,
	store.JobIndexing:      store.JobDeduplicating,
	store.JobDeduplicating: store.JobVersioning,
	store.JobVersioning:    store.JobOrganizing,
	store.JobOrganizing:    store.JobExecuting,
}

// runFrom executes the phase the job is currently in, then advances until
// completion or the review gate. Phases are idempotent, so a resumed job
// safely re-runs the phase it was interrupted in.
func (c *Controller) runFrom(ctx context.Context, jobID string, status store.JobStatus, start time.Time) error {
	for {
		if err := c.runPhase(ctx, jobID, status); err != nil {
			return c.fail(ctx, jobID, start, fmt.Errorf("%s: %w", status, err))
		}
		if p, ok := phaseProgress[status]; ok {
			if err := c.store.UpdateJobProgress(ctx, jobID, p); err != nil {
				slog.Warn("Progress update failed", logfields.JobID(jobID), logfields.Error(err))
			}
		}
		if status == store.JobExecuting {
			return c.complete(ctx, jobID, start)
		}
		next := successor[status]
		if status == store.JobOrganizing && c.cfg.Processing.ReviewRequired {
			next = store.JobReviewRequired
		}
		if next == "" {
			return fmt.Errorf("job %s stuck in status %q: %w", jobID, status, faults.ErrFatal)
		}
		if err := c.transition(ctx, jobID, status, next); err != nil {
			return c.fail(ctx, jobID, start, err)
		}
		if next == store.JobReviewRequired {
			slog.Info("Job awaiting review", logfields.JobID(jobID))
			return nil
		}
		status = next
	}
}

func (c *Controller) transition(ctx context.Context, jobID string, from, to store.JobStatus) error {
	if err := c.store.TransitionJob(ctx, jobID, from, to, string(to)); err != nil {
		return err
	}
	c.publish(ctx, jobID)
	return nil
}

// runPhase dispatches one phase body and records its duration.
func (c *Controller) runPhase(ctx context.Context, jobID string, status store.JobStatus) error {
	var fn func(context.Context, string) error
	switch status {
	case store.JobExtracting:
		fn = c.extractPhase
	case store.JobIndexing:
		fn = c.indexPhase
	case store.JobDeduplicating:
		fn = c.dedupPhase
	case store.JobVersioning:
		fn = c.versionPhase
	case store.JobOrganizing:
		fn = c.planPhase
	case store.JobExecuting:
		fn = c.executePhase
	default:
		return fmt.Errorf("no phase body for status %q: %w", status, faults.ErrFatal)
	}
	slog.Info("Phase started", logfields.JobID(jobID), logfields.Phase(string(status)))
	start := time.Now()
	err := fn(ctx, jobID)
	c.recorder.ObservePhaseDuration(string(status), time.Since(start))
	return err
}

// Approve releases a job held at the review gate and runs it to completion.
func (c *Controller) Approve(ctx context.Context, jobID string) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != store.JobReviewRequired {
		return fmt.Errorf("job %s is %s, not awaiting review: %w", jobID, job.Status, faults.ErrConflict)
	}
	if err := c.transition(ctx, jobID, store.JobReviewRequired, store.JobExecuting); err != nil {
		return err
	}
	return c.runFrom(ctx, jobID, store.JobExecuting, time.Now())
}

// Cancel requests cooperative cancellation of a running job and marks it
// cancelled in the store.
func (c *Controller) Cancel(ctx context.Context, jobID string) error {
	c.mu.Lock()
	cancel, running := c.cancels[jobID]
	c.mu.Unlock()
	if running {
		cancel()
	}
	if err := c.store.FailJob(ctx, jobID, store.JobCancelled, "cancelled by user"); err != nil {
		return err
	}
	c.publish(ctx, jobID)
	slog.Info("Job cancelled", logfields.JobID(jobID))
	return nil
}

// Rollback discards a job's working tree and execution state.
func (c *Controller) Rollback(ctx context.Context, jobID string) error {
	return c.newExecutor(jobID).Rollback(ctx, jobID)
}

func (c *Controller) sourceDir(jobID string) string {
	return filepath.Join(c.cfg.Paths.Source, jobID)
}

func (c *Controller) workingDir(jobID string) string {
	return filepath.Join(c.cfg.Paths.Working, jobID)
}

func (c *Controller) extractPhase(ctx context.Context, jobID string) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	n, err := archive.Extract(ctx, job.SourceArchive, c.sourceDir(jobID))
	if err != nil {
		return err
	}
	slog.Info("Archive extracted", logfields.JobID(jobID), logfields.Count(n))
	return nil
}

func (c *Controller) indexPhase(ctx context.Context, jobID string) error {
	// Summaries need the local model; fail the phase up front rather than
	// once per file.
	if h, ok := c.local.(interface{ Healthy(context.Context) error }); ok {
		if err := h.Healthy(ctx); err != nil {
			return fmt.Errorf("local model unavailable: %w", err)
		}
	}
	ix := indexer.New(c.store, extract.NewRegistry(), c.local, c.recorder, indexer.Options{
		Workers:       c.cfg.Workers.CPU,
		BatchSize:     c.cfg.Processing.BatchSize,
		TextBudget:    c.cfg.Processing.TextBudgetBytes,
		MaxFileSize:   c.cfg.Processing.MaxFileSizeMB * 1024 * 1024,
		SkipHiddenTop: c.cfg.Processing.SkipHiddenTopLevel,
	})
	res, err := ix.Run(ctx, jobID, c.sourceDir(jobID))
	if err != nil {
		return err
	}
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.FilesProcessed = res.Processed
	return c.store.UpdateJobCounters(ctx, job)
}

func (c *Controller) dedupPhase(ctx context.Context, jobID string) error {
	var arb dedup.Arbiter
	if c.local != nil {
		arb = c.local
	}
	r := dedup.New(c.store, arb, c.recorder, dedup.Options{
		AllowDeletes: c.cfg.Dedup.AllowDeletes,
		MinSizeKB:    c.cfg.Dedup.MinDuplicateSizeKB,
	})
	res, err := r.Run(ctx, jobID)
	if err != nil {
		return err
	}
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.DuplicatesFound = res.Groups
	return c.store.UpdateJobCounters(ctx, job)
}

func (c *Controller) versionPhase(ctx context.Context, jobID string) error {
	var conf versions.Confirmer
	if c.local != nil {
		conf = c.local
	}
	r := versions.New(c.store, conf, c.recorder, versions.Options{
		ArchiveStrategy:     string(c.cfg.Versioning.ArchiveStrategy),
		VersionFolderName:   c.cfg.Versioning.VersionFolderName,
		SimilarityThreshold: c.cfg.Versioning.SimilarityThreshold,
	})
	res, err := r.Run(ctx, jobID)
	if err != nil {
		return err
	}
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.VersionChainsFound = res.Chains
	return c.store.UpdateJobCounters(ctx, job)
}

func (c *Controller) planPhase(ctx context.Context, jobID string) error {
	if c.remote == nil {
		return fmt.Errorf("no remote model configured: %w", faults.ErrFatal)
	}
	_, err := planner.New(c.store, c.remote, c.recorder).Run(ctx, jobID)
	return err
}

func (c *Controller) newExecutor(jobID string) *executor.Executor {
	return executor.New(c.store, c.recorder, executor.Options{
		SourceRoot:          c.sourceDir(jobID),
		WorkingRoot:         c.workingDir(jobID),
		ReportsDir:          c.cfg.Paths.Reports,
		ShortcutFormat:      c.cfg.Dedup.ShortcutFormat,
		FailureThresholdPct: int(c.cfg.Processing.FailureThresholdPct),
		DryRun:              c.cfg.Processing.DryRun,
	})
}

func (c *Controller) executePhase(ctx context.Context, jobID string) error {
	man, err := c.newExecutor(jobID).Run(ctx, jobID)
	if err != nil {
		return err
	}
	job, getErr := c.store.GetJob(ctx, jobID)
	if getErr != nil {
		return getErr
	}
	job.ShortcutsCreated = man.Statistics.ShortcutsCreated
	job.FilesRenamed = man.Statistics.FilesRenamed
	job.FilesMoved = man.Statistics.FilesMoved

	if !c.cfg.Processing.DryRun {
		out := filepath.Join(c.cfg.Paths.Output, jobID+".zip")
		if _, err := archive.Package(ctx, c.workingDir(jobID), out); err != nil {
			return err
		}
		job.OutputArchive = out
	}
	return c.store.UpdateJobCounters(ctx, job)
}

func (c *Controller) complete(ctx context.Context, jobID string, start time.Time) error {
	if err := c.store.TransitionJob(ctx, jobID, store.JobExecuting, store.JobCompleted, "completed"); err != nil {
		return err
	}
	if err := c.store.UpdateJobProgress(ctx, jobID, 100); err != nil {
		slog.Warn("Progress update failed", logfields.JobID(jobID), logfields.Error(err))
	}
	c.recorder.ObserveJobDuration(time.Since(start))
	c.recorder.IncJobOutcome("completed")
	c.publish(ctx, jobID)
	c.callback(ctx, jobID)
	slog.Info("Job completed", logfields.JobID(jobID),
		logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	return nil
}

func (c *Controller) fail(ctx context.Context, jobID string, start time.Time, cause error) error {
	status := store.JobFailed
	outcome := "failed"
	if errors.Is(cause, faults.ErrCancelled) || errors.Is(ctx.Err(), context.Canceled) {
		status = store.JobCancelled
		outcome = "cancelled"
	}
	// Use a fresh context: the phase context may already be cancelled.
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.store.FailJob(failCtx, jobID, status, cause.Error()); err != nil {
		slog.Error("Failed to mark job failed", logfields.JobID(jobID), logfields.Error(err))
	}
	c.recorder.ObserveJobDuration(time.Since(start))
	c.recorder.IncJobOutcome(outcome)
	c.publish(failCtx, jobID)
	c.callback(failCtx, jobID)
	slog.Error("Job failed", logfields.JobID(jobID), logfields.Error(cause))
	return cause
}

func (c *Controller) publish(ctx context.Context, jobID string) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return
	}
	c.events.Publish(events.Event{
		JobID:    job.ID,
		Status:   job.Status,
		Phase:    job.CurrentPhase,
		Progress: job.Progress,
		Error:    job.ErrorMessage,
	})
}

// callback POSTs the job's terminal state to the configured webhook.
// Best-effort: failures are logged and dropped.
func (c *Controller) callback(ctx context.Context, jobID string) {
	url := c.cfg.Processing.CallbackURL
	if url == "" {
		return
	}
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"job_id":         job.ID,
		"status":         job.Status,
		"output_archive": job.OutputArchive,
		"error":          job.ErrorMessage,
	})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		slog.Warn("Callback delivery failed", logfields.JobID(jobID), logfields.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Warn("Callback rejected", logfields.JobID(jobID),
			slog.Int("status", resp.StatusCode))
	}
}

// Resume re-enters processing for jobs left non-terminal by a previous run.
func (c *Controller) Resume(ctx context.Context) error {
	jobs, err := c.store.ListJobs(ctx, "", 0)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if j.Status.IsTerminal() || j.Status == store.JobReviewRequired {
			continue
		}
		slog.Info("Resuming job", logfields.JobID(j.ID), logfields.Phase(string(j.Status)))
		if err := c.Process(ctx, j.ID); err != nil {
			slog.Error("Resumed job failed", logfields.JobID(j.ID), logfields.Error(err))
		}
	}
	return nil
}
