// Package watcher turns archive deposits in the input directory into jobs.
// It combines an fsnotify watch for immediate pickup with a periodic rescan
// that recovers deposits the watch missed, plus a retention sweep that purges
// old terminal jobs.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/driveorg/internal/config"
	"git.home.luguber.info/inful/driveorg/internal/logfields"
	"git.home.luguber.info/inful/driveorg/internal/store"
)

// Jobs is the controller surface the watcher drives.
type Jobs interface {
	Submit(ctx context.Context, archivePath string) (*store.Job, error)
	Process(ctx context.Context, jobID string) error
}

// Watcher monitors the input directory for deposited ZIP archives.
type Watcher struct {
	cfg       *config.Config
	store     *store.Store
	jobs      Jobs
	fs        *fsnotify.Watcher
	scheduler gocron.Scheduler

	mu   sync.Mutex
	seen map[string]bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a watcher over cfg.Paths.Input.
func New(cfg *config.Config, st *store.Store, jobs Jobs) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: create file watcher: %w", err)
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		fs.Close()
		return nil, fmt.Errorf("watcher: create scheduler: %w", err)
	}
	return &Watcher{
		cfg:       cfg,
		store:     st,
		jobs:      jobs,
		fs:        fs,
		scheduler: scheduler,
		seen:      make(map[string]bool),
		stopChan:  make(chan struct{}),
	}, nil
}

// Start begins watching and schedules the rescan and retention jobs. Deposits
// already sitting in the input directory are picked up immediately.
func (w *Watcher) Start(ctx context.Context) error {
	input := w.cfg.Paths.Input
	if err := os.MkdirAll(input, 0o750); err != nil {
		return fmt.Errorf("watcher: create input directory: %w", err)
	}
	if err := w.fs.Add(input); err != nil {
		return fmt.Errorf("watcher: watch %s: %w", input, err)
	}

	if _, err := w.scheduler.NewJob(
		gocron.DurationJob(w.cfg.Watcher.RescanInterval),
		gocron.NewTask(func() { w.rescan(ctx) }),
		gocron.WithName("input-rescan"),
	); err != nil {
		return fmt.Errorf("watcher: schedule rescan: %w", err)
	}
	if _, err := w.scheduler.NewJob(
		gocron.DurationJob(w.cfg.Watcher.SweepInterval),
		gocron.NewTask(func() { w.sweep(ctx) }),
		gocron.WithName("retention-sweep"),
	); err != nil {
		return fmt.Errorf("watcher: schedule retention sweep: %w", err)
	}
	w.scheduler.Start()

	slog.Info("Input watcher started", slog.String("dir", input))

	w.wg.Add(1)
	go w.watchLoop(ctx)

	w.rescan(ctx)
	return nil
}

// Stop shuts the watcher down and waits for in-flight submissions.
func (w *Watcher) Stop(ctx context.Context) error {
	close(w.stopChan)
	_ = w.fs.Close()
	err := w.scheduler.Shutdown()
	w.wg.Wait()
	slog.Info("Input watcher stopped")
	return err
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
				continue
			}
			w.deposit(ctx, ev.Name)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Warn("Input watch error", logfields.Error(err))
		}
	}
}

// deposit claims one archive path and submits it as a job. Each path is
// submitted at most once per process lifetime.
func (w *Watcher) deposit(ctx context.Context, path string) {
	if !strings.EqualFold(filepath.Ext(path), ".zip") {
		return
	}
	w.mu.Lock()
	if w.seen[path] {
		w.mu.Unlock()
		return
	}
	w.seen[path] = true
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if !w.settle(ctx, path) {
			w.forget(path)
			return
		}
		job, err := w.jobs.Submit(ctx, path)
		if err != nil {
			slog.Error("Deposit submission failed", logfields.File(path), logfields.Error(err))
			w.forget(path)
			return
		}
		slog.Info("Input archive deposited", logfields.JobID(job.ID), logfields.File(path))
		if err := w.jobs.Process(ctx, job.ID); err != nil {
			slog.Error("Job processing failed", logfields.JobID(job.ID), logfields.Error(err))
		}
	}()
}

// settle waits until the deposit stops growing, so a ZIP still being copied
// into the input directory is not extracted half-written. Returns false when
// the file disappears or the watcher shuts down first.
func (w *Watcher) settle(ctx context.Context, path string) bool {
	var last int64 = -1
	for {
		select {
		case <-ctx.Done():
			return false
		case <-w.stopChan:
			return false
		case <-time.After(w.cfg.Watcher.SettleDelay):
		}
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if info.Size() == last {
			return true
		}
		last = info.Size()
	}
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	delete(w.seen, path)
	w.mu.Unlock()
}

// rescan picks up deposits that arrived while the watch was down.
func (w *Watcher) rescan(ctx context.Context) {
	entries, err := os.ReadDir(w.cfg.Paths.Input)
	if err != nil {
		slog.Warn("Input rescan failed", logfields.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.deposit(ctx, filepath.Join(w.cfg.Paths.Input, entry.Name()))
	}
}

// sweep purges terminal jobs older than the retention window.
func (w *Watcher) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -w.cfg.Processing.RetentionDays)
	n, err := w.store.PurgeCompletedBefore(ctx, cutoff)
	if err != nil {
		slog.Warn("Retention sweep failed", logfields.Error(err))
		return
	}
	if n > 0 {
		slog.Info("Retention sweep purged jobs", logfields.Count(int(n)))
	}
}
