// Package executor applies a reviewed organization plan to the working tree.
// The source tree is never modified; every write targets the working copy and
// is journaled in the execution log.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"git.home.luguber.info/inful/driveorg/internal/config"
	"git.home.luguber.info/inful/driveorg/internal/faults"
	"git.home.luguber.info/inful/driveorg/internal/logfields"
	"git.home.luguber.info/inful/driveorg/internal/metrics"
	"git.home.luguber.info/inful/driveorg/internal/store"
)

// Options tune one execution run.
type Options struct {
	SourceRoot          string
	WorkingRoot         string
	ReportsDir          string
	ShortcutFormat      config.ShortcutFormat
	FailureThresholdPct int // abort when exceeded; 100 means never abort
	DryRun              bool
}

// Executor drives the executing phase.
type Executor struct {
	store    *store.Store
	recorder metrics.Recorder
	opts     Options
}

// New builds an Executor.
func New(st *store.Store, rec metrics.Recorder, opts Options) *Executor {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if opts.FailureThresholdPct <= 0 {
		opts.FailureThresholdPct = 100
	}
	return &Executor{store: st, recorder: rec, opts: opts}
}

// target is one document's resolved destination in the working tree.
type target struct {
	doc     *store.DocumentItem
	name    string // sanitized final name
	rel     string // sanitized working-tree-relative path
	renamed bool
	moved   bool
}

// Run applies the job's plan. The manifest is written even when execution
// fails; only a manifest write failure masks the original error.
func (e *Executor) Run(ctx context.Context, jobID string) (*Manifest, error) {
	man := &Manifest{
		JobID:      jobID,
		ExecutedAt: time.Now().UTC(),
		DryRun:     e.opts.DryRun,
	}
	runErr := e.run(ctx, jobID, man)
	man.Statistics.OperationsFailed = len(man.Errors)
	if _, err := writeManifest(e.opts.ReportsDir, man); err != nil {
		return man, err
	}
	return man, runErr
}

func (e *Executor) run(ctx context.Context, jobID string, man *Manifest) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	man.SourceZip = job.SourceArchive

	plan, err := e.store.LoadPlan(ctx, jobID)
	if err != nil {
		return err
	}
	docs, err := e.store.ListPlanningSet(ctx, jobID)
	if err != nil {
		return err
	}

	targets, err := e.resolveTargets(docs)
	if err != nil {
		return err
	}
	man.Statistics.FilesProcessed = len(targets)

	if !e.opts.DryRun {
		if err := clearDir(e.opts.WorkingRoot); err != nil {
			return err
		}
	}
	e.createDirectories(ctx, jobID, plan.Directories, man)
	e.copyFiles(ctx, jobID, targets, man)

	byDoc := map[int64]*target{}
	for _, t := range targets {
		byDoc[t.doc.ID] = t
	}
	e.createShortcuts(ctx, jobID, byDoc, man)
	e.archiveVersions(ctx, jobID, byDoc, man)

	attempted := man.Statistics.OperationsAttempted
	if attempted > 0 && len(man.Errors)*100 > attempted*e.opts.FailureThresholdPct {
		return fmt.Errorf("executor: %d of %d operations failed, threshold %d%% exceeded: %w",
			len(man.Errors), attempted, e.opts.FailureThresholdPct, faults.ErrFatal)
	}
	return nil
}

// resolveTargets computes and validates every planned destination: sources
// must exist, sanitized targets must not collide.
func (e *Executor) resolveTargets(docs []*store.DocumentItem) ([]*target, error) {
	targets := make([]*target, 0, len(docs))
	seen := map[string]string{}
	for _, d := range docs {
		if _, err := os.Stat(filepath.Join(e.opts.SourceRoot, filepath.FromSlash(d.CurrentPath))); err != nil {
			return nil, fmt.Errorf("planned source %s missing: %w: %v",
				d.CurrentPath, faults.ErrValidation, err)
		}
		name := d.CurrentName
		dir := path.Dir(d.CurrentPath)
		if dir == "." {
			dir = ""
		}
		t := &target{doc: d}
		if d.ProposedName != nil {
			t.renamed = *d.ProposedName != d.CurrentName
			name = *d.ProposedName
		}
		if d.ProposedPath != nil {
			t.moved = SanitizePath(*d.ProposedPath) != SanitizePath(dir)
			dir = *d.ProposedPath
		}
		t.name = SanitizeName(name)
		t.rel = t.name
		if sd := SanitizePath(dir); sd != "" {
			t.rel = sd + "/" + t.name
		}
		if prev, ok := seen[t.rel]; ok {
			return nil, fmt.Errorf("target %s claimed by both %s and %s: %w",
				t.rel, prev, d.CurrentPath, faults.ErrConflict)
		}
		seen[t.rel] = d.CurrentPath
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].rel < targets[j].rel })
	return targets, nil
}

func (e *Executor) createDirectories(ctx context.Context, jobID string, dirs []*store.DirectoryStructure, man *Manifest) {
	for _, d := range dirs {
		rel := SanitizePath(d.Path)
		if rel == "" {
			continue
		}
		err := error(nil)
		if !e.opts.DryRun {
			abs := filepath.Join(e.opts.WorkingRoot, filepath.FromSlash(rel))
			if info, statErr := os.Stat(abs); statErr == nil && !info.IsDir() {
				err = fmt.Errorf("directory %s collides with a file: %w", rel, faults.ErrConflict)
			} else {
				err = os.MkdirAll(abs, 0o750)
			}
		}
		if e.record(ctx, jobID, man, store.OpCreateDir, "", rel, nil, err) {
			man.Statistics.DirectoriesCreated++
		}
	}
}

func (e *Executor) copyFiles(ctx context.Context, jobID string, targets []*target, man *Manifest) {
	for _, t := range targets {
		op := store.OpCopyFile
		if t.moved {
			op = store.OpMove
		} else if t.renamed {
			op = store.OpRename
		}
		var err error
		if !e.opts.DryRun {
			err = e.copyOne(ctx, t)
		}
		if e.record(ctx, jobID, man, op, t.doc.CurrentPath, t.rel, &t.doc.ID, err) {
			man.Statistics.FilesCopied++
			if t.renamed {
				man.Statistics.FilesRenamed++
			}
			if t.moved {
				man.Statistics.FilesMoved++
			}
		}
	}
}

func (e *Executor) copyOne(ctx context.Context, t *target) error {
	src := filepath.Join(e.opts.SourceRoot, filepath.FromSlash(t.doc.CurrentPath))
	dst := filepath.Join(e.opts.WorkingRoot, filepath.FromSlash(t.rel))
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return e.store.MarkDocumentApplied(ctx, t.doc.ID, t.name, t.rel)
}

func (e *Executor) createShortcuts(ctx context.Context, jobID string, byDoc map[int64]*target, man *Manifest) {
	groups, members, err := e.store.ListDuplicateGroups(ctx, jobID)
	if err != nil {
		man.Errors = append(man.Errors, ManifestError{
			Operation: store.OpCreateShortcut, Message: err.Error(),
		})
		return
	}
	for _, g := range groups {
		primary, ok := byDoc[g.PrimaryDocumentID]
		if !ok {
			continue
		}
		for _, m := range members[g.ID] {
			if m.Action != store.ActionShortcut {
				continue
			}
			doc, err := e.store.GetDocument(ctx, m.DocumentID)
			if err != nil {
				e.record(ctx, jobID, man, store.OpCreateShortcut, "", primary.rel, &m.DocumentID, err)
				continue
			}
			dir := SanitizePath(path.Dir(doc.CurrentPath))
			rel := SanitizeName(doc.CurrentName)
			if dir != "" {
				rel = dir + "/" + rel
			}

			finalPath := rel
			shortcutType := store.ShortcutType(e.opts.ShortcutFormat)
			if e.opts.ShortcutFormat == config.ShortcutAuto || e.opts.ShortcutFormat == "" {
				shortcutType = store.ShortcutSymlink
			}
			if !e.opts.DryRun {
				finalPath, shortcutType, err = e.writeOne(rel, primary.rel, doc.CurrentName)
				if err == nil {
					err = e.store.SaveShortcut(ctx, &store.ShortcutRecord{
						JobID:        jobID,
						DocumentID:   doc.ID,
						ShortcutPath: finalPath,
						TargetPath:   primary.rel,
						ShortcutType: shortcutType,
						OriginalPath: doc.CurrentPath,
						OriginalHash: doc.ContentHash,
					})
				}
			}
			if e.record(ctx, jobID, man, store.OpCreateShortcut, doc.CurrentPath, finalPath, &doc.ID, err) {
				man.Statistics.ShortcutsCreated++
				man.Shortcuts = append(man.Shortcuts, ManifestShortcut{
					ShortcutPath: finalPath,
					TargetPath:   primary.rel,
					Type:         shortcutType,
					OriginalPath: doc.CurrentPath,
				})
			}
		}
	}
}

func (e *Executor) writeOne(rel, primaryRel, displayName string) (string, store.ShortcutType, error) {
	abs := filepath.Join(e.opts.WorkingRoot, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return "", "", fmt.Errorf("shortcut dir: %w: %v", faults.ErrIO, err)
	}
	absTarget, err := filepath.Abs(filepath.Join(e.opts.WorkingRoot, filepath.FromSlash(primaryRel)))
	if err != nil {
		return "", "", fmt.Errorf("resolve target: %w: %v", faults.ErrIO, err)
	}
	finalAbs, typ, err := writeShortcut(e.opts.ShortcutFormat, abs, absTarget, displayName)
	if err != nil {
		return "", "", err
	}
	finalRel, err := filepath.Rel(e.opts.WorkingRoot, finalAbs)
	if err != nil {
		return "", "", fmt.Errorf("relativize shortcut: %w: %v", faults.ErrIO, err)
	}
	return filepath.ToSlash(finalRel), typ, nil
}

func (e *Executor) archiveVersions(ctx context.Context, jobID string, byDoc map[int64]*target, man *Manifest) {
	chains, members, err := e.store.ListVersionChains(ctx, jobID)
	if err != nil {
		man.Errors = append(man.Errors, ManifestError{
			Operation: store.OpArchiveVersion, Message: err.Error(),
		})
		return
	}
	for _, c := range chains {
		archiveRel := SanitizePath(c.ArchivePath)
		if !e.opts.DryRun && archiveRel != "" {
			if err := os.MkdirAll(filepath.Join(e.opts.WorkingRoot, filepath.FromSlash(archiveRel)), 0o750); err != nil {
				man.Errors = append(man.Errors, ManifestError{
					Operation:  store.OpArchiveVersion,
					TargetPath: archiveRel,
					Message:    err.Error(),
				})
				continue
			}
		}

		cm := &chainManifest{
			DocumentName:    c.ChainName,
			CurrentVersion:  c.CurrentVersionNumber,
			ArchivePath:     archiveRel,
			ArchiveStrategy: c.ArchiveStrategy,
			GeneratedAt:     time.Now().UTC(),
		}
		for _, m := range members[c.ID] {
			doc, err := e.store.GetDocument(ctx, m.DocumentID)
			if err != nil {
				e.record(ctx, jobID, man, store.OpArchiveVersion, "", m.ProposedVersionPath, &m.DocumentID, err)
				continue
			}
			entryFile := m.ProposedVersionName
			if m.IsCurrent {
				// The current member must end up at the chain's main
				// location unless the plan explicitly relocated it.
				currentRel := SanitizePath(m.ProposedVersionPath)
				t, planned := byDoc[doc.ID]
				if planned && (t.renamed || t.moved) {
					currentRel = t.rel
					entryFile = t.name
				} else if planned && t.rel != currentRel {
					var err error
					if !e.opts.DryRun {
						src := filepath.Join(e.opts.WorkingRoot, filepath.FromSlash(t.rel))
						dst := filepath.Join(e.opts.WorkingRoot, filepath.FromSlash(currentRel))
						if err = os.Rename(src, dst); err == nil {
							err = e.store.MarkDocumentApplied(ctx, doc.ID, m.ProposedVersionName, currentRel)
						}
					}
					if !e.record(ctx, jobID, man, store.OpRename, t.rel, currentRel, &doc.ID, err) {
						currentRel = t.rel
						entryFile = t.name
					}
				} else if !planned {
					var err error
					if !e.opts.DryRun {
						src := filepath.Join(e.opts.SourceRoot, filepath.FromSlash(doc.CurrentPath))
						dst := filepath.Join(e.opts.WorkingRoot, filepath.FromSlash(currentRel))
						if err = copyFile(src, dst); err == nil {
							err = e.store.MarkDocumentApplied(ctx, doc.ID, m.ProposedVersionName, currentRel)
						}
					}
					e.record(ctx, jobID, man, store.OpCopyFile, doc.CurrentPath, currentRel, &doc.ID, err)
				}
				cm.CurrentFile = relativeTo(archiveRel, currentRel)
			} else {
				versionRel := SanitizePath(m.ProposedVersionPath)
				var err error
				if !e.opts.DryRun {
					src := filepath.Join(e.opts.SourceRoot, filepath.FromSlash(doc.CurrentPath))
					dst := filepath.Join(e.opts.WorkingRoot, filepath.FromSlash(versionRel))
					if err = copyFile(src, dst); err == nil {
						err = e.store.MarkDocumentApplied(ctx, doc.ID, m.ProposedVersionName, versionRel)
					}
				}
				if e.record(ctx, jobID, man, store.OpArchiveVersion, doc.CurrentPath, versionRel, &doc.ID, err) {
					man.Statistics.VersionsArchived++
				} else {
					continue
				}
			}
			date := ""
			if m.VersionDate != nil {
				date = m.VersionDate.UTC().Format("2006-01-02")
			}
			cm.Versions = append(cm.Versions, chainVersion{
				Version: m.VersionNumber,
				File:    entryFile,
				Date:    date,
				Status:  string(m.Status),
			})
		}
		if !e.opts.DryRun && archiveRel != "" {
			dir := filepath.Join(e.opts.WorkingRoot, filepath.FromSlash(archiveRel))
			if err := writeChainManifest(dir, cm); err != nil {
				man.Errors = append(man.Errors, ManifestError{
					Operation:  store.OpArchiveVersion,
					TargetPath: archiveRel,
					Message:    err.Error(),
				})
			}
		}
	}
}

// record journals one operation in the store, the manifest and the metrics,
// returning true on success.
func (e *Executor) record(ctx context.Context, jobID string, man *Manifest, op store.Operation, src, dst string, docID *int64, opErr error) bool {
	entry := &store.ExecutionLogEntry{
		JobID:      jobID,
		Operation:  op,
		SourcePath: src,
		TargetPath: dst,
		DocumentID: docID,
		Success:    opErr == nil,
	}
	if opErr != nil {
		entry.ErrorMessage = opErr.Error()
	}
	if !e.opts.DryRun {
		if err := e.store.AppendExecutionLog(ctx, entry); err != nil {
			slog.Warn("Execution log append failed",
				logfields.JobID(jobID), logfields.Error(err))
		}
	}
	man.Statistics.OperationsAttempted++
	man.Operations = append(man.Operations, ManifestOperation{
		Type:       op,
		SourcePath: src,
		TargetPath: dst,
		DocumentID: docID,
		Success:    opErr == nil,
		Timestamp:  time.Now().UTC(),
	})
	if opErr != nil {
		man.Errors = append(man.Errors, ManifestError{
			Operation:  op,
			SourcePath: src,
			TargetPath: dst,
			Message:    opErr.Error(),
		})
		e.recorder.IncPhaseItem("executing", metrics.ResultError)
		slog.Warn("Operation failed", logfields.JobID(jobID),
			logfields.File(dst), logfields.Error(opErr))
		return false
	}
	e.recorder.IncPhaseItem("executing", metrics.ResultSuccess)
	return true
}

// Rollback discards the working tree and resets plan rows so execution can
// run again. Idempotent: a second rollback is a no-op.
func (e *Executor) Rollback(ctx context.Context, jobID string) error {
	if err := clearDir(e.opts.WorkingRoot); err != nil {
		return err
	}
	if err := e.store.ResetDocumentsForRollback(ctx, jobID); err != nil {
		return err
	}
	if err := e.store.ClearExecutionState(ctx, jobID); err != nil {
		return err
	}
	slog.Info("Execution rolled back", logfields.JobID(jobID))
	return nil
}

// clearDir removes dir's contents but keeps dir itself.
func clearDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("working tree %s: %w: %v", dir, faults.ErrIO, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read working tree: %w: %v", faults.ErrIO, err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("clear %s: %w: %v", entry.Name(), faults.ErrIO, err)
		}
	}
	return nil
}

// copyFile copies src to dst creating parent directories, preserving the
// mode and modification time.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w: %v", src, faults.ErrIO, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("target dir: %w: %v", faults.ErrIO, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w: %v", src, faults.ErrIO, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w: %v", dst, faults.ErrIO, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w: %v", dst, faults.ErrIO, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w: %v", dst, faults.ErrIO, err)
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// relativeTo computes a slash-relative path from one working-tree directory
// to a file elsewhere in the tree.
func relativeTo(fromDir, toFile string) string {
	rel, err := filepath.Rel("/"+filepath.FromSlash(fromDir), "/"+filepath.FromSlash(toFile))
	if err != nil {
		return toFile
	}
	return filepath.ToSlash(rel)
}
