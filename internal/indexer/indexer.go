// Package indexer walks the extracted source tree and produces one
// DocumentItem per file: fingerprint, metadata, extracted text and a local
// model summary.
package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"git.home.luguber.info/inful/driveorg/internal/extract"
	"git.home.luguber.info/inful/driveorg/internal/faults"
	"git.home.luguber.info/inful/driveorg/internal/fingerprint"
	"git.home.luguber.info/inful/driveorg/internal/llm"
	"git.home.luguber.info/inful/driveorg/internal/logfields"
	"git.home.luguber.info/inful/driveorg/internal/metrics"
	"git.home.luguber.info/inful/driveorg/internal/store"
)

// summaryContentLimit bounds how much extracted text goes into the prompt.
const summaryContentLimit = 10000

// Summarizer is the part of the local model client the indexer needs.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Options tune one indexing run.
type Options struct {
	Workers         int
	BatchSize       int
	TextBudget      int64
	MaxFileSize     int64 // bytes; larger files are hashed but not extracted
	SkipHiddenTop   bool
	Progress        func(done, total int)
}

// Indexer drives the indexing phase.
type Indexer struct {
	store      *store.Store
	extractors *extract.Registry
	summarizer Summarizer
	recorder   metrics.Recorder
	opts       Options
}

// New builds an Indexer. A nil summarizer skips summaries; a nil recorder is
// replaced with the noop recorder.
func New(st *store.Store, reg *extract.Registry, sum Summarizer, rec metrics.Recorder, opts Options) *Indexer {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.TextBudget <= 0 {
		opts.TextBudget = 100 * 1024
	}
	return &Indexer{store: st, extractors: reg, summarizer: sum, recorder: rec, opts: opts}
}

// Result summarizes one indexing run.
type Result struct {
	Processed int
	Failed    int
}

// Run indexes every file under sourceRoot for jobID. Per-file errors are
// recorded on the item and never fail the phase; the phase fails only when
// the source root is missing or the store is unavailable.
func (ix *Indexer) Run(ctx context.Context, jobID, sourceRoot string) (*Result, error) {
	if _, err := os.Stat(sourceRoot); err != nil {
		return nil, fmt.Errorf("source root %s: %w: %v", sourceRoot, faults.ErrIO, err)
	}

	files, err := ix.collectFiles(sourceRoot)
	if err != nil {
		return nil, err
	}
	total := len(files)
	slog.Info("Indexing source tree", logfields.JobID(jobID), logfields.Count(total))

	jobs := make(chan string)
	var done, failed atomic.Int64
	var wg sync.WaitGroup

	for w := 0; w < ix.opts.Workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for rel := range jobs {
				if ctx.Err() != nil {
					return
				}
				if err := ix.indexOne(ctx, jobID, sourceRoot, rel); err != nil {
					failed.Add(1)
					ix.recorder.IncPhaseItem("indexing", metrics.ResultError)
					slog.Warn("File indexing failed",
						logfields.JobID(jobID), logfields.Worker(worker),
						logfields.File(rel), logfields.Error(err))
				} else {
					ix.recorder.IncPhaseItem("indexing", metrics.ResultSuccess)
				}
				n := int(done.Add(1))
				if ix.opts.Progress != nil && (n%ix.opts.BatchSize == 0 || n == total) {
					ix.opts.Progress(n, total)
				}
			}
		}(w)
	}

feed:
	for _, rel := range files {
		select {
		case jobs <- rel:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("indexing: %w", faults.ErrCancelled)
	}

	res := &Result{Processed: int(done.Load()) - int(failed.Load()), Failed: int(failed.Load())}
	if total > 0 && res.Processed == 0 {
		return res, fmt.Errorf("no file could be indexed (%d failures): %w", res.Failed, faults.ErrIO)
	}
	return res, nil
}

// collectFiles walks depth-first and returns source-relative paths.
func (ix *Indexer) collectFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w: %v", path, faults.ErrIO, err)
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return fmt.Errorf("relativize %s: %w: %v", path, faults.ErrIO, relErr)
		}
		if d.IsDir() {
			if ix.opts.SkipHiddenTop && rel != "." && !strings.Contains(rel, string(os.PathSeparator)) &&
				strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (ix *Indexer) indexOne(ctx context.Context, jobID, root, rel string) error {
	abs := filepath.Join(root, rel)
	doc := &store.DocumentItem{
		JobID:       jobID,
		FileID:      fingerprint.FileID(rel),
		CurrentName: filepath.Base(rel),
		CurrentPath: filepath.ToSlash(rel),
		Status:      store.ItemProcessing,
	}

	meta, err := fingerprint.Stat(abs)
	if err != nil {
		doc.Status = store.ItemError
		doc.ErrorMessage = err.Error()
		if upErr := ix.store.UpsertDocument(ctx, doc); upErr != nil {
			return upErr
		}
		return err
	}
	doc.Extension = meta.Extension
	doc.FileSize = meta.Size
	doc.MimeType = meta.MimeType
	doc.ContentHash = meta.ContentHash
	doc.SourceMtime = meta.Mtime

	var text string
	if ix.opts.MaxFileSize <= 0 || meta.Size <= ix.opts.MaxFileSize {
		text, err = ix.extractors.Extract(ctx, abs, meta.Extension, ix.opts.TextBudget)
		if err != nil {
			// Unsupported or corrupt content: index without text.
			slog.Debug("Text extraction skipped",
				logfields.File(rel), logfields.Error(err))
			text = ""
		}
	}

	if ix.summarizer != nil && text != "" {
		summary, err := ix.summarize(ctx, doc.CurrentName, doc.CurrentPath, text)
		if err != nil {
			slog.Debug("Summary generation failed",
				logfields.File(rel), logfields.Error(err))
		} else if summary != nil {
			doc.Summary = summary.Summary
			doc.DocumentType = summary.DocumentType
			doc.KeyTopics = summary.KeyTopics
		}
	}

	doc.Status = store.ItemProcessed
	return ix.store.UpsertDocument(ctx, doc)
}

type summaryResult struct {
	Summary      string   `json:"summary"`
	DocumentType string   `json:"document_type"`
	KeyTopics    []string `json:"key_topics"`
}

func (ix *Indexer) summarize(ctx context.Context, name, path, content string) (*summaryResult, error) {
	if len(content) > summaryContentLimit {
		content = content[:summaryContentLimit]
	}
	prompt := fmt.Sprintf(`Analyze this document for organization purposes.

DOCUMENT:
Filename: %s
Path: %s

Content (first %d chars):
%s

Provide analysis in this exact JSON format:
{
  "summary": "2-3 sentence summary of the document content and purpose",
  "document_type": "one of: meeting_notes, policy, report, template, correspondence, presentation, data, reference, draft, archive, other",
  "key_topics": ["topic1", "topic2", "topic3"]
}

Respond ONLY with the JSON, no other text.`, name, path, summaryContentLimit, content)

	response, err := ix.summarizer.Summarize(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var result summaryResult
	if err := llm.ExtractJSON(response, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
