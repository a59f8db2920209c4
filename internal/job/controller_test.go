package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/driveorg/internal/archive"
	"git.home.luguber.info/inful/driveorg/internal/config"
	"git.home.luguber.info/inful/driveorg/internal/store"
)

type fakeLocal struct{}

func (fakeLocal) Summarize(context.Context, string) (string, error) {
	return `{"summary": "a file", "document_type": "other", "key_topics": []}`, nil
}

// fakeRemote answers the planning request by leaving every file unchanged.
type fakeRemote struct {
	err   error
	calls int
}

func (f *fakeRemote) Deliberate(_ context.Context, _, prompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	var bundle struct {
		Files []struct {
			ID int64 `json:"id"`
		} `json:"files"`
	}
	if err := json.Unmarshal([]byte(prompt), &bundle); err != nil {
		return "", err
	}
	assignments := ""
	for i, file := range bundle.Files {
		if i > 0 {
			assignments += ","
		}
		assignments += fmt.Sprintf(
			`{"id": %d, "proposed_name": null, "proposed_path": null, "reasoning": "fine as is"}`,
			file.ID)
	}
	return fmt.Sprintf(`{"file_assignments": [%s]}`, assignments), nil
}

type env struct {
	cfg   *config.Config
	store *store.Store
	zip   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{}
	cfg.Paths.Input = filepath.Join(root, "input")
	cfg.Paths.Source = filepath.Join(root, "source")
	cfg.Paths.Working = filepath.Join(root, "working")
	cfg.Paths.Output = filepath.Join(root, "output")
	cfg.Paths.Reports = filepath.Join(root, "reports")
	cfg.Processing.BatchSize = 10
	cfg.Workers.CPU = 2

	// Build a deposit archive from a scratch tree.
	scratch := filepath.Join(root, "scratch")
	for rel, content := range map[string]string{
		"docs/report.txt": "quarterly report",
		"docs/notes.md":   "# notes",
	} {
		abs := filepath.Join(scratch, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o750))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	zipPath := filepath.Join(root, "deposit.zip")
	_, err := archive.Package(context.Background(), scratch, zipPath)
	require.NoError(t, err)

	s, err := store.New(":memory:", 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return &env{cfg: cfg, store: s, zip: zipPath}
}

func TestProcessRunsPipelineToCompletion(t *testing.T) {
	e := newEnv(t)
	remote := &fakeRemote{}
	c := New(e.cfg, e.store, fakeLocal{}, remote, nil, nil)

	job, err := c.Submit(context.Background(), e.zip)
	require.NoError(t, err)
	require.NoError(t, c.Process(context.Background(), job.ID))
	assert.Equal(t, 1, remote.calls)

	got, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, 2, got.FilesProcessed)
	assert.NotEmpty(t, got.OutputArchive)
	assert.NotNil(t, got.CompletedAt)

	// The working mirror and the packaged output exist.
	_, err = os.Stat(filepath.Join(e.cfg.Paths.Working, job.ID, "docs", "report.txt"))
	require.NoError(t, err)
	_, err = os.Stat(got.OutputArchive)
	require.NoError(t, err)

	// Every document reached applied.
	docs, err := e.store.ListDocuments(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.Equal(t, store.ItemApplied, d.Status)
	}
}

func TestProcessStopsAtReviewGate(t *testing.T) {
	e := newEnv(t)
	e.cfg.Processing.ReviewRequired = true
	c := New(e.cfg, e.store, fakeLocal{}, &fakeRemote{}, nil, nil)

	job, err := c.Submit(context.Background(), e.zip)
	require.NoError(t, err)
	require.NoError(t, c.Process(context.Background(), job.ID))

	got, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobReviewRequired, got.Status)

	// Nothing executed yet.
	_, err = os.Stat(filepath.Join(e.cfg.Paths.Working, job.ID))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, c.Approve(context.Background(), job.ID))
	got, err = e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, got.Status)
}

func TestApproveRejectsWrongState(t *testing.T) {
	e := newEnv(t)
	c := New(e.cfg, e.store, fakeLocal{}, &fakeRemote{}, nil, nil)
	job, err := c.Submit(context.Background(), e.zip)
	require.NoError(t, err)

	err = c.Approve(context.Background(), job.ID)
	require.Error(t, err)
}

func TestProcessFailsJobOnPlannerError(t *testing.T) {
	e := newEnv(t)
	c := New(e.cfg, e.store, fakeLocal{}, &fakeRemote{err: errors.New("api down")}, nil, nil)

	job, err := c.Submit(context.Background(), e.zip)
	require.NoError(t, err)
	err = c.Process(context.Background(), job.ID)
	require.Error(t, err)

	got, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "organizing")
}

func TestProcessMissingArchiveFails(t *testing.T) {
	e := newEnv(t)
	c := New(e.cfg, e.store, fakeLocal{}, &fakeRemote{}, nil, nil)

	job, err := c.Submit(context.Background(), filepath.Join(t.TempDir(), "missing.zip"))
	require.NoError(t, err)
	err = c.Process(context.Background(), job.ID)
	require.Error(t, err)

	got, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "extracting")
}

func TestProcessTerminalJobIsNoop(t *testing.T) {
	e := newEnv(t)
	c := New(e.cfg, e.store, fakeLocal{}, &fakeRemote{}, nil, nil)
	job, err := c.Submit(context.Background(), e.zip)
	require.NoError(t, err)
	require.NoError(t, e.store.FailJob(context.Background(), job.ID, store.JobCancelled, "gone"))

	require.NoError(t, c.Process(context.Background(), job.ID))
	got, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCancelled, got.Status)
}

func TestCancelMarksJobCancelled(t *testing.T) {
	e := newEnv(t)
	c := New(e.cfg, e.store, fakeLocal{}, &fakeRemote{}, nil, nil)
	job, err := c.Submit(context.Background(), e.zip)
	require.NoError(t, err)

	require.NoError(t, c.Cancel(context.Background(), job.ID))
	got, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCancelled, got.Status)
}

func TestCompletionCallbackDelivered(t *testing.T) {
	e := newEnv(t)
	var mu sync.Mutex
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	e.cfg.Processing.CallbackURL = srv.URL

	c := New(e.cfg, e.store, fakeLocal{}, &fakeRemote{}, nil, nil)
	job, err := c.Submit(context.Background(), e.zip)
	require.NoError(t, err)
	require.NoError(t, c.Process(context.Background(), job.ID))

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, received)
	assert.Equal(t, job.ID, received["job_id"])
	assert.Equal(t, "completed", received["status"])
}

func TestDryRunSkipsOutputArchive(t *testing.T) {
	e := newEnv(t)
	e.cfg.Processing.DryRun = true
	c := New(e.cfg, e.store, fakeLocal{}, &fakeRemote{}, nil, nil)

	job, err := c.Submit(context.Background(), e.zip)
	require.NoError(t, err)
	require.NoError(t, c.Process(context.Background(), job.ID))

	got, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, got.Status)
	assert.Empty(t, got.OutputArchive)

	// Projected manifest only: the working tree was never populated.
	_, err = os.Stat(filepath.Join(e.cfg.Paths.Working, job.ID))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(e.cfg.Paths.Reports, job.ID+"_manifest.json"))
	require.NoError(t, err)
}
