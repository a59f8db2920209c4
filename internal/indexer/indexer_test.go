package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/driveorg/internal/extract"
	"git.home.luguber.info/inful/driveorg/internal/store"
)

type fakeSummarizer struct {
	mu      sync.Mutex
	calls   int
	fail    bool
	payload string
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return "", errors.New("model down")
	}
	if f.payload != "" {
		return f.payload, nil
	}
	return `{"summary": "a test file", "document_type": "report", "key_topics": ["testing"]}`, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:", 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.CreateJob(context.Background(), &store.Job{ID: "job-1"}))
	return s
}

func buildTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o750))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	return root
}

func TestRunIndexesTree(t *testing.T) {
	s := newTestStore(t)
	root := buildTree(t, map[string]string{
		"docs/report.txt":  "quarterly report body",
		"docs/notes.md":    "# Notes\n\nsome notes",
		"deep/a/b/raw.bin": "\x00\x01\x02",
	})
	sum := &fakeSummarizer{}

	ix := New(s, extract.NewRegistry(), sum, nil, Options{Workers: 2, BatchSize: 1})
	res, err := ix.Run(context.Background(), "job-1", root)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Zero(t, res.Failed)

	docs, err := s.ListDocuments(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	byPath := map[string]*store.DocumentItem{}
	for _, d := range docs {
		byPath[d.CurrentPath] = d
		assert.Equal(t, store.ItemProcessed, d.Status)
		assert.Len(t, d.ContentHash, 64)
	}

	report := byPath["docs/report.txt"]
	require.NotNil(t, report)
	assert.Equal(t, "a test file", report.Summary)
	assert.Equal(t, "report", report.DocumentType)
	assert.Equal(t, []string{"testing"}, report.KeyTopics)
	assert.Equal(t, "txt", report.Extension)

	// Binary files get no summary call.
	raw := byPath["deep/a/b/raw.bin"]
	require.NotNil(t, raw)
	assert.Empty(t, raw.Summary)
}

func TestRunSummarizerFailureIsPerFile(t *testing.T) {
	s := newTestStore(t)
	root := buildTree(t, map[string]string{"a.txt": "content"})
	sum := &fakeSummarizer{fail: true}

	ix := New(s, extract.NewRegistry(), sum, nil, Options{Workers: 1})
	res, err := ix.Run(context.Background(), "job-1", root)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	docs, err := s.ListDocuments(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	// Indexed without summary rather than failed.
	assert.Equal(t, store.ItemProcessed, docs[0].Status)
	assert.Empty(t, docs[0].Summary)
}

func TestRunIdempotent(t *testing.T) {
	s := newTestStore(t)
	root := buildTree(t, map[string]string{"a.txt": "content", "b.txt": "other"})

	ix := New(s, extract.NewRegistry(), &fakeSummarizer{}, nil, Options{Workers: 2})
	_, err := ix.Run(context.Background(), "job-1", root)
	require.NoError(t, err)
	_, err = ix.Run(context.Background(), "job-1", root)
	require.NoError(t, err)

	docs, err := s.ListDocuments(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestRunSkipsHiddenTopLevel(t *testing.T) {
	s := newTestStore(t)
	root := buildTree(t, map[string]string{
		".git/config":    "hidden",
		"docs/a.txt":     "visible",
		"docs/.keep":     "visible hidden file",
		"docs/.sub/b.md": "nested hidden dir is kept",
	})

	ix := New(s, extract.NewRegistry(), nil, nil, Options{Workers: 1, SkipHiddenTop: true})
	res, err := ix.Run(context.Background(), "job-1", root)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)

	docs, err := s.ListDocuments(context.Background(), "job-1")
	require.NoError(t, err)
	for _, d := range docs {
		assert.NotContains(t, d.CurrentPath, ".git/")
	}
}

func TestRunMissingRoot(t *testing.T) {
	s := newTestStore(t)
	ix := New(s, extract.NewRegistry(), nil, nil, Options{})
	_, err := ix.Run(context.Background(), "job-1", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestRunLargeFileSkipsExtraction(t *testing.T) {
	s := newTestStore(t)
	root := buildTree(t, map[string]string{"big.txt": "0123456789"})
	sum := &fakeSummarizer{}

	ix := New(s, extract.NewRegistry(), sum, nil, Options{Workers: 1, MaxFileSize: 5})
	res, err := ix.Run(context.Background(), "job-1", root)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Zero(t, sum.calls, "oversized files must not be summarized")

	docs, _ := s.ListDocuments(context.Background(), "job-1")
	require.Len(t, docs, 1)
	assert.Len(t, docs[0].ContentHash, 64, "oversized files are still hashed")
}

func TestRunProgressCallback(t *testing.T) {
	s := newTestStore(t)
	root := buildTree(t, map[string]string{"a.txt": "1", "b.txt": "2", "c.txt": "3"})

	var mu sync.Mutex
	var reports []int
	ix := New(s, extract.NewRegistry(), nil, nil, Options{
		Workers:   1,
		BatchSize: 2,
		Progress: func(done, total int) {
			mu.Lock()
			reports = append(reports, done)
			mu.Unlock()
			assert.Equal(t, 3, total)
		},
	})
	_, err := ix.Run(context.Background(), "job-1", root)
	require.NoError(t, err)
	assert.Contains(t, reports, 2)
	assert.Contains(t, reports, 3)
}
