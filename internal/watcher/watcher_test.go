package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/driveorg/internal/config"
	"git.home.luguber.info/inful/driveorg/internal/store"
)

type fakeJobs struct {
	mu        sync.Mutex
	submitted []string
	processed []string
	done      chan string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{done: make(chan string, 16)}
}

func (f *fakeJobs) Submit(_ context.Context, archivePath string) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, archivePath)
	return &store.Job{ID: "job-" + filepath.Base(archivePath), SourceArchive: archivePath}, nil
}

func (f *fakeJobs) Process(_ context.Context, jobID string) error {
	f.mu.Lock()
	f.processed = append(f.processed, jobID)
	f.mu.Unlock()
	f.done <- jobID
	return nil
}

func (f *fakeJobs) submissions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitted...)
}

func newWatcher(t *testing.T, jobs Jobs) (*Watcher, *config.Config) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Paths.Input = filepath.Join(t.TempDir(), "input")
	cfg.Watcher.RescanInterval = time.Hour
	cfg.Watcher.SweepInterval = time.Hour
	cfg.Watcher.SettleDelay = 10 * time.Millisecond
	cfg.Processing.RetentionDays = 30

	s, err := store.New(":memory:", 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	w, err := New(cfg, s, jobs)
	require.NoError(t, err)
	return w, cfg
}

func waitFor(t *testing.T, done <-chan string) string {
	t.Helper()
	select {
	case id := <-done:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job processing")
		return ""
	}
}

func TestStartPicksUpExistingDeposit(t *testing.T) {
	jobs := newFakeJobs()
	w, cfg := newWatcher(t, jobs)

	require.NoError(t, os.MkdirAll(cfg.Paths.Input, 0o750))
	deposit := filepath.Join(cfg.Paths.Input, "archive.zip")
	require.NoError(t, os.WriteFile(deposit, []byte("zip bytes"), 0o644))

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop(ctx) })

	assert.Equal(t, "job-archive.zip", waitFor(t, jobs.done))
	assert.Equal(t, []string{deposit}, jobs.submissions())
}

func TestDepositAfterStartIsSubmitted(t *testing.T) {
	jobs := newFakeJobs()
	w, cfg := newWatcher(t, jobs)

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop(ctx) })

	deposit := filepath.Join(cfg.Paths.Input, "late.zip")
	require.NoError(t, os.WriteFile(deposit, []byte("zip bytes"), 0o644))

	assert.Equal(t, "job-late.zip", waitFor(t, jobs.done))
}

func TestDepositSubmittedOnlyOnce(t *testing.T) {
	jobs := newFakeJobs()
	w, cfg := newWatcher(t, jobs)

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop(ctx) })

	deposit := filepath.Join(cfg.Paths.Input, "once.zip")
	require.NoError(t, os.WriteFile(deposit, []byte("zip bytes"), 0o644))
	waitFor(t, jobs.done)

	// A rescan after submission must not produce a second job.
	w.rescan(ctx)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, jobs.submissions(), 1)
}

func TestNonZipDepositsIgnored(t *testing.T) {
	jobs := newFakeJobs()
	w, cfg := newWatcher(t, jobs)

	require.NoError(t, os.MkdirAll(cfg.Paths.Input, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.Input, "readme.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.Input, ".partial"), []byte("x"), 0o644))

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop(ctx) })

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, jobs.submissions())
}

func TestSettleWaitsForStableSize(t *testing.T) {
	jobs := newFakeJobs()
	w, cfg := newWatcher(t, jobs)

	require.NoError(t, os.MkdirAll(cfg.Paths.Input, 0o750))
	deposit := filepath.Join(cfg.Paths.Input, "slow.zip")
	f, err := os.Create(deposit)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop(ctx) })

	// Keep the file growing for a while before closing it.
	for i := 0; i < 3; i++ {
		_, err = f.Write(make([]byte, 1024))
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, f.Close())

	waitFor(t, jobs.done)
	assert.Equal(t, []string{deposit}, jobs.submissions())
}

func TestSweepRunsWithoutError(t *testing.T) {
	jobs := newFakeJobs()
	w, _ := newWatcher(t, jobs)

	w.sweep(context.Background())
}
