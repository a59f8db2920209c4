package archive

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/driveorg/internal/faults"
)

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.zip")
	out, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(out)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, out.Close())
	return path
}

func TestExtractSkipsSystemFiles(t *testing.T) {
	zipPath := writeZip(t, map[string]string{
		"docs/report.txt":         "report body",
		"__MACOSX/._report.txt":   "resource fork",
		"docs/.DS_Store":          "finder cruft",
		"docs/sub/Thumbs.db":      "thumbnails",
		"docs/sub/real_notes.txt": "notes",
	})
	dest := t.TempDir()

	n, err := Extract(context.Background(), zipPath, dest)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	body, err := os.ReadFile(filepath.Join(dest, "docs", "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "report body", string(body))

	_, err = os.Stat(filepath.Join(dest, "__MACOSX"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dest, "docs", ".DS_Store"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractRefusesZipSlip(t *testing.T) {
	zipPath := writeZip(t, map[string]string{
		"../escape.txt": "evil",
	})
	dest := t.TempDir()

	_, err := Extract(context.Background(), zipPath, dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrIO)

	_, statErr := os.Stat(filepath.Join(filepath.Dir(dest), "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractRejectsNonZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not.zip")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o644))

	_, err := Extract(context.Background(), path, t.TempDir())
	assert.ErrorIs(t, err, faults.ErrCorrupt)
}

func TestPackageRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "a", "b"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(src, "top.txt"), []byte("top"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a", "b", "deep.txt"), []byte("deep"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, ".DS_Store"), []byte("cruft"), 0o644))

	zipPath := filepath.Join(t.TempDir(), "out", "result.zip")
	n, err := Package(context.Background(), src, zipPath)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dest := t.TempDir()
	n, err = Extract(context.Background(), zipPath, dest)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	deep, err := os.ReadFile(filepath.Join(dest, "a", "b", "deep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "deep", string(deep))
}

func TestPackageCancelled(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "f.txt"), []byte("x"), 0o644))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Package(ctx, src, filepath.Join(t.TempDir(), "out.zip"))
	assert.ErrorIs(t, err, faults.ErrCancelled)
}
