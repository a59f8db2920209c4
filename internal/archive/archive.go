// Package archive extracts deposited ZIP archives into the source tree and
// packages the working tree into the output archive.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/driveorg/internal/faults"
	"git.home.luguber.info/inful/driveorg/internal/logfields"
)

// systemFiles are cruft entries skipped on extraction and packaging.
var systemFiles = map[string]bool{
	"__MACOSX":    true,
	".DS_Store":   true,
	"Thumbs.db":   true,
	"desktop.ini": true,
	"._.DS_Store": true,
}

// shouldSkip reports whether any path component is a known system file.
func shouldSkip(name string) bool {
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if systemFiles[part] {
			return true
		}
	}
	return false
}

// Extract unpacks zipPath into destDir, refusing entries that would escape
// the destination (zip-slip) and skipping system files. Returns the number
// of files written.
func Extract(ctx context.Context, zipPath, destDir string) (int, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, fmt.Errorf("open archive %s: %w: %v", zipPath, faults.ErrCorrupt, err)
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return 0, fmt.Errorf("create destination: %w: %v", faults.ErrIO, err)
	}

	absDest, err := filepath.Abs(destDir)
	if err != nil {
		return 0, fmt.Errorf("resolve destination: %w: %v", faults.ErrIO, err)
	}

	written := 0
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("extract: %w", faults.ErrCancelled)
		}
		if shouldSkip(f.Name) {
			continue
		}

		target := filepath.Join(absDest, filepath.FromSlash(f.Name))
		rel, err := filepath.Rel(absDest, target)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
			return written, fmt.Errorf("entry %q escapes destination: %w", f.Name, faults.ErrIO)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return written, fmt.Errorf("create dir %s: %w: %v", target, faults.ErrIO, err)
			}
			continue
		}

		if err := extractFile(f, target); err != nil {
			return written, err
		}
		written++
	}

	slog.Info("Extracted archive", logfields.Path(zipPath), logfields.Count(written))
	return written, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create parent dir: %w: %v", faults.ErrIO, err)
	}
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w: %v", f.Name, faults.ErrCorrupt, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create file %s: %w: %v", target, faults.ErrIO, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("write file %s: %w: %v", target, faults.ErrIO, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close file %s: %w: %v", target, faults.ErrIO, err)
	}
	if !f.Modified.IsZero() {
		_ = os.Chtimes(target, f.Modified, f.Modified)
	}
	return nil
}

// Package zips the contents of srcDir into zipPath with deflate compression,
// skipping system files. Entry names are forward-slash relative paths.
// Returns the number of files packaged.
func Package(ctx context.Context, srcDir, zipPath string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(zipPath), 0o750); err != nil {
		return 0, fmt.Errorf("create output dir: %w: %v", faults.ErrIO, err)
	}
	out, err := os.Create(zipPath)
	if err != nil {
		return 0, fmt.Errorf("create archive %s: %w: %v", zipPath, faults.ErrIO, err)
	}
	w := zip.NewWriter(out)

	count := 0
	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w: %v", path, faults.ErrIO, err)
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("package: %w", faults.ErrCancelled)
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w: %v", path, faults.ErrIO, err)
		}
		name := filepath.ToSlash(rel)
		if shouldSkip(name) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w: %v", path, faults.ErrIO, err)
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return fmt.Errorf("header %s: %w: %v", path, faults.ErrIO, err)
		}
		hdr.Name = name
		hdr.Method = zip.Deflate

		entry, err := w.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("create entry %s: %w: %v", name, faults.ErrIO, err)
		}
		src, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w: %v", path, faults.ErrIO, err)
		}
		if _, err := io.Copy(entry, src); err != nil {
			_ = src.Close()
			return fmt.Errorf("write entry %s: %w: %v", name, faults.ErrIO, err)
		}
		_ = src.Close()
		count++
		return nil
	})
	if walkErr != nil {
		_ = w.Close()
		_ = out.Close()
		_ = os.Remove(zipPath)
		return 0, walkErr
	}
	if err := w.Close(); err != nil {
		_ = out.Close()
		return 0, fmt.Errorf("finalize archive: %w: %v", faults.ErrIO, err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close archive: %w: %v", faults.ErrIO, err)
	}

	slog.Info("Packaged archive", logfields.Path(zipPath), logfields.Count(count))
	return count, nil
}
