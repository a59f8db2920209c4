// Package fingerprint computes content hashes and filesystem metadata for
// discovered files.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/driveorg/internal/faults"
)

// hashBufferSize is the streaming read chunk for large files.
const hashBufferSize = 64 * 1024

// Metadata is everything the indexer records about a file before extraction.
type Metadata struct {
	Name        string
	Extension   string // lowercased, no leading dot
	Size        int64
	Mtime       time.Time
	MimeType    string
	ContentHash string // lowercase hex sha-256
}

// mimeByExtension maps lowercased extensions to MIME types. Ambiguous
// extensions carry explicit overrides rather than relying on the platform
// mime registry.
var mimeByExtension = map[string]string{
	"txt":  "text/plain",
	"md":   "text/markdown",
	"csv":  "text/csv",
	"html": "text/html",
	"htm":  "text/html",
	"xml":  "application/xml",
	"json": "application/json",
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"mp4":  "video/mp4",
	"mov":  "video/quicktime",
	"zip":  "application/zip",
	"gz":   "application/gzip",
	"tar":  "application/x-tar",
	"7z":   "application/x-7z-compressed",
	"exe":  "application/x-msdownload",
	// .ts is TypeScript source in a document drive, not MPEG transport stream.
	"ts": "text/plain",
}

// Ext returns the lowercased extension of name without the leading dot.
func Ext(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	return strings.TrimPrefix(ext, ".")
}

// MimeType resolves the MIME type for an extension; unknown extensions map to
// application/octet-stream.
func MimeType(ext string) string {
	if m, ok := mimeByExtension[strings.ToLower(ext)]; ok {
		return m
	}
	return "application/octet-stream"
}

// HashFile streams the file through SHA-256 and returns the lowercase hex digest.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w: %v", path, faults.ErrIO, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashBufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w: %v", path, faults.ErrIO, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Stat collects metadata and the content hash for one file.
func Stat(path string) (*Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w: %v", path, faults.ErrIO, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("stat %s: is a directory: %w", path, faults.ErrIO)
	}

	hash, err := HashFile(path)
	if err != nil {
		return nil, err
	}

	ext := Ext(info.Name())
	return &Metadata{
		Name:        info.Name(),
		Extension:   ext,
		Size:        info.Size(),
		Mtime:       info.ModTime().UTC(),
		MimeType:    MimeType(ext),
		ContentHash: hash,
	}, nil
}

// FileID derives the stable external identity of a file from its
// source-relative path. It survives re-indexing and renames of the job.
func FileID(relPath string) string {
	sum := sha256.Sum256([]byte(filepath.ToSlash(relPath)))
	return hex.EncodeToString(sum[:16])
}
