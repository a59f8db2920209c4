package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/driveorg/internal/faults"
	"git.home.luguber.info/inful/driveorg/internal/store"
)

// Manifest is the single JSON report one execution produces.
type Manifest struct {
	JobID      string              `json:"job_id"`
	ExecutedAt time.Time           `json:"executed_at"`
	SourceZip  string              `json:"source_zip"`
	DryRun     bool                `json:"dry_run,omitempty"`
	Statistics ManifestStats       `json:"statistics"`
	Operations []ManifestOperation `json:"operations"`
	Shortcuts  []ManifestShortcut  `json:"shortcuts"`
	Errors     []ManifestError     `json:"errors"`
}

type ManifestStats struct {
	FilesProcessed      int `json:"files_processed"`
	DirectoriesCreated  int `json:"directories_created"`
	FilesCopied         int `json:"files_copied"`
	FilesRenamed        int `json:"files_renamed"`
	FilesMoved          int `json:"files_moved"`
	ShortcutsCreated    int `json:"shortcuts_created"`
	VersionsArchived    int `json:"versions_archived"`
	OperationsFailed    int `json:"operations_failed"`
	OperationsAttempted int `json:"operations_attempted"`
}

type ManifestOperation struct {
	Type       store.Operation `json:"type"`
	SourcePath string          `json:"source_path,omitempty"`
	TargetPath string          `json:"target_path"`
	DocumentID *int64          `json:"document_id,omitempty"`
	Success    bool            `json:"success"`
	Timestamp  time.Time       `json:"timestamp"`
}

type ManifestShortcut struct {
	ShortcutPath string             `json:"shortcut_path"`
	TargetPath   string             `json:"target_path"`
	Type         store.ShortcutType `json:"type"`
	OriginalPath string             `json:"original_path"`
}

type ManifestError struct {
	Operation  store.Operation `json:"operation"`
	SourcePath string          `json:"source_path,omitempty"`
	TargetPath string          `json:"target_path,omitempty"`
	Message    string          `json:"message"`
}

// writeManifest persists the manifest under dir and returns its path. A
// manifest that cannot be written is a fatal condition for the job.
func writeManifest(dir string, m *Manifest) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("reports dir %s: %w: %v", dir, faults.ErrFatal, err)
	}
	name := fmt.Sprintf("%s_manifest.json", m.JobID)
	p := filepath.Join(dir, name)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w: %v", faults.ErrFatal, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest %s: %w: %v", p, faults.ErrFatal, err)
	}
	return p, nil
}

// chainManifest is the per-chain version_history.json.
type chainManifest struct {
	DocumentName    string         `json:"document_name"`
	CurrentVersion  int            `json:"current_version"`
	CurrentFile     string         `json:"current_file"`
	ArchivePath     string         `json:"archive_path"`
	ArchiveStrategy string         `json:"archive_strategy"`
	Versions        []chainVersion `json:"versions"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

type chainVersion struct {
	Version int    `json:"version_number"`
	File    string `json:"file"`
	Date    string `json:"date"`
	Status  string `json:"status"`
}

func writeChainManifest(dir string, m *chainManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode chain manifest: %w: %v", faults.ErrIO, err)
	}
	p := filepath.Join(dir, "version_history.json")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w: %v", p, faults.ErrIO, err)
	}
	return nil
}
