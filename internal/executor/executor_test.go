package executor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/driveorg/internal/config"
	"git.home.luguber.info/inful/driveorg/internal/faults"
	"git.home.luguber.info/inful/driveorg/internal/store"
)

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		`re<po>rt:.txt`:   "report.txt",
		"trailing dots..": "trailing dots",
		"trailing   ":     "trailing",
		"CON":             "_CON",
		"com1.txt":        "_com1.txt",
		"Lpt9":            "_Lpt9",
		`<>:"/\|?*`:       "unnamed",
		"":                "unnamed",
		"normal.pdf":      "normal.pdf",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeName(in), in)
	}

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	got := SanitizeName(string(long) + ".txt")
	assert.Len(t, got, maxComponentLength)
	assert.True(t, filepath.Ext(got) == ".txt")
}

func TestSanitizePath(t *testing.T) {
	// Traversal components are dropped, not resolved: a target path may
	// never climb out of the working tree.
	assert.Equal(t, "a/a/b c/d.txt", SanitizePath("a/../a/b c/./d.txt"))
	assert.Equal(t, "up/escape.txt", SanitizePath("../up/escape.txt"))
	assert.Equal(t, "x", SanitizePath("/x/"))
}

type env struct {
	store   *store.Store
	source  string
	working string
	reports string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s, err := store.New(":memory:", 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.CreateJob(context.Background(), &store.Job{
		ID: "job-1", SourceArchive: "drop/archive.zip",
	}))
	root := t.TempDir()
	e := &env{
		store:   s,
		source:  filepath.Join(root, "source"),
		working: filepath.Join(root, "working"),
		reports: filepath.Join(root, "reports"),
	}
	require.NoError(t, os.MkdirAll(e.source, 0o750))
	return e
}

func (e *env) executor(t *testing.T, opts Options) *Executor {
	t.Helper()
	opts.SourceRoot = e.source
	opts.WorkingRoot = e.working
	opts.ReportsDir = e.reports
	return New(e.store, nil, opts)
}

func (e *env) addFile(t *testing.T, rel, content string) {
	t.Helper()
	abs := filepath.Join(e.source, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o750))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	mtime := time.Unix(1700000000, 0)
	require.NoError(t, os.Chtimes(abs, mtime, mtime))
}

func (e *env) addDoc(t *testing.T, fileID, name, rel, hash string) *store.DocumentItem {
	t.Helper()
	d := &store.DocumentItem{
		JobID:       "job-1",
		FileID:      fileID,
		CurrentName: name,
		CurrentPath: rel,
		Extension:   "txt",
		FileSize:    10,
		ContentHash: hash,
		SourceMtime: time.Unix(1700000000, 0).UTC(),
		Status:      store.ItemProcessed,
	}
	require.NoError(t, e.store.UpsertDocument(context.Background(), d))
	return d
}

func strPtr(s string) *string { return &s }

func TestRunAppliesPlan(t *testing.T) {
	e := newEnv(t)
	e.addFile(t, "misc/q1.txt", "q1 body")
	e.addFile(t, "misc/keep.txt", "keep body")
	d1 := e.addDoc(t, "f1", "q1.txt", "misc/q1.txt", "h1")
	d2 := e.addDoc(t, "f2", "keep.txt", "misc/keep.txt", "h2")

	require.NoError(t, e.store.SavePlan(context.Background(), "job-1", &store.PlanArtifacts{
		BatchID: "batch-1",
		Directories: []*store.DirectoryStructure{
			{Path: "Reports", FolderName: "Reports", Depth: 1},
		},
		Assignments: []*store.PlanAssignment{
			{DocumentID: d1.ID, Name: strPtr("q1-report.txt"), Path: strPtr("Reports"), Reasoning: "report"},
			{DocumentID: d2.ID, Reasoning: "unchanged"},
		},
	}))

	ex := e.executor(t, Options{})
	man, err := ex.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "drop/archive.zip", man.SourceZip)
	assert.Equal(t, 2, man.Statistics.FilesCopied)
	assert.Equal(t, 1, man.Statistics.FilesRenamed)
	assert.Equal(t, 1, man.Statistics.FilesMoved)
	assert.Empty(t, man.Errors)

	moved, err := os.ReadFile(filepath.Join(e.working, "Reports", "q1-report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "q1 body", string(moved))

	// Unchanged items are mirrored to their original relative path.
	mirrored, err := os.ReadFile(filepath.Join(e.working, "misc", "keep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "keep body", string(mirrored))

	// Modification time survives the copy.
	info, err := os.Stat(filepath.Join(e.working, "Reports", "q1-report.txt"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(time.Unix(1700000000, 0)))

	got, err := e.store.GetDocument(context.Background(), d1.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ItemApplied, got.Status)
	assert.Equal(t, "Reports/q1-report.txt", got.FinalPath)
	assert.True(t, got.ChangesApplied)

	// Source tree untouched.
	orig, err := os.ReadFile(filepath.Join(e.source, "misc", "q1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "q1 body", string(orig))

	// Manifest written to the reports dir.
	data, err := os.ReadFile(filepath.Join(e.reports, "job-1_manifest.json"))
	require.NoError(t, err)
	var parsed Manifest
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, "job-1", parsed.JobID)
	assert.NotEmpty(t, parsed.Operations)
}

func TestRunTargetCollision(t *testing.T) {
	e := newEnv(t)
	e.addFile(t, "a.txt", "a")
	e.addFile(t, "b.txt", "b")
	d1 := e.addDoc(t, "f1", "a.txt", "a.txt", "h1")
	d2 := e.addDoc(t, "f2", "b.txt", "b.txt", "h2")

	require.NoError(t, e.store.SavePlan(context.Background(), "job-1", &store.PlanArtifacts{
		BatchID: "batch-1",
		Assignments: []*store.PlanAssignment{
			{DocumentID: d1.ID, Name: strPtr("same.txt"), Path: strPtr("X")},
			{DocumentID: d2.ID, Name: strPtr("same.txt"), Path: strPtr("X")},
		},
	}))

	ex := e.executor(t, Options{})
	_, err := ex.Run(context.Background(), "job-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.ErrConflict))
}

func TestRunMissingSource(t *testing.T) {
	e := newEnv(t)
	d := e.addDoc(t, "f1", "ghost.txt", "ghost.txt", "h1")
	require.NoError(t, e.store.SavePlan(context.Background(), "job-1", &store.PlanArtifacts{
		BatchID: "batch-1",
		Assignments: []*store.PlanAssignment{
			{DocumentID: d.ID, Name: strPtr("ghost.txt"), Path: strPtr("X")},
		},
	}))

	ex := e.executor(t, Options{})
	_, err := ex.Run(context.Background(), "job-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.ErrValidation))
}

func TestRunCreatesShortcuts(t *testing.T) {
	e := newEnv(t)
	e.addFile(t, "docs/report.txt", "body")
	e.addFile(t, "backup/report.txt", "body")
	primary := e.addDoc(t, "f1", "report.txt", "docs/report.txt", "same")
	dup := e.addDoc(t, "f2", "report.txt", "backup/report.txt", "same")

	group := &store.DuplicateGroup{
		JobID: "job-1", ContentHash: "same", FileCount: 2,
		TotalSize: 20, PrimaryDocumentID: primary.ID, DecidedBy: store.DecidedAuto,
	}
	require.NoError(t, e.store.SaveDuplicateGroup(context.Background(), group, []*store.DuplicateMember{
		{DocumentID: primary.ID, IsPrimary: true, Action: store.ActionKeepPrimary},
		{DocumentID: dup.ID, Action: store.ActionShortcut, ShortcutTargetPath: "docs/report.txt"},
	}))
	require.NoError(t, e.store.SavePlan(context.Background(), "job-1", &store.PlanArtifacts{
		BatchID: "batch-1",
		Assignments: []*store.PlanAssignment{
			{DocumentID: primary.ID},
		},
	}))

	ex := e.executor(t, Options{ShortcutFormat: config.ShortcutURL})
	man, err := ex.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, man.Statistics.ShortcutsCreated)
	require.Len(t, man.Shortcuts, 1)
	assert.Equal(t, store.ShortcutURL, man.Shortcuts[0].Type)

	body, err := os.ReadFile(filepath.Join(e.working, "backup", "report.txt.url"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "[InternetShortcut]\nURL=file:///")
	assert.Contains(t, string(body), "docs/report.txt\n")

	records, err := e.store.ListShortcuts(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "backup/report.txt.url", records[0].ShortcutPath)
	assert.Equal(t, "same", records[0].OriginalHash)
}

func TestRunSymlinkShortcut(t *testing.T) {
	e := newEnv(t)
	e.addFile(t, "a/doc.txt", "body")
	e.addFile(t, "b/doc.txt", "body")
	primary := e.addDoc(t, "f1", "doc.txt", "a/doc.txt", "same")
	dup := e.addDoc(t, "f2", "doc.txt", "b/doc.txt", "same")

	group := &store.DuplicateGroup{
		JobID: "job-1", ContentHash: "same", FileCount: 2,
		TotalSize: 8, PrimaryDocumentID: primary.ID, DecidedBy: store.DecidedAuto,
	}
	require.NoError(t, e.store.SaveDuplicateGroup(context.Background(), group, []*store.DuplicateMember{
		{DocumentID: primary.ID, IsPrimary: true, Action: store.ActionKeepPrimary},
		{DocumentID: dup.ID, Action: store.ActionShortcut, ShortcutTargetPath: "a/doc.txt"},
	}))
	require.NoError(t, e.store.SavePlan(context.Background(), "job-1", &store.PlanArtifacts{
		BatchID:     "batch-1",
		Assignments: []*store.PlanAssignment{{DocumentID: primary.ID}},
	}))

	ex := e.executor(t, Options{ShortcutFormat: config.ShortcutAuto})
	man, err := ex.Run(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, man.Shortcuts, 1)
	assert.Equal(t, store.ShortcutSymlink, man.Shortcuts[0].Type)

	link := filepath.Join(e.working, "b", "doc.txt")
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(target))
	resolved, err := os.ReadFile(link)
	require.NoError(t, err)
	assert.Equal(t, "body", string(resolved))
}

func TestRunArchivesVersions(t *testing.T) {
	e := newEnv(t)
	e.addFile(t, "docs/report_v1.txt", "old")
	e.addFile(t, "docs/report.txt", "new")
	old := e.addDoc(t, "f1", "report_v1.txt", "docs/report_v1.txt", "h1")
	cur := e.addDoc(t, "f2", "report.txt", "docs/report.txt", "h2")

	date := time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC)
	chain := &store.VersionChain{
		JobID: "job-1", ChainName: "report", BasePath: "docs",
		CurrentDocumentID: cur.ID, CurrentVersionNumber: 2,
		DetectionMethod: store.DetectExplicitMarker, DetectionConfidence: 0.95,
		VersionOrderConfirmed: true, ArchiveStrategy: "subfolder",
		ArchivePath: "docs/_versions/report",
	}
	require.NoError(t, e.store.SaveVersionChain(context.Background(), chain, []*store.VersionChainMember{
		{DocumentID: old.ID, VersionNumber: 1, VersionLabel: "v1", VersionDate: &date,
			Status: store.MemberSuperseded,
			ProposedVersionName: "report_v1_2023-11-14.txt",
			ProposedVersionPath: "docs/_versions/report/report_v1_2023-11-14.txt"},
		{DocumentID: cur.ID, VersionNumber: 2, IsCurrent: true, VersionDate: &date,
			Status: store.MemberActive, ProposedVersionName: "report.txt",
			ProposedVersionPath: "docs/report.txt"},
	}))
	require.NoError(t, e.store.SavePlan(context.Background(), "job-1", &store.PlanArtifacts{
		BatchID:     "batch-1",
		Assignments: []*store.PlanAssignment{{DocumentID: cur.ID}},
	}))

	ex := e.executor(t, Options{})
	man, err := ex.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, man.Statistics.VersionsArchived)

	archived, err := os.ReadFile(filepath.Join(e.working,
		"docs", "_versions", "report", "report_v1_2023-11-14.txt"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(archived))

	data, err := os.ReadFile(filepath.Join(e.working,
		"docs", "_versions", "report", "version_history.json"))
	require.NoError(t, err)
	var cm chainManifest
	require.NoError(t, json.Unmarshal(data, &cm))
	assert.Equal(t, "report", cm.DocumentName)
	assert.Equal(t, 2, cm.CurrentVersion)
	assert.Equal(t, "../../report.txt", cm.CurrentFile)
	require.Len(t, cm.Versions, 2)
	assert.Equal(t, "report_v1_2023-11-14.txt", cm.Versions[0].File)
	assert.Equal(t, "2023-11-14", cm.Versions[0].Date)

	got, err := e.store.GetDocument(context.Background(), old.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ItemApplied, got.Status)
	assert.Equal(t, "docs/_versions/report/report_v1_2023-11-14.txt", got.FinalPath)
}

func TestRunCurrentVersionMovedToMainLocation(t *testing.T) {
	e := newEnv(t)
	e.addFile(t, "plans/budget_v1.xlsx", "one")
	e.addFile(t, "plans/budget_v2.xlsx", "two")
	e.addFile(t, "plans/budget_v3.xlsx", "three")
	v1 := e.addDoc(t, "f1", "budget_v1.xlsx", "plans/budget_v1.xlsx", "h1")
	v2 := e.addDoc(t, "f2", "budget_v2.xlsx", "plans/budget_v2.xlsx", "h2")
	cur := e.addDoc(t, "f3", "budget_v3.xlsx", "plans/budget_v3.xlsx", "h3")

	chain := &store.VersionChain{
		JobID: "job-1", ChainName: "budget", BasePath: "plans",
		CurrentDocumentID: cur.ID, CurrentVersionNumber: 3,
		DetectionMethod: store.DetectExplicitMarker, DetectionConfidence: 0.95,
		VersionOrderConfirmed: true, ArchiveStrategy: "subfolder",
		ArchivePath: "plans/_versions/budget",
	}
	require.NoError(t, e.store.SaveVersionChain(context.Background(), chain, []*store.VersionChainMember{
		{DocumentID: v1.ID, VersionNumber: 1, VersionLabel: "v1",
			Status:              store.MemberSuperseded,
			ProposedVersionName: "budget_v1.xlsx",
			ProposedVersionPath: "plans/_versions/budget/budget_v1.xlsx"},
		{DocumentID: v2.ID, VersionNumber: 2, VersionLabel: "v2",
			Status:              store.MemberSuperseded,
			ProposedVersionName: "budget_v2.xlsx",
			ProposedVersionPath: "plans/_versions/budget/budget_v2.xlsx"},
		{DocumentID: cur.ID, VersionNumber: 3, IsCurrent: true,
			Status: store.MemberActive, ProposedVersionName: "budget.xlsx",
			ProposedVersionPath: "plans/budget.xlsx"},
	}))
	// The plan leaves the current member where it was.
	require.NoError(t, e.store.SavePlan(context.Background(), "job-1", &store.PlanArtifacts{
		BatchID:     "batch-1",
		Assignments: []*store.PlanAssignment{{DocumentID: cur.ID}},
	}))

	ex := e.executor(t, Options{})
	man, err := ex.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, man.Statistics.VersionsArchived)

	// The current version ends up at the chain's main location, not at its
	// original versioned name.
	data, err := os.ReadFile(filepath.Join(e.working, "plans", "budget.xlsx"))
	require.NoError(t, err)
	assert.Equal(t, "three", string(data))
	_, err = os.Stat(filepath.Join(e.working, "plans", "budget_v3.xlsx"))
	assert.True(t, os.IsNotExist(err))

	var cm chainManifest
	raw, err := os.ReadFile(filepath.Join(e.working,
		"plans", "_versions", "budget", "version_history.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &cm))
	assert.Equal(t, "../../budget.xlsx", cm.CurrentFile)

	got, err := e.store.GetDocument(context.Background(), cur.ID)
	require.NoError(t, err)
	assert.Equal(t, "plans/budget.xlsx", got.FinalPath)
	assert.Equal(t, "budget.xlsx", got.FinalName)
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	e := newEnv(t)
	e.addFile(t, "a.txt", "body")
	d := e.addDoc(t, "f1", "a.txt", "a.txt", "h1")
	require.NoError(t, e.store.SavePlan(context.Background(), "job-1", &store.PlanArtifacts{
		BatchID: "batch-1",
		Directories: []*store.DirectoryStructure{
			{Path: "X", FolderName: "X", Depth: 1},
		},
		Assignments: []*store.PlanAssignment{
			{DocumentID: d.ID, Name: strPtr("renamed.txt"), Path: strPtr("X")},
		},
	}))

	ex := e.executor(t, Options{DryRun: true})
	man, err := ex.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.True(t, man.DryRun)
	assert.Equal(t, 1, man.Statistics.FilesCopied, "operations are projected")

	// Working tree was never created.
	_, err = os.Stat(e.working)
	assert.True(t, os.IsNotExist(err))

	// Document status untouched.
	got, err := e.store.GetDocument(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ItemOrganized, got.Status)

	// The projected manifest still lands in the reports dir.
	_, err = os.Stat(filepath.Join(e.reports, "job-1_manifest.json"))
	require.NoError(t, err)

	log, err := e.store.ListExecutionLog(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Empty(t, log)
}

func TestRunClearsStaleWorkingTree(t *testing.T) {
	e := newEnv(t)
	e.addFile(t, "a.txt", "body")
	d := e.addDoc(t, "f1", "a.txt", "a.txt", "h1")
	require.NoError(t, e.store.SavePlan(context.Background(), "job-1", &store.PlanArtifacts{
		BatchID:     "batch-1",
		Assignments: []*store.PlanAssignment{{DocumentID: d.ID}},
	}))

	stale := filepath.Join(e.working, "stale.txt")
	require.NoError(t, os.MkdirAll(e.working, 0o750))
	require.NoError(t, os.WriteFile(stale, []byte("old run"), 0o644))

	ex := e.executor(t, Options{})
	_, err := ex.Run(context.Background(), "job-1")
	require.NoError(t, err)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestRollbackIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.addFile(t, "a.txt", "body")
	d := e.addDoc(t, "f1", "a.txt", "a.txt", "h1")
	require.NoError(t, e.store.SavePlan(context.Background(), "job-1", &store.PlanArtifacts{
		BatchID:     "batch-1",
		Assignments: []*store.PlanAssignment{{DocumentID: d.ID, Name: strPtr("b.txt"), Path: strPtr("X")}},
	}))

	ex := e.executor(t, Options{})
	_, err := ex.Run(context.Background(), "job-1")
	require.NoError(t, err)

	require.NoError(t, ex.Rollback(context.Background(), "job-1"))
	require.NoError(t, ex.Rollback(context.Background(), "job-1"))

	entries, err := os.ReadDir(e.working)
	require.NoError(t, err)
	assert.Empty(t, entries)

	got, err := e.store.GetDocument(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ItemOrganized, got.Status)
	assert.Empty(t, got.FinalPath)
	assert.False(t, got.ChangesApplied)

	log, err := e.store.ListExecutionLog(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Empty(t, log)
}

// brokenChain seeds a version chain whose superseded member has no backing
// source file, producing one failed archive operation.
func brokenChain(t *testing.T, e *env) {
	t.Helper()
	e.addFile(t, "docs/plan.txt", "cur")
	cur := e.addDoc(t, "f1", "plan.txt", "docs/plan.txt", "h1")
	ghost := e.addDoc(t, "f2", "plan_v1.txt", "docs/plan_v1.txt", "h2")

	require.NoError(t, e.store.SaveVersionChain(context.Background(), &store.VersionChain{
		JobID: "job-1", ChainName: "plan", BasePath: "docs",
		CurrentDocumentID: cur.ID, CurrentVersionNumber: 2,
		DetectionMethod: store.DetectExplicitMarker, DetectionConfidence: 0.95,
		ArchiveStrategy: "subfolder", ArchivePath: "docs/_versions/plan",
	}, []*store.VersionChainMember{
		{DocumentID: ghost.ID, VersionNumber: 1, Status: store.MemberSuperseded,
			ProposedVersionName: "plan_v1.txt",
			ProposedVersionPath: "docs/_versions/plan/plan_v1.txt"},
		{DocumentID: cur.ID, VersionNumber: 2, IsCurrent: true,
			Status: store.MemberActive, ProposedVersionName: "plan.txt",
			ProposedVersionPath: "docs/plan.txt"},
	}))
	require.NoError(t, e.store.SavePlan(context.Background(), "job-1", &store.PlanArtifacts{
		BatchID:     "batch-1",
		Assignments: []*store.PlanAssignment{{DocumentID: cur.ID}},
	}))
}

func TestRunFailureThresholdDefaultNeverAborts(t *testing.T) {
	e := newEnv(t)
	brokenChain(t, e)

	ex := e.executor(t, Options{})
	man, err := ex.Run(context.Background(), "job-1")
	require.NoError(t, err, "default threshold reports but never aborts")
	require.NotEmpty(t, man.Errors)
	assert.Equal(t, len(man.Errors), man.Statistics.OperationsFailed)
}

func TestRunFailureThresholdAborts(t *testing.T) {
	e := newEnv(t)
	brokenChain(t, e)

	ex := e.executor(t, Options{FailureThresholdPct: 10})
	man, err := ex.Run(context.Background(), "job-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.ErrFatal))
	// The manifest is still written on fatal failure.
	_, statErr := os.Stat(filepath.Join(e.reports, "job-1_manifest.json"))
	require.NoError(t, statErr)
	assert.NotEmpty(t, man.Errors)
}
