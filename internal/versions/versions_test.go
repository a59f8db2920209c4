package versions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/driveorg/internal/store"
)

type fakeConfirmer struct {
	response string
	err      error
	calls    int
}

func (f *fakeConfirmer) Summarize(context.Context, string) (string, error) {
	f.calls++
	return f.response, f.err
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:", 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.CreateJob(context.Background(), &store.Job{ID: "job-1"}))
	return s
}

func addDoc(t *testing.T, s *store.Store, fileID, name, dir, ext, hash string, mtime time.Time) *store.DocumentItem {
	t.Helper()
	p := name
	if dir != "" {
		p = dir + "/" + name
	}
	d := &store.DocumentItem{
		JobID:       "job-1",
		FileID:      fileID,
		CurrentName: name,
		CurrentPath: p,
		Extension:   ext,
		FileSize:    2048,
		ContentHash: hash,
		SourceMtime: mtime,
		Status:      store.ItemProcessed,
	}
	require.NoError(t, s.UpsertDocument(context.Background(), d))
	return d
}

func TestExtractMarker(t *testing.T) {
	cases := []struct {
		stem string
		kind MarkerKind
		base string
	}{
		{"report_v2", MarkerNumeric, "report"},
		{"report_rev10", MarkerNumeric, "report"},
		{"report_version3", MarkerNumeric, "report"},
		{"report (2)", MarkerCopy, "report"},
		{"report_2024-01-15", MarkerDate, "report"},
		{"report_20240115", MarkerDate, "report"},
		{"report_draft", MarkerStatus, "report"},
		{"report_final", MarkerStatus, "report"},
	}
	for _, tc := range cases {
		m := ExtractMarker(tc.stem)
		require.NotNil(t, m, tc.stem)
		assert.Equal(t, tc.kind, m.Kind, tc.stem)
		assert.Equal(t, tc.base, m.Base, tc.stem)
	}

	assert.Nil(t, ExtractMarker("plain report"))
	assert.Nil(t, ExtractMarker("v2"), "marker with empty base is not a marker")
	assert.Nil(t, ExtractMarker("report_99999999"), "eight digits must parse as a date")
}

func TestExtractMarkerValues(t *testing.T) {
	m := ExtractMarker("budget_v12")
	require.NotNil(t, m)
	assert.Equal(t, 12, m.Number)

	m = ExtractMarker("budget_2023-06-30")
	require.NotNil(t, m)
	require.NotNil(t, m.Date)
	assert.Equal(t, 2023, m.Date.Year())
	assert.Equal(t, time.June, m.Date.Month())
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("report", "Report"))
	assert.InDelta(t, 0.9, Similarity("budget2023", "budget2024"), 0.001)
	assert.Less(t, Similarity("budget", "minutes"), 0.3)
}

func TestStatusRankOrder(t *testing.T) {
	assert.Less(t, StatusRank("draft"), StatusRank("wip"))
	assert.Less(t, StatusRank("wip"), StatusRank("review"))
	assert.Less(t, StatusRank("review"), StatusRank("approved"))
	assert.Less(t, StatusRank("approved"), StatusRank("final"))
	assert.Zero(t, StatusRank("unknown"))
}

func TestRunExplicitNumericChain(t *testing.T) {
	s := newTestStore(t)
	base := time.Unix(1700000000, 0).UTC()
	addDoc(t, s, "f1", "report_v1.docx", "docs", "docx", "h1", base)
	addDoc(t, s, "f2", "report_v2.docx", "docs", "docx", "h2", base.Add(time.Hour))
	addDoc(t, s, "f3", "report.docx", "docs", "docx", "h3", base.Add(2*time.Hour))

	r := New(s, nil, nil, Options{})
	res, err := r.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chains)
	assert.Equal(t, 3, res.Members)

	chains, members, err := s.ListVersionChains(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, chains, 1)
	c := chains[0]
	assert.Equal(t, "report", c.ChainName)
	assert.Equal(t, "docs", c.BasePath)
	assert.Equal(t, store.DetectExplicitMarker, c.DetectionMethod)
	assert.Equal(t, 0.95, c.DetectionConfidence)
	assert.Equal(t, "docs/_versions/report", c.ArchivePath)

	ms := members[c.ID]
	require.Len(t, ms, 3)
	// Numeric markers order first; the unmarked file is newest and current.
	assert.Equal(t, "v1", ms[0].VersionLabel)
	assert.Equal(t, "v2", ms[1].VersionLabel)
	assert.True(t, ms[2].IsCurrent)
	assert.Equal(t, store.MemberActive, ms[2].Status)
	assert.Equal(t, "report.docx", ms[2].ProposedVersionName)
	assert.Equal(t, "docs/report.docx", ms[2].ProposedVersionPath)
	assert.Equal(t, "docs/_versions/report/report_v1_2023-11-14.docx", ms[0].ProposedVersionPath)

	current := 0
	for _, m := range ms {
		if m.IsCurrent {
			current++
		}
	}
	assert.Equal(t, 1, current)
}

func TestRunOrderingPriority(t *testing.T) {
	s := newTestStore(t)
	base := time.Unix(1700000000, 0).UTC()
	// Deliberately shuffled mtimes: markers decide, mtime only for unmarked.
	addDoc(t, s, "f1", "plan_final.md", "", "md", "h1", base)
	addDoc(t, s, "f2", "plan_draft.md", "", "md", "h2", base.Add(3*time.Hour))
	addDoc(t, s, "f3", "plan_v1.md", "", "md", "h3", base.Add(2*time.Hour))
	addDoc(t, s, "f4", "plan_2023-01-01.md", "", "md", "h4", base.Add(time.Hour))

	r := New(s, nil, nil, Options{})
	_, err := r.Run(context.Background(), "job-1")
	require.NoError(t, err)

	chains, members, err := s.ListVersionChains(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, chains, 1)

	var labels []string
	for _, m := range members[chains[0].ID] {
		labels = append(labels, m.VersionLabel)
	}
	// numeric < date < status; draft before final within status.
	assert.Equal(t, []string{"v1", "2023-01-01", "draft", "final"}, labels)
	assert.Equal(t, "final", labels[3])
	last := members[chains[0].ID][3]
	assert.True(t, last.IsCurrent)
}

func TestRunArchiveStrategies(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	cases := []struct {
		strategy string
		want     string
	}{
		{StrategySubfolder, "docs/_versions/memo"},
		{StrategyInline, "docs"},
		{StrategySeparate, "Archive/Versions/memo"},
	}
	for _, tc := range cases {
		s := newTestStore(t)
		addDoc(t, s, "f1", "memo_v1.txt", "docs", "txt", "h1", base)
		addDoc(t, s, "f2", "memo.txt", "docs", "txt", "h2", base.Add(time.Hour))

		r := New(s, nil, nil, Options{ArchiveStrategy: tc.strategy})
		_, err := r.Run(context.Background(), "job-1")
		require.NoError(t, err)

		chains, _, err := s.ListVersionChains(context.Background(), "job-1")
		require.NoError(t, err)
		require.Len(t, chains, 1, tc.strategy)
		assert.Equal(t, tc.want, chains[0].ArchivePath, tc.strategy)
		assert.Equal(t, tc.strategy, chains[0].ArchiveStrategy)
	}
}

func TestRunSimilarityConfirmed(t *testing.T) {
	s := newTestStore(t)
	base := time.Unix(1700000000, 0).UTC()
	addDoc(t, s, "f1", "budget 2023 old.xlsx", "fin", "xlsx", "h1", base)
	addDoc(t, s, "f2", "budget 2023 new.xlsx", "fin", "xlsx", "h2", base.Add(time.Hour))

	conf := &fakeConfirmer{response: `{
		"confirmed": true,
		"reasoning": "same budget workbook, old and new revision",
		"current_index": 1,
		"ordering": [0, 1]
	}`}
	r := New(s, conf, nil, Options{SimilarityThreshold: 0.7})
	res, err := r.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chains)
	assert.Equal(t, 1, conf.calls)

	chains, members, err := s.ListVersionChains(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, store.DetectNameSimilarity, chains[0].DetectionMethod)
	assert.Equal(t, 0.75, chains[0].DetectionConfidence)
	assert.True(t, chains[0].VersionOrderConfirmed)
	assert.True(t, members[chains[0].ID][1].IsCurrent)
}

func TestRunSimilarityRejected(t *testing.T) {
	s := newTestStore(t)
	base := time.Unix(1700000000, 0).UTC()
	addDoc(t, s, "f1", "meeting notes jan.md", "", "md", "h1", base)
	addDoc(t, s, "f2", "meeting notes feb.md", "", "md", "h2", base.Add(time.Hour))

	conf := &fakeConfirmer{response: `{"confirmed": false, "reasoning": "distinct monthly notes"}`}
	r := New(s, conf, nil, Options{})
	res, err := r.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Zero(t, res.Chains)
	assert.Equal(t, 1, res.Discarded)
}

func TestRunSimilarityWithoutConfirmerIsDiscarded(t *testing.T) {
	s := newTestStore(t)
	base := time.Unix(1700000000, 0).UTC()
	addDoc(t, s, "f1", "roadmap 2024 old.md", "", "md", "h1", base)
	addDoc(t, s, "f2", "roadmap 2024 new.md", "", "md", "h2", base.Add(time.Hour))

	r := New(s, nil, nil, Options{})
	res, err := r.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Zero(t, res.Chains)
	assert.Equal(t, 1, res.Discarded)
}

func TestRunSimilarityMalformedOrdering(t *testing.T) {
	s := newTestStore(t)
	base := time.Unix(1700000000, 0).UTC()
	addDoc(t, s, "f1", "handbook edition one.md", "", "md", "h1", base)
	addDoc(t, s, "f2", "handbook edition two.md", "", "md", "h2", base.Add(time.Hour))

	conf := &fakeConfirmer{response: `{"confirmed": true, "current_index": 0, "ordering": [0]}`}
	r := New(s, conf, nil, Options{})
	res, err := r.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Zero(t, res.Chains, "incomplete ordering discards the group")
	assert.Equal(t, 1, res.Discarded)
}

func TestRunConfirmerErrorSkipsGroup(t *testing.T) {
	s := newTestStore(t)
	base := time.Unix(1700000000, 0).UTC()
	addDoc(t, s, "f1", "notes weekly jan.md", "", "md", "h1", base)
	addDoc(t, s, "f2", "notes weekly feb.md", "", "md", "h2", base.Add(time.Hour))

	conf := &fakeConfirmer{err: errors.New("model down")}
	r := New(s, conf, nil, Options{})
	res, err := r.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Zero(t, res.Chains)
	assert.Equal(t, 1, res.Discarded)
}

func TestRunIdenticalContentNotSimilarityChained(t *testing.T) {
	s := newTestStore(t)
	base := time.Unix(1700000000, 0).UTC()
	// Same hash means duplicates, not versions.
	addDoc(t, s, "f1", "copy alpha.md", "", "md", "same", base)
	addDoc(t, s, "f2", "copy omega.md", "", "md", "same", base.Add(time.Hour))

	conf := &fakeConfirmer{response: `{"confirmed": true, "current_index": 1, "ordering": [0,1]}`}
	r := New(s, conf, nil, Options{})
	res, err := r.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Zero(t, res.Chains)
	assert.Zero(t, conf.calls)
}

func TestRunOneChainPerDocument(t *testing.T) {
	s := newTestStore(t)
	base := time.Unix(1700000000, 0).UTC()
	addDoc(t, s, "f1", "report_v1.docx", "docs", "docx", "h1", base)
	addDoc(t, s, "f2", "report_v2.docx", "docs", "docx", "h2", base.Add(time.Hour))

	r := New(s, nil, nil, Options{})
	_, err := r.Run(context.Background(), "job-1")
	require.NoError(t, err)
	// A second run replaces rather than duplicates.
	res, err := r.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Chains, 1)

	chains, _, err := s.ListVersionChains(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Len(t, chains, 1)
}

func TestRunDifferentDirectoriesStaySeparate(t *testing.T) {
	s := newTestStore(t)
	base := time.Unix(1700000000, 0).UTC()
	addDoc(t, s, "f1", "report_v1.docx", "a", "docx", "h1", base)
	addDoc(t, s, "f2", "report_v2.docx", "b", "docx", "h2", base.Add(time.Hour))

	r := New(s, nil, nil, Options{})
	res, err := r.Run(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Zero(t, res.Chains, "marker groups never span directories")
}
