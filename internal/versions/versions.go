// Package versions detects chains of successive versions of one logical
// document and plans how the superseded ones get archived.
package versions

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"git.home.luguber.info/inful/driveorg/internal/faults"
	"git.home.luguber.info/inful/driveorg/internal/llm"
	"git.home.luguber.info/inful/driveorg/internal/logfields"
	"git.home.luguber.info/inful/driveorg/internal/metrics"
	"git.home.luguber.info/inful/driveorg/internal/store"
)

const (
	explicitConfidence   = 0.95
	similarityConfidence = 0.75
)

// Archive strategies.
const (
	StrategySubfolder = "subfolder"
	StrategyInline    = "inline"
	StrategySeparate  = "separate_archive"
)

// separateArchiveRoot is where the separate strategy collects old versions.
const separateArchiveRoot = "Archive/Versions"

// Confirmer is the part of the local model client the resolver needs.
type Confirmer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Options tune one resolution run.
type Options struct {
	ArchiveStrategy     string
	VersionFolderName   string
	SimilarityThreshold float64
}

// Resolver drives the versioning phase.
type Resolver struct {
	store     *store.Store
	confirmer Confirmer
	recorder  metrics.Recorder
	opts      Options
}

// New builds a Resolver. Without a confirmer, name-similarity candidates are
// discarded and only explicit-marker chains are kept.
func New(st *store.Store, conf Confirmer, rec metrics.Recorder, opts Options) *Resolver {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if opts.ArchiveStrategy == "" {
		opts.ArchiveStrategy = StrategySubfolder
	}
	if opts.VersionFolderName == "" {
		opts.VersionFolderName = "_versions"
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 0.7
	}
	return &Resolver{store: st, confirmer: conf, recorder: rec, opts: opts}
}

// Result summarizes one resolution run.
type Result struct {
	Chains    int
	Members   int
	Discarded int // similarity candidates the model did not confirm
}

// candidate is one document plus its parsed name parts.
type candidate struct {
	doc    *store.DocumentItem
	dir    string // slash path, "" for the root
	stem   string // filename without extension
	base   string // stem with any version marker stripped
	marker *Marker
}

// Run detects version chains for the job. Explicit markers group files with
// the same base name, directory and extension; a second pass unions
// similarly named files and asks the model to confirm. Every document joins
// at most one chain.
func (r *Resolver) Run(ctx context.Context, jobID string) (*Result, error) {
	docs, err := r.store.ListVersionCandidates(ctx, jobID)
	if err != nil {
		return nil, err
	}

	cands := make([]*candidate, 0, len(docs))
	for _, d := range docs {
		cands = append(cands, newCandidate(d))
	}

	explicit, rest := groupExplicit(cands)
	similar := r.groupSimilar(rest)
	slog.Info("Resolving version chains", logfields.JobID(jobID),
		logfields.Count(len(explicit)+len(similar)))

	res := &Result{}
	claimed := map[int64]bool{}

	save := func(group []*candidate, method store.DetectionMethod, confidence float64, reasoning string, confirmed bool, order []*candidate) error {
		for _, c := range group {
			if claimed[c.doc.ID] {
				continue
			}
			inChain, err := r.store.DocumentInChain(ctx, jobID, c.doc.ID)
			if err != nil {
				return err
			}
			if inChain {
				claimed[c.doc.ID] = true
			}
		}
		if order == nil {
			order = heuristicOrder(unclaimed(group, claimed))
		} else {
			order = unclaimed(order, claimed)
		}
		if len(order) < 2 {
			return nil
		}
		chain, members := r.buildChain(jobID, order, method, confidence, reasoning, confirmed)
		if err := r.store.SaveVersionChain(ctx, chain, members); err != nil {
			return err
		}
		for _, c := range order {
			claimed[c.doc.ID] = true
		}
		res.Chains++
		res.Members += len(members)
		r.recorder.IncPhaseItem("versioning", metrics.ResultSuccess)
		return nil
	}

	for _, group := range explicit {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("versioning: %w", faults.ErrCancelled)
		}
		reasoning := fmt.Sprintf("explicit version markers on %q", group[0].base)
		if err := save(group, store.DetectExplicitMarker, explicitConfidence, reasoning, true, nil); err != nil {
			return res, err
		}
	}

	for _, group := range similar {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("versioning: %w", faults.ErrCancelled)
		}
		if r.confirmer == nil {
			res.Discarded++
			continue
		}
		order, reasoning, err := r.confirm(ctx, group)
		if err != nil {
			res.Discarded++
			r.recorder.IncPhaseItem("versioning", metrics.ResultSkipped)
			slog.Debug("Similarity candidate discarded",
				logfields.JobID(jobID), logfields.File(group[0].doc.CurrentPath), logfields.Error(err))
			continue
		}
		if order == nil {
			res.Discarded++
			continue
		}
		if err := save(group, store.DetectNameSimilarity, similarityConfidence, reasoning, true, order); err != nil {
			return res, err
		}
	}
	return res, nil
}

func newCandidate(d *store.DocumentItem) *candidate {
	dir := path.Dir(d.CurrentPath)
	if dir == "." {
		dir = ""
	}
	stem := d.CurrentName
	if d.Extension != "" {
		stem = strings.TrimSuffix(stem, "."+d.Extension)
	}
	c := &candidate{doc: d, dir: dir, stem: stem, base: stem}
	if m := ExtractMarker(stem); m != nil {
		c.marker = m
		c.base = m.Base
	}
	return c
}

// groupExplicit buckets candidates by (dir, base, ext). A bucket is an
// explicit chain when it has at least two files and at least one carries a
// marker. Everything else goes to the similarity pass.
func groupExplicit(cands []*candidate) (groups [][]*candidate, rest []*candidate) {
	buckets := map[string][]*candidate{}
	var keys []string
	for _, c := range cands {
		key := c.dir + "\x00" + strings.ToLower(c.base) + "\x00" + c.doc.Extension
		if _, seen := buckets[key]; !seen {
			keys = append(keys, key)
		}
		buckets[key] = append(buckets[key], c)
	}
	sort.Strings(keys)
	for _, key := range keys {
		group := buckets[key]
		marked := false
		for _, c := range group {
			if c.marker != nil {
				marked = true
				break
			}
		}
		if len(group) >= 2 && marked {
			groups = append(groups, group)
		} else {
			rest = append(rest, group...)
		}
	}
	return groups, rest
}

// groupSimilar unions remaining files in the same directory with the same
// extension whose stems are similar enough and whose content differs.
func (r *Resolver) groupSimilar(cands []*candidate) [][]*candidate {
	byDirExt := map[string][]*candidate{}
	var keys []string
	for _, c := range cands {
		key := c.dir + "\x00" + c.doc.Extension
		if _, seen := byDirExt[key]; !seen {
			keys = append(keys, key)
		}
		byDirExt[key] = append(byDirExt[key], c)
	}
	sort.Strings(keys)

	var groups [][]*candidate
	for _, key := range keys {
		members := byDirExt[key]
		if len(members) < 2 {
			continue
		}
		parent := make([]int, len(members))
		for i := range parent {
			parent[i] = i
		}
		var find func(int) int
		find = func(i int) int {
			for parent[i] != i {
				parent[i] = parent[parent[i]]
				i = parent[i]
			}
			return i
		}
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				if members[i].doc.ContentHash == members[j].doc.ContentHash {
					continue
				}
				if Similarity(members[i].stem, members[j].stem) >= r.opts.SimilarityThreshold {
					parent[find(i)] = find(j)
				}
			}
		}
		comps := map[int][]*candidate{}
		for i, c := range members {
			root := find(i)
			comps[root] = append(comps[root], c)
		}
		var roots []int
		for root := range comps {
			roots = append(roots, root)
		}
		sort.Ints(roots)
		for _, root := range roots {
			if len(comps[root]) >= 2 {
				groups = append(groups, comps[root])
			}
		}
	}
	return groups
}

// heuristicOrder sorts oldest to newest: numeric markers first by number,
// then dated markers by date, then status markers by lifecycle rank, then
// unmarked files by mtime. The last element is the current version.
func heuristicOrder(group []*candidate) []*candidate {
	ordered := make([]*candidate, len(group))
	copy(ordered, group)
	sort.SliceStable(ordered, func(a, b int) bool {
		ta, va := orderKey(ordered[a])
		tb, vb := orderKey(ordered[b])
		if ta != tb {
			return ta < tb
		}
		if va != vb {
			return va < vb
		}
		if !ordered[a].doc.SourceMtime.Equal(ordered[b].doc.SourceMtime) {
			return ordered[a].doc.SourceMtime.Before(ordered[b].doc.SourceMtime)
		}
		return ordered[a].doc.CurrentPath < ordered[b].doc.CurrentPath
	})
	return ordered
}

func orderKey(c *candidate) (tier int, value int64) {
	if c.marker == nil {
		return 3, 0
	}
	switch c.marker.Kind {
	case MarkerNumeric, MarkerCopy:
		return 0, int64(c.marker.Number)
	case MarkerDate:
		return 1, c.marker.Date.Unix()
	case MarkerStatus:
		return 2, int64(StatusRank(c.marker.Value))
	}
	return 3, 0
}

// buildChain materializes a chain and its members from an ordered group.
func (r *Resolver) buildChain(jobID string, ordered []*candidate, method store.DetectionMethod, confidence float64, reasoning string, confirmed bool) (*store.VersionChain, []*store.VersionChainMember) {
	base := ordered[len(ordered)-1].base
	dir := ordered[0].dir
	ext := ordered[0].doc.Extension

	chain := &store.VersionChain{
		JobID:                 jobID,
		ChainName:             base,
		BasePath:              dir,
		CurrentDocumentID:     ordered[len(ordered)-1].doc.ID,
		CurrentVersionNumber:  len(ordered),
		DetectionMethod:       method,
		DetectionConfidence:   confidence,
		LLMReasoning:          reasoning,
		VersionOrderConfirmed: confirmed,
		ArchiveStrategy:       r.opts.ArchiveStrategy,
		ArchivePath:           r.archivePath(dir, base),
	}

	members := make([]*store.VersionChainMember, 0, len(ordered))
	for i, c := range ordered {
		m := &store.VersionChainMember{
			DocumentID:    c.doc.ID,
			VersionNumber: i + 1,
			Status:        store.MemberSuperseded,
		}
		if c.marker != nil {
			m.VersionLabel = markerLabel(c.marker)
			if c.marker.Date != nil {
				m.VersionDate = c.marker.Date
			}
		}
		if m.VersionDate == nil {
			mtime := c.doc.SourceMtime
			m.VersionDate = &mtime
		}
		if i == len(ordered)-1 {
			m.IsCurrent = true
			m.Status = store.MemberActive
			m.ProposedVersionName = fileName(base, ext)
			m.ProposedVersionPath = joinPath(dir, m.ProposedVersionName)
		} else {
			m.ProposedVersionName = archivedName(base, ext, m, i+1)
			m.ProposedVersionPath = joinPath(chain.ArchivePath, m.ProposedVersionName)
		}
		members = append(members, m)
	}
	return chain, members
}

// archivePath is where superseded versions of one chain land.
func (r *Resolver) archivePath(dir, base string) string {
	switch r.opts.ArchiveStrategy {
	case StrategyInline:
		return dir
	case StrategySeparate:
		return joinPath(separateArchiveRoot, base)
	default: // subfolder
		return joinPath(joinPath(dir, r.opts.VersionFolderName), base)
	}
}

// archivedName is `{base}_{label}_{date}.{ext}`; the label falls back to the
// 1-based position when the file carried no usable marker.
func archivedName(base, ext string, m *store.VersionChainMember, position int) string {
	label := m.VersionLabel
	if label == "" {
		label = fmt.Sprintf("v%d", position)
	}
	date := time.Now().UTC()
	if m.VersionDate != nil {
		date = *m.VersionDate
	}
	return fileName(fmt.Sprintf("%s_%s_%s", base, label, date.Format("2006-01-02")), ext)
}

func markerLabel(m *Marker) string {
	switch m.Kind {
	case MarkerNumeric, MarkerCopy:
		return fmt.Sprintf("v%d", m.Number)
	case MarkerDate:
		return m.Date.Format("2006-01-02")
	default:
		return m.Value
	}
}

func fileName(stem, ext string) string {
	if ext == "" {
		return stem
	}
	return stem + "." + ext
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func unclaimed(group []*candidate, claimed map[int64]bool) []*candidate {
	out := group[:0:0]
	for _, c := range group {
		if !claimed[c.doc.ID] {
			out = append(out, c)
		}
	}
	return out
}

type confirmResponse struct {
	Confirmed    bool   `json:"confirmed"`
	Reasoning    string `json:"reasoning"`
	CurrentIndex int    `json:"current_index"`
	Ordering     []int  `json:"ordering"`
}

// confirm asks the model whether a name-similarity group really is one
// document's version history and in which order. A nil return without error
// means the model rejected the group.
func (r *Resolver) confirm(ctx context.Context, group []*candidate) ([]*candidate, string, error) {
	var b strings.Builder
	for i, c := range group {
		fmt.Fprintf(&b, "%d. name: %s, modified: %s", i, c.doc.CurrentName,
			c.doc.SourceMtime.Format("2006-01-02"))
		if c.doc.Summary != "" {
			fmt.Fprintf(&b, ", summary: %s", c.doc.Summary)
		}
		b.WriteByte('\n')
	}
	prompt := fmt.Sprintf(`These similarly named files sit in the same folder and may be successive
versions of the same document:

%s
Decide whether they form one version history. If they are unrelated documents
that merely share a similar name, reject the group.

Respond ONLY with JSON in this format:
{
  "confirmed": true,
  "reasoning": "one sentence",
  "current_index": 1,
  "ordering": [0, 1]
}
"ordering" lists every index oldest to newest; the last entry is the current
version and must equal "current_index".`, b.String())

	response, err := r.confirmer.Summarize(ctx, prompt)
	if err != nil {
		return nil, "", err
	}
	var parsed confirmResponse
	if err := llm.ExtractJSON(response, &parsed); err != nil {
		return nil, "", err
	}
	if !parsed.Confirmed {
		return nil, parsed.Reasoning, nil
	}
	if len(parsed.Ordering) != len(group) {
		return nil, "", fmt.Errorf("ordering covers %d of %d files: %w",
			len(parsed.Ordering), len(group), faults.ErrMalformed)
	}
	seen := map[int]bool{}
	ordered := make([]*candidate, 0, len(group))
	for _, idx := range parsed.Ordering {
		if idx < 0 || idx >= len(group) || seen[idx] {
			return nil, "", fmt.Errorf("ordering index %d invalid: %w", idx, faults.ErrMalformed)
		}
		seen[idx] = true
		ordered = append(ordered, group[idx])
	}
	if parsed.Ordering[len(parsed.Ordering)-1] != parsed.CurrentIndex {
		return nil, "", fmt.Errorf("current index %d disagrees with ordering: %w",
			parsed.CurrentIndex, faults.ErrMalformed)
	}
	return ordered, parsed.Reasoning, nil
}
