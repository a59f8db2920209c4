// Package planner derives the system-wide organization plan: naming schemas,
// tag taxonomy, directory layout and per-file assignments, proposed by the
// remote model and validated before persistence.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/driveorg/internal/faults"
	"git.home.luguber.info/inful/driveorg/internal/llm"
	"git.home.luguber.info/inful/driveorg/internal/logfields"
	"git.home.luguber.info/inful/driveorg/internal/metrics"
	"git.home.luguber.info/inful/driveorg/internal/store"
)

const (
	summaryLimit           = 200
	directoryCap           = 50
	maxDirectoryDepth      = 4
	maxTaxonomyDepth       = 3
	uncategorizedPath      = "_Uncategorized"
	uncategorizedTag       = "uncategorized"
	unassignedTolerancePct = 10
)

// Deliberator is the part of the remote model client the planner needs.
type Deliberator interface {
	Deliberate(ctx context.Context, systemPrompt, prompt string) (string, error)
}

// Planner drives the organizing phase.
type Planner struct {
	store    *store.Store
	model    Deliberator
	recorder metrics.Recorder
}

// New builds a Planner. The model is required: without it the phase cannot
// run.
func New(st *store.Store, model Deliberator, rec metrics.Recorder) *Planner {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Planner{store: st, model: model, recorder: rec}
}

// Result summarizes one planning run.
type Result struct {
	Planned     int // items with a proposed change
	Unchanged   int // items explicitly left in place
	Directories int
	Synthesized int // directories invented for unknown proposed paths
	DroppedTags int
}

// fileRecord is one planning-set entry as presented to the model.
type fileRecord struct {
	ID               int64    `json:"id"`
	Name             string   `json:"current_name"`
	Path             string   `json:"current_path"`
	Extension        string   `json:"extension,omitempty"`
	Size             int64    `json:"size"`
	MimeType         string   `json:"mime_type,omitempty"`
	DocumentType     string   `json:"document_type,omitempty"`
	Summary          string   `json:"summary,omitempty"`
	KeyTopics        []string `json:"key_topics,omitempty"`
	Modified         string   `json:"modified"`
	IsCurrentVersion bool     `json:"is_current_version,omitempty"`
	ChainName        string   `json:"chain_name,omitempty"`
}

type inputBundle struct {
	Files              []fileRecord   `json:"files"`
	CurrentDirectories []string       `json:"current_directories"`
	ExtensionHistogram map[string]int `json:"extension_histogram"`
}

// Response schema the system prompt enumerates.
type planResponse struct {
	NamingSchemas []struct {
		DocumentType string            `json:"document_type"`
		Pattern      string            `json:"pattern"`
		Example      string            `json:"example"`
		Description  string            `json:"description"`
		Placeholders map[string]string `json:"placeholders"`
	} `json:"naming_schemas"`
	TagTaxonomy []taxonomyNode `json:"tag_taxonomy"`
	Directories []struct {
		Path                  string   `json:"path"`
		Purpose               string   `json:"purpose"`
		ExpectedTags          []string `json:"expected_tags"`
		ExpectedDocumentTypes []string `json:"expected_document_types"`
	} `json:"directory_structure"`
	Assignments []struct {
		ID           int64    `json:"id"`
		ProposedName *string  `json:"proposed_name"`
		ProposedPath *string  `json:"proposed_path"`
		Tags         []string `json:"tags"`
		Reasoning    string   `json:"reasoning"`
	} `json:"file_assignments"`
}

type taxonomyNode struct {
	Tag         string         `json:"tag"`
	Description string         `json:"description"`
	Children    []taxonomyNode `json:"children"`
}

// Run plans the job's organization. Model and validation failures fail the
// phase: unlike deduplication there is no deterministic fallback.
func (p *Planner) Run(ctx context.Context, jobID string) (*Result, error) {
	if p.model == nil {
		return nil, fmt.Errorf("planner: no remote model configured: %w", faults.ErrFatal)
	}
	docs, err := p.store.ListPlanningSet(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		slog.Info("Planning set is empty", logfields.JobID(jobID))
		return &Result{}, nil
	}

	bundle, err := p.buildBundle(ctx, jobID, docs)
	if err != nil {
		return nil, err
	}
	payload, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("planner: encode bundle: %w: %v", faults.ErrFatal, err)
	}
	slog.Info("Requesting organization plan",
		logfields.JobID(jobID), logfields.Count(len(docs)))

	response, err := p.model.Deliberate(ctx, systemPrompt, string(payload))
	if err != nil {
		return nil, err
	}
	var parsed planResponse
	if err := llm.ExtractJSON(response, &parsed); err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}

	plan, res, err := p.validate(jobID, docs, &parsed)
	if err != nil {
		return nil, err
	}
	if err := p.store.SavePlan(ctx, jobID, plan); err != nil {
		return nil, err
	}
	p.recorder.IncPhaseItem("organizing", metrics.ResultSuccess)
	slog.Info("Organization plan persisted", logfields.JobID(jobID),
		logfields.Count(res.Planned+res.Unchanged))
	return res, nil
}

func (p *Planner) buildBundle(ctx context.Context, jobID string, docs []*store.DocumentItem) (*inputBundle, error) {
	chains, members, err := p.store.ListVersionChains(ctx, jobID)
	if err != nil {
		return nil, err
	}
	chainOf := map[int64]string{}
	current := map[int64]bool{}
	for _, c := range chains {
		for _, m := range members[c.ID] {
			chainOf[m.DocumentID] = c.ChainName
			if m.IsCurrent {
				current[m.DocumentID] = true
			}
		}
	}

	bundle := &inputBundle{ExtensionHistogram: map[string]int{}}
	dirCount := map[string]int{}
	for _, d := range docs {
		summary := truncateSummary(d.Summary, summaryLimit)
		bundle.Files = append(bundle.Files, fileRecord{
			ID:               d.ID,
			Name:             d.CurrentName,
			Path:             d.CurrentPath,
			Extension:        d.Extension,
			Size:             d.FileSize,
			MimeType:         d.MimeType,
			DocumentType:     d.DocumentType,
			Summary:          summary,
			KeyTopics:        d.KeyTopics,
			Modified:         d.SourceMtime.UTC().Format(time.RFC3339),
			IsCurrentVersion: current[d.ID],
			ChainName:        chainOf[d.ID],
		})
		dir := path.Dir(d.CurrentPath)
		if dir == "." {
			dir = "/"
		}
		dirCount[dir]++
		ext := d.Extension
		if ext == "" {
			ext = "(none)"
		}
		bundle.ExtensionHistogram[ext]++
	}

	dirs := make([]string, 0, len(dirCount))
	for dir := range dirCount {
		dirs = append(dirs, dir)
	}
	sort.Slice(dirs, func(i, j int) bool {
		if dirCount[dirs[i]] != dirCount[dirs[j]] {
			return dirCount[dirs[i]] > dirCount[dirs[j]]
		}
		return dirs[i] < dirs[j]
	})
	if len(dirs) > directoryCap {
		dirs = dirs[:directoryCap]
	}
	bundle.CurrentDirectories = dirs
	return bundle, nil
}

var tagSanitizer = regexp.MustCompile(`[^a-z0-9-]+`)

// normalizeTag lowercases and hyphenates a tag the way the prompt demands.
// truncateSummary caps a summary at limit bytes without splitting a rune.
func truncateSummary(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func normalizeTag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	tag = strings.ReplaceAll(tag, " ", "-")
	tag = strings.ReplaceAll(tag, "_", "-")
	tag = tagSanitizer.ReplaceAllString(tag, "")
	return strings.Trim(tag, "-")
}

// normalizePath cleans a model-proposed directory path to a slash-relative
// form without a leading slash.
func normalizePath(p string) string {
	p = path.Clean(strings.TrimSpace(strings.ReplaceAll(p, "\\", "/")))
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

func pathDepth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// validate checks the parsed plan against the planning set and materializes
// the artifacts to persist. Referential gaps are repaired where the rules
// allow (synthetic directories, dropped tags) and fatal otherwise.
func (p *Planner) validate(jobID string, docs []*store.DocumentItem, parsed *planResponse) (*store.PlanArtifacts, *Result, error) {
	plan := &store.PlanArtifacts{BatchID: uuid.NewString()}
	res := &Result{}

	for _, ns := range parsed.NamingSchemas {
		plan.Schemas = append(plan.Schemas, &store.NamingSchema{
			DocumentType:  ns.DocumentType,
			NamingPattern: ns.Pattern,
			Example:       ns.Example,
			Description:   ns.Description,
			Placeholders:  ns.Placeholders,
		})
	}

	knownTags := map[string]bool{}
	var flattenTags func(nodes []taxonomyNode, parent *string, depth int)
	flattenTags = func(nodes []taxonomyNode, parent *string, depth int) {
		if depth > maxTaxonomyDepth {
			slog.Warn("Taxonomy deeper than allowed, truncating",
				logfields.JobID(jobID), logfields.Count(depth))
			return
		}
		for _, n := range nodes {
			tag := normalizeTag(n.Tag)
			if tag == "" || knownTags[tag] {
				continue
			}
			knownTags[tag] = true
			plan.Taxonomy = append(plan.Taxonomy, &store.TagTaxonomy{
				TagName:     tag,
				ParentTag:   parent,
				Description: n.Description,
			})
			parentCopy := tag
			flattenTags(n.Children, &parentCopy, depth+1)
		}
	}
	flattenTags(parsed.TagTaxonomy, nil, 1)

	knownDirs := map[string]*store.DirectoryStructure{}
	addDir := func(dirPath, purpose string, tags, types []string) *store.DirectoryStructure {
		dirPath = normalizePath(dirPath)
		if dirPath == "" {
			return nil
		}
		if d, ok := knownDirs[dirPath]; ok {
			return d
		}
		parent := path.Dir(dirPath)
		if parent == "." {
			parent = ""
		}
		d := &store.DirectoryStructure{
			Path:                  dirPath,
			FolderName:            path.Base(dirPath),
			ParentPath:            parent,
			Depth:                 pathDepth(dirPath),
			Purpose:               purpose,
			ExpectedTags:          tags,
			ExpectedDocumentTypes: types,
		}
		knownDirs[dirPath] = d
		plan.Directories = append(plan.Directories, d)
		return d
	}
	for _, dir := range parsed.Directories {
		dirPath := normalizePath(dir.Path)
		if pathDepth(dirPath) > maxDirectoryDepth {
			slog.Warn("Directory deeper than allowed, dropped",
				logfields.JobID(jobID), logfields.File(dirPath))
			continue
		}
		tags := make([]string, 0, len(dir.ExpectedTags))
		for _, t := range dir.ExpectedTags {
			if n := normalizeTag(t); n != "" {
				tags = append(tags, n)
			}
		}
		addDir(dirPath, dir.Purpose, tags, dir.ExpectedDocumentTypes)
	}

	// syntheticDir re-homes an assignment whose directory the plan never
	// declared. The missing path is not trusted: the file lands under the
	// uncategorized area instead of inventing a parent chain.
	syntheticDir := func(missing string) string {
		leaf := path.Base(normalizePath(missing))
		target := uncategorizedPath
		if leaf != "" && leaf != "." && leaf != uncategorizedPath {
			target = uncategorizedPath + "/" + leaf
		}
		if _, ok := knownDirs[target]; !ok {
			addDir(uncategorizedPath, "files the plan could not place", []string{uncategorizedTag}, nil)
			addDir(target, fmt.Sprintf("synthesized for undeclared directory %q", missing), []string{uncategorizedTag}, nil)
			res.Synthesized++
		}
		return target
	}

	byID := map[int64]*store.DocumentItem{}
	for _, d := range docs {
		byID[d.ID] = d
	}
	assigned := map[int64]bool{}
	for _, a := range parsed.Assignments {
		doc, ok := byID[a.ID]
		if !ok {
			slog.Warn("Assignment references unknown document",
				logfields.JobID(jobID), logfields.Count(int(a.ID)))
			continue
		}
		if assigned[doc.ID] {
			return nil, nil, fmt.Errorf("planner: document %d assigned twice: %w", doc.ID, faults.ErrValidation)
		}
		assigned[doc.ID] = true

		var tags []string
		for _, t := range a.Tags {
			n := normalizeTag(t)
			if n == "" {
				continue
			}
			if !knownTags[n] {
				res.DroppedTags++
				slog.Warn("Unknown tag dropped", logfields.JobID(jobID), logfields.File(n))
				continue
			}
			tags = append(tags, n)
		}

		name, dirPath := a.ProposedName, a.ProposedPath
		if name == nil && dirPath == nil {
			res.Unchanged++
			plan.Assignments = append(plan.Assignments, &store.PlanAssignment{
				DocumentID: doc.ID, Tags: tags, Reasoning: a.Reasoning,
			})
			continue
		}
		// A half-specified change keeps the current value for the other
		// half so name and path stay paired.
		if name == nil {
			n := doc.CurrentName
			name = &n
		}
		if dirPath == nil {
			d := path.Dir(doc.CurrentPath)
			if d == "." {
				d = ""
			}
			dirPath = &d
		}
		target := normalizePath(*dirPath)
		if target != "" {
			if _, ok := knownDirs[target]; !ok {
				target = syntheticDir(target)
			}
		}
		plan.Assignments = append(plan.Assignments, &store.PlanAssignment{
			DocumentID: doc.ID,
			Name:       name,
			Path:       &target,
			Tags:       tags,
			Reasoning:  a.Reasoning,
		})
		res.Planned++
	}

	missing := len(docs) - len(assigned)
	if missing*100 > len(docs)*unassignedTolerancePct {
		return nil, nil, fmt.Errorf("planner: %d of %d items unassigned: %w",
			missing, len(docs), faults.ErrPlanningIncomplete)
	}
	// Within tolerance, unassigned items are explicitly unchanged.
	for _, d := range docs {
		if !assigned[d.ID] {
			res.Unchanged++
			plan.Assignments = append(plan.Assignments, &store.PlanAssignment{
				DocumentID: d.ID, Reasoning: "no assignment returned; left in place",
			})
		}
	}

	// Shallowest first so parent directories land before their children.
	sort.SliceStable(plan.Directories, func(i, j int) bool {
		if plan.Directories[i].Depth != plan.Directories[j].Depth {
			return plan.Directories[i].Depth < plan.Directories[j].Depth
		}
		return plan.Directories[i].Path < plan.Directories[j].Path
	})
	res.Directories = len(plan.Directories)
	return plan, res, nil
}
