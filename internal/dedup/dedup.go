// Package dedup resolves groups of byte-identical documents: one primary is
// kept, siblings become shortcuts (or deletes when policy allows).
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"git.home.luguber.info/inful/driveorg/internal/faults"
	"git.home.luguber.info/inful/driveorg/internal/llm"
	"git.home.luguber.info/inful/driveorg/internal/logfields"
	"git.home.luguber.info/inful/driveorg/internal/metrics"
	"git.home.luguber.info/inful/driveorg/internal/store"
)

// backupSegments mark paths that look like stale copies; such members push a
// group to model arbitration and lose primary election ties.
var backupSegments = map[string]bool{
	"backup": true, "backups": true, "old": true, "archive": true, "archives": true,
}

// Arbiter is the part of the local model client the resolver needs.
type Arbiter interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Options tune one resolution run.
type Options struct {
	AllowDeletes bool
	MinSizeKB    int64
}

// Resolver drives the deduplication phase.
type Resolver struct {
	store    *store.Store
	arbiter  Arbiter
	recorder metrics.Recorder
	opts     Options
}

// New builds a Resolver. A nil arbiter disables model arbitration and every
// group falls back to the deterministic rule.
func New(st *store.Store, arb Arbiter, rec metrics.Recorder, opts Options) *Resolver {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Resolver{store: st, arbiter: arb, recorder: rec, opts: opts}
}

// Result summarizes one resolution run.
type Result struct {
	Groups    int
	Shortcuts int
	Deletes   int
}

// Run resolves every duplicate set of the job. A group that fails both
// arbitration and the fallback rule is skipped and logged; the phase
// continues.
func (r *Resolver) Run(ctx context.Context, jobID string) (*Result, error) {
	sets, err := r.store.FindDuplicateSets(ctx, jobID, r.opts.MinSizeKB*1024)
	if err != nil {
		return nil, err
	}
	slog.Info("Resolving duplicate sets", logfields.JobID(jobID), logfields.Count(len(sets)))

	res := &Result{}
	for _, set := range sets {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("dedup: %w", faults.ErrCancelled)
		}
		group, members, err := r.resolveSet(ctx, jobID, set)
		if err != nil {
			r.recorder.IncPhaseItem("deduplicating", metrics.ResultError)
			slog.Warn("Duplicate group skipped",
				logfields.JobID(jobID), logfields.Hash(set.ContentHash), logfields.Error(err))
			continue
		}
		if err := r.store.SaveDuplicateGroup(ctx, group, members); err != nil {
			return res, err
		}
		for _, m := range members {
			switch m.Action {
			case store.ActionShortcut:
				res.Shortcuts++
			case store.ActionDelete:
				res.Deletes++
				if err := r.store.MarkDocumentDeleted(ctx, m.DocumentID); err != nil {
					return res, err
				}
			}
		}
		res.Groups++
		r.recorder.IncPhaseItem("deduplicating", metrics.ResultSuccess)
	}
	return res, nil
}

func (r *Resolver) resolveSet(ctx context.Context, jobID string, set store.DuplicateSet) (*store.DuplicateGroup, []*store.DuplicateMember, error) {
	docs := set.Documents
	if len(docs) < 2 {
		return nil, nil, fmt.Errorf("degenerate group: %w", faults.ErrFatal)
	}

	var decision *decision
	decidedBy := store.DecidedAuto
	if r.arbiter != nil && needsArbitration(docs) {
		d, err := r.arbitrate(ctx, docs)
		if err != nil {
			slog.Debug("Arbitration failed, falling back to auto rule",
				logfields.JobID(jobID), logfields.Hash(set.ContentHash), logfields.Error(err))
		} else {
			decision = d
			decidedBy = store.DecidedLLM
		}
	}
	if decision == nil {
		decision = autoDecision(docs)
	}

	var totalSize int64
	for _, d := range docs {
		totalSize += d.FileSize
	}
	primary := docs[decision.primaryIndex]
	group := &store.DuplicateGroup{
		JobID:             jobID,
		ContentHash:       set.ContentHash,
		FileCount:         len(docs),
		TotalSize:         totalSize,
		PrimaryDocumentID: primary.ID,
		DecisionReasoning: decision.reasoning,
		DecidedBy:         decidedBy,
	}

	members := make([]*store.DuplicateMember, 0, len(docs))
	for i, d := range docs {
		m := &store.DuplicateMember{DocumentID: d.ID}
		if i == decision.primaryIndex {
			m.IsPrimary = true
			m.Action = store.ActionKeepPrimary
			m.ActionReasoning = decision.reasoning
		} else {
			action := decision.actions[i]
			if action == store.ActionDelete && !r.opts.AllowDeletes {
				action = store.ActionShortcut
				m.ActionReasoning = "delete coerced to shortcut by policy"
			}
			m.Action = action
			if m.Action == store.ActionShortcut {
				m.ShortcutTargetPath = primary.CurrentPath
			}
		}
		members = append(members, m)
	}
	return group, members, nil
}

// needsArbitration reports whether the group is ambiguous enough to consult
// the model: three or more members, divergent top-level directories, or a
// member sitting in a backup-looking location.
func needsArbitration(docs []*store.DocumentItem) bool {
	if len(docs) >= 3 {
		return true
	}
	tops := map[string]bool{}
	for _, d := range docs {
		tops[topSegment(d.CurrentPath)] = true
		if hasBackupSegment(d.CurrentPath) {
			return true
		}
	}
	return len(tops) >= 2
}

func topSegment(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) > 1 {
		return parts[0]
	}
	return ""
}

func hasBackupSegment(path string) bool {
	for _, part := range strings.Split(strings.ToLower(path), "/") {
		if backupSegments[part] {
			return true
		}
	}
	return false
}

type decision struct {
	primaryIndex int
	actions      map[int]store.DuplicateAction
	reasoning    string
}

// autoDecision elects the shortest path, breaking ties by earliest mtime and
// then lexicographically smallest path. Members in backup locations are
// penalized so a clean copy wins over an identical one under /backup.
func autoDecision(docs []*store.DocumentItem) *decision {
	type scored struct {
		index int
		depth int
	}
	candidates := make([]scored, len(docs))
	for i, d := range docs {
		depth := strings.Count(d.CurrentPath, "/")
		if hasBackupSegment(d.CurrentPath) {
			depth += 100
		}
		candidates[i] = scored{index: i, depth: depth}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		da, db := docs[candidates[a].index], docs[candidates[b].index]
		if candidates[a].depth != candidates[b].depth {
			return candidates[a].depth < candidates[b].depth
		}
		if !da.SourceMtime.Equal(db.SourceMtime) {
			return da.SourceMtime.Before(db.SourceMtime)
		}
		return da.CurrentPath < db.CurrentPath
	})

	winner := candidates[0].index
	d := &decision{
		primaryIndex: winner,
		actions:      map[int]store.DuplicateAction{},
		reasoning: fmt.Sprintf("kept %s: shallowest clean path among %d identical copies",
			docs[winner].CurrentPath, len(docs)),
	}
	for i := range docs {
		if i != winner {
			d.actions[i] = store.ActionShortcut
		}
	}
	return d
}

type arbitrationResponse struct {
	PrimaryIndex int    `json:"primary_index"`
	Reasoning    string `json:"reasoning"`
	Actions      []struct {
		Index  int    `json:"index"`
		Action string `json:"action"`
	} `json:"actions"`
}

func (r *Resolver) arbitrate(ctx context.Context, docs []*store.DocumentItem) (*decision, error) {
	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "%d. path: %s, modified: %s", i, d.CurrentPath, d.SourceMtime.Format("2006-01-02"))
		if d.Summary != "" {
			fmt.Fprintf(&b, ", summary: %s", d.Summary)
		}
		b.WriteByte('\n')
	}
	prompt := fmt.Sprintf(`These files are byte-identical copies of the same document:

%s
Decide which copy should be kept as the primary. Prefer the copy in its most
natural, non-backup location. Every other copy gets one action: "shortcut"
(replace with a link to the primary), "keep_both" (genuinely needed in both
places), or "delete" (redundant backup copy).

Respond ONLY with JSON in this format:
{
  "primary_index": 0,
  "reasoning": "one sentence",
  "actions": [{"index": 1, "action": "shortcut"}]
}`, b.String())

	response, err := r.arbiter.Summarize(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var parsed arbitrationResponse
	if err := llm.ExtractJSON(response, &parsed); err != nil {
		return nil, err
	}
	if parsed.PrimaryIndex < 0 || parsed.PrimaryIndex >= len(docs) {
		return nil, fmt.Errorf("primary index %d out of range: %w", parsed.PrimaryIndex, faults.ErrMalformed)
	}

	d := &decision{
		primaryIndex: parsed.PrimaryIndex,
		actions:      map[int]store.DuplicateAction{},
		reasoning:    parsed.Reasoning,
	}
	for _, a := range parsed.Actions {
		if a.Index < 0 || a.Index >= len(docs) || a.Index == parsed.PrimaryIndex {
			continue
		}
		switch store.DuplicateAction(a.Action) {
		case store.ActionShortcut, store.ActionKeepBoth, store.ActionDelete:
			d.actions[a.Index] = store.DuplicateAction(a.Action)
		default:
			return nil, fmt.Errorf("unknown action %q: %w", a.Action, faults.ErrMalformed)
		}
	}
	// Members the model did not mention default to shortcut.
	for i := range docs {
		if i == parsed.PrimaryIndex {
			continue
		}
		if _, ok := d.actions[i]; !ok {
			d.actions[i] = store.ActionShortcut
		}
	}
	return d, nil
}
