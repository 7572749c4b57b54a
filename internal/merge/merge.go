// Package merge implements the merge engine (component J): fast-forward
// when HEAD has not advanced past the workspace's base commit, otherwise a
// per-file three-way rebase driven by the conflict analyzer.
package merge

import (
	"context"
	"fmt"

	"github.com/nsicore/nsi/internal/conflict"
	"github.com/nsicore/nsi/internal/gitlib"
	"github.com/nsicore/nsi/internal/overlay"
)

// Result is the outcome of a merge attempt. Exactly one of FastForward,
// Rebased, or Conflicts is populated.
type Result struct {
	FastForward *FastMerge
	Rebased     *RebaseMerge
	Conflicts   []conflict.SemanticConflict
}

// FastMerge is the result of committing the overlay directly on the base
// commit because HEAD had not advanced.
type FastMerge struct {
	CommitHex string
}

// RebaseMerge is the result of a per-file three-way reconciliation followed
// by a single commit on top of HEAD.
type RebaseMerge struct {
	CommitHex        string
	AutoRebasedFiles []string
}

// Engine runs merges for one repository.
type Engine struct {
	repo     *gitlib.Repository
	analyzer *conflict.Analyzer
}

// New constructs a merge Engine.
func New(repo *gitlib.Repository, analyzer *conflict.Analyzer) *Engine {
	return &Engine{repo: repo, analyzer: analyzer}
}

// Merge runs the merge engine over a workspace's overlay, per §4.J.
func (e *Engine) Merge(ctx context.Context, baseCommit gitlib.Hash, ov *overlay.Overlay, message string, author, committer gitlib.Signature) (Result, error) {
	entries := ov.Entries()
	if len(entries) == 0 {
		return Result{}, gitlib.ErrEmptyOverlay
	}

	head, hasHead := e.repo.HeadHash()
	if !hasHead {
		head = gitlib.ZeroHash()
	}

	if head == baseCommit {
		hex, err := e.fastForward(baseCommit, entries, message, author, committer)
		if err != nil {
			return Result{}, err
		}

		return Result{FastForward: &FastMerge{CommitHex: hex}}, nil
	}

	return e.rebase(ctx, baseCommit, head, entries, message, author, committer)
}

func (e *Engine) fastForward(baseCommit gitlib.Hash, entries []overlay.Entry, message string, author, committer gitlib.Signature) (string, error) {
	edits := toOverlayEdits(entries)

	hash, err := e.repo.CommitTreeOverlay(baseCommit, edits, baseCommit, message, author, committer)
	if err != nil {
		return "", fmt.Errorf("fast-forward commit: %w", err)
	}

	return hash.String(), nil
}

func (e *Engine) rebase(ctx context.Context, baseCommit, head gitlib.Hash, entries []overlay.Entry, message string, author, committer gitlib.Signature) (Result, error) {
	var (
		rebasedEdits []gitlib.OverlayEdit
		autoRebased  []string
		conflicts    []conflict.SemanticConflict
	)

	for _, entry := range entries {
		baseBytes, baseErr := e.repo.ReadTreeEntry(baseCommit.String(), entry.Path)
		baseExists := baseErr == nil

		headBytes, headErr := e.repo.ReadTreeEntry(head.String(), entry.Path)
		headExists := headErr == nil

		switch {
		case entry.ChangeType == overlay.Deleted:
			if baseExists == headExists && string(baseBytes) == string(headBytes) {
				rebasedEdits = append(rebasedEdits, gitlib.OverlayEdit{Path: entry.Path, Content: nil})
			} else {
				conflicts = append(conflicts, conflict.SemanticConflict{
					Path: entry.Path, Symbol: "<file>", OurChange: conflict.Removed, TheirChange: conflict.Modified,
				})
			}

		case baseExists && headExists:
			if string(baseBytes) == string(headBytes) {
				rebasedEdits = append(rebasedEdits, gitlib.OverlayEdit{Path: entry.Path, Content: entry.Content})

				continue
			}

			outcome := e.analyzer.AnalyzeFileConflict(ctx, entry.Path, baseBytes, headBytes, entry.Content)
			if outcome.AutoMerge {
				rebasedEdits = append(rebasedEdits, gitlib.OverlayEdit{Path: entry.Path, Content: outcome.Content})
				autoRebased = append(autoRebased, entry.Path)
			} else {
				conflicts = append(conflicts, outcome.Conflicts...)
			}

		case !baseExists && headExists:
			if string(entry.Content) == string(headBytes) {
				rebasedEdits = append(rebasedEdits, gitlib.OverlayEdit{Path: entry.Path, Content: entry.Content})
			} else {
				conflicts = append(conflicts, conflict.SemanticConflict{
					Path: entry.Path, Symbol: "<file>", OurChange: conflict.Added, TheirChange: conflict.Added,
				})
			}

		case !baseExists && !headExists:
			rebasedEdits = append(rebasedEdits, gitlib.OverlayEdit{Path: entry.Path, Content: entry.Content})

		default: // baseExists && !headExists
			conflicts = append(conflicts, conflict.SemanticConflict{
				Path: entry.Path, Symbol: "<file>", OurChange: conflict.Modified, TheirChange: conflict.Removed,
			})
		}
	}

	if len(conflicts) > 0 {
		return Result{Conflicts: conflicts}, nil
	}

	hash, err := e.repo.CommitTreeOverlay(head, rebasedEdits, head, message, author, committer)
	if err != nil {
		return Result{}, fmt.Errorf("rebase commit: %w", err)
	}

	return Result{Rebased: &RebaseMerge{CommitHex: hash.String(), AutoRebasedFiles: autoRebased}}, nil
}

func toOverlayEdits(entries []overlay.Entry) []gitlib.OverlayEdit {
	edits := make([]gitlib.OverlayEdit, len(entries))
	for i, entry := range entries {
		content := entry.Content
		if entry.ChangeType == overlay.Deleted {
			content = nil
		}

		edits[i] = gitlib.OverlayEdit{Path: entry.Path, Content: content}
	}

	return edits
}
