// Package conflict implements the three-way symbol-level conflict analyzer
// (component I): parse base/head/overlay, classify the change each side
// made to every qualified name, and report SemanticConflicts for names both
// sides touched incompatibly. Falls back to byte-level comparison when any
// side fails to parse.
package conflict

import (
	"context"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/nsicore/nsi/internal/mapx"
	"github.com/nsicore/nsi/internal/parser"
)

// ChangeKind classifies what one side did to a qualified name relative to
// base.
type ChangeKind string

// Change kinds.
const (
	Added     ChangeKind = "added"
	Modified  ChangeKind = "modified"
	Removed   ChangeKind = "removed"
	Unchanged ChangeKind = "unchanged"
)

// SemanticConflict is one qualified name both sides changed incompatibly.
type SemanticConflict struct {
	Path        string
	Symbol      string
	OurChange   ChangeKind
	TheirChange ChangeKind
}

// Outcome is the analyzer's verdict for one file.
type Outcome struct {
	AutoMerge bool
	Content   []byte // the winning bytes when AutoMerge is true
	Conflicts []SemanticConflict
}

// Analyzer runs the three-way comparison using a parser registry.
type Analyzer struct {
	registry *parser.Registry
}

// New constructs an Analyzer over the given parser registry.
func New(registry *parser.Registry) *Analyzer {
	return &Analyzer{registry: registry}
}

// AnalyzeFileConflict runs the 4-step procedure of §4.I over one file's
// three versions.
func (a *Analyzer) AnalyzeFileConflict(ctx context.Context, path string, baseBytes, headBytes, overlayBytes []byte) Outcome {
	baseResult, baseErr := a.registry.Parse(ctx, path, baseBytes)
	headResult, headErr := a.registry.Parse(ctx, path, headBytes)
	overlayResult, overlayErr := a.registry.Parse(ctx, path, overlayBytes)

	if baseErr != nil || headErr != nil || overlayErr != nil {
		return byteLevelFallback(path, headBytes, overlayBytes, headChanged(baseBytes, headBytes), overlayChanged(baseBytes, overlayBytes))
	}

	baseSymbols := bySymbolName(baseResult)
	headSymbols := bySymbolName(headResult)
	overlaySymbols := bySymbolName(overlayResult)

	names := unionNames(baseSymbols, headSymbols, overlaySymbols)

	var conflicts []SemanticConflict

	for _, name := range names {
		ours := classify(baseSymbols[name], overlaySymbols[name])
		theirs := classify(baseSymbols[name], headSymbols[name])

		if ours == Unchanged || theirs == Unchanged {
			continue
		}

		if ours == theirs && equivalent(overlaySymbols[name], headSymbols[name]) {
			continue
		}

		conflicts = append(conflicts, SemanticConflict{
			Path: path, Symbol: name, OurChange: ours, TheirChange: theirs,
		})
	}

	if len(conflicts) > 0 {
		return Outcome{Conflicts: conflicts}
	}

	return Outcome{AutoMerge: true, Content: overlayBytes}
}

func bySymbolName(result parser.ParseResult) map[string]parser.Symbol {
	m := make(map[string]parser.Symbol, len(result.Symbols))
	for _, sym := range result.Symbols {
		m[sym.QualifiedName] = sym
	}

	return m
}

func unionNames(maps_ ...map[string]parser.Symbol) []string {
	set := make(map[string]struct{})

	for _, m := range maps_ {
		for name := range m {
			set[name] = struct{}{}
		}
	}

	return mapx.SortedKeys(set)
}

func classify(base, other parser.Symbol) ChangeKind {
	_, hadBase := zeroSymbol(base)
	_, hasOther := zeroSymbol(other)

	switch {
	case !hadBase && hasOther:
		return Added
	case hadBase && !hasOther:
		return Removed
	case !hadBase && !hasOther:
		return Unchanged
	case equivalent(base, other):
		return Unchanged
	default:
		return Modified
	}
}

func zeroSymbol(s parser.Symbol) (parser.Symbol, bool) {
	return s, s.QualifiedName != ""
}

// equivalent compares span, kind, visibility, and signature — never the
// opaque id.
func equivalent(a, b parser.Symbol) bool {
	return a.StartPos == b.StartPos && a.EndPos == b.EndPos &&
		a.Kind == b.Kind && a.Visibility == b.Visibility && a.Signature == b.Signature
}

func headChanged(base, head []byte) bool {
	return string(base) != string(head)
}

func overlayChanged(base, overlay []byte) bool {
	return string(base) != string(overlay)
}

// byteLevelFallback implements step 1 of §4.I for files that fail to parse:
// if both sides changed and differ, report one whole-file conflict;
// otherwise prefer the overlay when it changed, else the head.
func byteLevelFallback(path string, headBytes, overlayBytes []byte, headWasChanged, overlayWasChanged bool) Outcome {
	if headWasChanged && overlayWasChanged {
		dmp := diffmatchpatch.New()

		diffs := dmp.DiffMain(string(headBytes), string(overlayBytes), false)
		if len(diffs) > 1 || (len(diffs) == 1 && diffs[0].Type != diffmatchpatch.DiffEqual) {
			return Outcome{Conflicts: []SemanticConflict{{
				Path: path, Symbol: "<whole file>", OurChange: Modified, TheirChange: Modified,
			}}}
		}
	}

	if overlayWasChanged {
		return Outcome{AutoMerge: true, Content: overlayBytes}
	}

	return Outcome{AutoMerge: true, Content: headBytes}
}
