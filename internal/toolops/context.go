package toolops

import (
	"context"

	"github.com/nsicore/nsi/internal/index"
	"github.com/nsicore/nsi/internal/tokenbudget"
	"github.com/nsicore/nsi/internal/workspace"
)

// avgTokensPerSymbolHit approximates a hit's signature-plus-doc-comment
// token cost, used only to turn a max_tokens budget into max_results
// before any source is fetched. As coarse as tokenbudget.CharsPerToken.
const avgTokensPerSymbolHit = 50

// ContextRequest is a context() query.
type ContextRequest struct {
	Session   string
	Query     string
	Depth     int
	MaxTokens int
	CallGraph bool
}

// SymbolContext is one query hit, with source sliced to its span and
// optionally its immediate call-graph neighbors.
type SymbolContext struct {
	QualifiedName string
	FilePath      string
	Source        string
	Callers       []string
	Callees       []string
}

// ContextResponse is the context() result.
type ContextResponse struct {
	Symbols         []SymbolContext
	EstimatedTokens int
}

// Context queries the symbol index and assembles workspace-aware source
// snippets and call-graph neighbors, shrinking then dropping entries to fit
// max_tokens when one is given, per §4.L.
func (s *Service) Context(ctx context.Context, req ContextRequest) (ContextResponse, error) {
	ws, err := s.workspace(req.Session)
	if err != nil {
		return ContextResponse{}, err
	}

	alloc, err := tokenbudget.Solve(req.MaxTokens)
	if err != nil {
		return ContextResponse{}, wrap(KindInvalidInput, err)
	}

	maxResults := max(1, (alloc.TargetFileTokens+alloc.SymbolsTokens)/avgTokensPerSymbolHit)

	hits, err := s.index.SearchSymbols(ctx, s.RepoID, req.Query, maxResults)
	if err != nil {
		return ContextResponse{}, wrap(KindTransient, err)
	}

	hits = s.layerSessionGraph(ws, req.Query, hits)
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}

	symbols := make([]SymbolContext, 0, len(hits))

	for _, hit := range hits {
		sc := SymbolContext{QualifiedName: hit.QualifiedName, FilePath: hit.FilePath}

		if result, readErr := ws.ReadFile(hit.FilePath); readErr == nil {
			sc.Source = sliceSpan(result.Content, hit.StartByte, hit.EndByte)
		}

		if req.CallGraph {
			sc.Callers, _ = s.index.CallersOf(ctx, hit.ID, alloc.MaxCallers)
			sc.Callees, _ = s.index.CalleesOf(ctx, hit.ID, alloc.MaxCallees)
		}

		symbols = append(symbols, sc)
	}

	if req.MaxTokens > 0 {
		symbols = fitToBudget(symbols, req.MaxTokens)
	}

	return ContextResponse{Symbols: symbols, EstimatedTokens: estimateTokens(symbols)}, nil
}

// layerSessionGraph folds the workspace's uncommitted session graph delta
// over a shared-index search result: a hit this session has since modified
// or removed is replaced or dropped, and this session's own local additions
// matching the query are appended, so an agent's own in-flight symbol edits
// are visible to context() before they are ever submitted.
func (s *Service) layerSessionGraph(ws *workspace.Workspace, query string, hits []index.Symbol) []index.Symbol {
	graph := ws.Graph()

	out := make([]index.Symbol, 0, len(hits))

	for _, hit := range hits {
		sym, ok := graph.Lookup(hit.QualifiedName)
		if !ok {
			continue
		}

		out = append(out, sym)
	}

	seen := make(map[string]bool, len(out))
	for _, sym := range out {
		seen[sym.QualifiedName] = true
	}

	for _, sym := range graph.SearchLocal(query) {
		if !seen[sym.QualifiedName] {
			out = append(out, sym)
			seen[sym.QualifiedName] = true
		}
	}

	return out
}

func sliceSpan(content []byte, start, end int) string {
	if start < 0 || end > len(content) || start > end {
		return string(content)
	}

	return string(content[start:end])
}

// estimateTokens approximates total_chars / 4 over every assembled source
// snippet, per §4.L's estimator.
func estimateTokens(symbols []SymbolContext) int {
	chars := 0
	for _, sym := range symbols {
		chars += len(sym.Source)
	}

	return chars / tokenbudget.CharsPerToken
}

// fitToBudget shrinks per-symbol source tails and, if still over budget,
// drops source entries entirely (trailing first), until the estimate fits.
func fitToBudget(symbols []SymbolContext, maxTokens int) []SymbolContext {
	maxChars := tokenbudget.TokensToChars(maxTokens)

	totalChars := func() int {
		n := 0
		for _, sym := range symbols {
			n += len(sym.Source)
		}

		return n
	}

	for totalChars() > maxChars {
		shrunkAny := false

		for i := range symbols {
			if len(symbols[i].Source) == 0 {
				continue
			}

			newLen := len(symbols[i].Source) / 2
			symbols[i].Source = symbols[i].Source[:newLen]
			shrunkAny = true

			if totalChars() <= maxChars {
				return symbols
			}
		}

		if !shrunkAny {
			break
		}
	}

	for totalChars() > maxChars && len(symbols) > 0 {
		symbols = symbols[:len(symbols)-1]
	}

	return symbols
}
