// Package tokenbudget allocates a context() call's max_tokens budget across
// the pieces of context a session can return: the target file, its
// neighboring symbols, and call-graph callers/callees. It mirrors the
// proportional-allocation approach used elsewhere in this codebase for
// carving a fixed resource into knobs under a hard ceiling.
package tokenbudget

// Allocation proportions for splitting a context budget. Percentages of the
// budget remaining after the target file's own content is reserved.
const (
	// SymbolsAllocationPercent is the share of the remaining budget given to
	// sibling symbol bodies in the same file.
	SymbolsAllocationPercent = 50

	// CallersAllocationPercent is the share given to caller-side call-graph
	// context.
	CallersAllocationPercent = 30

	// CalleesAllocationPercent is the share given to callee-side call-graph
	// context.
	CalleesAllocationPercent = 20

	percentDivisor = 100
)

// Solver constraints.
const (
	// MinimumBudget is the smallest max_tokens value the solver accepts;
	// below this there isn't room for the target file plus any context.
	MinimumBudget = 256

	// TargetFileReservePercent is the share of the total budget reserved for
	// the target file itself before any allocation to surrounding context.
	TargetFileReservePercent = 40

	// MinCallGraphEntries is the minimum number of callers/callees included
	// once any callgraph allocation is made at all.
	MinCallGraphEntries = 1
)

// CharsPerToken approximates source-text token density for budgeting
// purposes. It is intentionally coarse — exact tokenization depends on the
// calling agent's model and is not known to the server.
const CharsPerToken = 4

// Allocation is the result of splitting a context() max_tokens budget.
type Allocation struct {
	TargetFileTokens int
	SymbolsTokens    int
	CallersTokens    int
	CalleesTokens    int
	MaxCallers       int
	MaxCallees       int
}

// TotalTokens returns the sum of every bucket in the allocation.
func (a Allocation) TotalTokens() int {
	return a.TargetFileTokens + a.SymbolsTokens + a.CallersTokens + a.CalleesTokens
}

// TokensToChars converts a token budget to an approximate character ceiling.
func TokensToChars(tokens int) int {
	return tokens * CharsPerToken
}
