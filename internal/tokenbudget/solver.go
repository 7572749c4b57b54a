package tokenbudget

import "errors"

// ErrBudgetTooSmall indicates the requested max_tokens is below the minimum
// the solver can usefully split.
var ErrBudgetTooSmall = errors.New("token budget is too small")

// Solve splits a context() max_tokens value into an Allocation covering the
// target file and its surrounding symbol/call-graph context. Callers with no
// stated preference should pass a budget of zero; Solve then returns an
// Allocation sized off DefaultBudget.
func Solve(maxTokens int) (Allocation, error) {
	if maxTokens == 0 {
		maxTokens = DefaultBudget
	}

	if maxTokens < MinimumBudget {
		return Allocation{}, ErrBudgetTooSmall
	}

	targetFile := maxTokens * TargetFileReservePercent / percentDivisor
	remaining := maxTokens - targetFile

	symbols := remaining * SymbolsAllocationPercent / percentDivisor
	callers := remaining * CallersAllocationPercent / percentDivisor
	callees := remaining - symbols - callers

	alloc := Allocation{
		TargetFileTokens: targetFile,
		SymbolsTokens:    symbols,
		CallersTokens:    callers,
		CalleesTokens:    callees,
	}

	if callers > 0 {
		alloc.MaxCallers = max(MinCallGraphEntries, callers/tokensPerCallSite)
	}

	if callees > 0 {
		alloc.MaxCallees = max(MinCallGraphEntries, callees/tokensPerCallSite)
	}

	return alloc, nil
}

// DefaultBudget is used when a context() request omits max_tokens.
const DefaultBudget = 8000

// tokensPerCallSite approximates the token cost of one caller/callee
// snippet (signature plus a line of surrounding context).
const tokensPerCallSite = 40
