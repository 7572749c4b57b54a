package parser

// SymbolKind classifies a parsed declaration.
type SymbolKind string

// Symbol kinds the registry extracts. Not every grammar reports every kind.
const (
	SymbolFunction  SymbolKind = "function"
	SymbolMethod    SymbolKind = "method"
	SymbolType      SymbolKind = "type"
	SymbolClass     SymbolKind = "class"
	SymbolInterface SymbolKind = "interface"
)

// Position is a 1-based line/column location within a file.
type Position struct {
	Line   int
	Column int
}

// Symbol is one named declaration found in a file: a function, method, or
// type/class/interface definition. QualifiedName disambiguates symbols that
// share a bare Name (e.g. methods on different receivers).
type Symbol struct {
	Name          string
	QualifiedName string
	Kind          SymbolKind
	Receiver      string // non-empty for methods
	Visibility    string // "public" or "private", derived per grammar
	StartPos      Position
	EndPos        Position
	StartByte     int
	EndByte       int
	Signature     string // best-effort textual signature, for diagnostics
}

// CallEdge is a reference from one symbol to another callee name found in
// its body. Callee is the bare (unresolved) name as written in source;
// resolving it to a QualifiedName is the call-graph store's job, not the
// parser's.
type CallEdge struct {
	Caller string // QualifiedName of the enclosing symbol
	Callee string
	Line   int
}

// Import is one import/require/use statement found in a file.
type Import struct {
	Path string
	Line int
}

// ParseResult is everything the registry extracted from a single file.
type ParseResult struct {
	Language string
	Symbols  []Symbol
	Calls    []CallEdge
	Imports  []Import
}
