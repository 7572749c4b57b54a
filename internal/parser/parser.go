// Package parser extracts symbols, call edges, and imports from source
// files using tree-sitter grammars. It replaces a DSL-mapping layer with
// direct per-language node-type tables: simpler to audit, and the only
// shape the NSI symbol/call-graph stores actually need.
package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sitter "github.com/alexaandru/go-tree-sitter-bare"
)

// ErrUnsupportedLanguage is returned when Parse is asked to extract symbols
// for a language with no registered grammar.
var ErrUnsupportedLanguage = errors.New("parser: unsupported language")

// declSpec describes how to recognize and name one kind of declaration node
// in a given grammar.
type declSpec struct {
	kind         SymbolKind
	nameField    string
	receiverNode string // for methods: the field holding the receiver, if any
}

// langSpec is the full set of node-type tables for one language.
type langSpec struct {
	decls   map[string]declSpec
	calls   map[string]string // node type -> field holding the callee expression
	imports map[string]string // node type -> field holding the import path, "" means use full node text
}

//nolint:gochecknoglobals // per-language grammar tables, built once.
var specs = map[string]langSpec{
	"go": {
		decls: map[string]declSpec{
			"function_declaration": {kind: SymbolFunction, nameField: "name"},
			"method_declaration":   {kind: SymbolMethod, nameField: "name", receiverNode: "receiver"},
			"type_spec":            {kind: SymbolType, nameField: "name"},
		},
		calls:   map[string]string{"call_expression": "function"},
		imports: map[string]string{"import_spec": "path"},
	},
	"python": {
		decls: map[string]declSpec{
			"function_definition": {kind: SymbolFunction, nameField: "name"},
			"class_definition":    {kind: SymbolClass, nameField: "name"},
		},
		calls:   map[string]string{"call": "function"},
		imports: map[string]string{"import_statement": "", "import_from_statement": ""},
	},
	"rust": {
		decls: map[string]declSpec{
			"function_item": {kind: SymbolFunction, nameField: "name"},
			"struct_item":   {kind: SymbolType, nameField: "name"},
			"enum_item":     {kind: SymbolType, nameField: "name"},
			"trait_item":    {kind: SymbolInterface, nameField: "name"},
			"impl_item":     {kind: SymbolType, nameField: "type"},
		},
		calls:   map[string]string{"call_expression": "function"},
		imports: map[string]string{"use_declaration": ""},
	},
	"javascript": {
		decls: map[string]declSpec{
			"function_declaration": {kind: SymbolFunction, nameField: "name"},
			"class_declaration":    {kind: SymbolClass, nameField: "name"},
			"method_definition":    {kind: SymbolMethod, nameField: "name"},
		},
		calls:   map[string]string{"call_expression": "function"},
		imports: map[string]string{"import_statement": "source"},
	},
	"typescript": {
		decls: map[string]declSpec{
			"function_declaration":  {kind: SymbolFunction, nameField: "name"},
			"class_declaration":     {kind: SymbolClass, nameField: "name"},
			"method_definition":     {kind: SymbolMethod, nameField: "name"},
			"interface_declaration": {kind: SymbolInterface, nameField: "name"},
		},
		calls:   map[string]string{"call_expression": "function"},
		imports: map[string]string{"import_statement": "source"},
	},
	"java": {
		decls: map[string]declSpec{
			"method_declaration":    {kind: SymbolMethod, nameField: "name"},
			"class_declaration":     {kind: SymbolClass, nameField: "name"},
			"interface_declaration": {kind: SymbolInterface, nameField: "name"},
		},
		calls:   map[string]string{"method_invocation": "name"},
		imports: map[string]string{"import_declaration": ""},
	},
}

func init() {
	specs["tsx"] = specs["typescript"]
}

// Registry extracts ParseResults from source files. It is safe for
// concurrent use; each Parse call acquires its own tree-sitter parser
// instance so no state is shared across goroutines.
type Registry struct{}

// NewRegistry constructs a Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Parse extracts symbols, call edges, and imports from content. filename is
// used only to detect the language; callers that already know the language
// should still pass a filename with a recognizable extension so Detect
// doesn't have to fall back to content sniffing.
func (r *Registry) Parse(ctx context.Context, filename string, content []byte) (ParseResult, error) {
	lang := Detect(filename, content)

	spec, ok := specs[lang]
	if !ok {
		return ParseResult{Language: lang}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}

	grammar := getLanguage(lang)
	if grammar == nil {
		return ParseResult{Language: lang}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}

	tsParser := sitter.NewParser()
	tsParser.SetLanguage(grammar)

	tree, err := tsParser.ParseString(ctx, nil, content)
	if err != nil {
		return ParseResult{Language: lang}, fmt.Errorf("parse %s: %w", filename, err)
	}
	defer tree.Close()

	walker := &walker{spec: spec, lang: lang, source: content, result: ParseResult{Language: lang}}
	walker.walk(tree.RootNode(), "")

	return walker.result, nil
}

// walker carries per-parse state while recursing the syntax tree.
type walker struct {
	spec   langSpec
	lang   string
	source []byte
	result ParseResult
}

func (w *walker) walk(node sitter.Node, enclosing string) {
	nodeType := node.Type()

	if declSpec, ok := w.spec.decls[nodeType]; ok {
		sym := w.buildSymbol(node, declSpec)
		if sym.Name != "" {
			w.result.Symbols = append(w.result.Symbols, sym)
			enclosing = sym.QualifiedName
		}
	}

	if field, ok := w.spec.calls[nodeType]; ok && enclosing != "" {
		if callee := w.calleeName(node, field); callee != "" {
			w.result.Calls = append(w.result.Calls, CallEdge{
				Caller: enclosing,
				Callee: callee,
				Line:   int(node.StartPoint().Row) + 1,
			})
		}
	}

	if field, ok := w.spec.imports[nodeType]; ok {
		if path := w.importPath(node, field); path != "" {
			w.result.Imports = append(w.result.Imports, Import{
				Path: path,
				Line: int(node.StartPoint().Row) + 1,
			})
		}
	}

	count := node.NamedChildCount()
	for i := range count {
		w.walk(node.NamedChild(i), enclosing)
	}
}

func (w *walker) buildSymbol(node sitter.Node, spec declSpec) Symbol {
	nameNode := node.ChildByFieldName(spec.nameField)
	if nameNode.IsNull() {
		return Symbol{}
	}

	name := w.text(nameNode)

	receiver := ""
	qualified := name

	if spec.receiverNode != "" {
		if recv := node.ChildByFieldName(spec.receiverNode); !recv.IsNull() {
			receiver = strings.TrimSpace(w.text(recv))
			qualified = receiverTypeName(receiver) + "." + name
		}
	}

	start := node.StartPoint()
	end := node.EndPoint()

	return Symbol{
		Name:          name,
		QualifiedName: qualified,
		Kind:          spec.kind,
		Receiver:      receiver,
		Visibility:    visibilityFor(w.lang, w.text(node), name),
		StartPos:      Position{Line: int(start.Row) + 1, Column: int(start.Column) + 1},
		EndPos:        Position{Line: int(end.Row) + 1, Column: int(end.Column) + 1},
		StartByte:     int(node.StartByte()),
		EndByte:       int(node.EndByte()),
		Signature:     w.signatureLine(node),
	}
}

// visibilityFor derives a declaration's public/private visibility using
// each grammar's own convention, per spec: Rust looks for a leading pub
// keyword, Python a leading underscore in the name, Java an explicit
// access modifier keyword (defaulting to package-private), and Go,
// JavaScript, and TypeScript the exported-capitalization convention.
func visibilityFor(lang, declText, name string) string {
	switch lang {
	case "rust":
		if strings.HasPrefix(strings.TrimSpace(declText), "pub") {
			return "public"
		}

		return "private"
	case "python":
		if strings.HasPrefix(name, "_") {
			return "private"
		}

		return "public"
	case "java":
		for _, field := range strings.Fields(declText) {
			switch field {
			case "public":
				return "public"
			case "private", "protected":
				return "private"
			}

			if field == name {
				break
			}
		}

		return "private"
	default:
		if isExportedName(name) {
			return "public"
		}

		return "private"
	}
}

// isExportedName reports the Go/JS/TS exported-capitalization convention: a
// leading uppercase letter.
func isExportedName(name string) bool {
	return name != "" && name[0] >= 'A' && name[0] <= 'Z'
}

func (w *walker) calleeName(node sitter.Node, field string) string {
	target := node.ChildByFieldName(field)
	if target.IsNull() {
		return ""
	}

	text := w.text(target)

	// For "a.b.Method(...)" style callees, report only the trailing member —
	// resolving the receiver type is the call-graph store's job.
	if idx := strings.LastIndexAny(text, ".:"); idx >= 0 && idx+1 < len(text) {
		return text[idx+1:]
	}

	return text
}

func (w *walker) importPath(node sitter.Node, field string) string {
	target := node

	if field != "" {
		if n := node.ChildByFieldName(field); !n.IsNull() {
			target = n
		}
	}

	return strings.Trim(w.text(target), `"'`)
}

// signatureLine returns the first source line of the declaration, a
// best-effort summary for diagnostics and log output.
func (w *walker) signatureLine(node sitter.Node) string {
	text := w.text(node)
	if idx := strings.IndexAny(text, "\n{;"); idx >= 0 {
		text = text[:idx]
	}

	return strings.TrimSpace(text)
}

func (w *walker) text(node sitter.Node) string {
	start, end := node.StartByte(), node.EndByte()
	if end > uint(len(w.source)) || start > end {
		return ""
	}

	return string(w.source[start:end])
}

// receiverTypeName strips a Go method receiver expression ("r *Repository")
// down to the bare type name.
func receiverTypeName(receiverText string) string {
	receiverText = strings.TrimSpace(receiverText)
	fields := strings.Fields(receiverText)

	if len(fields) == 0 {
		return ""
	}

	name := fields[len(fields)-1]

	return strings.TrimPrefix(name, "*")
}
