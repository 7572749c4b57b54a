package parser

import (
	"path"
	"strings"
	"sync"
	"unsafe"

	sitter "github.com/alexaandru/go-tree-sitter-bare"

	golang "github.com/alexaandru/go-sitter-forest/go"
	"github.com/alexaandru/go-sitter-forest/java"
	"github.com/alexaandru/go-sitter-forest/javascript"
	"github.com/alexaandru/go-sitter-forest/python"
	"github.com/alexaandru/go-sitter-forest/rust"
	"github.com/alexaandru/go-sitter-forest/tsx"
	"github.com/alexaandru/go-sitter-forest/typescript"

	"github.com/src-d/enry/v2"
)

// languageFuncs maps the languages this registry can build a symbol table
// for to their tree-sitter grammar constructors. Every other language enry
// can name is still reported by Detect, just without symbol extraction.
//
//nolint:gochecknoglobals // package-level grammar lookup table.
var languageFuncs = map[string]func() unsafe.Pointer{
	"go":         golang.GetLanguage,
	"python":     python.GetLanguage,
	"rust":       rust.GetLanguage,
	"javascript": javascript.GetLanguage,
	"typescript": typescript.GetLanguage,
	"tsx":        tsx.GetLanguage,
	"java":       java.GetLanguage,
}

var languageCache sync.Map

// getLanguage returns the cached tree-sitter Language for name, or nil if
// this registry carries no grammar for it.
func getLanguage(name string) *sitter.Language {
	if cached, ok := languageCache.Load(name); ok {
		lang, ok := cached.(*sitter.Language)
		if ok {
			return lang
		}
	}

	fn, ok := languageFuncs[name]
	if !ok {
		return nil
	}

	lang := sitter.NewLanguage(fn())
	languageCache.Store(name, lang)

	return lang
}

// extensionToLanguage is the fast-path extension lookup for the languages
// this registry extracts symbols from. Anything outside this set falls back
// to enry content-based detection, which knows a much wider range.
//
//nolint:gochecknoglobals // package-level lookup table for performance.
var extensionToLanguage = map[string]string{
	".go":   "go",
	".py":   "python",
	".pyi":  "python",
	".rs":   "rust",
	".js":   "javascript",
	".mjs":  "javascript",
	".cjs":  "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".mts":  "typescript",
	".tsx":  "tsx",
	".java": "java",
}

// Detect returns a registry-internal language key for filename, using the
// extension fast path first and falling back to enry content sniffing for
// extensions this registry doesn't special-case.
func Detect(filename string, content []byte) string {
	ext := strings.ToLower(path.Ext(filename))
	if lang, ok := extensionToLanguage[ext]; ok {
		return lang
	}

	enryLang := enry.GetLanguage(path.Base(filename), content)

	return normalizeEnryName(enryLang)
}

// normalizeEnryName maps enry's display names onto this registry's lowercase
// keys where the two overlap, and passes through unrecognized names so
// callers can still report them even without symbol extraction support.
func normalizeEnryName(name string) string {
	switch name {
	case "Go":
		return "go"
	case "Python":
		return "python"
	case "Rust":
		return "rust"
	case "JavaScript":
		return "javascript"
	case "TypeScript":
		return "typescript"
	case "TSX":
		return "tsx"
	case "Java":
		return "java"
	default:
		return name
	}
}

// IsSupported reports whether the registry can extract symbols for lang (a
// value returned by Detect).
func IsSupported(lang string) bool {
	_, ok := languageFuncs[lang]

	return ok
}
