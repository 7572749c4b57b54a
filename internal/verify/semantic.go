package verify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nsicore/nsi/internal/index"
	"github.com/nsicore/nsi/internal/parser"
)

// SemanticCheck names one of the nine gates.
type SemanticCheck string

// The nine semantic gates, per §4.M.
const (
	CheckNoUnsafeAdded          SemanticCheck = "no-unsafe-added"
	CheckNoUnwrapAdded          SemanticCheck = "no-unwrap-added"
	CheckErrorHandlingPreserved SemanticCheck = "error-handling-preserved"
	CheckNoPublicRemoval        SemanticCheck = "no-public-removal"
	CheckSignatureStable        SemanticCheck = "signature-stable"
	CheckTraitImplComplete      SemanticCheck = "trait-impl-complete"
	CheckComplexityLimit        SemanticCheck = "complexity-limit"
	CheckNoDependencyCycles     SemanticCheck = "no-dependency-cycles"
	CheckDeadCodeDetection      SemanticCheck = "dead-code-detection"
)

// AllChecks is the full gate set, run when a semantic step names none
// explicitly.
var AllChecks = []SemanticCheck{
	CheckNoUnsafeAdded, CheckNoUnwrapAdded, CheckErrorHandlingPreserved,
	CheckNoPublicRemoval, CheckSignatureStable, CheckTraitImplComplete,
	CheckComplexityLimit, CheckNoDependencyCycles, CheckDeadCodeDetection,
}

// complexityLimit bounds the per-function count of branching keywords
// before CheckComplexityLimit flags it.
const complexityLimit = 20

// CheckContext is everything a semantic gate needs: the index's view of the
// repository before the change, and the freshly parsed view after.
type CheckContext struct {
	RepoID       string
	BeforeByFile map[string][]index.Symbol
	AfterByFile  map[string]parser.ParseResult
	ChangedFiles map[string][]byte // materialized content, keyed by repo-relative path
	DependencyCycles []index.DependencyCycle
}

// Finding is one semantic gate's complaint.
type Finding struct {
	Check   SemanticCheck
	File    string
	Symbol  string
	Message string
}

// RunSemanticChecks runs the requested checks (or AllChecks if checks is
// empty) and returns every finding, aggregated across files.
func RunSemanticChecks(cc CheckContext, checks []SemanticCheck) []Finding {
	if len(checks) == 0 {
		checks = AllChecks
	}

	var findings []Finding

	for _, check := range checks {
		findings = append(findings, runCheck(check, cc)...)
	}

	return findings
}

func runCheck(check SemanticCheck, cc CheckContext) []Finding {
	switch check {
	case CheckNoUnsafeAdded:
		return checkNoUnsafeAdded(cc)
	case CheckNoUnwrapAdded:
		return checkNoUnwrapAdded(cc)
	case CheckErrorHandlingPreserved:
		return checkErrorHandlingPreserved(cc)
	case CheckNoPublicRemoval:
		return checkNoPublicRemoval(cc)
	case CheckSignatureStable:
		return checkSignatureStable(cc)
	case CheckTraitImplComplete:
		return checkTraitImplComplete(cc)
	case CheckComplexityLimit:
		return checkComplexityLimit(cc)
	case CheckNoDependencyCycles:
		return checkNoDependencyCycles(cc)
	case CheckDeadCodeDetection:
		return checkDeadCodeDetection(cc)
	default:
		return nil
	}
}

var unsafeBlockPattern = regexp.MustCompile(`unsafe\s*\{`)

func checkNoUnsafeAdded(cc CheckContext) []Finding {
	var findings []Finding

	for file, content := range cc.ChangedFiles {
		if unsafeBlockPattern.MatchString(string(content)) {
			findings = append(findings, Finding{
				Check: CheckNoUnsafeAdded, File: file,
				Message: "unsafe block introduced",
			})
		}
	}

	return findings
}

func checkNoUnwrapAdded(cc CheckContext) []Finding {
	var findings []Finding

	for file, content := range cc.ChangedFiles {
		if isTestFile(file) {
			continue
		}

		if strings.Contains(string(content), ".unwrap()") {
			findings = append(findings, Finding{
				Check: CheckNoUnwrapAdded, File: file,
				Message: ".unwrap() introduced outside test code",
			})
		}
	}

	return findings
}

func isTestFile(file string) bool {
	base := file
	if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
		base = file[idx+1:]
	}

	return strings.Contains(base, "test")
}

func checkErrorHandlingPreserved(cc CheckContext) []Finding {
	var findings []Finding

	for file, before := range cc.BeforeByFile {
		after, ok := cc.AfterByFile[file]
		if !ok {
			continue
		}

		afterByName := symbolsByName(after)

		for _, sym := range before {
			if !strings.Contains(sym.Signature, "Result") {
				continue
			}

			afterSym, ok := afterByName[sym.QualifiedName]
			if !ok || strings.Contains(afterSym.Signature, "Result") {
				continue
			}

			findings = append(findings, Finding{
				Check: CheckErrorHandlingPreserved, File: file, Symbol: sym.QualifiedName,
				Message: "function returned Result before but not after",
			})
		}
	}

	return findings
}

func checkNoPublicRemoval(cc CheckContext) []Finding {
	var findings []Finding

	for file, before := range cc.BeforeByFile {
		after, ok := cc.AfterByFile[file]

		afterNames := map[string]struct{}{}
		if ok {
			for _, sym := range after.Symbols {
				afterNames[sym.QualifiedName] = struct{}{}
			}
		}

		for _, sym := range before {
			if !isPublic(sym.Visibility, sym.Name) {
				continue
			}

			if _, ok := afterNames[sym.QualifiedName]; !ok {
				findings = append(findings, Finding{
					Check: CheckNoPublicRemoval, File: file, Symbol: sym.QualifiedName,
					Message: "public symbol removed",
				})
			}
		}
	}

	return findings
}

func checkSignatureStable(cc CheckContext) []Finding {
	var findings []Finding

	for file, before := range cc.BeforeByFile {
		after, ok := cc.AfterByFile[file]
		if !ok {
			continue
		}

		afterByName := symbolsByName(after)

		for _, sym := range before {
			if !isPublic(sym.Visibility, sym.Name) {
				continue
			}

			afterSym, ok := afterByName[sym.QualifiedName]
			if ok && afterSym.Signature != sym.Signature {
				findings = append(findings, Finding{
					Check: CheckSignatureStable, File: file, Symbol: sym.QualifiedName,
					Message: fmt.Sprintf("signature changed: %q -> %q", sym.Signature, afterSym.Signature),
				})
			}
		}
	}

	return findings
}

func checkTraitImplComplete(cc CheckContext) []Finding {
	var findings []Finding

	for file, before := range cc.BeforeByFile {
		after, ok := cc.AfterByFile[file]
		if !ok {
			continue
		}

		beforeMethods := methodsByReceiver(before)
		afterMethods := afterMethodsByReceiver(after)

		for parent, methods := range beforeMethods {
			afterSet := afterMethods[parent]

			for _, m := range methods {
				if _, ok := afterSet[m]; !ok {
					findings = append(findings, Finding{
						Check: CheckTraitImplComplete, File: file, Symbol: parent + "." + m,
						Message: "impl lost a method",
					})
				}
			}
		}
	}

	return findings
}

var branchKeyword = regexp.MustCompile(`\b(if|else|match|for|while|loop)\b`)

func checkComplexityLimit(cc CheckContext) []Finding {
	var findings []Finding

	for file, after := range cc.AfterByFile {
		content := cc.ChangedFiles[file]

		for _, sym := range after.Symbols {
			body := sliceSymbolBody(content, sym)
			if n := len(branchKeyword.FindAllString(body, -1)); n > complexityLimit {
				findings = append(findings, Finding{
					Check: CheckComplexityLimit, File: file, Symbol: sym.QualifiedName,
					Message: fmt.Sprintf("%d branching keywords exceeds limit of %d", n, complexityLimit),
				})
			}
		}
	}

	return findings
}

func checkNoDependencyCycles(cc CheckContext) []Finding {
	var findings []Finding

	for _, cycle := range cc.DependencyCycles {
		findings = append(findings, Finding{
			Check:   CheckNoDependencyCycles,
			Message: "dependency cycle: " + strings.Join(cycle.QualifiedNames, " -> "),
		})
	}

	return findings
}

func checkDeadCodeDetection(cc CheckContext) []Finding {
	calleeCounts := make(map[string]int)

	for _, after := range cc.AfterByFile {
		for _, call := range after.Calls {
			calleeCounts[call.Callee]++
		}
	}

	var findings []Finding

	for file, after := range cc.AfterByFile {
		for _, sym := range after.Symbols {
			if sym.Kind != parser.SymbolFunction || isPublicName(sym.Name) {
				continue
			}

			if sym.Name == "main" || strings.HasPrefix(sym.Name, "test") || strings.HasPrefix(sym.Name, "Test") {
				continue
			}

			if calleeCounts[sym.Name] == 0 {
				findings = append(findings, Finding{
					Check: CheckDeadCodeDetection, File: file, Symbol: sym.QualifiedName,
					Message: "private function has no incoming calls",
				})
			}
		}
	}

	return findings
}

func symbolsByName(result parser.ParseResult) map[string]parser.Symbol {
	m := make(map[string]parser.Symbol, len(result.Symbols))
	for _, sym := range result.Symbols {
		m[sym.QualifiedName] = sym
	}

	return m
}

func methodsByReceiver(symbols []index.Symbol) map[string][]string {
	m := make(map[string][]string)

	for _, sym := range symbols {
		if sym.Kind != parser.SymbolMethod {
			continue
		}

		if dot := strings.IndexByte(sym.QualifiedName, '.'); dot >= 0 {
			parent := sym.QualifiedName[:dot]
			m[parent] = append(m[parent], sym.QualifiedName[dot+1:])
		}
	}

	return m
}

func afterMethodsByReceiver(result parser.ParseResult) map[string]map[string]struct{} {
	m := make(map[string]map[string]struct{})

	for _, sym := range result.Symbols {
		if sym.Kind != parser.SymbolMethod || sym.Receiver == "" {
			continue
		}

		if m[sym.Receiver] == nil {
			m[sym.Receiver] = make(map[string]struct{})
		}

		m[sym.Receiver][sym.Name] = struct{}{}
	}

	return m
}

func sliceSymbolBody(content []byte, sym parser.Symbol) string {
	if sym.StartByte < 0 || sym.EndByte > len(content) || sym.StartByte > sym.EndByte {
		return ""
	}

	return string(content[sym.StartByte:sym.EndByte])
}

// isPublic reports whether a stored symbol should be treated as part of
// the public surface: an explicit visibility marker if the index recorded
// one, else an exported-looking name (Go-style leading capital).
func isPublic(visibility, name string) bool {
	if visibility != "" {
		return visibility == "public" || visibility == "exported"
	}

	return isPublicName(name)
}

func isPublicName(name string) bool {
	return name != "" && name[0] >= 'A' && name[0] <= 'Z'
}
