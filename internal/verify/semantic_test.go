package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsicore/nsi/internal/index"
	"github.com/nsicore/nsi/internal/parser"
)

func TestCheckNoUnsafeAdded_FlagsUnsafeBlock(t *testing.T) {
	t.Parallel()

	cc := CheckContext{
		ChangedFiles: map[string][]byte{
			"pkg/risky.rs": []byte("fn f() { unsafe { raw() } }"),
		},
	}

	findings := checkNoUnsafeAdded(cc)

	require.Len(t, findings, 1)
	assert.Equal(t, CheckNoUnsafeAdded, findings[0].Check)
}

func TestCheckNoUnwrapAdded_IgnoresTestFiles(t *testing.T) {
	t.Parallel()

	cc := CheckContext{
		ChangedFiles: map[string][]byte{
			"pkg/risky.rs":      []byte("let v = opt.unwrap();"),
			"pkg/risky_test.rs": []byte("let v = opt.unwrap();"),
		},
	}

	findings := checkNoUnwrapAdded(cc)

	require.Len(t, findings, 1)
	assert.Equal(t, "pkg/risky.rs", findings[0].File)
}

func TestCheckNoPublicRemoval_FlagsRemovedExportedSymbol(t *testing.T) {
	t.Parallel()

	cc := CheckContext{
		BeforeByFile: map[string][]index.Symbol{
			"pkg/api.go": {
				{QualifiedName: "pkg.Export", Name: "Export", Visibility: "exported"},
			},
		},
		AfterByFile: map[string]parser.ParseResult{
			"pkg/api.go": {Symbols: nil},
		},
	}

	findings := checkNoPublicRemoval(cc)

	require.Len(t, findings, 1)
	assert.Equal(t, "pkg.Export", findings[0].Symbol)
}

func TestCheckNoPublicRemoval_IgnoresPrivateSymbolRemoval(t *testing.T) {
	t.Parallel()

	cc := CheckContext{
		BeforeByFile: map[string][]index.Symbol{
			"pkg/api.go": {
				{QualifiedName: "pkg.helper", Name: "helper", Visibility: "private"},
			},
		},
		AfterByFile: map[string]parser.ParseResult{
			"pkg/api.go": {Symbols: nil},
		},
	}

	findings := checkNoPublicRemoval(cc)

	assert.Empty(t, findings)
}

func TestCheckSignatureStable_FlagsChangedSignature(t *testing.T) {
	t.Parallel()

	cc := CheckContext{
		BeforeByFile: map[string][]index.Symbol{
			"pkg/api.go": {
				{QualifiedName: "pkg.Do", Name: "Do", Visibility: "exported", Signature: "func Do(int) error"},
			},
		},
		AfterByFile: map[string]parser.ParseResult{
			"pkg/api.go": {Symbols: []parser.Symbol{
				{QualifiedName: "pkg.Do", Name: "Do", Signature: "func Do(int, int) error"},
			}},
		},
	}

	findings := checkSignatureStable(cc)

	require.Len(t, findings, 1)
	assert.Equal(t, CheckSignatureStable, findings[0].Check)
}

func TestCheckNoDependencyCycles_ReportsEachCycle(t *testing.T) {
	t.Parallel()

	cc := CheckContext{
		DependencyCycles: []index.DependencyCycle{
			{QualifiedNames: []string{"a", "b", "a"}},
		},
	}

	findings := checkNoDependencyCycles(cc)

	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Message, "a -> b -> a")
}

func TestCheckDeadCodeDetection_FlagsUncalledPrivateFunction(t *testing.T) {
	t.Parallel()

	cc := CheckContext{
		AfterByFile: map[string]parser.ParseResult{
			"pkg/api.go": {
				Symbols: []parser.Symbol{
					{QualifiedName: "pkg.unused", Name: "unused", Kind: parser.SymbolFunction},
				},
			},
		},
	}

	findings := checkDeadCodeDetection(cc)

	require.Len(t, findings, 1)
	assert.Equal(t, "pkg.unused", findings[0].Symbol)
}

func TestCheckDeadCodeDetection_IgnoresCalledFunction(t *testing.T) {
	t.Parallel()

	cc := CheckContext{
		AfterByFile: map[string]parser.ParseResult{
			"pkg/api.go": {
				Symbols: []parser.Symbol{
					{QualifiedName: "pkg.used", Name: "used", Kind: parser.SymbolFunction},
				},
				Calls: []parser.CallEdge{
					{Caller: "pkg.main", Callee: "used"},
				},
			},
		},
	}

	findings := checkDeadCodeDetection(cc)

	assert.Empty(t, findings)
}

func TestRunSemanticChecks_EmptyChecksRunsAll(t *testing.T) {
	t.Parallel()

	cc := CheckContext{
		ChangedFiles: map[string][]byte{
			"pkg/risky.rs": []byte("fn f() { unsafe { raw() } }"),
		},
	}

	findings := RunSemanticChecks(cc, nil)

	require.Len(t, findings, 1)
	assert.Equal(t, CheckNoUnsafeAdded, findings[0].Check)
}

func TestRunSemanticChecks_RunsOnlyRequestedChecks(t *testing.T) {
	t.Parallel()

	cc := CheckContext{
		ChangedFiles: map[string][]byte{
			"pkg/risky.rs": []byte("fn f() { unsafe { raw() } let v = opt.unwrap(); }"),
		},
	}

	findings := RunSemanticChecks(cc, []SemanticCheck{CheckNoUnwrapAdded})

	require.Len(t, findings, 1)
	assert.Equal(t, CheckNoUnwrapAdded, findings[0].Check)
}
