package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nsicore/nsi/internal/parser"
)

func TestEquivalentComparesVisibility(t *testing.T) {
	t.Parallel()

	a := parser.Symbol{QualifiedName: "pkg.Run", Kind: parser.SymbolFunction, Visibility: "public", Signature: "func Run()"}
	b := a
	b.Visibility = "private"

	assert.True(t, equivalent(a, a))
	assert.False(t, equivalent(a, b), "a visibility-only change must not be classified as Unchanged")
}

func TestClassifyChangeReportsModifiedOnVisibilityFlip(t *testing.T) {
	t.Parallel()

	base := parser.Symbol{QualifiedName: "pkg.Run", Kind: parser.SymbolFunction, Visibility: "public", Signature: "func Run()"}
	changed := base
	changed.Visibility = "private"

	assert.Equal(t, Modified, classify(base, changed))
	assert.Equal(t, Unchanged, classify(base, base))
}
