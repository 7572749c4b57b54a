package sessiongraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsicore/nsi/internal/index"
	"github.com/nsicore/nsi/internal/parser"
)

func baseMapWith(symbols ...index.Symbol) *BaseMap {
	bm := NewBaseMap()
	bm.Publish(SnapshotFrom(symbols))

	return bm
}

func TestForkPinsSnapshotAcrossRepublish(t *testing.T) {
	t.Parallel()

	bm := baseMapWith(index.Symbol{QualifiedName: "pkg.Foo", FilePath: "a.go"})
	g := Fork(bm)

	bm.Publish(SnapshotFrom([]index.Symbol{{QualifiedName: "pkg.Bar", FilePath: "b.go"}}))

	_, ok := g.Lookup("pkg.Foo")
	assert.True(t, ok, "graph keeps observing the snapshot it forked, not a later republish")

	_, ok = g.Lookup("pkg.Bar")
	assert.False(t, ok)
}

func TestAddSymbolOverridesBase(t *testing.T) {
	t.Parallel()

	bm := NewBaseMap()
	g := Fork(bm)

	sym := index.Symbol{QualifiedName: "pkg.New", Kind: "function"}
	g.AddSymbol(sym)

	got, ok := g.Lookup("pkg.New")
	require.True(t, ok)
	assert.Equal(t, sym, got)
}

func TestModifySymbolUpdatesAddedInPlace(t *testing.T) {
	t.Parallel()

	bm := NewBaseMap()
	g := Fork(bm)

	g.AddSymbol(index.Symbol{QualifiedName: "pkg.New", Signature: "func New()"})
	g.ModifySymbol(index.Symbol{QualifiedName: "pkg.New", Signature: "func New(x int)"})

	got, ok := g.Lookup("pkg.New")
	require.True(t, ok)
	assert.Equal(t, "func New(x int)", got.Signature)

	names := g.ChangedSymbolNames()
	assert.Len(t, names, 1, "modify-in-place on a local add must not also create a separate modified entry")
}

func TestModifySymbolOnBaseEntryCreatesModifiedEntry(t *testing.T) {
	t.Parallel()

	bm := baseMapWith(index.Symbol{QualifiedName: "pkg.Existing", Signature: "func Existing()"})
	g := Fork(bm)

	g.ModifySymbol(index.Symbol{QualifiedName: "pkg.Existing", Signature: "func Existing(x int)"})

	got, ok := g.Lookup("pkg.Existing")
	require.True(t, ok)
	assert.Equal(t, "func Existing(x int)", got.Signature)
}

func TestRemoveSymbolOfLocalAddIsDroppedNotTombstoned(t *testing.T) {
	t.Parallel()

	bm := NewBaseMap()
	g := Fork(bm)

	g.AddSymbol(index.Symbol{QualifiedName: "pkg.Local"})
	g.RemoveSymbol("pkg.Local")

	_, ok := g.Lookup("pkg.Local")
	assert.False(t, ok)
	assert.Empty(t, g.ChangedSymbolNames(), "a purely local add that is removed leaves no trace behind")
}

func TestRemoveSymbolOfBaseEntryTombstones(t *testing.T) {
	t.Parallel()

	bm := baseMapWith(index.Symbol{QualifiedName: "pkg.Existing"})
	g := Fork(bm)

	g.RemoveSymbol("pkg.Existing")

	_, ok := g.Lookup("pkg.Existing")
	assert.False(t, ok)
	assert.Contains(t, g.ChangedSymbolNames(), "pkg.Existing")
}

func TestAddEdgeAndRemoveEdge(t *testing.T) {
	t.Parallel()

	g := Fork(NewBaseMap())

	e := Edge{Caller: "pkg.A", Callee: "pkg.B"}
	g.AddEdge(e)
	assert.Contains(t, g.addedEdges, edgeKey(e))

	g.RemoveEdge(e)
	assert.NotContains(t, g.addedEdges, edgeKey(e))
	assert.False(t, g.removedEdges[edgeKey(e)], "removing a local add is dropped, not tombstoned")

	g.AddEdge(e)
	g.RemoveEdge(e) // second remove should not resurrect a tombstone incorrectly once dropped
	assert.False(t, g.removedEdges[edgeKey(e)])
}

func TestUpdateFromParseClassifiesAddedModifiedRemoved(t *testing.T) {
	t.Parallel()

	base := []index.Symbol{
		{QualifiedName: "pkg.Stays", FilePath: "f.go", Signature: "func Stays()"},
		{QualifiedName: "pkg.Changes", FilePath: "f.go", Signature: "func Changes()"},
		{QualifiedName: "pkg.Gone", FilePath: "f.go", Signature: "func Gone()"},
	}

	bm := baseMapWith(base...)
	g := Fork(bm)

	newSymbols := []parser.Symbol{
		{QualifiedName: "pkg.Stays", Signature: "func Stays()"},
		{QualifiedName: "pkg.Changes", Signature: "func Changes(x int)"},
		{QualifiedName: "pkg.New", Signature: "func New()"},
	}

	g.UpdateFromParse("f.go", newSymbols, base)

	changed := g.ChangedSymbolNames()
	assert.ElementsMatch(t, []string{"pkg.Changes", "pkg.New", "pkg.Gone"}, changed)

	_, ok := g.Lookup("pkg.Stays")
	assert.True(t, ok, "unchanged symbols are not recorded as a delta entry")

	got, ok := g.Lookup("pkg.New")
	require.True(t, ok)
	assert.Equal(t, "func New()", got.Signature)

	_, ok = g.Lookup("pkg.Gone")
	assert.False(t, ok)
}

func TestResetFileClearsAllDeltaKindsForThatFile(t *testing.T) {
	t.Parallel()

	base := []index.Symbol{
		{QualifiedName: "pkg.Changes", FilePath: "f.go"},
		{QualifiedName: "pkg.Gone", FilePath: "f.go"},
	}

	bm := baseMapWith(base...)
	g := Fork(bm)

	g.AddSymbol(index.Symbol{QualifiedName: "pkg.New", FilePath: "f.go"})
	g.ModifySymbol(index.Symbol{QualifiedName: "pkg.Changes", FilePath: "f.go", Signature: "changed"})
	g.RemoveSymbol("pkg.Gone")

	g.ResetFile("f.go")

	assert.Empty(t, g.ChangedSymbolNames())

	_, ok := g.Lookup("pkg.New")
	assert.False(t, ok, "a local-only add is gone once reset, not resurrected from a nonexistent base entry")

	_, ok = g.Lookup("pkg.Gone")
	assert.True(t, ok, "reset restores the base snapshot's view")
}

func TestSearchLocalMatchesAddedAndModifiedOnly(t *testing.T) {
	t.Parallel()

	bm := baseMapWith(index.Symbol{QualifiedName: "pkg.BaseOnly"})
	g := Fork(bm)

	g.AddSymbol(index.Symbol{QualifiedName: "pkg.LocalHelper"})

	hits := g.SearchLocal("helper")
	require.Len(t, hits, 1)
	assert.Equal(t, "pkg.LocalHelper", hits[0].QualifiedName)

	assert.Empty(t, g.SearchLocal("baseonly"), "base-only symbols are not session-local and are not returned")
}
