package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMirroredOverlay(t *testing.T) (*Overlay, string) {
	t.Helper()

	dir := t.TempDir()

	mirror, err := NewMirror(dir)
	require.NoError(t, err)

	return New(mirror), dir
}

func TestWritePersistsToMirrorBeforeReturning(t *testing.T) {
	t.Parallel()

	ov, dir := newMirroredOverlay(t)

	_, err := ov.Write("a.go", []byte("package a"), true)
	require.NoError(t, err)

	// A fresh overlay reading the same mirror dir must see the write: proof
	// the mirror was durable at the point Write returned, not just the
	// in-memory shard.
	mirror2, err := NewMirror(dir)
	require.NoError(t, err)

	ov2 := New(mirror2)
	require.NoError(t, ov2.RestoreFromMirror())

	entry, ok := ov2.Get("a.go")
	require.True(t, ok)
	assert.Equal(t, []byte("package a"), entry.Content)
	assert.Equal(t, Added, entry.ChangeType)
}

func TestDeletePersistsToMirror(t *testing.T) {
	t.Parallel()

	ov, dir := newMirroredOverlay(t)

	_, err := ov.Write("a.go", []byte("x"), true)
	require.NoError(t, err)
	require.NoError(t, ov.Delete("a.go"))

	mirror2, err := NewMirror(dir)
	require.NoError(t, err)

	ov2 := New(mirror2)
	require.NoError(t, ov2.RestoreFromMirror())

	entry, ok := ov2.Get("a.go")
	require.True(t, ok)
	assert.Equal(t, Deleted, entry.ChangeType)
}

func TestRevertDiscardsFromMemoryAndMirror(t *testing.T) {
	t.Parallel()

	ov, dir := newMirroredOverlay(t)

	_, err := ov.Write("a.go", []byte("x"), true)
	require.NoError(t, err)
	require.NoError(t, ov.Revert("a.go"))

	_, ok := ov.Get("a.go")
	assert.False(t, ok)

	mirror2, err := NewMirror(dir)
	require.NoError(t, err)

	ov2 := New(mirror2)
	require.NoError(t, ov2.RestoreFromMirror())

	_, ok = ov2.Get("a.go")
	assert.False(t, ok, "a reverted path must not reappear on the next restart-restore")
}

func TestListPathsIsSorted(t *testing.T) {
	t.Parallel()

	ov := New(nil)

	_, err := ov.Write("zeta.go", []byte("z"), true)
	require.NoError(t, err)
	_, err = ov.Write("alpha.go", []byte("a"), true)
	require.NoError(t, err)
	require.NoError(t, ov.Delete("middle.go"))

	assert.Equal(t, []string{"alpha.go", "middle.go", "zeta.go"}, ov.ListPaths())
}

func TestTotalBytesIgnoresDeletedEntries(t *testing.T) {
	t.Parallel()

	ov := New(nil)

	_, err := ov.Write("a.go", []byte("12345"), true)
	require.NoError(t, err)
	_, err = ov.Write("b.go", []byte("1234567890"), true)
	require.NoError(t, err)
	require.NoError(t, ov.Delete("c.go"))

	assert.Equal(t, 15, ov.TotalBytes())
}

func TestRestoreFromMirrorIsNoOpWithoutMirror(t *testing.T) {
	t.Parallel()

	ov := New(nil)
	assert.NoError(t, ov.RestoreFromMirror())
	assert.Zero(t, ov.Len())
}

func TestMirrorRemoveOfUnknownPathIsNotAnError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	mirror, err := NewMirror(dir)
	require.NoError(t, err)

	assert.NoError(t, mirror.Remove("never-written.go"))
}
