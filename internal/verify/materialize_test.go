package verify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaterialize_SkipsGitDirAndOverlaysFiles(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, ".git"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(src, ".git", "HEAD"), []byte("ref: refs/heads/main"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(src, "keep.go"), []byte("package main\n"), 0o600))

	dst := filepath.Join(t.TempDir(), "scratch")

	err := Materialize(src, dst, map[string][]byte{
		"new/added.go": []byte("package new\n"),
	})
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dst, ".git"))
	assert.True(t, os.IsNotExist(statErr))

	kept, err := os.ReadFile(filepath.Join(dst, "keep.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(kept))

	added, err := os.ReadFile(filepath.Join(dst, "new", "added.go"))
	require.NoError(t, err)
	assert.Equal(t, "package new\n", string(added))
}

func TestMaterialize_OverlayOverwritesExistingFile(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "main.go"), []byte("package main\n// old\n"), 0o600))

	dst := filepath.Join(t.TempDir(), "scratch")

	err := Materialize(src, dst, map[string][]byte{
		"main.go": []byte("package main\n// new\n"),
	})
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dst, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n// new\n", string(content))
}
