package verify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepare_MaterializesOverlayOverBaseRepo(t *testing.T) {
	t.Parallel()

	repoPath := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repoPath, "unchanged.go"), []byte("package main\n"), 0o600))

	wf, runner, cleanup, err := Prepare(context.Background(), repoPath, "cs-1", map[string][]byte{
		"new.go": []byte("package main\n\nfunc Added() {}\n"),
	})
	require.NoError(t, err)

	defer cleanup()

	assert.Equal(t, DefaultWorkflow(), wf)
	assert.Equal(t, "cs-1", runner.ChangesetID)

	unchanged, err := os.ReadFile(filepath.Join(runner.WorkDir, "unchanged.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(unchanged))

	added, err := os.ReadFile(filepath.Join(runner.WorkDir, "new.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc Added() {}\n", string(added))
}

func TestPrepare_CleanupRemovesWorkDir(t *testing.T) {
	t.Parallel()

	repoPath := t.TempDir()

	_, runner, cleanup, err := Prepare(context.Background(), repoPath, "cs-1", nil)
	require.NoError(t, err)

	workDir := runner.WorkDir
	cleanup()

	_, statErr := os.Stat(workDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPrepare_LoadsRepositoryWorkflowOverride(t *testing.T) {
	t.Parallel()

	repoPath := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repoPath, ".dekode"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(repoPath, WorkflowFile), []byte(`
timeout = "5m"

[[stages]]
name = "lint"
[[stages.steps]]
name = "golangci-lint"
kind = "command"
run = "golangci-lint run"
timeout = "1m"
required = true
`), 0o600))

	wf, _, cleanup, err := Prepare(context.Background(), repoPath, "cs-1", nil)
	require.NoError(t, err)

	defer cleanup()

	assert.Equal(t, "5m", wf.Timeout)
	require.Len(t, wf.Stages, 1)
	assert.Equal(t, "lint", wf.Stages[0].Name)
}
