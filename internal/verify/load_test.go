package verify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWorkflow_FallsBackToDefaultWhenFileMissing(t *testing.T) {
	t.Parallel()

	wf, err := LoadWorkflow(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DefaultWorkflow(), wf)
}

func TestLoadWorkflow_ParsesRepositoryOverride(t *testing.T) {
	t.Parallel()

	repoPath := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repoPath, ".dekode"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(repoPath, WorkflowFile), []byte(`
timeout = "3m"

[[stages]]
name = "build"
[[stages.steps]]
name = "npm build"
kind = "command"
run = "npm run build"
timeout = "1m"
required = true
`), 0o600))

	wf, err := LoadWorkflow(repoPath)
	require.NoError(t, err)

	assert.Equal(t, "3m", wf.Timeout)
	require.Len(t, wf.Stages, 1)
	require.Len(t, wf.Stages[0].Steps, 1)
	assert.Equal(t, "npm run build", wf.Stages[0].Steps[0].Run)
}

func TestLoadWorkflow_RejectsMalformedToml(t *testing.T) {
	t.Parallel()

	repoPath := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repoPath, ".dekode"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(repoPath, WorkflowFile), []byte("not = [valid"), 0o600))

	_, err := LoadWorkflow(repoPath)
	assert.Error(t, err)
}

func TestDefaultWorkflow_RunsCheckThenTest(t *testing.T) {
	t.Parallel()

	wf := DefaultWorkflow()

	require.Len(t, wf.Stages, 2)
	assert.Equal(t, "build", wf.Stages[0].Name)
	assert.Equal(t, "test", wf.Stages[1].Name)
	assert.Equal(t, "cargo check", wf.Stages[0].Steps[0].Run)
	assert.Equal(t, "cargo test", wf.Stages[1].Steps[0].Run)
}
