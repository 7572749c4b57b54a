package verify

import (
	"context"
	"fmt"
	"os"
)

// Prepare loads the workflow for repoPath (falling back to DefaultWorkflow)
// and materializes a scratch working tree overlaying the changeset's files,
// returning a Runner ready to have its callbacks filled in and Run called.
// The returned cleanup func removes the scratch directory and must be
// called once the run completes.
func Prepare(ctx context.Context, repoPath, changesetID string, files map[string][]byte) (Workflow, *Runner, func(), error) {
	wf, err := LoadWorkflow(repoPath)
	if err != nil {
		return Workflow{}, nil, nil, fmt.Errorf("load workflow: %w", err)
	}

	workDir, err := os.MkdirTemp("", "nsi-verify-*")
	if err != nil {
		return Workflow{}, nil, nil, fmt.Errorf("create scratch dir: %w", err)
	}

	cleanup := func() { os.RemoveAll(workDir) }

	if err := Materialize(repoPath, workDir, files); err != nil {
		cleanup()

		return Workflow{}, nil, nil, fmt.Errorf("materialize: %w", err)
	}

	runner := &Runner{WorkDir: workDir, ChangesetID: changesetID}

	return wf, runner, cleanup, nil
}
