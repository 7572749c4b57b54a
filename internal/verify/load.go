package verify

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// WorkflowFile is the relative path a repository can use to override the
// default pipeline.
const WorkflowFile = ".dekode/pipeline.toml"

// DefaultWorkflow is used when a repository declares no pipeline of its
// own: a sequential cargo check then cargo test, two minutes each.
func DefaultWorkflow() Workflow {
	return Workflow{
		Timeout: "10m",
		Stages: []Stage{
			{
				Name: "build",
				Steps: []Step{
					{Name: "cargo check", Kind: StepCommand, Run: "cargo check", Timeout: "2m", Required: true},
				},
			},
			{
				Name: "test",
				Steps: []Step{
					{Name: "cargo test", Kind: StepCommand, Run: "cargo test", Timeout: "2m", Required: true},
				},
			},
		},
	}
}

// LoadWorkflow prefers a workflow file under repoPath/.dekode/pipeline.toml,
// falling back to DefaultWorkflow when none exists.
func LoadWorkflow(repoPath string) (Workflow, error) {
	path := filepath.Join(repoPath, WorkflowFile)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultWorkflow(), nil
	} else if err != nil {
		return Workflow{}, err
	}

	var wf Workflow
	if err := toml.Unmarshal(data, &wf); err != nil {
		return Workflow{}, err
	}

	return wf, nil
}
