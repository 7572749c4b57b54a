package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_RunCommandStep_PassesOnSuccess(t *testing.T) {
	t.Parallel()

	r := &Runner{WorkDir: t.TempDir()}

	wf := Workflow{
		Stages: []Stage{
			{Name: "build", Steps: []Step{
				{Name: "ok", Kind: StepCommand, Run: "echo hi", Required: true},
			}},
		},
	}

	results := make(chan StepResult, 4)
	runResult := r.Run(context.Background(), wf, results)

	var collected []StepResult
	for res := range results {
		collected = append(collected, res)
	}

	require.Len(t, collected, 1)
	assert.Equal(t, StatusPass, collected[0].Status)
	assert.True(t, runResult.Passed)
}

func TestRunner_RunCommandStep_RequiredFailureFailsRun(t *testing.T) {
	t.Parallel()

	r := &Runner{WorkDir: t.TempDir()}

	wf := Workflow{
		Stages: []Stage{
			{Name: "build", Steps: []Step{
				{Name: "disallowed", Kind: StepCommand, Run: "rm -rf /", Required: true},
			}},
		},
	}

	results := make(chan StepResult, 4)
	runResult := r.Run(context.Background(), wf, results)

	for range results {
	}

	assert.False(t, runResult.Passed)
	require.Len(t, runResult.Results, 1)
	assert.Equal(t, StatusFail, runResult.Results[0].Status)
}

func TestRunner_RunCommandStep_OptionalFailureDoesNotFailRun(t *testing.T) {
	t.Parallel()

	r := &Runner{WorkDir: t.TempDir()}

	wf := Workflow{
		Stages: []Stage{
			{Name: "lint", Steps: []Step{
				{Name: "optional", Kind: StepCommand, Run: "rm -rf /", Required: false},
			}},
		},
	}

	results := make(chan StepResult, 4)
	runResult := r.Run(context.Background(), wf, results)

	for range results {
	}

	assert.True(t, runResult.Passed)
}

func TestRunner_RunStage_ParallelRunsAllSteps(t *testing.T) {
	t.Parallel()

	r := &Runner{WorkDir: t.TempDir()}

	stage := Stage{
		Name:     "checks",
		Parallel: true,
		Steps: []Step{
			{Name: "a", Kind: StepCommand, Run: "echo a"},
			{Name: "b", Kind: StepCommand, Run: "echo b"},
		},
	}

	results := r.runStage(context.Background(), stage)

	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Step)
	assert.Equal(t, "b", results[1].Step)
	assert.Equal(t, StatusPass, results[0].Status)
	assert.Equal(t, StatusPass, results[1].Status)
}

func TestRunner_RunStep_UnknownKindFails(t *testing.T) {
	t.Parallel()

	r := &Runner{WorkDir: t.TempDir()}

	result := r.runStep(context.Background(), "stage", Step{Name: "mystery", Kind: "bogus"})

	assert.Equal(t, StatusFail, result.Status)
	require.Len(t, result.Findings, 1)
	assert.Contains(t, result.Findings[0], "unknown step kind")
}

func TestRunner_RunStep_FailsWhenCommandFails(t *testing.T) {
	t.Parallel()

	r := &Runner{WorkDir: t.TempDir()}

	result := r.runStep(context.Background(), "stage", Step{
		Name:    "slow",
		Kind:    StepCommand,
		Run:     "make this-target-does-not-exist",
		Timeout: "1s",
	})

	assert.Equal(t, StatusFail, result.Status)
}

func TestRunner_RunSemanticStep_SkipsWithoutContext(t *testing.T) {
	t.Parallel()

	r := &Runner{}
	result := &StepResult{}

	r.runSemanticStep(context.Background(), Step{Name: "semantic"}, result)

	assert.Equal(t, StatusSkip, result.Status)
}
