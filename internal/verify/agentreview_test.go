package verify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAgentReviewPrompt_TruncatesDiff(t *testing.T) {
	t.Parallel()

	diff := strings.Repeat("x", agentReviewDiffCharCap+500)

	prompt := BuildAgentReviewPrompt(diff, nil)

	assert.Contains(t, prompt, strings.Repeat("x", agentReviewDiffCharCap))
	assert.NotContains(t, prompt, strings.Repeat("x", agentReviewDiffCharCap+1))
}

func TestBuildAgentReviewPrompt_AdmitsSmallestFilesFirst(t *testing.T) {
	t.Parallel()

	contextFiles := map[string]string{
		"big.go":   strings.Repeat("b", agentReviewContextCharBudget),
		"small.go": "package main",
	}

	prompt := BuildAgentReviewPrompt("diff", contextFiles)

	assert.Contains(t, prompt, "small.go")
	assert.NotContains(t, prompt, "big.go")
}

func TestRunner_AgentReviewStep_SkipsWithoutProvider(t *testing.T) {
	t.Parallel()

	r := &Runner{}
	result := &StepResult{}

	r.runAgentReviewStep(context.Background(), Step{Name: "review"}, result)

	assert.Equal(t, StatusSkip, result.Status)
}

func TestRunner_AgentReviewStep_SoftFailsOnProviderError(t *testing.T) {
	t.Parallel()

	r := &Runner{
		ReviewContext: func(context.Context) (string, map[string]string, error) {
			return "diff", nil, nil
		},
		AgentReview: func(context.Context, string) (string, error) {
			return "", errors.New("provider unavailable")
		},
	}
	result := &StepResult{}

	r.runAgentReviewStep(context.Background(), Step{Name: "review"}, result)

	assert.Equal(t, StatusPass, result.Status)
	require.Len(t, result.Findings, 1)
	assert.Contains(t, result.Findings[0], "provider unavailable")
}

func TestRunner_AgentReviewStep_SoftFailsOnInvalidVerdictSchema(t *testing.T) {
	t.Parallel()

	r := &Runner{
		ReviewContext: func(context.Context) (string, map[string]string, error) {
			return "diff", nil, nil
		},
		AgentReview: func(context.Context, string) (string, error) {
			return `{"verdict":"maybe"}`, nil
		},
	}
	result := &StepResult{}

	r.runAgentReviewStep(context.Background(), Step{Name: "review"}, result)

	assert.Equal(t, StatusPass, result.Status)
	require.NotEmpty(t, result.Findings)
}

func TestRunner_AgentReviewStep_FailsOnRequestChanges(t *testing.T) {
	t.Parallel()

	r := &Runner{
		ReviewContext: func(context.Context) (string, map[string]string, error) {
			return "diff", nil, nil
		},
		AgentReview: func(context.Context, string) (string, error) {
			return `{"verdict":"request_changes","findings":["missing error check"]}`, nil
		},
	}
	result := &StepResult{}

	r.runAgentReviewStep(context.Background(), Step{Name: "review"}, result)

	assert.Equal(t, StatusFail, result.Status)
	assert.Equal(t, []string{"missing error check"}, result.Findings)
}

func TestRunner_AgentReviewStep_PassesOnApprove(t *testing.T) {
	t.Parallel()

	r := &Runner{
		ReviewContext: func(context.Context) (string, map[string]string, error) {
			return "diff", nil, nil
		},
		AgentReview: func(context.Context, string) (string, error) {
			return `{"verdict":"approve"}`, nil
		},
	}
	result := &StepResult{}

	r.runAgentReviewStep(context.Background(), Step{Name: "review"}, result)

	assert.Equal(t, StatusPass, result.Status)
}
