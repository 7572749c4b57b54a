package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsicore/nsi/internal/changeset"
)

func TestRunner_HumanApproveStep_SkipsWithoutBackend(t *testing.T) {
	t.Parallel()

	r := &Runner{}
	result := &StepResult{}

	r.runHumanApproveStep(context.Background(), Step{Name: "gate"}, result)

	assert.Equal(t, StatusSkip, result.Status)
}

func TestRunner_HumanApproveStep_PassesOnApproved(t *testing.T) {
	t.Parallel()

	r := &Runner{
		ChangesetID: "cs-1",
		HumanApprove: func(_ context.Context, changesetID string) (changeset.Status, error) {
			assert.Equal(t, "cs-1", changesetID)

			return changeset.StatusApproved, nil
		},
	}
	result := &StepResult{}

	r.runHumanApproveStep(context.Background(), Step{Name: "gate"}, result)

	assert.Equal(t, StatusPass, result.Status)
}

func TestRunner_HumanApproveStep_FailsOnRejected(t *testing.T) {
	t.Parallel()

	r := &Runner{
		ChangesetID: "cs-1",
		HumanApprove: func(context.Context, string) (changeset.Status, error) {
			return changeset.StatusRejected, nil
		},
	}
	result := &StepResult{}

	r.runHumanApproveStep(context.Background(), Step{Name: "gate"}, result)

	assert.Equal(t, StatusFail, result.Status)
	require.Len(t, result.Findings, 1)
	assert.Contains(t, result.Findings[0], "rejected")
}

func TestRunner_HumanApproveStep_FailsOnPollError(t *testing.T) {
	t.Parallel()

	r := &Runner{
		HumanApprove: func(context.Context, string) (changeset.Status, error) {
			return "", errors.New("db unavailable")
		},
	}
	result := &StepResult{}

	r.runHumanApproveStep(context.Background(), Step{Name: "gate"}, result)

	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Findings[0], "db unavailable")
}

func TestRunner_HumanApproveStep_TimesOutWaitingForTerminalState(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	r := &Runner{
		HumanApprove: func(context.Context, string) (changeset.Status, error) {
			return changeset.StatusAwaitingApproval, nil
		},
	}
	result := &StepResult{}

	r.runHumanApproveStep(ctx, Step{Name: "gate"}, result)

	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Findings[0], "timed out")
}
