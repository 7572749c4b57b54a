package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/nsicore/nsi/internal/changeset"
)

// humanApprovePollInterval is how often the human-approval step re-reads the
// changeset's status while waiting for a terminal state.
const humanApprovePollInterval = 2 * time.Second

// HumanApproveFunc transitions a changeset into awaiting_approval (failing
// the step if another caller already moved it out of open) and reports its
// current status on every subsequent poll.
type HumanApproveFunc func(ctx context.Context, changesetID string) (changeset.Status, error)

func (r *Runner) runHumanApproveStep(ctx context.Context, step Step, result *StepResult) {
	if r.HumanApprove == nil {
		result.Status = StatusSkip
		result.Findings = []string{"no approval backend configured"}

		return
	}

	ticker := time.NewTicker(humanApprovePollInterval)
	defer ticker.Stop()

	for {
		status, err := r.HumanApprove(ctx, r.ChangesetID)
		if err != nil {
			result.Status = StatusFail
			result.Findings = []string{fmt.Sprintf("human approval poll failed: %v", err)}

			return
		}

		switch status {
		case changeset.StatusApproved:
			result.Status = StatusPass

			return
		case changeset.StatusRejected:
			result.Status = StatusFail
			result.Findings = []string{"change rejected by human reviewer"}

			return
		}

		select {
		case <-ctx.Done():
			result.Status = StatusFail
			result.Findings = []string{"timed out waiting for human approval"}

			return
		case <-ticker.C:
		}
	}
}
