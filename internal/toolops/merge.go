package toolops

import (
	"context"
	"fmt"
	"time"

	"github.com/nsicore/nsi/internal/changeset"
	"github.com/nsicore/nsi/internal/conflict"
	"github.com/nsicore/nsi/internal/eventbus"
	"github.com/nsicore/nsi/internal/gitlib"
)

// MergeRequest is a merge() call.
type MergeRequest struct {
	Session string
	Message string
	Author  gitlib.Signature
}

// MergeResponse is the merge() result: exactly one of CommitHex or
// Conflicts is populated.
type MergeResponse struct {
	CommitHex        string
	AutoRebasedFiles []string
	Conflicts        []conflict.SemanticConflict
}

// Merge requires the changeset be approved, runs the merge engine, and on
// success records the changeset as merged; on conflict it reports them
// without changing state, per §4.L.
func (s *Service) Merge(ctx context.Context, req MergeRequest) (MergeResponse, error) {
	ws, err := s.workspace(req.Session)
	if err != nil {
		return MergeResponse{}, err
	}

	cs, err := s.changesets.Get(ctx, ws.ChangesetID)
	if err != nil {
		return MergeResponse{}, wrap(KindTransient, err)
	}

	if cs.Status != changeset.StatusApproved {
		return MergeResponse{}, wrap(KindInvalidInput,
			fmt.Errorf("changeset %s must be approved to merge, is %s", cs.ID, cs.Status))
	}

	message := req.Message
	if message == "" {
		message = fmt.Sprintf("changeset #%d: %s", cs.Number, cs.Intent)
	}

	committer := gitlib.Signature{Name: "nsid", Email: "nsid@localhost", When: time.Now()}

	result, err := s.merger.Merge(ctx, ws.BaseCommit, ws.Overlay(), message, req.Author, committer)
	if err != nil {
		return MergeResponse{}, wrap(KindTransient, err)
	}

	if len(result.Conflicts) > 0 {
		return MergeResponse{Conflicts: result.Conflicts}, nil
	}

	var commitHex string

	switch {
	case result.FastForward != nil:
		commitHex = result.FastForward.CommitHex
	case result.Rebased != nil:
		commitHex = result.Rebased.CommitHex
	}

	if err := s.changesets.SetMerged(ctx, cs.ID, commitHex); err != nil {
		return MergeResponse{}, wrap(KindTransient, err)
	}

	s.bus.Publish(eventbus.Event{
		Type:        eventbus.EventMerged,
		ChangesetID: cs.ID.String(),
		RepoID:      s.RepoID.String(),
		Payload:     map[string]string{"commit": commitHex},
	})

	var autoRebased []string
	if result.Rebased != nil {
		autoRebased = result.Rebased.AutoRebasedFiles
	}

	return MergeResponse{CommitHex: commitHex, AutoRebasedFiles: autoRebased}, nil
}
