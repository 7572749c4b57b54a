package toolops

import (
	"context"

	"github.com/nsicore/nsi/internal/changeset"
	"github.com/nsicore/nsi/internal/eventbus"
)

// VerifyPrepareResponse hands the runner what it needs to run a workflow.
type VerifyPrepareResponse struct {
	Changeset changeset.Changeset
	RepoName  string
}

// VerifyPrepare asserts the changeset exists and transitions it to
// verifying, per §4.L.
func (s *Service) VerifyPrepare(ctx context.Context, changesetID string) (VerifyPrepareResponse, error) {
	cs, err := s.changesetOrNotFound(ctx, changesetID)
	if err != nil {
		return VerifyPrepareResponse{}, err
	}

	if err := s.changesets.UpdateStatus(ctx, cs.ID, changeset.StatusVerifying); err != nil {
		return VerifyPrepareResponse{}, wrap(KindTransient, err)
	}

	s.bus.Publish(eventbus.Event{
		Type:        eventbus.EventVerifyStart,
		ChangesetID: cs.ID.String(),
		RepoID:      s.RepoID.String(),
	})

	cs.Status = changeset.StatusVerifying

	return VerifyPrepareResponse{Changeset: cs, RepoName: s.RepoName}, nil
}

// VerifyFinalize transitions a changeset to approved or rejected depending
// on the runner's verdict.
func (s *Service) VerifyFinalize(ctx context.Context, changesetID string, passed bool) error {
	csID, err := parseUUID(changesetID)
	if err != nil {
		return wrap(KindNotFound, err)
	}

	newStatus := changeset.StatusRejected
	if passed {
		newStatus = changeset.StatusApproved
	}

	if err := s.changesets.UpdateStatus(ctx, csID, newStatus); err != nil {
		return wrap(KindTransient, err)
	}

	s.bus.Publish(eventbus.Event{
		Type:        eventbus.EventVerified,
		ChangesetID: csID.String(),
		RepoID:      s.RepoID.String(),
		Payload:     map[string]string{"passed": boolString(passed)},
	})

	return nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}

	return "false"
}
