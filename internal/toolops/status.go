package toolops

import (
	"context"

	"github.com/nsicore/nsi/internal/workspace"
)

// StatusResponse is the session_status result: paths modified, byte size,
// affected symbols, and the count of peer sessions.
type StatusResponse struct {
	workspace.Status
	AffectedSymbols []string
	PeerSessions    int
}

// SessionStatus reports a workspace's current lifecycle, overlay
// diagnostics, and the changeset's recorded affected symbols.
func (s *Service) SessionStatus(ctx context.Context, session string) (StatusResponse, error) {
	ws, err := s.workspace(session)
	if err != nil {
		return StatusResponse{}, err
	}

	var symbols []string

	if ws.ChangesetID != zeroUUID {
		symbols, err = s.changesets.GetAffectedSymbols(ctx, ws.ChangesetID)
		if err != nil {
			return StatusResponse{}, wrap(KindTransient, err)
		}
	}

	return StatusResponse{
		Status:          ws.Status(),
		AffectedSymbols: symbols,
		PeerSessions:    max(0, s.workspaces.Count()-1),
	}, nil
}
