package toolops

import (
	"context"
	"errors"
	"fmt"

	"github.com/nsicore/nsi/internal/changeset"
	"github.com/nsicore/nsi/internal/gitlib"
	"github.com/nsicore/nsi/internal/workspace"
)

// initialCommitLabel is reported as the base commit for a repository with
// no commits yet — connect still succeeds against an empty tree.
const initialCommitLabel = "initial"

// ConnectRequest starts a new session workspace.
type ConnectRequest struct {
	Repo       string
	Intent     string
	Agent      string
	SessionID  string
	Mode       workspace.Mode
	BaseCommit string // optional; empty means HEAD
}

// ConnectResponse is returned to the connecting agent.
type ConnectResponse struct {
	Session         string // token for subsequent verbs: the workspace id
	ChangesetID     string
	ChangesetNumber int64
	BaseCommit      string
	CodebaseSummary CodebaseSummary
	ActivePeers     int
}

// CodebaseSummary is a coarse description of the indexed repository state
// reported back at connect time.
type CodebaseSummary struct {
	SymbolCount int
}

// Connect resolves the repository, opens a changeset, and creates a
// workspace pinned to the requested (or current) base commit, per §4.L.
func (s *Service) Connect(ctx context.Context, req ConnectRequest) (ConnectResponse, error) {
	if req.Repo != s.RepoName {
		return ConnectResponse{}, wrap(KindNotFound, fmt.Errorf("unknown repo %q", req.Repo))
	}

	baseCommit, baseHex, err := s.resolveBaseCommit(req.BaseCommit)
	if err != nil {
		return ConnectResponse{}, err
	}

	mode := req.Mode
	if mode == "" {
		mode = workspace.ModeEphemeral
	}

	cs, err := s.changesets.Create(ctx, s.RepoID, req.SessionID, req.Agent, req.Intent, baseHex)
	if err != nil {
		return ConnectResponse{}, wrap(KindTransient, err)
	}

	ws, err := s.workspaces.Connect(req.SessionID, req.Agent, req.Intent, mode, baseCommit)
	if err != nil {
		return ConnectResponse{}, wrap(KindTransient, err)
	}

	ws.ChangesetID = cs.ID

	summary, err := s.codebaseSummary(ctx)
	if err != nil {
		return ConnectResponse{}, wrap(KindTransient, err)
	}

	return ConnectResponse{
		Session:         ws.ID.String(),
		ChangesetID:     cs.ID.String(),
		ChangesetNumber: cs.Number,
		BaseCommit:      baseHex,
		CodebaseSummary: summary,
		ActivePeers:     s.workspaces.Count(),
	}, nil
}

func (s *Service) resolveBaseCommit(requested string) (gitlib.Hash, string, error) {
	if requested != "" {
		commit, err := s.repo.CommitFromHex(requested)
		if err != nil {
			return gitlib.Hash{}, "", wrap(KindInvalidInput, err)
		}

		return commit.Hash(), requested, nil
	}

	head, ok := s.repo.HeadHash()
	if !ok {
		return gitlib.ZeroHash(), initialCommitLabel, nil
	}

	return head, head.String(), nil
}

func (s *Service) codebaseSummary(ctx context.Context) (CodebaseSummary, error) {
	count, err := s.index.SymbolCount(ctx, s.RepoID)
	if err != nil {
		return CodebaseSummary{}, err
	}

	return CodebaseSummary{SymbolCount: count}, nil
}

// changesetOrNotFound fetches a changeset and translates a missing row to
// NotFound, the shared helper every verb that touches a changeset by id uses.
func (s *Service) changesetOrNotFound(ctx context.Context, id string) (changeset.Changeset, error) {
	csID, err := parseUUID(id)
	if err != nil {
		return changeset.Changeset{}, wrap(KindNotFound, err)
	}

	cs, err := s.changesets.Get(ctx, csID)
	if errors.Is(err, changeset.ErrNotFound) {
		return changeset.Changeset{}, wrap(KindNotFound, err)
	} else if err != nil {
		return changeset.Changeset{}, wrap(KindTransient, err)
	}

	return cs, nil
}
