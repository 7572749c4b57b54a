package toolops

import (
	"github.com/google/uuid"

	"github.com/nsicore/nsi/internal/changeset"
	"github.com/nsicore/nsi/internal/conflict"
	"github.com/nsicore/nsi/internal/eventbus"
	"github.com/nsicore/nsi/internal/gitlib"
	"github.com/nsicore/nsi/internal/index"
	"github.com/nsicore/nsi/internal/merge"
	"github.com/nsicore/nsi/internal/parser"
	"github.com/nsicore/nsi/internal/sessiongraph"
	"github.com/nsicore/nsi/internal/workspacemgr"
)

// Service binds one repository's tool operations together: the workspace
// registry, the semantic index, the changeset store, the merge engine, and
// the event bus that announces changeset lifecycle transitions.
type Service struct {
	RepoName string
	RepoID   uuid.UUID

	repo       *gitlib.Repository
	workspaces *workspacemgr.Manager
	index      *index.Store
	changesets *changeset.Store
	baseMap    *sessiongraph.BaseMap
	merger     *merge.Engine
	bus        *eventbus.Bus
	parsers    *parser.Registry
}

// New constructs a Service. All dependencies are owned by the caller (the
// daemon's per-repo wiring) and outlive the Service.
func New(
	repoName string,
	repoID uuid.UUID,
	repo *gitlib.Repository,
	workspaces *workspacemgr.Manager,
	idx *index.Store,
	changesets *changeset.Store,
	baseMap *sessiongraph.BaseMap,
	merger *merge.Engine,
	bus *eventbus.Bus,
	parsers *parser.Registry,
) *Service {
	return &Service{
		RepoName:   repoName,
		RepoID:     repoID,
		repo:       repo,
		workspaces: workspaces,
		index:      idx,
		changesets: changesets,
		baseMap:    baseMap,
		merger:     merger,
		bus:        bus,
		parsers:    parsers,
	}
}

// resolveSession parses a session token (a workspace id) and looks up the
// live workspace, translating a bad token or unknown id into NotFound.
func (s *Service) resolveSession(session string) (uuid.UUID, error) {
	id, err := uuid.Parse(session)
	if err != nil {
		return uuid.Nil, wrap(KindNotFound, err)
	}

	return id, nil
}
