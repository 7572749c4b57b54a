// Package workspacemgr is the registry of active session workspaces
// (component G): creation, lookup, lifecycle transitions, and the expiry/
// idle GC sweep. It persists the registry via internal/checkpoint so
// a daemon restart can rediscover persistent-mode workspaces.
package workspacemgr

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nsicore/nsi/internal/checkpoint"
	"github.com/nsicore/nsi/internal/gitlib"
	"github.com/nsicore/nsi/internal/overlay"
	"github.com/nsicore/nsi/internal/sessiongraph"
	"github.com/nsicore/nsi/internal/workspace"
)

// ErrNotFound is returned when a lookup targets an unknown workspace id.
var ErrNotFound = errors.New("workspacemgr: workspace not found")

// Manager owns the set of active workspaces for one repository.
type Manager struct {
	repo       *gitlib.Repository
	repoID     uuid.UUID
	stateDir   string
	idleExpiry time.Duration
	checkpoint *checkpoint.Manager
	baseMap    *sessiongraph.BaseMap

	mu         sync.RWMutex
	workspaces map[uuid.UUID]*workspace.Workspace
}

// New constructs a Manager for one repository. stateDir is the root
// directory each workspace's durable overlay mirror and the registry
// checkpoint live under. baseMap is the repository-wide shared symbol
// snapshot each new workspace forks its own session graph delta from.
func New(repo *gitlib.Repository, repoID uuid.UUID, stateDir string, idleExpiry time.Duration, baseMap *sessiongraph.BaseMap) *Manager {
	repoHash := checkpoint.RepoHash(repo.Path())

	return &Manager{
		repo:       repo,
		repoID:     repoID,
		stateDir:   stateDir,
		idleExpiry: idleExpiry,
		checkpoint: checkpoint.NewManager(stateDir, repoHash),
		baseMap:    baseMap,
		workspaces: make(map[uuid.UUID]*workspace.Workspace),
	}
}

// Connect creates a new workspace pinned to the repository's current HEAD
// (or an explicit base commit) and registers it.
func (m *Manager) Connect(sessionID, agentID, intent string, mode workspace.Mode, baseCommit gitlib.Hash) (*workspace.Workspace, error) {
	id := uuid.New()

	mirrorDir := m.workspaceMirrorDir(id)

	mirror, err := overlay.NewMirror(mirrorDir)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	ov := overlay.New(mirror)
	graph := sessiongraph.Fork(m.baseMap)
	ws := workspace.New(id, sessionID, m.repoID, agentID, intent, baseCommit, mode, m.repo, ov, graph)

	m.mu.Lock()
	m.workspaces[id] = ws
	m.mu.Unlock()

	return ws, nil
}

func (m *Manager) workspaceMirrorDir(id uuid.UUID) string {
	return m.stateDir + "/" + id.String()
}

// Get returns the workspace for id.
func (m *Manager) Get(id uuid.UUID) (*workspace.Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ws, ok := m.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return ws, nil
}

// Release removes a workspace from the registry. Sweep does not go through
// it; it deletes the workspaces it reclaims itself (DESIGN.md, Open
// Questions).
func (m *Manager) Release(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.workspaces, id)
}

// Sweep reclaims workspaces per §5's cancellation/timeout rule: any
// workspace, of either mode, whose non-zero Expiry has passed, and any
// persistent-mode workspace idle longer than idleExpiry (when idleExpiry is
// positive). Reclaimed workspaces are marked expired, removed from the
// registry and returned. Ephemeral workspaces without an Expiry are never
// reclaimed here.
func (m *Manager) Sweep(now time.Time) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var reclaimed []uuid.UUID

	for id, ws := range m.workspaces {
		expired := !ws.Expiry.IsZero() && now.After(ws.Expiry)
		idleTooLong := ws.Mode == workspace.ModePersistent && m.idleExpiry > 0 && now.Sub(ws.LastActive) > m.idleExpiry

		if expired || idleTooLong {
			ws.State = workspace.StateExpired
			reclaimed = append(reclaimed, id)
			delete(m.workspaces, id)
		}
	}

	return reclaimed
}

// Checkpoint persists the current registry so it can be rediscovered after
// a restart.
func (m *Manager) Checkpoint() error {
	m.mu.RLock()
	records := make([]checkpoint.WorkspaceRecord, 0, len(m.workspaces))

	for _, ws := range m.workspaces {
		var expiryUnix int64
		if !ws.Expiry.IsZero() {
			expiryUnix = ws.Expiry.Unix()
		}

		records = append(records, checkpoint.WorkspaceRecord{
			WorkspaceID: ws.ID.String(),
			SessionID:   ws.SessionID,
			RepoID:      ws.RepoID.String(),
			ChangesetID: ws.ChangesetID.String(),
			AgentID:     ws.AgentID,
			Intent:      ws.Intent,
			BaseCommit:  ws.BaseCommit.String(),
			Mode:        string(ws.Mode),
			State:       string(ws.State),
			ExpiryUnix:  expiryUnix,
		})
	}
	m.mu.RUnlock()

	return m.checkpoint.Save(m.repo.Path(), records)
}

// Restore rehydrates the registry from the repository's last checkpoint, if
// one exists: for each recorded workspace it reopens the workspace's
// durable overlay mirror, replays it into a fresh in-memory Overlay via
// RestoreFromMirror, and re-registers the workspace. It returns the number
// of workspaces restored; a missing checkpoint is not an error.
func (m *Manager) Restore() (int, error) {
	if !m.checkpoint.Exists() {
		return 0, nil
	}

	records, err := m.checkpoint.Load(m.repo.Path())
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}

	restored := 0

	for _, rec := range records {
		ws, err := m.restoreWorkspace(rec)
		if err != nil {
			return restored, fmt.Errorf("restore workspace %s: %w", rec.WorkspaceID, err)
		}

		m.mu.Lock()
		m.workspaces[ws.ID] = ws
		m.mu.Unlock()

		restored++
	}

	return restored, nil
}

// restoreWorkspace rehydrates one workspace's overlay from its durable
// mirror. Its session graph delta is re-forked empty rather than replayed:
// the mirror persists file content, not symbol deltas, so an uncommitted
// symbol edit only reappears in the graph once the workspace's files are
// re-read and re-parsed (write_file/submit), not at restore time.
func (m *Manager) restoreWorkspace(rec checkpoint.WorkspaceRecord) (*workspace.Workspace, error) {
	id, err := uuid.Parse(rec.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("parse workspace id: %w", err)
	}

	repoID, err := uuid.Parse(rec.RepoID)
	if err != nil {
		return nil, fmt.Errorf("parse repo id: %w", err)
	}

	mirror, err := overlay.NewMirror(m.workspaceMirrorDir(id))
	if err != nil {
		return nil, err
	}

	ov := overlay.New(mirror)
	if err := ov.RestoreFromMirror(); err != nil {
		return nil, fmt.Errorf("restore overlay: %w", err)
	}

	baseCommit := gitlib.NewHash(rec.BaseCommit)
	graph := sessiongraph.Fork(m.baseMap)

	ws := workspace.New(id, rec.SessionID, repoID, rec.AgentID, rec.Intent, baseCommit, workspace.Mode(rec.Mode), m.repo, ov, graph)
	ws.State = workspace.State(rec.State)

	if csID, err := uuid.Parse(rec.ChangesetID); err == nil {
		ws.ChangesetID = csID
	}

	if rec.ExpiryUnix > 0 {
		ws.Expiry = time.Unix(rec.ExpiryUnix, 0)
	}

	return ws, nil
}

// Count returns the number of registered workspaces, used to enforce
// server.max_sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.workspaces)
}
