// Package workspace implements the overlay-first session workspace
// (component F): read_file/write_file/list_files/delete resolved against
// overlay ∘ tree(base_commit), plus the session_status diagnostic surface.
package workspace

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/nsicore/nsi/internal/gitlib"
	"github.com/nsicore/nsi/internal/overlay"
	"github.com/nsicore/nsi/internal/sessiongraph"
)

// Mode controls a workspace's cleanup policy.
type Mode string

// Workspace modes.
const (
	ModeEphemeral  Mode = "ephemeral"
	ModePersistent Mode = "persistent"
)

// State is a workspace's lifecycle state.
type State string

// Workspace lifecycle states.
const (
	StateActive   State = "active"
	StateSubmitted State = "submitted"
	StateMerged    State = "merged"
	StateExpired   State = "expired"
	StateAbandoned State = "abandoned"
)

// ErrNotFound is returned when a read targets a path absent from both the
// overlay and the base tree.
var ErrNotFound = errors.New("workspace: file not found")

// Workspace is one session's isolated view of a repository.
type Workspace struct {
	ID          uuid.UUID
	SessionID   string
	RepoID      uuid.UUID
	AgentID     string
	Intent      string
	ChangesetID uuid.UUID
	BaseCommit  gitlib.Hash
	Mode        Mode
	Expiry      time.Time // zero means no expiry
	State       State
	CreatedAt   time.Time
	LastActive  time.Time

	repo    *gitlib.Repository
	overlay *overlay.Overlay
	graph   *sessiongraph.Graph
}

// New constructs a workspace pinned to baseCommit, with its own overlay and
// its own session symbol-graph delta forked from the shared base map.
func New(id uuid.UUID, sessionID string, repoID uuid.UUID, agentID, intent string,
	baseCommit gitlib.Hash, mode Mode, repo *gitlib.Repository, ov *overlay.Overlay, graph *sessiongraph.Graph,
) *Workspace {
	now := time.Now()

	return &Workspace{
		ID:         id,
		SessionID:  sessionID,
		RepoID:     repoID,
		AgentID:    agentID,
		Intent:     intent,
		BaseCommit: baseCommit,
		Mode:       mode,
		State:      StateActive,
		CreatedAt:  now,
		LastActive: now,
		repo:       repo,
		overlay:    ov,
		graph:      graph,
	}
}

// Overlay exposes the workspace's overlay for the merge/conflict/submit
// paths, which need the full entry set to materialize a commit.
func (w *Workspace) Overlay() *overlay.Overlay {
	return w.overlay
}

// Graph exposes the workspace's session symbol-graph delta, the
// uncommitted view context() consults before falling back to the shared
// index.
func (w *Workspace) Graph() *sessiongraph.Graph {
	return w.graph
}

// ReadResult is the outcome of read_file: content plus whether the path was
// touched by this session's overlay.
type ReadResult struct {
	Content  []byte
	Modified bool
}

// ReadFile resolves path overlay-first, falling back to the base tree.
func (w *Workspace) ReadFile(path string) (ReadResult, error) {
	if err := ValidatePath(path); err != nil {
		return ReadResult{}, err
	}

	if entry, ok := w.overlay.Get(path); ok {
		if entry.ChangeType == overlay.Deleted {
			return ReadResult{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}

		return ReadResult{Content: entry.Content, Modified: true}, nil
	}

	content, err := w.repo.ReadTreeEntry(w.BaseCommit.String(), path)
	if err != nil {
		if errors.Is(err, gitlib.ErrNotFound) {
			return ReadResult{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}

		return ReadResult{}, err
	}

	return ReadResult{Content: content, Modified: false}, nil
}

// WriteFile upserts path in the overlay. isNew is computed by checking the
// base tree so the stored entry is correctly Added vs. Modified.
func (w *Workspace) WriteFile(path string, content []byte) error {
	if err := ValidatePath(path); err != nil {
		return err
	}

	_, baseErr := w.repo.ReadTreeEntry(w.BaseCommit.String(), path)
	isNew := errors.Is(baseErr, gitlib.ErrNotFound)

	_, err := w.overlay.Write(path, content, isNew)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	w.LastActive = time.Now()

	return nil
}

// DeleteFile marks path deleted in the overlay.
func (w *Workspace) DeleteFile(path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}

	if err := w.overlay.Delete(path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}

	w.LastActive = time.Now()

	return nil
}

// RevertFile discards path's overlay entry entirely, restoring the base
// tree's view of it.
func (w *Workspace) RevertFile(path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}

	if err := w.overlay.Revert(path); err != nil {
		return fmt.Errorf("revert %s: %w", path, err)
	}

	w.LastActive = time.Now()

	return nil
}

// FileListing is one entry in a list_files response.
type FileListing struct {
	Path     string
	Modified bool
	Deleted  bool
}

// ListFiles returns the union of base tree paths and overlay paths, minus
// deletions, optionally filtered to a path-segment prefix and/or only the
// paths this session has touched.
func (w *Workspace) ListFiles(prefix string, onlyModified bool) ([]FileListing, error) {
	basePaths, err := w.repo.ListTreeFiles(w.BaseCommit.String())
	if err != nil {
		return nil, fmt.Errorf("list base tree: %w", err)
	}

	seen := make(map[string]FileListing, len(basePaths))
	for _, p := range basePaths {
		seen[p] = FileListing{Path: p}
	}

	for _, entry := range w.overlay.Entries() {
		switch entry.ChangeType {
		case overlay.Deleted:
			delete(seen, entry.Path)
		default:
			seen[entry.Path] = FileListing{Path: entry.Path, Modified: true}
		}
	}

	out := make([]FileListing, 0, len(seen))

	for _, listing := range seen {
		if onlyModified && !listing.Modified {
			continue
		}

		if prefix != "" && !pathHasPrefix(listing.Path, prefix) {
			continue
		}

		out = append(out, listing)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out, nil
}

// pathHasPrefix matches prefix against whole path segments, so "src/a"
// does not match "src/ab/x.go" (SPEC_FULL.md §D resolves this ambiguity
// left open by the distilled spec).
func pathHasPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}

	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}

// Status is the session_status response, including the original system's
// overlay byte/file-count diagnostics (SPEC_FULL.md §D).
type Status struct {
	State         State
	Mode          Mode
	BaseCommit    string
	IdleFor       string
	OverlayBytes  int64
	FilesAdded    int
	FilesModified int
	FilesDeleted  int
}

// Status reports the workspace's current lifecycle and overlay diagnostics.
func (w *Workspace) Status() Status {
	var bytes int64

	added, modified, deleted := 0, 0, 0

	for _, entry := range w.overlay.Entries() {
		switch entry.ChangeType {
		case overlay.Added:
			added++
			bytes += int64(len(entry.Content))
		case overlay.Modified:
			modified++
			bytes += int64(len(entry.Content))
		case overlay.Deleted:
			deleted++
		}
	}

	return Status{
		State:         w.State,
		Mode:          w.Mode,
		BaseCommit:    w.BaseCommit.String(),
		IdleFor:       humanize.Time(w.LastActive),
		OverlayBytes:  bytes,
		FilesAdded:    added,
		FilesModified: modified,
		FilesDeleted:  deleted,
	}
}
