package toolops

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nsicore/nsi/internal/changeset"
	"github.com/nsicore/nsi/internal/eventbus"
	"github.com/nsicore/nsi/internal/index"
	"github.com/nsicore/nsi/internal/overlay"
	"github.com/nsicore/nsi/internal/parser"
	"github.com/nsicore/nsi/internal/sessiongraph"
	"github.com/nsicore/nsi/internal/workspace"
)

// SubmitRequest is a submit() call. Changes is optional: when empty, the
// overlay's full entry set is used to populate changeset_files. When Verify
// is set, Submit drives the changeset straight through the verification
// pipeline before returning.
type SubmitRequest struct {
	Session string
	Intent  string
	Changes []changeset.File
	Verify  bool
}

// SubmitResponse reports what was re-indexed and, when the request asked
// for verification, the pipeline's verdict.
type SubmitResponse struct {
	FilesIndexed  int
	ParseWarnings []string
	Verified      bool
	VerifyResult  *VerifyRunResult
}

// Submit marks the changeset submitted and re-indexes every changed file:
// parses it, upserts its symbols, and records call edges whose callee
// resolves to a symbol of the same file; calls into other files are not
// recorded. A file that fails to parse is
// skipped with a warning rather than failing the submission, per §7's Parse
// error policy.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	ws, err := s.workspace(req.Session)
	if err != nil {
		return SubmitResponse{}, err
	}

	if err := s.changesets.UpdateStatus(ctx, ws.ChangesetID, changeset.StatusSubmitted); err != nil {
		return SubmitResponse{}, wrap(KindTransient, err)
	}

	ws.State = workspace.StateSubmitted

	changes := req.Changes
	if len(changes) == 0 {
		changes = filesFromOverlay(ws.ChangesetID, ws.Overlay())
	}

	var warnings []string

	indexed := 0

	for _, f := range changes {
		if err := s.changesets.UpsertFile(ctx, f); err != nil {
			return SubmitResponse{}, wrap(KindTransient, err)
		}

		if f.ChangeType == "delete" {
			if err := s.index.DeleteFile(ctx, s.RepoID, f.Path); err != nil {
				return SubmitResponse{}, wrap(KindTransient, err)
			}

			ws.Graph().ResetFile(f.Path)

			continue
		}

		if err := s.reindexFile(ctx, ws.ChangesetID, f.Path, f.Content); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", f.Path, err))

			continue
		}

		ws.Graph().ResetFile(f.Path)

		indexed++
	}

	if indexed > 0 {
		if err := s.republishBaseMap(ctx); err != nil {
			return SubmitResponse{}, wrap(KindTransient, err)
		}
	}

	s.bus.Publish(eventbus.Event{
		Type:        eventbus.EventSubmitted,
		ChangesetID: ws.ChangesetID.String(),
		RepoID:      s.RepoID.String(),
	})

	resp := SubmitResponse{FilesIndexed: indexed, ParseWarnings: warnings}

	if req.Verify {
		verifyResult, err := s.RunVerification(ctx, ws.ChangesetID.String())
		if err != nil {
			return resp, err
		}

		resp.Verified = true
		resp.VerifyResult = &verifyResult
	}

	return resp, nil
}

// republishBaseMap rebuilds the shared base snapshot from the index after a
// re-index batch, so the next workspace to Fork observes the newly
// committed symbols. Workspaces forked earlier keep their pinned snapshot
// until they reopen, an intentional staleness window (DESIGN.md, Open
// Questions).
func (s *Service) republishBaseMap(ctx context.Context) error {
	symbols, err := s.index.SymbolsByRepo(ctx, s.RepoID)
	if err != nil {
		return fmt.Errorf("reload base symbol snapshot: %w", err)
	}

	s.baseMap.Publish(sessiongraph.SnapshotFrom(symbols))

	return nil
}

func filesFromOverlay(changesetID uuid.UUID, ov *overlay.Overlay) []changeset.File {
	entries := ov.Entries()
	out := make([]changeset.File, 0, len(entries))

	for _, entry := range entries {
		changeType := "modify"

		switch entry.ChangeType {
		case overlay.Added:
			changeType = "add"
		case overlay.Deleted:
			changeType = "delete"
		}

		out = append(out, changeset.File{
			ChangesetID: changesetID,
			Path:        entry.Path,
			Content:     entry.Content,
			ChangeType:  changeType,
		})
	}

	return out
}

// reindexFile parses one file's new content, upserts its symbols and call
// edges into the shared index, and records the touched symbols against the
// changeset.
func (s *Service) reindexFile(ctx context.Context, changesetID uuid.UUID, path string, content []byte) error {
	result, err := s.parsers.Parse(ctx, path, content)
	if err != nil {
		return wrap(KindParse, err)
	}

	ids := make(map[string]uuid.UUID, len(result.Symbols))

	for _, sym := range result.Symbols {
		id, err := s.index.UpsertSymbol(ctx, index.Symbol{
			RepoID:        s.RepoID,
			Name:          sym.Name,
			QualifiedName: sym.QualifiedName,
			Kind:          sym.Kind,
			Visibility:    sym.Visibility,
			FilePath:      path,
			StartByte:     sym.StartByte,
			EndByte:       sym.EndByte,
			Signature:     sym.Signature,
		})
		if err != nil {
			return fmt.Errorf("index symbol %s: %w", sym.QualifiedName, err)
		}

		ids[sym.QualifiedName] = id

		if err := s.changesets.RecordAffectedSymbol(ctx, changesetID, sym.QualifiedName); err != nil {
			return fmt.Errorf("record affected symbol: %w", err)
		}
	}

	return s.indexCallEdges(ctx, path, result, ids)
}

// indexCallEdges resolves each call's bare callee name to a qualified name
// within the same file's symbol set (a best-effort, same-file resolution;
// cross-file call resolution is out of scope) and records the edge.
func (s *Service) indexCallEdges(ctx context.Context, path string, result parser.ParseResult, ids map[string]uuid.UUID) error {
	for _, call := range result.Calls {
		callerID, ok := ids[call.Caller]
		if !ok {
			continue
		}

		calleeID, ok := resolveCallee(ids, call.Callee)
		if !ok {
			continue
		}

		if err := s.index.InsertEdge(ctx, index.CallEdge{
			RepoID:   s.RepoID,
			CallerID: callerID,
			CalleeID: calleeID,
			Kind:     "call",
		}); err != nil {
			return fmt.Errorf("insert call edge in %s: %w", path, err)
		}
	}

	return nil
}

// resolveCallee matches a bare callee name against the qualified names
// indexed from the same file, preferring an exact match, falling back to a
// receiver-qualified method whose bare name matches.
func resolveCallee(ids map[string]uuid.UUID, callee string) (uuid.UUID, bool) {
	if id, ok := ids[callee]; ok {
		return id, true
	}

	for qualified, id := range ids {
		if suffix := "." + callee; len(qualified) > len(suffix) && qualified[len(qualified)-len(suffix):] == suffix {
			return id, true
		}
	}

	return uuid.Nil, false
}
