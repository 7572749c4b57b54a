package toolops

import (
	"context"
	"errors"
	"fmt"

	"github.com/nsicore/nsi/internal/changeset"
	"github.com/nsicore/nsi/internal/workspace"
)

// ReadFileResponse is the result of read_file.
type ReadFileResponse struct {
	Content           []byte
	ModifiedInSession bool
}

// ReadFile resolves path overlay-first against the session's workspace.
func (s *Service) ReadFile(session, path string) (ReadFileResponse, error) {
	ws, err := s.workspace(session)
	if err != nil {
		return ReadFileResponse{}, err
	}

	result, err := ws.ReadFile(path)
	if err != nil {
		return ReadFileResponse{}, classifyWorkspaceErr(err)
	}

	return ReadFileResponse{Content: result.Content, ModifiedInSession: result.Modified}, nil
}

// WriteFileResponse reports the overlay write and any best-effort detected
// symbol changes.
type WriteFileResponse struct {
	IsNew           bool
	DetectedSymbols []string
}

// WriteFile validates path, writes it to the overlay, records it against
// the changeset, and best-effort parses it to report touched symbols.
func (s *Service) WriteFile(ctx context.Context, session, path string, content []byte) (WriteFileResponse, error) {
	ws, err := s.workspace(session)
	if err != nil {
		return WriteFileResponse{}, err
	}

	_, baseErr := ws.ReadFile(path)
	isNew := errors.Is(baseErr, workspace.ErrNotFound)

	if err := ws.WriteFile(path, content); err != nil {
		return WriteFileResponse{}, classifyWorkspaceErr(err)
	}

	op := "modify"
	if isNew {
		op = "add"
	}

	if err := s.changesets.UpsertFile(ctx, changeset.File{
		ChangesetID: ws.ChangesetID,
		Path:        path,
		Content:     content,
		ChangeType:  op,
		IsNew:       isNew,
	}); err != nil {
		return WriteFileResponse{}, wrap(KindTransient, err)
	}

	var symbols []string

	result, parseErr := s.parsers.Parse(ctx, path, content)
	if parseErr == nil {
		baseSymbols, err := s.index.SymbolsByFile(ctx, s.RepoID, path)
		if err != nil {
			return WriteFileResponse{}, wrap(KindTransient, err)
		}

		ws.Graph().UpdateFromParse(path, result.Symbols, baseSymbols)

		for _, sym := range result.Symbols {
			symbols = append(symbols, sym.QualifiedName)

			if err := s.changesets.RecordAffectedSymbol(ctx, ws.ChangesetID, sym.QualifiedName); err != nil {
				return WriteFileResponse{}, wrap(KindTransient, err)
			}
		}
	}

	return WriteFileResponse{IsNew: isNew, DetectedSymbols: symbols}, nil
}

// RevertFile discards path's overlay entry and its recorded changeset row,
// restoring the base tree's view of it as if this session had never
// touched it.
func (s *Service) RevertFile(ctx context.Context, session, path string) error {
	ws, err := s.workspace(session)
	if err != nil {
		return err
	}

	if err := ws.RevertFile(path); err != nil {
		return classifyWorkspaceErr(err)
	}

	ws.Graph().ResetFile(path)

	if err := s.changesets.DeleteFile(ctx, ws.ChangesetID, path); err != nil {
		return wrap(KindTransient, err)
	}

	return nil
}

// ListFilesResponse is the overlay-merged file listing.
type ListFilesResponse struct {
	Files []workspace.FileListing
}

// ListFiles materializes the overlay-merged tree listing, optionally
// filtered to a path-segment prefix and/or only paths this session touched.
func (s *Service) ListFiles(session, prefix string, onlyModified bool) (ListFilesResponse, error) {
	ws, err := s.workspace(session)
	if err != nil {
		return ListFilesResponse{}, err
	}

	listing, err := ws.ListFiles(prefix, onlyModified)
	if err != nil {
		return ListFilesResponse{}, wrap(KindTransient, err)
	}

	return ListFilesResponse{Files: listing}, nil
}

func (s *Service) workspace(session string) (*workspace.Workspace, error) {
	id, err := s.resolveSession(session)
	if err != nil {
		return nil, err
	}

	ws, err := s.workspaces.Get(id)
	if err != nil {
		return nil, wrap(KindNotFound, err)
	}

	return ws, nil
}

func classifyWorkspaceErr(err error) error {
	if errors.Is(err, workspace.ErrNotFound) {
		return wrap(KindNotFound, err)
	}

	var pathErr interface{ Reason() string }
	if errors.As(err, &pathErr) {
		return wrap(KindInvalidInput, err)
	}

	return wrap(KindTransient, fmt.Errorf("workspace operation: %w", err))
}
