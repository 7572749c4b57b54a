// Package index persists the semantic index a repository's sessions share:
// symbols, call edges, dependencies, and type info, plus a full-text search
// table over symbol names and doc comments. It is the relational store
// backing component B of the design: the symbol, call-edge, dependency and
// type tables live here, behind database/sql; changesets are stored by
// internal/changeset.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // database/sql driver, registered via side effect

	"github.com/nsicore/nsi/internal/parser"
)

// ErrNotFound is returned when a lookup by id or qualified name has no row.
var ErrNotFound = errors.New("index: not found")

// Symbol is a stored declaration row.
type Symbol struct {
	ID                 uuid.UUID
	RepoID             uuid.UUID
	Name               string
	QualifiedName      string
	Kind               parser.SymbolKind
	Visibility         string
	FilePath           string
	StartByte          int
	EndByte            int
	Signature          string
	DocComment         string
	ParentID           uuid.NullUUID
	LastModifiedBy     string
	LastModifiedIntent string
}

// CallEdge is a resolved caller->callee edge.
type CallEdge struct {
	ID       uuid.UUID
	RepoID   uuid.UUID
	CallerID uuid.UUID
	CalleeID uuid.UUID
	Kind     string
}

// Dependency is an external package requirement.
type Dependency struct {
	ID         uuid.UUID
	RepoID     uuid.UUID
	Package    string
	VersionReq string
}

// Store wraps a database/sql handle opened against the modernc.org/sqlite
// driver and exposes the symbol/call-graph/dependency/search operations the
// rest of the core relies on.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema exists. busyTimeoutMs configures SQLite's own
// lock-wait behavior so concurrent writers block briefly instead of
// failing immediately with SQLITE_BUSY.
func Open(ctx context.Context, path string, busyTimeoutMs int, ftsEnabled bool) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busyTimeoutMs)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}

	db.SetMaxOpenConns(1) // single-writer contract (§5): one *sql.DB connection serializes it.

	store := &Store{db: db}

	if err := store.migrate(ctx, ftsEnabled); err != nil {
		db.Close()

		return nil, err
	}

	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context, ftsEnabled bool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS repositories (
			id TEXT PRIMARY KEY, name TEXT UNIQUE NOT NULL, path TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS symbols (
			id TEXT PRIMARY KEY, repo_id TEXT NOT NULL, name TEXT NOT NULL,
			qualified_name TEXT NOT NULL, kind TEXT NOT NULL, visibility TEXT NOT NULL,
			file_path TEXT NOT NULL, start_byte INTEGER NOT NULL, end_byte INTEGER NOT NULL,
			signature TEXT, doc_comment TEXT, parent_id TEXT,
			last_modified_by TEXT, last_modified_intent TEXT,
			UNIQUE(repo_id, qualified_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_symbols_repo_file ON symbols(repo_id, file_path)`,
		`CREATE TABLE IF NOT EXISTS call_edges (
			id TEXT PRIMARY KEY, repo_id TEXT NOT NULL, caller_id TEXT NOT NULL,
			callee_id TEXT NOT NULL, kind TEXT NOT NULL,
			UNIQUE(repo_id, caller_id, callee_id, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS dependencies (
			id TEXT PRIMARY KEY, repo_id TEXT NOT NULL, package TEXT NOT NULL,
			version_req TEXT NOT NULL, UNIQUE(repo_id, package)
		)`,
		`CREATE TABLE IF NOT EXISTS symbol_dependencies (
			symbol_id TEXT NOT NULL, dependency_id TEXT NOT NULL,
			UNIQUE(symbol_id, dependency_id)
		)`,
		`CREATE TABLE IF NOT EXISTS type_info (
			symbol_id TEXT PRIMARY KEY, params TEXT NOT NULL DEFAULT '[]',
			return_type TEXT, fields TEXT NOT NULL DEFAULT '[]', implements TEXT NOT NULL DEFAULT '[]'
		)`,
	}

	if ftsEnabled {
		stmts = append(stmts, `CREATE VIRTUAL TABLE IF NOT EXISTS symbols_fts USING fts5(
			qualified_name, doc_comment, content='symbols', content_rowid='rowid'
		)`,
			`CREATE TRIGGER IF NOT EXISTS symbols_fts_ai AFTER INSERT ON symbols BEGIN
				INSERT INTO symbols_fts(rowid, qualified_name, doc_comment) VALUES (new.rowid, new.qualified_name, new.doc_comment);
			END`,
			`CREATE TRIGGER IF NOT EXISTS symbols_fts_ad AFTER DELETE ON symbols BEGIN
				INSERT INTO symbols_fts(symbols_fts, rowid, qualified_name, doc_comment) VALUES ('delete', old.rowid, old.qualified_name, old.doc_comment);
			END`,
			`CREATE TRIGGER IF NOT EXISTS symbols_fts_au AFTER UPDATE ON symbols BEGIN
				INSERT INTO symbols_fts(symbols_fts, rowid, qualified_name, doc_comment) VALUES ('delete', old.rowid, old.qualified_name, old.doc_comment);
				INSERT INTO symbols_fts(rowid, qualified_name, doc_comment) VALUES (new.rowid, new.qualified_name, new.doc_comment);
			END`)
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}

// UpsertSymbol inserts or replaces the row for (repo_id, qualified_name).
// The id is always freshly minted: re-parsing a changed declaration mints a
// new id even though the qualified name is unchanged, and that id change is
// the signal the submit path uses to detect "this symbol was modified"
// (see DESIGN.md, Open Questions). Conflict detection and merge never
// compare ids across snapshots; they compare by qualified_name and by
// (span, signature, kind, visibility).
func (s *Store) UpsertSymbol(ctx context.Context, sym Symbol) (uuid.UUID, error) {
	sym.ID = uuid.New()

	var parentID any
	if sym.ParentID.Valid {
		parentID = sym.ParentID.UUID.String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO symbols (id, repo_id, name, qualified_name, kind, visibility, file_path,
			start_byte, end_byte, signature, doc_comment, parent_id, last_modified_by, last_modified_intent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, qualified_name) DO UPDATE SET
			id=excluded.id, name=excluded.name, kind=excluded.kind, visibility=excluded.visibility,
			file_path=excluded.file_path, start_byte=excluded.start_byte, end_byte=excluded.end_byte,
			signature=excluded.signature, doc_comment=excluded.doc_comment, parent_id=excluded.parent_id,
			last_modified_by=excluded.last_modified_by, last_modified_intent=excluded.last_modified_intent
	`, sym.ID.String(), sym.RepoID.String(), sym.Name, sym.QualifiedName, string(sym.Kind), sym.Visibility,
		sym.FilePath, sym.StartByte, sym.EndByte, sym.Signature, sym.DocComment, parentID,
		sym.LastModifiedBy, sym.LastModifiedIntent)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert symbol %s: %w", sym.QualifiedName, err)
	}

	return s.symbolID(ctx, sym.RepoID, sym.QualifiedName)
}

func (s *Store) symbolID(ctx context.Context, repoID uuid.UUID, qualifiedName string) (uuid.UUID, error) {
	var idStr string

	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM symbols WHERE repo_id = ? AND qualified_name = ?`, repoID.String(), qualifiedName)
	if err := row.Scan(&idStr); err != nil {
		return uuid.Nil, fmt.Errorf("lookup symbol id: %w", err)
	}

	return uuid.Parse(idStr)
}

// SymbolByQualifiedName looks up a symbol by its (repo, qualified_name) key.
func (s *Store) SymbolByQualifiedName(ctx context.Context, repoID uuid.UUID, qualifiedName string) (Symbol, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repo_id, name, qualified_name, kind, visibility, file_path, start_byte, end_byte,
			COALESCE(signature,''), COALESCE(doc_comment,''), COALESCE(last_modified_by,''), COALESCE(last_modified_intent,'')
		FROM symbols WHERE repo_id = ? AND qualified_name = ?`, repoID.String(), qualifiedName)

	return scanSymbol(row)
}

// SymbolsByFile returns every symbol recorded for a file within a repo.
func (s *Store) SymbolsByFile(ctx context.Context, repoID uuid.UUID, filePath string) ([]Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_id, name, qualified_name, kind, visibility, file_path, start_byte, end_byte,
			COALESCE(signature,''), COALESCE(doc_comment,''), COALESCE(last_modified_by,''), COALESCE(last_modified_intent,'')
		FROM symbols WHERE repo_id = ? AND file_path = ?`, repoID.String(), filePath)
	if err != nil {
		return nil, fmt.Errorf("query symbols by file: %w", err)
	}
	defer rows.Close()

	var out []Symbol

	for rows.Next() {
		sym, err := scanSymbolRow(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, sym)
	}

	return out, rows.Err()
}

// SymbolsByRepo returns every symbol currently indexed for a repository,
// used to build the session graph's shared base snapshot (BaseMap.Publish).
func (s *Store) SymbolsByRepo(ctx context.Context, repoID uuid.UUID) ([]Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo_id, name, qualified_name, kind, visibility, file_path, start_byte, end_byte,
			COALESCE(signature,''), COALESCE(doc_comment,''), COALESCE(last_modified_by,''), COALESCE(last_modified_intent,'')
		FROM symbols WHERE repo_id = ?`, repoID.String())
	if err != nil {
		return nil, fmt.Errorf("query symbols by repo: %w", err)
	}
	defer rows.Close()

	var out []Symbol

	for rows.Next() {
		sym, err := scanSymbolRow(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, sym)
	}

	return out, rows.Err()
}

// DeleteFile removes every symbol row recorded for a file (the file-delete
// lifecycle named in §3 "Symbol").
func (s *Store) DeleteFile(ctx context.Context, repoID uuid.UUID, filePath string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM symbols WHERE repo_id = ? AND file_path = ?`,
		repoID.String(), filePath)
	if err != nil {
		return fmt.Errorf("delete file symbols: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSymbol(row *sql.Row) (Symbol, error) {
	return scanSymbolRow(row)
}

func scanSymbolRow(row rowScanner) (Symbol, error) {
	var (
		sym              Symbol
		idStr, repoIDStr string
		kind             string
	)

	err := row.Scan(&idStr, &repoIDStr, &sym.Name, &sym.QualifiedName, &kind, &sym.Visibility,
		&sym.FilePath, &sym.StartByte, &sym.EndByte, &sym.Signature, &sym.DocComment,
		&sym.LastModifiedBy, &sym.LastModifiedIntent)
	if errors.Is(err, sql.ErrNoRows) {
		return Symbol{}, ErrNotFound
	} else if err != nil {
		return Symbol{}, fmt.Errorf("scan symbol: %w", err)
	}

	sym.Kind = parser.SymbolKind(kind)
	sym.ID, err = uuid.Parse(idStr)
	if err != nil {
		return Symbol{}, fmt.Errorf("parse symbol id: %w", err)
	}

	sym.RepoID, err = uuid.Parse(repoIDStr)
	if err != nil {
		return Symbol{}, fmt.Errorf("parse repo id: %w", err)
	}

	return sym, nil
}

// InsertEdge records a call edge; repeated calls with the same
// (repo, caller, callee, kind) are a no-op, per §8's idempotence law.
func (s *Store) InsertEdge(ctx context.Context, edge CallEdge) error {
	edge.ID = uuid.New()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_edges (id, repo_id, caller_id, callee_id, kind)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, caller_id, callee_id, kind) DO NOTHING`,
		edge.ID.String(), edge.RepoID.String(), edge.CallerID.String(), edge.CalleeID.String(), edge.Kind)
	if err != nil {
		return fmt.Errorf("insert call edge: %w", err)
	}

	return nil
}

// CallEdgesForRepo returns every call edge recorded for a repository, used
// by the dependency-cycle semantic gate (component M) to build a graph.
func (s *Store) CallEdgesForRepo(ctx context.Context, repoID uuid.UUID) ([]CallEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, repo_id, caller_id, callee_id, kind FROM call_edges WHERE repo_id = ?`, repoID.String())
	if err != nil {
		return nil, fmt.Errorf("query call edges: %w", err)
	}
	defer rows.Close()

	var out []CallEdge

	for rows.Next() {
		var e CallEdge

		var id, repo, caller, callee string

		if err := rows.Scan(&id, &repo, &caller, &callee, &e.Kind); err != nil {
			return nil, fmt.Errorf("scan call edge: %w", err)
		}

		e.ID, _ = uuid.Parse(id)
		e.RepoID, _ = uuid.Parse(repo)
		e.CallerID, _ = uuid.Parse(caller)
		e.CalleeID, _ = uuid.Parse(callee)
		out = append(out, e)
	}

	return out, rows.Err()
}

// CallersOf returns the qualified names of symbols with a recorded call
// edge into calleeID, used by context()'s call_graph expansion.
func (s *Store) CallersOf(ctx context.Context, calleeID uuid.UUID, limit int) ([]string, error) {
	return s.edgeNeighbors(ctx, `
		SELECT s.qualified_name FROM call_edges e
		JOIN symbols s ON s.id = e.caller_id
		WHERE e.callee_id = ? LIMIT ?`, calleeID, limit)
}

// CalleesOf returns the qualified names of symbols callerID has a recorded
// call edge into, used by context()'s call_graph expansion.
func (s *Store) CalleesOf(ctx context.Context, callerID uuid.UUID, limit int) ([]string, error) {
	return s.edgeNeighbors(ctx, `
		SELECT s.qualified_name FROM call_edges e
		JOIN symbols s ON s.id = e.callee_id
		WHERE e.caller_id = ? LIMIT ?`, callerID, limit)
}

func (s *Store) edgeNeighbors(ctx context.Context, query string, id uuid.UUID, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, id.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query edge neighbors: %w", err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan edge neighbor: %w", err)
		}

		out = append(out, name)
	}

	return out, rows.Err()
}

// UpsertDependency inserts or updates a repository's external package
// requirement.
func (s *Store) UpsertDependency(ctx context.Context, dep Dependency) error {
	dep.ID = uuid.New()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dependencies (id, repo_id, package, version_req) VALUES (?, ?, ?, ?)
		ON CONFLICT(repo_id, package) DO UPDATE SET version_req = excluded.version_req`,
		dep.ID.String(), dep.RepoID.String(), dep.Package, dep.VersionReq)
	if err != nil {
		return fmt.Errorf("upsert dependency: %w", err)
	}

	return nil
}

// SearchSymbols performs a full-text search over qualified names and doc
// comments, scoped to one repository.
func (s *Store) SearchSymbols(ctx context.Context, repoID uuid.UUID, query string, limit int) ([]Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.repo_id, s.name, s.qualified_name, s.kind, s.visibility, s.file_path,
			s.start_byte, s.end_byte, COALESCE(s.signature,''), COALESCE(s.doc_comment,''),
			COALESCE(s.last_modified_by,''), COALESCE(s.last_modified_intent,'')
		FROM symbols_fts f
		JOIN symbols s ON s.rowid = f.rowid
		WHERE f.symbols_fts MATCH ? AND s.repo_id = ?
		LIMIT ?`, query, repoID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("search symbols: %w", err)
	}
	defer rows.Close()

	var out []Symbol

	for rows.Next() {
		sym, err := scanSymbolRow(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, sym)
	}

	return out, rows.Err()
}

// SymbolCount returns how many symbols are indexed for a repository, used
// by connect's codebase summary.
func (s *Store) SymbolCount(ctx context.Context, repoID uuid.UUID) (int, error) {
	var count int

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM symbols WHERE repo_id = ?`, repoID.String())
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count symbols: %w", err)
	}

	return count, nil
}

// RepoIDByPath returns the opaque id for a repository path, inserting a new
// one keyed by name if it does not yet exist.
func (s *Store) RepoIDByPath(ctx context.Context, name, path string) (uuid.UUID, error) {
	var idStr string

	row := s.db.QueryRowContext(ctx, `SELECT id FROM repositories WHERE name = ?`, name)
	if err := row.Scan(&idStr); err == nil {
		return uuid.Parse(idStr)
	}

	id := uuid.New()

	_, err := s.db.ExecContext(ctx, `INSERT INTO repositories (id, name, path) VALUES (?, ?, ?)`,
		id.String(), name, path)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert repository: %w", err)
	}

	return id, nil
}
