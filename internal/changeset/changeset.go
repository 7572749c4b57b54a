// Package changeset is the durable record of one agent's proposed change
// (component K): numbered per repository, carrying its files, the symbols it
// touched, and the state machine that the tool-operation verbs drive from
// open through merged. Numbering is serialized with a per-repository
// gofrs/flock file lock plus a database transaction.
package changeset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // database/sql driver, registered via side effect
)

// Status is a changeset's position in its state machine.
type Status string

// Changeset states, per the lifecycle named in §3/§6.
const (
	StatusOpen             Status = "open"
	StatusSubmitted        Status = "submitted"
	StatusVerifying        Status = "verifying"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusApproved         Status = "approved"
	StatusRejected         Status = "rejected"
	StatusMerged           Status = "merged"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("changeset: not found")

// ErrStatusMismatch is returned by UpdateStatusIf when the row's current
// status is not one of the expected set — another caller won the race.
var ErrStatusMismatch = errors.New("changeset: status mismatch, lost race")

// Changeset is one agent's proposed change to a repository.
type Changeset struct {
	ID            uuid.UUID
	RepoID        uuid.UUID
	Number        int64
	SessionID     string
	Agent         string
	Intent        string
	SourceBranch  string
	TargetBranch  string
	Status        Status
	BaseVersion   string
	MergedVersion string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// File is one path's recorded content within a changeset.
type File struct {
	ChangesetID uuid.UUID
	Path        string
	Content     []byte
	ChangeType  string
	IsNew       bool
}

// FileMeta is a File without its content, for listing.
type FileMeta struct {
	Path       string
	ChangeType string
	IsNew      bool
}

// Store persists changesets, their files, and affected symbols.
type Store struct {
	db      *sql.DB
	lockDir string
}

// Open opens (creating if necessary) the SQLite database at path, ensures
// the schema exists, and uses lockDir for per-repository numbering locks.
func Open(ctx context.Context, path, lockDir string, busyTimeoutMs int) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busyTimeoutMs)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open changeset db: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := os.MkdirAll(lockDir, 0o750); err != nil {
		db.Close()

		return nil, fmt.Errorf("create changeset lock dir: %w", err)
	}

	store := &Store{db: db, lockDir: lockDir}

	if err := store.migrate(ctx); err != nil {
		db.Close()

		return nil, err
	}

	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS changesets (
			id TEXT PRIMARY KEY, repo_id TEXT NOT NULL, number INTEGER NOT NULL,
			session_id TEXT NOT NULL DEFAULT '', agent TEXT NOT NULL, intent TEXT NOT NULL,
			source_branch TEXT NOT NULL, target_branch TEXT NOT NULL, status TEXT NOT NULL,
			base_version TEXT NOT NULL DEFAULT '', merged_version TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL, updated_at TEXT NOT NULL,
			UNIQUE(repo_id, number)
		)`,
		`CREATE TABLE IF NOT EXISTS changeset_files (
			changeset_id TEXT NOT NULL, path TEXT NOT NULL, content BLOB,
			change_type TEXT NOT NULL, is_new INTEGER NOT NULL DEFAULT 0,
			UNIQUE(changeset_id, path)
		)`,
		`CREATE TABLE IF NOT EXISTS changeset_symbols (
			changeset_id TEXT NOT NULL, qualified_name TEXT NOT NULL,
			UNIQUE(changeset_id, qualified_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_changeset_symbols_name ON changeset_symbols(qualified_name)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}

func (s *Store) lockPath(repoID uuid.UUID) string {
	return filepath.Join(s.lockDir, repoID.String()+".lock")
}

// lockRepo acquires the per-repository numbering lock. Caller must call the
// returned function to release it.
func (s *Store) lockRepo(repoID uuid.UUID) (func(), error) {
	fl := flock.New(s.lockPath(repoID))

	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquire changeset lock: %w", err)
	}

	return func() { _ = fl.Unlock() }, nil
}

// Create allocates the next gapless changeset number for repoID and inserts
// a new open changeset, per §4.K.
func (s *Store) Create(ctx context.Context, repoID uuid.UUID, sessionID, agent, intent, baseVersion string) (Changeset, error) {
	unlock, err := s.lockRepo(repoID)
	if err != nil {
		return Changeset{}, err
	}
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Changeset{}, fmt.Errorf("begin create changeset: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var maxNumber sql.NullInt64

	row := tx.QueryRowContext(ctx, `SELECT MAX(number) FROM changesets WHERE repo_id = ?`, repoID.String())
	if err := row.Scan(&maxNumber); err != nil {
		return Changeset{}, fmt.Errorf("read max changeset number: %w", err)
	}

	now := time.Now().UTC()
	cs := Changeset{
		ID:           uuid.New(),
		RepoID:       repoID,
		Number:       maxNumber.Int64 + 1,
		SessionID:    sessionID,
		Agent:        agent,
		Intent:       intent,
		SourceBranch: "agent/" + agent,
		TargetBranch: "main",
		Status:       StatusOpen,
		BaseVersion:  baseVersion,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO changesets (id, repo_id, number, session_id, agent, intent, source_branch,
			target_branch, status, base_version, merged_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
		cs.ID.String(), cs.RepoID.String(), cs.Number, cs.SessionID, cs.Agent, cs.Intent,
		cs.SourceBranch, cs.TargetBranch, string(cs.Status), cs.BaseVersion,
		formatTime(cs.CreatedAt), formatTime(cs.UpdatedAt))
	if err != nil {
		return Changeset{}, fmt.Errorf("insert changeset: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Changeset{}, fmt.Errorf("commit create changeset: %w", err)
	}

	return cs, nil
}

// Get returns a changeset by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Changeset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, repo_id, number, session_id, agent, intent, source_branch, target_branch,
			status, base_version, merged_version, created_at, updated_at
		FROM changesets WHERE id = ?`, id.String())

	return scanChangeset(row)
}

// UpdateStatus unconditionally transitions a changeset to newStatus.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE changesets SET status = ?, updated_at = ? WHERE id = ?`,
		string(newStatus), formatTime(time.Now().UTC()), id.String())
	if err != nil {
		return fmt.Errorf("update changeset status: %w", err)
	}

	return requireRowsAffected(res, id)
}

// UpdateStatusIf transitions a changeset to newStatus only if its current
// status is one of expected, optimistic-concurrency style. Returns
// ErrStatusMismatch if another caller already moved it elsewhere.
func (s *Store) UpdateStatusIf(ctx context.Context, id uuid.UUID, newStatus Status, expected []Status) error {
	if len(expected) == 0 {
		return fmt.Errorf("update changeset status if: %w: empty expected set", ErrStatusMismatch)
	}

	placeholders, args := statusInClause(expected)
	args = append([]any{string(newStatus), formatTime(time.Now().UTC())}, args...)
	args = append(args, id.String())

	query := fmt.Sprintf(`UPDATE changesets SET status = ?, updated_at = ? WHERE status IN (%s) AND id = ?`, placeholders)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update changeset status if: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("%w: changeset %s", ErrStatusMismatch, id)
	}

	return nil
}

// SetMerged marks a changeset merged and records the resulting version.
func (s *Store) SetMerged(ctx context.Context, id uuid.UUID, mergedVersion string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE changesets SET status = ?, merged_version = ?, updated_at = ? WHERE id = ?`,
		string(StatusMerged), mergedVersion, formatTime(time.Now().UTC()), id.String())
	if err != nil {
		return fmt.Errorf("set changeset merged: %w", err)
	}

	return requireRowsAffected(res, id)
}

// UpsertFile records or replaces one path's content within a changeset.
func (s *Store) UpsertFile(ctx context.Context, f File) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO changeset_files (changeset_id, path, content, change_type, is_new)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(changeset_id, path) DO UPDATE SET
			content = excluded.content, change_type = excluded.change_type, is_new = excluded.is_new`,
		f.ChangesetID.String(), f.Path, f.Content, f.ChangeType, boolToInt(f.IsNew))
	if err != nil {
		return fmt.Errorf("upsert changeset file: %w", err)
	}

	return nil
}

// DeleteFile removes one file's recorded row from a changeset, used by
// revert_file to undo a prior write/delete before it is ever submitted.
func (s *Store) DeleteFile(ctx context.Context, changesetID uuid.UUID, path string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM changeset_files WHERE changeset_id = ? AND path = ?`,
		changesetID.String(), path)
	if err != nil {
		return fmt.Errorf("delete changeset file: %w", err)
	}

	return nil
}

// GetFiles returns every file recorded for a changeset, content included.
func (s *Store) GetFiles(ctx context.Context, changesetID uuid.UUID) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, content, change_type, is_new FROM changeset_files WHERE changeset_id = ?`,
		changesetID.String())
	if err != nil {
		return nil, fmt.Errorf("query changeset files: %w", err)
	}
	defer rows.Close()

	var out []File

	for rows.Next() {
		var (
			f       File
			isNew   int
			content []byte
		)

		if err := rows.Scan(&f.Path, &content, &f.ChangeType, &isNew); err != nil {
			return nil, fmt.Errorf("scan changeset file: %w", err)
		}

		f.ChangesetID = changesetID
		f.Content = content
		f.IsNew = isNew != 0
		out = append(out, f)
	}

	return out, rows.Err()
}

// GetFilesMetadata returns the file listing for a changeset without content,
// used by list_files when only_modified is set.
func (s *Store) GetFilesMetadata(ctx context.Context, changesetID uuid.UUID) ([]FileMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, change_type, is_new FROM changeset_files WHERE changeset_id = ?`, changesetID.String())
	if err != nil {
		return nil, fmt.Errorf("query changeset file metadata: %w", err)
	}
	defer rows.Close()

	var out []FileMeta

	for rows.Next() {
		var (
			m     FileMeta
			isNew int
		)

		if err := rows.Scan(&m.Path, &m.ChangeType, &isNew); err != nil {
			return nil, fmt.Errorf("scan changeset file metadata: %w", err)
		}

		m.IsNew = isNew != 0
		out = append(out, m)
	}

	return out, rows.Err()
}

// RecordAffectedSymbol notes that a changeset touched a qualified name.
// Repeated calls are a no-op.
func (s *Store) RecordAffectedSymbol(ctx context.Context, changesetID uuid.UUID, qualifiedName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO changeset_symbols (changeset_id, qualified_name) VALUES (?, ?)
		ON CONFLICT(changeset_id, qualified_name) DO NOTHING`,
		changesetID.String(), qualifiedName)
	if err != nil {
		return fmt.Errorf("record affected symbol: %w", err)
	}

	return nil
}

// GetAffectedSymbols returns every qualified name a changeset touched.
func (s *Store) GetAffectedSymbols(ctx context.Context, changesetID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT qualified_name FROM changeset_symbols WHERE changeset_id = ?`, changesetID.String())
	if err != nil {
		return nil, fmt.Errorf("query affected symbols: %w", err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan affected symbol: %w", err)
		}

		out = append(out, name)
	}

	return out, rows.Err()
}

// FindConflictingChangesets returns every other merged changeset in repoID
// whose merged_version differs from myBaseVersion and which touched at
// least one symbol myID also touched, per §4.K.
func (s *Store) FindConflictingChangesets(ctx context.Context, repoID, myID uuid.UUID, myBaseVersion string) ([]Changeset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT c.id, c.repo_id, c.number, c.session_id, c.agent, c.intent, c.source_branch,
			c.target_branch, c.status, c.base_version, c.merged_version, c.created_at, c.updated_at
		FROM changesets c
		JOIN changeset_symbols cs ON cs.changeset_id = c.id
		WHERE c.repo_id = ? AND c.status = ? AND c.id != ? AND c.merged_version != ?
		AND cs.qualified_name IN (SELECT qualified_name FROM changeset_symbols WHERE changeset_id = ?)`,
		repoID.String(), string(StatusMerged), myID.String(), myBaseVersion, myID.String())
	if err != nil {
		return nil, fmt.Errorf("find conflicting changesets: %w", err)
	}
	defer rows.Close()

	var out []Changeset

	for rows.Next() {
		cs, err := scanChangeset(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, cs)
	}

	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChangeset(row rowScanner) (Changeset, error) {
	var (
		cs                         Changeset
		idStr, repoIDStr, status   string
		createdAtStr, updatedAtStr string
	)

	err := row.Scan(&idStr, &repoIDStr, &cs.Number, &cs.SessionID, &cs.Agent, &cs.Intent,
		&cs.SourceBranch, &cs.TargetBranch, &status, &cs.BaseVersion, &cs.MergedVersion,
		&createdAtStr, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return Changeset{}, ErrNotFound
	} else if err != nil {
		return Changeset{}, fmt.Errorf("scan changeset: %w", err)
	}

	cs.Status = Status(status)

	cs.ID, err = uuid.Parse(idStr)
	if err != nil {
		return Changeset{}, fmt.Errorf("parse changeset id: %w", err)
	}

	cs.RepoID, err = uuid.Parse(repoIDStr)
	if err != nil {
		return Changeset{}, fmt.Errorf("parse repo id: %w", err)
	}

	cs.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return Changeset{}, fmt.Errorf("parse created_at: %w", err)
	}

	cs.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
	if err != nil {
		return Changeset{}, fmt.Errorf("parse updated_at: %w", err)
	}

	return cs, nil
}

func requireRowsAffected(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return nil
}

func statusInClause(statuses []Status) (string, []any) {
	placeholders := ""
	args := make([]any, len(statuses))

	for i, st := range statuses {
		if i > 0 {
			placeholders += ", "
		}

		placeholders += "?"
		args[i] = string(st)
	}

	return placeholders, args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
