package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MetadataVersion is the current checkpoint metadata format version.
const MetadataVersion = 1

// Sentinel errors for checkpoint validation.
var (
	ErrRepoPathMismatch = errors.New("repo path mismatch")
)

// DefaultDir returns the default checkpoint directory (~/.nsid/checkpoints).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return filepath.Join(home, ".nsid", "checkpoints")
}

// RepoHash computes a short hash of the repository path for use as
// directory name.
func RepoHash(repoPath string) string {
	h := sha256.Sum256([]byte(repoPath))

	return hex.EncodeToString(h[:8])
}

// Directory permissions for checkpoints.
const dirPerm = 0o750

// Manager persists one repository's workspace registry snapshot.
type Manager struct {
	BaseDir  string
	RepoHash string
}

// NewManager creates a new checkpoint manager.
func NewManager(baseDir, repoHash string) *Manager {
	return &Manager{BaseDir: baseDir, RepoHash: repoHash}
}

// CheckpointDir returns the directory for this repository's checkpoint.
func (m *Manager) CheckpointDir() string {
	return filepath.Join(m.BaseDir, m.RepoHash)
}

// MetadataPath returns the path to the metadata file.
func (m *Manager) MetadataPath() string {
	return filepath.Join(m.CheckpointDir(), "checkpoint.json")
}

// Exists returns true if a valid checkpoint exists.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.MetadataPath())

	return err == nil
}

// Clear removes the checkpoint for the current repository.
func (m *Manager) Clear() error {
	cpDir := m.CheckpointDir()

	_, statErr := os.Stat(cpDir)
	if os.IsNotExist(statErr) {
		return nil
	}

	if err := os.RemoveAll(cpDir); err != nil {
		return fmt.Errorf("remove checkpoint dir: %w", err)
	}

	return nil
}

// Save persists the current set of workspace records for repoPath.
func (m *Manager) Save(repoPath string, workspaces []WorkspaceRecord) error {
	cpDir := m.CheckpointDir()

	if err := os.MkdirAll(cpDir, dirPerm); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	meta := Metadata{
		Version:    MetadataVersion,
		RepoPath:   repoPath,
		RepoHash:   m.RepoHash,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		Workspaces: workspaces,
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint metadata: %w", err)
	}

	if err := os.WriteFile(m.MetadataPath(), data, 0o600); err != nil {
		return fmt.Errorf("write checkpoint metadata: %w", err)
	}

	return nil
}

// LoadMetadata loads the checkpoint metadata.
func (m *Manager) LoadMetadata() (*Metadata, error) {
	data, err := os.ReadFile(m.MetadataPath())
	if err != nil {
		return nil, fmt.Errorf("read checkpoint metadata: %w", err)
	}

	var meta Metadata

	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint metadata: %w", err)
	}

	return &meta, nil
}

// Load restores the workspace records for repoPath, rejecting a checkpoint
// recorded for a different repository.
func (m *Manager) Load(repoPath string) ([]WorkspaceRecord, error) {
	meta, err := m.LoadMetadata()
	if err != nil {
		return nil, err
	}

	if meta.RepoPath != repoPath {
		return nil, fmt.Errorf("%w: checkpoint has %q, got %q", ErrRepoPathMismatch, meta.RepoPath, repoPath)
	}

	return meta.Workspaces, nil
}
