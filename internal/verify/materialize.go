package verify

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Materialize copies repoPath's working tree (skipping .git) into destDir,
// then overlays the changeset's files on top, so build tools invoked in
// destDir see real project metadata alongside the proposed change.
func Materialize(repoPath, destDir string, files map[string][]byte) error {
	if err := copyTree(repoPath, destDir); err != nil {
		return fmt.Errorf("materialize working tree: %w", err)
	}

	for relPath, content := range files {
		target := filepath.Join(destDir, relPath)

		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return fmt.Errorf("materialize %s: %w", relPath, err)
		}

		if err := os.WriteFile(target, content, 0o600); err != nil {
			return fmt.Errorf("materialize %s: %w", relPath, err)
		}
	}

	return nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}

		if rel == ".git" || strings.HasPrefix(rel, ".git"+string(filepath.Separator)) {
			if info.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		}

		return copyFile(p, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)

	return err
}
