package gitlib

import (
	"fmt"
	"sort"
	"strings"

	git2go "github.com/libgit2/git2go/v34"
)

// blobMode is the filemode used for every blob this package writes. The NSI
// overlay never tracks executable bit or symlink changes; it round-trips
// regular file content only.
const blobMode = git2go.FilemodeBlob

// buildOverlayTree applies overlay on top of baseTree (nil means the empty
// tree) and returns the oid of the resulting root tree. Nested paths are
// handled by grouping edits by their top-level path segment and recursing
// into (or creating) the corresponding subtree, then writing each directory
// level bottom-up.
func buildOverlayTree(repo *git2go.Repository, baseTree *git2go.Tree, overlay []OverlayEdit) (*git2go.Oid, error) {
	var (
		builder *git2go.TreeBuilder
		err     error
	)

	if baseTree == nil {
		builder, err = repo.TreeBuilder()
	} else {
		builder, err = repo.TreeBuilderFromTree(baseTree)
	}

	if err != nil {
		return nil, fmt.Errorf("create tree builder: %w", err)
	}
	defer builder.Free()

	direct, nested := partitionOverlay(overlay)

	for _, edit := range direct {
		if applyErr := applyDirectEdit(repo, builder, edit); applyErr != nil {
			return nil, applyErr
		}
	}

	// Process subdirectories in sorted order for deterministic tree shape.
	dirNames := make([]string, 0, len(nested))
	for dir := range nested {
		dirNames = append(dirNames, dir)
	}

	sort.Strings(dirNames)

	for _, dir := range dirNames {
		if recurseErr := applyNestedEdits(repo, builder, baseTree, dir, nested[dir]); recurseErr != nil {
			return nil, recurseErr
		}
	}

	oid, err := builder.Write()
	if err != nil {
		return nil, fmt.Errorf("write tree: %w", err)
	}

	return oid, nil
}

// partitionOverlay splits edits into those that apply directly at this tree
// level and those that must recurse into a named subdirectory.
func partitionOverlay(overlay []OverlayEdit) (direct []OverlayEdit, nested map[string][]OverlayEdit) {
	nested = make(map[string][]OverlayEdit)

	for _, edit := range overlay {
		name, rest, isNested := strings.Cut(edit.Path, "/")
		if !isNested {
			direct = append(direct, edit)

			continue
		}

		nested[name] = append(nested[name], OverlayEdit{Path: rest, Content: edit.Content})
	}

	return direct, nested
}

// applyDirectEdit upserts or removes a single top-level blob entry.
func applyDirectEdit(repo *git2go.Repository, builder *git2go.TreeBuilder, edit OverlayEdit) error {
	if edit.Content == nil {
		// Removing an entry that doesn't exist is a no-op.
		_ = builder.Remove(edit.Path)

		return nil
	}

	oid, err := repo.CreateBlobFromBuffer(edit.Content)
	if err != nil {
		return fmt.Errorf("create blob for %s: %w", edit.Path, err)
	}

	if insertErr := builder.Insert(edit.Path, oid, blobMode); insertErr != nil {
		return fmt.Errorf("insert %s: %w", edit.Path, insertErr)
	}

	return nil
}

// applyNestedEdits resolves (or creates) the subtree named dir under
// baseTree, recursively applies edits to it, and inserts the resulting
// subtree oid back into builder.
func applyNestedEdits(
	repo *git2go.Repository,
	builder *git2go.TreeBuilder,
	baseTree *git2go.Tree,
	dir string,
	edits []OverlayEdit,
) error {
	subBase := lookupSubtree(repo, baseTree, dir)
	if subBase != nil {
		defer subBase.Free()
	}

	subOid, err := buildOverlayTree(repo, subBase, edits)
	if err != nil {
		return fmt.Errorf("build subtree %s: %w", dir, err)
	}

	subTree, err := repo.LookupTree(subOid)
	if err != nil {
		return fmt.Errorf("lookup subtree %s: %w", dir, err)
	}
	defer subTree.Free()

	// An empty subtree (all entries removed) is dropped rather than kept as
	// a dangling empty directory, matching git's own tree semantics.
	if subTree.EntryCount() == 0 {
		_ = builder.Remove(dir)

		return nil
	}

	if insertErr := builder.Insert(dir, subOid, git2go.FilemodeTree); insertErr != nil {
		return fmt.Errorf("insert subtree %s: %w", dir, insertErr)
	}

	return nil
}

// lookupSubtree returns the existing subtree named dir in baseTree, or nil
// if baseTree is nil or has no such entry.
func lookupSubtree(repo *git2go.Repository, baseTree *git2go.Tree, dir string) *git2go.Tree {
	if baseTree == nil {
		return nil
	}

	entry := baseTree.EntryByName(dir)
	if entry == nil || entry.Type != git2go.ObjectTree {
		return nil
	}

	subTree, err := repo.LookupTree(entry.Id)
	if err != nil {
		return nil
	}

	return subTree
}
