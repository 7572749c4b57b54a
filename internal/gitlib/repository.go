// Package gitlib wraps libgit2 (via git2go) with the narrow surface the NSI
// core needs: reading blobs out of a commit tree, listing tree files, and
// building and committing a new tree from a base commit plus an overlay of
// path -> content/deletion edits. It intentionally does not expose general
// git plumbing (remotes, refs, branches, history walking) — that is out of
// scope; the system integrates with an existing object store rather than
// replacing it.
package gitlib

import (
	"errors"
	"fmt"

	git2go "github.com/libgit2/git2go/v34"
)

// Sentinel errors for the tree/commit contract in §4.C of the design.
var (
	ErrNotFound     = errors.New("path not found in tree")
	ErrNotABlob     = errors.New("path does not resolve to a blob")
	ErrBadCommit    = errors.New("commit is not a valid or resolvable oid")
	ErrEmptyOverlay = errors.New("overlay is empty")
)

// Repository wraps a libgit2 repository. Objects it returns (trees, commits,
// blobs) are not safe to hold across a suspension point — acquire, use, and
// free within a single synchronous region.
type Repository struct {
	repo *git2go.Repository
	path string
}

// OpenRepository opens a git repository at the given path.
func OpenRepository(path string) (*Repository, error) {
	repo, err := git2go.OpenRepository(path)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	return &Repository{repo: repo, path: path}, nil
}

// Path returns the repository path.
func (r *Repository) Path() string {
	return r.path
}

// Free releases the repository resources.
func (r *Repository) Free() {
	if r.repo != nil {
		r.repo.Free()
		r.repo = nil
	}
}

// Native returns the underlying libgit2 repository for advanced operations.
func (r *Repository) Native() *git2go.Repository {
	return r.repo
}

// HeadHash returns the HEAD commit hash, or (Hash{}, false) if the repository
// has no commits yet.
func (r *Repository) HeadHash() (Hash, bool) {
	ref, err := r.repo.Head()
	if err != nil {
		return Hash{}, false
	}
	defer ref.Free()

	return HashFromOid(ref.Target()), true
}

// LookupCommit returns the commit with the given hash.
func (r *Repository) LookupCommit(hash Hash) (*Commit, error) {
	commit, err := r.repo.LookupCommit(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup commit: %w", err)
	}

	return &Commit{commit: commit, repo: r}, nil
}

// CommitFromHex resolves a hex commit string to a Commit.
func (r *Repository) CommitFromHex(hex string) (*Commit, error) {
	oid, err := git2go.NewOid(hex)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadCommit, hex)
	}

	commit, err := r.repo.LookupCommit(oid)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadCommit, hex)
	}

	return &Commit{commit: commit, repo: r}, nil
}

// LookupBlob returns the blob with the given hash.
func (r *Repository) LookupBlob(hash Hash) (*Blob, error) {
	blob, err := r.repo.LookupBlob(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup blob: %w", err)
	}

	return &Blob{blob: blob}, nil
}

// LookupTree returns the tree with the given hash.
func (r *Repository) LookupTree(hash Hash) (*Tree, error) {
	tree, err := r.repo.LookupTree(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup tree: %w", err)
	}

	return &Tree{tree: tree, repo: r}, nil
}

// treeForCommit resolves a commit hash to its tree. A zero hash resolves to
// nil (the empty tree), used when there is no base (the repository's first
// commit).
func (r *Repository) treeForCommit(hash Hash) (*git2go.Tree, error) {
	if hash.IsZero() {
		return nil, nil //nolint:nilnil // nil tree is a legal "empty base" sentinel here
	}

	commit, err := r.repo.LookupCommit(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadCommit, hash)
	}
	defer commit.Free()

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("commit tree: %w", err)
	}

	return tree, nil
}

// ReadTreeEntry reads the blob contents at path inside the tree of
// commitHex. Returns ErrBadCommit, ErrNotFound, or ErrNotABlob per the §4.C
// contract.
func (r *Repository) ReadTreeEntry(commitHex, path string) ([]byte, error) {
	commit, err := r.CommitFromHex(commitHex)
	if err != nil {
		return nil, err
	}
	defer commit.Free()

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("commit tree: %w", err)
	}
	defer tree.Free()

	entry, err := tree.EntryByPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	if !entry.IsBlob() {
		return nil, fmt.Errorf("%w: %s", ErrNotABlob, path)
	}

	blob, err := r.LookupBlob(entry.Hash())
	if err != nil {
		return nil, fmt.Errorf("lookup blob for %s: %w", path, err)
	}
	defer blob.Free()

	contents := blob.Contents()
	out := make([]byte, len(contents))
	copy(out, contents)

	return out, nil
}

// ListTreeFiles returns the forward-slash relative paths of every blob in
// the tree of commitHex.
func (r *Repository) ListTreeFiles(commitHex string) ([]string, error) {
	commit, err := r.CommitFromHex(commitHex)
	if err != nil {
		return nil, err
	}
	defer commit.Free()

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("commit tree: %w", err)
	}
	defer tree.Free()

	files, err := TreeFiles(r, tree)
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Name
	}

	return paths, nil
}

// OverlayEdit is one path's worth of pending change for CommitTreeOverlay: a
// non-nil Content upserts a blob at Path, nil removes it.
type OverlayEdit struct {
	Path    string
	Content []byte // nil means delete
}

// CommitTreeOverlay starts from the tree of baseCommit, applies each overlay
// edit (upsert or remove), writes the resulting tree, and creates a commit on
// top of parentCommit. An empty overlay is legal and yields a commit with the
// base tree unchanged.
func (r *Repository) CommitTreeOverlay(
	baseCommit Hash,
	overlay []OverlayEdit,
	parentCommit Hash,
	message string,
	author, committer Signature,
) (Hash, error) {
	baseTree, err := r.treeForCommit(baseCommit)
	if err != nil {
		return Hash{}, err
	}

	if baseTree != nil {
		defer baseTree.Free()
	}

	newTreeOid, err := buildOverlayTree(r.repo, baseTree, overlay)
	if err != nil {
		return Hash{}, err
	}

	newTree, err := r.repo.LookupTree(newTreeOid)
	if err != nil {
		return Hash{}, fmt.Errorf("lookup new tree: %w", err)
	}
	defer newTree.Free()

	var parents []*git2go.Commit

	if !parentCommit.IsZero() {
		parent, parentErr := r.repo.LookupCommit(parentCommit.ToOid())
		if parentErr != nil {
			return Hash{}, fmt.Errorf("%w: %s", ErrBadCommit, parentCommit)
		}
		defer parent.Free()

		parents = []*git2go.Commit{parent}
	}

	authorSig := &git2go.Signature{Name: author.Name, Email: author.Email, When: author.When}
	committerSig := &git2go.Signature{Name: committer.Name, Email: committer.Email, When: committer.When}

	newOid, err := r.repo.CreateCommit("HEAD", authorSig, committerSig, message, newTree, parents...)
	if err != nil {
		return Hash{}, fmt.Errorf("create commit: %w", err)
	}

	return HashFromOid(newOid), nil
}
