// Package overlay implements the per-workspace file overlay: a concurrent
// in-memory store of Added/Modified/Deleted entries keyed by path, mirrored
// durably to disk so a workspace survives a daemon restart. Entries live in
// hash-selected shards, each behind its own sync.RWMutex. Reads never wait
// for one another, but they are not wait-free: a write holds its shard's
// lock across the durable mirror write, so reads and writes of other paths
// in the same shard wait for it.
package overlay

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
)

// ChangeType identifies how an overlay entry relates to the base tree.
type ChangeType string

// Overlay change types.
const (
	Added    ChangeType = "added"
	Modified ChangeType = "modified"
	Deleted  ChangeType = "deleted"
)

// Entry is one path's overlay state.
type Entry struct {
	Path       string
	Content    []byte // nil when ChangeType is Deleted
	Hash       string
	ChangeType ChangeType
}

const shardCount = 32

// Overlay is a sharded, per-shard-locking file store for a single workspace.
// Reads never block other reads, and paths in different shards never
// contend; a read or write waits for a write to any path in its own shard.
// Writes to the same path are totally ordered (last writer wins).
type Overlay struct {
	shards [shardCount]*shard
	mirror *Mirror // nil disables durable mirroring (tests, ephemeral-only use)
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New constructs an empty overlay. A nil mirror disables durable
// persistence — the overlay exists purely in memory.
func New(mirror *Mirror) *Overlay {
	ov := &Overlay{mirror: mirror}
	for i := range ov.shards {
		ov.shards[i] = &shard{entries: make(map[string]Entry)}
	}

	return ov
}

func (o *Overlay) shardFor(path string) *shard {
	sum := sha256.Sum256([]byte(path))

	return o.shards[sum[0]%shardCount]
}

// Get returns the overlay entry for path, if any.
func (o *Overlay) Get(path string) (Entry, bool) {
	sh := o.shardFor(path)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e, ok := sh.entries[path]

	return e, ok
}

// Write upserts path with content, marking it Added when isNew is true
// (path did not exist in the base tree) and Modified otherwise. Idempotent:
// writing the same (path, content) twice yields one logical entry with the
// same hash, per §8's round-trip law.
func (o *Overlay) Write(path string, content []byte, isNew bool) (Entry, error) {
	hash := hashContent(content)
	changeType := Modified

	if isNew {
		changeType = Added
	}

	entry := Entry{Path: path, Content: content, Hash: hash, ChangeType: changeType}

	sh := o.shardFor(path)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	// Mirror write sequenced before the in-memory insert: a crash between
	// the two leaves the mirror authoritative, never the reverse.
	if o.mirror != nil {
		if err := o.mirror.Save(path, entry); err != nil {
			return Entry{}, err
		}
	}

	sh.entries[path] = entry

	return entry, nil
}

// Delete marks path as removed from the workspace's view.
func (o *Overlay) Delete(path string) error {
	entry := Entry{Path: path, ChangeType: Deleted}

	sh := o.shardFor(path)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if o.mirror != nil {
		if err := o.mirror.Save(path, entry); err != nil {
			return err
		}
	}

	sh.entries[path] = entry

	return nil
}

// Revert removes path from the overlay entirely, as if it had never been
// touched: both the in-memory entry and its durable mirror are discarded,
// so list_files and the next restart-restore no longer see it.
func (o *Overlay) Revert(path string) error {
	sh := o.shardFor(path)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if o.mirror != nil {
		if err := o.mirror.Remove(path); err != nil {
			return err
		}
	}

	delete(sh.entries, path)

	return nil
}

// ListPaths returns every tracked path (added, modified, or deleted),
// sorted.
func (o *Overlay) ListPaths() []string {
	entries := o.Entries()
	paths := make([]string, len(entries))

	for i, e := range entries {
		paths[i] = e.Path
	}

	sort.Strings(paths)

	return paths
}

// TotalBytes sums the content length of every tracked entry. Deleted
// entries contribute zero since their Content is nil.
func (o *Overlay) TotalBytes() int {
	total := 0

	for _, e := range o.Entries() {
		total += len(e.Content)
	}

	return total
}

// RestoreFromMirror repopulates the overlay's in-memory state from its
// durable mirror. Called once, when a workspace is rehydrated after a
// daemon restart; a no-op when the overlay has no mirror.
func (o *Overlay) RestoreFromMirror() error {
	if o.mirror == nil {
		return nil
	}

	entries, err := o.mirror.Load()
	if err != nil {
		return err
	}

	for _, entry := range entries {
		sh := o.shardFor(entry.Path)

		sh.mu.Lock()
		sh.entries[entry.Path] = entry
		sh.mu.Unlock()
	}

	return nil
}

// Entries returns a snapshot of every overlay entry, for materialization
// into a git overlay edit list and for list_files.
func (o *Overlay) Entries() []Entry {
	var out []Entry

	for _, sh := range o.shards {
		sh.mu.RLock()

		for _, e := range sh.entries {
			out = append(out, e)
		}

		sh.mu.RUnlock()
	}

	return out
}

// Len returns the number of tracked overlay entries (added + modified +
// deleted).
func (o *Overlay) Len() int {
	n := 0
	for _, sh := range o.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}

	return n
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)

	return hex.EncodeToString(sum[:])
}
