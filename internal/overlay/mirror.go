package overlay

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/nsicore/nsi/internal/persist"
)

// mirrorBasename is the filename prefix for one path's mirrored entry;
// actual files live under <stateDir>/entry-<sha256(path)[:16]>.gob.lz4.
const mirrorBasename = "entry"

// Mirror durably persists overlay entries to disk, one file per path,
// gob-encoded and lz4-compressed. A write failure leaves the in-memory
// overlay unchanged and is propagated to the caller as a Transient error
// (§7): the overlay's Write/Delete methods only update in-memory state
// after the mirror write succeeds.
type Mirror struct {
	dir    string
	codec  *persist.GobCodec
	mu     sync.Mutex // serializes the durable write path per §5
}

// NewMirror creates a durable mirror rooted at dir, creating it if needed.
func NewMirror(dir string) (*Mirror, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create overlay mirror dir: %w", err)
	}

	return &Mirror{dir: dir, codec: persist.NewGobCodec()}, nil
}

// Save persists one overlay entry under its path-derived filename.
func (m *Mirror) Save(path string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var buf bytes.Buffer
	if err := m.codec.Encode(&buf, entry); err != nil {
		return fmt.Errorf("encode overlay entry for %s: %w", path, err)
	}

	target := m.pathFor(path)

	file, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create mirror file for %s: %w", path, err)
	}
	defer file.Close()

	writer := lz4.NewWriter(file)
	if _, err := writer.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("compress mirror entry for %s: %w", path, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("flush mirror entry for %s: %w", path, err)
	}

	return nil
}

// Load restores every entry previously mirrored to disk, used to rebuild an
// overlay in memory after a daemon restart recovers a persistent workspace.
func (m *Mirror) Load() ([]Entry, error) {
	files, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("read mirror dir: %w", err)
	}

	var out []Entry

	for _, f := range files {
		if f.IsDir() {
			continue
		}

		entry, err := m.loadFile(filepath.Join(m.dir, f.Name()))
		if err != nil {
			return nil, err
		}

		out = append(out, entry)
	}

	return out, nil
}

func (m *Mirror) loadFile(path string) (Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return Entry{}, fmt.Errorf("open mirror file %s: %w", path, err)
	}
	defer file.Close()

	reader := lz4.NewReader(file)

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return Entry{}, fmt.Errorf("decompress mirror file %s: %w", path, err)
	}

	var entry Entry
	if err := m.codec.Decode(bytes.NewReader(decompressed), &entry); err != nil {
		return Entry{}, fmt.Errorf("decode mirror file %s: %w", path, err)
	}

	return entry, nil
}

// Remove deletes path's mirrored file, if any. Used by Overlay.Revert so a
// reverted path does not reappear on the next restart-restore.
func (m *Mirror) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.pathFor(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove mirror entry for %s: %w", path, err)
	}

	return nil
}

func (m *Mirror) pathFor(path string) string {
	return filepath.Join(m.dir, mirrorBasename+"-"+hashContent([]byte(path))[:16]+".gob.lz4")
}
