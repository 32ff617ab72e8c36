// Package persist implements Syncline's on-disk snapshot format: each
// document is saved as the single differential update exported against an
// empty state vector, i.e. its full current state serialized once.
// Snapshots are best-effort durability; the relay's update log is the
// source of truth on reconnect, so a missing or corrupt snapshot simply
// costs a fresh replay, never data loss.
package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/syncline/syncline/internal/crdt"
	"github.com/syncline/syncline/internal/logger"
)

// Store manages snapshot files under root/.syncline.
type Store struct {
	dir string
}

// Open returns a snapshot store rooted at <root>/.syncline, creating the
// directory if necessary.
func Open(root string) (*Store, error) {
	dir := filepath.Join(root, ".syncline")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the snapshot directory, e.g. for the reconciler's exclude set.
func (s *Store) Dir() string { return s.dir }

// pathFor encodes doc_id into a snapshot filename by replacing path
// separators with underscores, per §4.5.
func (s *Store) pathFor(docID string) string {
	encoded := strings.NewReplacer("/", "_", string(os.PathSeparator), "_").Replace(docID)
	return filepath.Join(s.dir, encoded+".snap")
}

// Save encodes doc's full current state and atomically replaces its
// snapshot file (write to a temp file, then rename, so a crash mid-write
// never leaves a half-written snapshot behind).
func (s *Store) Save(docID string, doc *crdt.Doc) error {
	data := doc.ExportFull()
	if data == nil {
		data = []byte{}
	}
	path := s.pathFor(docID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("persist: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("persist: rename %s: %w", tmp, err)
	}
	return nil
}

// Load reads docID's snapshot and applies it as an update into a fresh
// document of the given kind. A missing or corrupt snapshot yields a fresh
// empty document rather than an error — the server's update log will
// replay whatever this replica is missing.
func (s *Store) Load(docID string, kind crdt.Kind) *crdt.Doc {
	doc := newDoc(kind)
	path := s.pathFor(docID)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("persist: read %s: %v", path, err)
		}
		return doc
	}
	if len(data) == 0 {
		return doc
	}
	if err := doc.ApplyUpdate(data); err != nil {
		logger.Warn("persist: corrupt snapshot %s, starting fresh: %v", path, err)
		return newDoc(kind)
	}
	return doc
}

// MergeIncremental loads docID's snapshot, applies update to the loaded
// (temporary) document, and saves the result — without ever opening a
// transaction on the caller's live document. This is the form an observer
// callback must use: observers run inside the live document's own mutating
// transaction, so serializing that same document from inside its own
// observer would deadlock or corrupt state (see the design notes on
// observer re-entrancy).
func (s *Store) MergeIncremental(docID string, kind crdt.Kind, update []byte) error {
	tmp := s.Load(docID, kind)
	if err := tmp.ApplyUpdate(update); err != nil {
		return fmt.Errorf("persist: merge incremental for %s: %w", docID, err)
	}
	return s.Save(docID, tmp)
}

// Delete removes docID's snapshot file, if any. Used when a file is
// removed via the index document.
func (s *Store) Delete(docID string) error {
	path := s.pathFor(docID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("persist: delete %s: %w", path, err)
	}
	return nil
}

func newDoc(kind crdt.Kind) *crdt.Doc {
	if kind == crdt.KindMap {
		return crdt.NewMapDoc(crdt.NewClientID())
	}
	return crdt.NewTextDoc(crdt.NewClientID())
}
