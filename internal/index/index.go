// Package index implements the replicated directory index described in
// §4.7: the distinguished "__index__" document, a keyed map of watched
// relative paths, whose mutations — local or remote — drive file discovery
// and deletion across the reconciler.
package index

import (
	"sync"

	"github.com/syncline/syncline/internal/crdt"
	"github.com/syncline/syncline/internal/logger"
	"github.com/syncline/syncline/internal/persist"
	"github.com/syncline/syncline/internal/reconcile"
	"github.com/syncline/syncline/internal/syncclient"
)

// DocID is the well-known document identifier for the replicated index.
const DocID = "__index__"

// presenceMarker is the opaque value §3 allows for index entries; only key
// presence is meaningful, so any stable non-empty marker works.
var presenceMarker = []byte("1")

// Index owns the index document and wires the reconciler's local-discovery
// and local-deletion hooks to it, and its own remote/local mutations back
// into the reconciler's claim and deletion paths.
type Index struct {
	doc     *crdt.Doc
	txnLock *sync.Mutex
	rec     *reconcile.Reconciler
}

// Open loads or creates the index document, registers its observer, and
// subscribes it over client — observer before AddDoc, matching the ordering
// every document subscription in this codebase uses so an immediate reply
// can never race ahead of the registry entry it needs. It also wires the
// reconciler's IndexHooks so locally discovered and locally deleted paths
// flow back into this document.
func Open(client *syncclient.Client, ps *persist.Store, rec *reconcile.Reconciler) *Index {
	doc := ps.Load(DocID, crdt.KindMap)

	idx := &Index{doc: doc, rec: rec}
	doc.Observe(idx.onChange)
	idx.txnLock = client.AddDoc(DocID, doc)

	rec.SetIndexHooks(reconcile.IndexHooks{
		OnLocalFileDiscovered: idx.AddLocal,
		OnLocalFileDeleted:    idx.RemoveLocal,
	})

	return idx
}

// Doc exposes the underlying document, e.g. for bootstrap's initial scan to
// read Keys().
func (idx *Index) Doc() *crdt.Doc { return idx.doc }

// AddLocal records relPath as present, e.g. once the reconciler has claimed
// and activated a newly discovered local file.
func (idx *Index) AddLocal(relPath string) {
	idx.txnLock.Lock()
	defer idx.txnLock.Unlock()
	if _, err := idx.doc.SetKey(relPath, presenceMarker); err != nil {
		logger.Warn("index: set key %s: %v", relPath, err)
	}
}

// RemoveLocal removes relPath, e.g. once the watcher observes it vanish
// locally.
func (idx *Index) RemoveLocal(relPath string) {
	idx.txnLock.Lock()
	defer idx.txnLock.Unlock()
	if _, err := idx.doc.DeleteKey(relPath); err != nil {
		logger.Warn("index: delete key %s: %v", relPath, err)
	}
}

// onChange fires for every mutation to the index document, local or
// remote. A newly visible key starts file sync for that path — a no-op if
// it is already active, which is the common case for a locally-originated
// insert, since the reconciler only calls AddLocal after it has already
// claimed and activated the path. A removed key drives the deletion path,
// which is likewise harmless to run again for a path this replica already
// deleted itself. Both calls touch disk, so each runs on its own goroutine
// rather than blocking the index document's own mutating transaction.
func (idx *Index) onChange(u crdt.Update) {
	for _, s := range u.Sets {
		path := s.Key
		go idx.rec.ClaimAndStart(path)
	}
	for _, d := range u.Dels {
		path := d.Key
		go idx.rec.DeleteFileAndUnclaim(path)
	}
}
