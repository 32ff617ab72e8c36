package reconcile

import (
	"sync"

	"github.com/syncline/syncline/internal/crdt"
)

// ActiveFile is the bookkeeping kept for one path under live two-way sync:
// its document handle, the write-transaction lock external callers must
// hold while mutating (or reading-then-mutating) the document, and the
// inbound observer subscription, retained for the document's lifetime per
// the design notes on observer lifetime — dropping it silently stops
// delivery.
type ActiveFile struct {
	RelPath string
	Doc     *crdt.Doc
	TxnLock *sync.Mutex

	cancelObserver func()
}

// FileRegistry implements the three-state machine §4.6 describes for a
// tracked path: unclaimed -> pending (a claim is in flight) -> active (sync
// established), with a path that fails to reach active released back to
// unclaimed rather than left stuck. A mutex with short critical sections is
// sufficient; nothing here does I/O.
type FileRegistry struct {
	mu      sync.Mutex
	active  map[string]*ActiveFile
	pending map[string]bool
}

// NewFileRegistry returns an empty registry.
func NewFileRegistry() *FileRegistry {
	return &FileRegistry{
		active:  make(map[string]*ActiveFile),
		pending: make(map[string]bool),
	}
}

// TryClaim marks relPath pending if it is neither pending nor active,
// reporting success. A burst of watcher events for the same new path must
// not start two competing file-sync flows, which is what this guards.
func (r *FileRegistry) TryClaim(relPath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[relPath] {
		return false
	}
	if _, ok := r.active[relPath]; ok {
		return false
	}
	r.pending[relPath] = true
	return true
}

// Activate promotes a claimed path to active. Calling it without a prior
// claim is a programmer error.
func (r *FileRegistry) Activate(relPath string, af *ActiveFile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pending[relPath] {
		panic("reconcile: Activate called without a prior claim for " + relPath)
	}
	delete(r.pending, relPath)
	r.active[relPath] = af
}

// Release returns a failed claim to unclaimed.
func (r *FileRegistry) Release(relPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, relPath)
}

// Get returns the active entry for relPath, if any.
func (r *FileRegistry) Get(relPath string) (*ActiveFile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	af, ok := r.active[relPath]
	return af, ok
}

// IsTracked reports whether relPath is active or mid-claim.
func (r *FileRegistry) IsTracked(relPath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[relPath] {
		return true
	}
	_, ok := r.active[relPath]
	return ok
}

// Unclaim removes relPath from the registry entirely and cancels its
// inbound observer, used by the deletion path once the index document has
// lost the corresponding key.
func (r *FileRegistry) Unclaim(relPath string) {
	r.mu.Lock()
	af, ok := r.active[relPath]
	delete(r.active, relPath)
	delete(r.pending, relPath)
	r.mu.Unlock()
	if ok && af.cancelObserver != nil {
		af.cancelObserver()
	}
}
