// Package reconcile implements the bridge between a mutable file tree and
// the causally-ordered CRDT document set shared with the relay: a debounced
// watcher feeds the outbound (file -> CRDT) path, and a per-document
// observer feeds the inbound (CRDT -> file) path, with a FileRegistry
// preventing a path from being claimed by both directions at once.
package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/karrick/godirwalk"

	"github.com/syncline/syncline/internal/crdt"
	"github.com/syncline/syncline/internal/logger"
	"github.com/syncline/syncline/internal/persist"
	"github.com/syncline/syncline/internal/syncclient"
)

var log = logger.Named("reconcile")

// debounceWindow coalesces a burst of rapid writes (editors frequently save
// in several small syscalls) into one reconciliation pass per file.
const debounceWindow = 200 * time.Millisecond

// Config is the reconciler's watch-side configuration.
type Config struct {
	Root       string
	Extensions []string
	Exclude    []string
}

// IndexHooks lets the index subsystem observe reconciler-local events
// without reconcile importing index — index depends on reconcile, not the
// other way around, so the dependency runs through a callback struct
// instead of an interface import.
type IndexHooks struct {
	// OnLocalFileDiscovered fires once a new local path has been claimed
	// and activated, so the index document can insert its key.
	OnLocalFileDiscovered func(relPath string)
	// OnLocalFileDeleted fires when the watcher observes a tracked path
	// disappear locally, so the index document can remove its key.
	OnLocalFileDeleted func(relPath string)
}

// Reconciler owns the watcher, the debounce timers, and the FileRegistry
// for one replica's tracked directory tree.
type Reconciler struct {
	root       string
	extensions map[string]struct{}
	exclude    map[string]struct{}

	client  *syncclient.Client
	persist *persist.Store
	reg     *FileRegistry

	watcher *fsnotify.Watcher

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	indexHooks IndexHooks
}

// New builds a reconciler. Watching does not start until Run is called.
func New(cfg Config, client *syncclient.Client, ps *persist.Store, reg *FileRegistry) (*Reconciler, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("reconcile: create watcher: %w", err)
	}

	exts := make(map[string]struct{}, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts[strings.TrimPrefix(e, ".")] = struct{}{}
	}
	excl := make(map[string]struct{}, len(cfg.Exclude)+1)
	for _, e := range cfg.Exclude {
		excl[e] = struct{}{}
	}
	excl[".syncline"] = struct{}{} // always skipped, regardless of user configuration

	return &Reconciler{
		root:       cfg.Root,
		extensions: exts,
		exclude:    excl,
		client:     client,
		persist:    ps,
		reg:        reg,
		watcher:    watcher,
		timers:     make(map[string]*time.Timer),
	}, nil
}

// Root returns the replica's canonicalized sync root.
func (r *Reconciler) Root() string { return r.root }

// Registry exposes the file registry for the bootstrap package to consult
// while performing its own claim/activate sequence.
func (r *Reconciler) Registry() *FileRegistry { return r.reg }

// SetIndexHooks wires the reconciler to the index subsystem. Must be called
// before Run.
func (r *Reconciler) SetIndexHooks(h IndexHooks) { r.indexHooks = h }

// ExtensionAllowed reports whether relPath's extension is in the tracked
// allow-list.
func (r *Reconciler) ExtensionAllowed(relPath string) bool {
	ext := strings.TrimPrefix(filepath.Ext(relPath), ".")
	_, ok := r.extensions[ext]
	return ok
}

// PathExcluded reports whether any path component of absPath (relative to
// root) names an excluded directory.
func (r *Reconciler) PathExcluded(absPath string) bool {
	rel, err := filepath.Rel(r.root, absPath)
	if err != nil {
		return true
	}
	if rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if _, ok := r.exclude[part]; ok {
			return true
		}
	}
	return false
}

// Run walks the tree to establish the initial watch set, then services
// watcher events until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	if err := r.watchTree(); err != nil {
		log.Error("initial watch failed", logger.F("root", r.root), logger.F("error", err))
	}

	for {
		select {
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.handleEvent(ev)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("watcher error", logger.F("error", err))
		case <-ctx.Done():
			r.watcher.Close()
			return
		}
	}
}

func (r *Reconciler) watchTree() error {
	return godirwalk.Walk(r.root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if !de.IsDir() {
				return nil
			}
			if r.PathExcluded(path) {
				return filepath.SkipDir
			}
			if err := r.watcher.Add(path); err != nil {
				log.Warn("watch failed", logger.F("path", path), logger.F("error", err))
			}
			return nil
		},
	})
}

func (r *Reconciler) handleEvent(ev fsnotify.Event) {
	rel, err := filepath.Rel(r.root, ev.Name)
	if err != nil || r.PathExcluded(ev.Name) {
		return
	}
	rel = filepath.ToSlash(rel)

	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		if r.ExtensionAllowed(rel) && r.reg.IsTracked(rel) && r.indexHooks.OnLocalFileDeleted != nil {
			r.indexHooks.OnLocalFileDeleted(rel)
		}
		return
	}

	info, statErr := os.Stat(ev.Name)
	if statErr != nil {
		return // vanished between the event firing and this stat
	}
	if info.IsDir() {
		if ev.Op&fsnotify.Create != 0 {
			if err := r.watcher.Add(ev.Name); err != nil {
				log.Warn("watch new dir failed", logger.F("path", ev.Name), logger.F("error", err))
			}
		}
		return
	}

	if !r.ExtensionAllowed(rel) {
		return
	}
	r.debounce(rel)
}

func (r *Reconciler) debounce(rel string) {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	if t, ok := r.timers[rel]; ok {
		t.Reset(debounceWindow)
		return
	}
	r.timers[rel] = time.AfterFunc(debounceWindow, func() {
		r.timersMu.Lock()
		delete(r.timers, rel)
		r.timersMu.Unlock()
		r.reconcileOutbound(rel)
	})
}

// reconcileOutbound implements §4.6's outbound path: claim-and-start for a
// newly discovered path, or a diff-and-apply pass for one already active.
func (r *Reconciler) reconcileOutbound(rel string) {
	if af, ok := r.reg.Get(rel); ok {
		r.applyFileToDoc(af, rel)
		return
	}
	if _, ok := r.startAndActivate(rel); ok && r.indexHooks.OnLocalFileDiscovered != nil {
		r.indexHooks.OnLocalFileDiscovered(rel)
	}
}

// ClaimAndStart starts file sync for relPath if it is not already tracked.
// Used by the index subsystem when a remote peer's insert names a path this
// replica doesn't have active yet (§4.7).
func (r *Reconciler) ClaimAndStart(relPath string) {
	r.startAndActivate(relPath)
}

func (r *Reconciler) startAndActivate(rel string) (*ActiveFile, bool) {
	if !r.reg.TryClaim(rel) {
		return nil, false
	}
	af, err := r.StartFileSync(rel)
	if err != nil {
		log.Warn("start file sync failed", logger.F("path", rel), logger.F("error", err))
		r.reg.Release(rel)
		return nil, false
	}
	r.reg.Activate(rel, af)
	return af, true
}

// StartFileSync implements steps 1-5 of the startup bootstrap procedure
// (§4.8): load-or-create the document, reconcile any on-disk content
// predating this sync session as local CRDT operations — recovering
// offline edits as proper ops rather than a state replacement, so
// concurrent offline edits on other replicas are preserved rather than
// clobbered — persist a snapshot, wire the inbound observer, and subscribe.
// Steps 6-8 (the grace-period safety net, the post-exchange rescan, marking
// the registry entry active) are startup-only and live in package
// bootstrap, which calls this as its core and performs Activate itself.
func (r *Reconciler) StartFileSync(relPath string) (*ActiveFile, error) {
	docID := relPath
	doc := r.persist.Load(docID, crdt.KindText)

	if err := r.reconcileDiskIntoDoc(doc, relPath); err != nil {
		log.Warn("reconcile disk into document failed", logger.F("path", relPath), logger.F("error", err))
	}

	if err := r.persist.Save(docID, doc); err != nil {
		log.Warn("snapshot failed", logger.F("path", relPath), logger.F("error", err))
	}

	af := &ActiveFile{RelPath: relPath, Doc: doc}
	af.cancelObserver = doc.Observe(func(u crdt.Update) {
		go r.handleDocChange(af, u)
	})

	af.TxnLock = r.client.AddDoc(docID, doc)
	return af, nil
}

// reconcileDiskIntoDoc diffs relPath's on-disk content (if any) against
// doc's current text and applies the result as local operations.
func (r *Reconciler) reconcileDiskIntoDoc(doc *crdt.Doc, relPath string) error {
	absPath := filepath.Join(r.root, relPath)
	raw, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	body := encodeFileBody(raw)
	current := string(doc.GetString())
	if current == body {
		return nil
	}
	return ApplyDiffToCRDT(doc, current, body)
}

// applyFileToDoc implements §4.6 outbound steps 4-5 for an already-active
// path: read the file, compare against the document's current content, and
// diff-apply under the per-document transaction lock if it changed.
func (r *Reconciler) applyFileToDoc(af *ActiveFile, rel string) {
	absPath := filepath.Join(r.root, rel)
	raw, err := os.ReadFile(absPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("read failed", logger.F("path", absPath), logger.F("error", err))
		}
		return
	}
	newBody := encodeFileBody(raw)

	af.TxnLock.Lock()
	defer af.TxnLock.Unlock()

	current := string(af.Doc.GetString())
	if current == newBody {
		return
	}
	if err := ApplyDiffToCRDT(af.Doc, current, newBody); err != nil {
		log.Warn("apply diff failed", logger.F("path", rel), logger.F("error", err))
	}
}

// writeDocToFileLocked writes af.Doc's current content to disk, skipping
// the write if it already matches what's there to avoid a watcher feedback
// loop. Caller must hold af.TxnLock.
func (r *Reconciler) writeDocToFileLocked(af *ActiveFile) {
	text := string(af.Doc.GetString())
	raw := decodeFileBody(text)
	absPath := filepath.Join(r.root, af.RelPath)

	existing, err := os.ReadFile(absPath)
	if err != nil && !os.IsNotExist(err) {
		log.Warn("read failed", logger.F("path", absPath), logger.F("error", err))
	}
	if err != nil || !bytes.Equal(existing, raw) {
		if mkErr := os.MkdirAll(filepath.Dir(absPath), 0o755); mkErr != nil {
			log.Warn("mkdir failed", logger.F("path", af.RelPath), logger.F("error", mkErr))
		} else if wErr := os.WriteFile(absPath, raw, 0o644); wErr != nil {
			log.Warn("write failed", logger.F("path", absPath), logger.F("error", wErr))
		}
	}
}

// handleDocChange implements §4.6's inbound path: write the document's
// current content to disk and persist the delta via merge_incremental,
// which never opens a transaction on the live document — see the design
// notes on observer re-entrancy. Always run on its own goroutine, since it
// is invoked from inside the Doc's own mutating transaction and must not
// re-enter it synchronously.
func (r *Reconciler) handleDocChange(af *ActiveFile, u crdt.Update) {
	af.TxnLock.Lock()
	defer af.TxnLock.Unlock()

	r.writeDocToFileLocked(af)

	if delta := crdt.Encode(u); len(delta) > 0 {
		if err := r.persist.MergeIncremental(af.RelPath, crdt.KindText, delta); err != nil {
			log.Warn("merge snapshot failed", logger.F("path", af.RelPath), logger.F("error", err))
		}
	}
}

// SnapshotAndRewrite persists af's full current state to disk and rewrites
// the file to match — the startup safety net of §4.8 step 6, run after the
// grace period given to the first post-subscribe sync exchange.
func (r *Reconciler) SnapshotAndRewrite(af *ActiveFile) {
	af.TxnLock.Lock()
	defer af.TxnLock.Unlock()

	if err := r.persist.Save(af.RelPath, af.Doc); err != nil {
		log.Warn("snapshot failed", logger.F("path", af.RelPath), logger.F("error", err))
	}
	r.writeDocToFileLocked(af)
}

// ReconcileOnce runs one outbound reconciliation pass for an already-active
// path outside the watcher's debounce window — §4.8 step 7, catching a file
// that changed on disk during startup before the watcher was attached.
func (r *Reconciler) ReconcileOnce(relPath string) {
	if af, ok := r.reg.Get(relPath); ok {
		r.applyFileToDoc(af, relPath)
	}
}

// DeleteFileAndUnclaim implements the deletion path (§4.6/§4.7): remove the
// physical file if present, remove its snapshot, stop its sync
// subscription, and release the registry claim so a later recreation of the
// same path can be claimed fresh.
func (r *Reconciler) DeleteFileAndUnclaim(relPath string) {
	absPath := filepath.Join(r.root, relPath)
	if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
		log.Warn("delete failed", logger.F("path", absPath), logger.F("error", err))
	}
	if err := r.persist.Delete(relPath); err != nil {
		log.Warn("delete snapshot failed", logger.F("path", relPath), logger.F("error", err))
	}
	r.client.RemoveDoc(relPath)
	r.reg.Unclaim(relPath)
}
