// Package bootstrap implements the client daemon's startup sequence
// (§4.8): canonicalize the sync root, scan the tree, restore or create a
// CRDT document per tracked file, merge whatever changed on disk while this
// replica was offline as proper operations, and subscribe everything before
// handing control to the long-running watcher and connect loops.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/karrick/godirwalk"

	"github.com/syncline/syncline/internal/index"
	"github.com/syncline/syncline/internal/logger"
	"github.com/syncline/syncline/internal/persist"
	"github.com/syncline/syncline/internal/reconcile"
	"github.com/syncline/syncline/internal/syncclient"
)

// gracePeriod is how long step 6 waits for the first post-subscribe sync
// exchange to land before the safety-net re-snapshot and re-write.
const gracePeriod = 300 * time.Millisecond

// Config is the bootstrap's input: where to sync, what to track, and where
// to connect.
type Config struct {
	URL        string
	Root       string
	Extensions []string
	Exclude    []string
}

// Bootstrap holds the live components a caller must keep running (Client.Run
// and Reconciler.Run, each in their own goroutine) for the life of the
// process, plus the index and snapshot store it wired them to.
type Bootstrap struct {
	Client     *syncclient.Client
	Reconciler *reconcile.Reconciler
	Index      *index.Index
	Persist    *persist.Store
	Root       string
}

// Run performs the full startup sequence and returns once every discovered
// file has been claimed, diffed against its restored snapshot, and
// subscribed. It does not start the reconciler's watcher loop or the sync
// client's connect loop — the caller does that with the returned
// Bootstrap's Reconciler.Run and Client.Run.
func Run(ctx context.Context, cfg Config) (*Bootstrap, error) {
	root, err := canonicalize(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: resolve root %s: %w", cfg.Root, err)
	}

	ps, err := persist.Open(root)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open snapshot store: %w", err)
	}

	reg := reconcile.NewFileRegistry()
	client := syncclient.New(cfg.URL)
	rec, err := reconcile.New(reconcile.Config{
		Root:       root,
		Extensions: cfg.Extensions,
		Exclude:    cfg.Exclude,
	}, client, ps, reg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create reconciler: %w", err)
	}

	idx := index.Open(client, ps, rec)

	paths, err := scan(ctx, root, rec)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: scan %s: %w", root, err)
	}

	known := make(map[string]bool, len(idx.Doc().Keys()))
	for _, k := range idx.Doc().Keys() {
		known[k] = true
	}

	for _, rel := range paths {
		startFileSync(rec, rel)
		if !known[rel] {
			idx.AddLocal(rel)
		}
	}

	// A key the index already names but that isn't present on this
	// replica's disk (created elsewhere while this one was offline, or
	// simply never downloaded yet) gets claimed the same way a live
	// remote insert would; ClaimAndStart is a no-op for paths already
	// active, so this is safe to run unconditionally.
	for _, rel := range idx.Doc().Keys() {
		rec.ClaimAndStart(rel)
	}

	logger.Info("bootstrap: ready, tracking %d local file(s)", len(paths))
	return &Bootstrap{Client: client, Reconciler: rec, Index: idx, Persist: ps, Root: root}, nil
}

// canonicalize resolves symlinks in root once at startup, matching the
// original implementation's LocalState::get_doc_id behavior, so that
// symlink-aliased paths (e.g. /var vs /private/var on macOS) can't produce
// two different relative-path derivations for the same file across
// replicas or across a single replica's own restarts.
func canonicalize(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// scan walks root, returning every relative path that passes the
// reconciler's extension allow-list and exclude set.
func scan(ctx context.Context, root string, rec *reconcile.Reconciler) ([]string, error) {
	var out []string
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if de.IsDir() {
				if path != root && rec.PathExcluded(path) {
					return filepath.SkipDir
				}
				return nil
			}
			if rec.PathExcluded(path) {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if !rec.ExtensionAllowed(rel) {
				return nil
			}
			out = append(out, rel)
			return nil
		},
	})
	return out, err
}

// startFileSync runs the full §4.8 procedure for one discovered path: claim
// it, delegate steps 1-5 to the reconciler, wait out the grace period for
// the first sync exchange, re-snapshot and re-write as a safety net, mark
// the registry entry active, then run one more reconciliation pass in case
// the file changed mid-startup (ReconcileOnce only acts on an active entry,
// so it runs after Activate). A claim failure (already claimed by a
// concurrent watcher event) is not an error — it means another path to
// activation already won the race.
func startFileSync(rec *reconcile.Reconciler, relPath string) {
	reg := rec.Registry()
	if !reg.TryClaim(relPath) {
		return
	}

	af, err := rec.StartFileSync(relPath)
	if err != nil {
		logger.Warn("bootstrap: start file sync for %s: %v", relPath, err)
		reg.Release(relPath)
		return
	}

	time.Sleep(gracePeriod)

	rec.SnapshotAndRewrite(af)

	reg.Activate(relPath, af)
	rec.ReconcileOnce(relPath)
}
