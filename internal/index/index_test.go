package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/syncline/syncline/internal/crdt"
	"github.com/syncline/syncline/internal/persist"
	"github.com/syncline/syncline/internal/reconcile"
	"github.com/syncline/syncline/internal/syncclient"
)

func newTestIndex(t *testing.T) (*Index, *reconcile.Reconciler) {
	t.Helper()
	root := t.TempDir()
	ps, err := persist.Open(root)
	require.NoError(t, err)

	client := syncclient.New("ws://127.0.0.1:0/sync")
	reg := reconcile.NewFileRegistry()
	rec, err := reconcile.New(reconcile.Config{Root: root, Extensions: []string{"md"}}, client, ps, reg)
	require.NoError(t, err)

	return Open(client, ps, rec), rec
}

func TestIndexAddLocalSetsKey(t *testing.T) {
	idx, _ := newTestIndex(t)
	idx.AddLocal("note.md")
	require.Contains(t, idx.Doc().Keys(), "note.md")
}

func TestIndexRemoveLocalClearsKey(t *testing.T) {
	idx, _ := newTestIndex(t)
	idx.AddLocal("note.md")
	idx.RemoveLocal("note.md")
	require.NotContains(t, idx.Doc().Keys(), "note.md")
}

// TestIndexRemoteInsertClaimsFileSync is §4.7's "remote insert triggers a
// file-sync claim" in isolation: an update originating entirely from
// another replica's map still starts file sync locally once applied.
func TestIndexRemoteInsertClaimsFileSync(t *testing.T) {
	idx, rec := newTestIndex(t)

	remote := crdt.NewMapDoc(crdt.NewClientID())
	_, err := remote.SetKey("remote.md", []byte("1"))
	require.NoError(t, err)

	update := remote.ExportUpdate(idx.Doc().StateVector())
	require.NoError(t, idx.Doc().ApplyUpdate(update))

	require.Eventually(t, func() bool {
		_, ok := rec.Registry().Get("remote.md")
		return ok
	}, time.Second, 10*time.Millisecond)
}

// TestIndexRemoveLocalTriggersFileDeletion covers the symmetric case: a key
// removed from the index (local or remote origin — the observer can't tell
// the difference, by design) drives the reconciler's deletion path.
func TestIndexRemoveLocalTriggersFileDeletion(t *testing.T) {
	idx, rec := newTestIndex(t)
	idx.AddLocal("gone.md")

	require.Eventually(t, func() bool {
		_, ok := rec.Registry().Get("gone.md")
		return ok
	}, time.Second, 10*time.Millisecond)

	idx.RemoveLocal("gone.md")

	require.Eventually(t, func() bool {
		_, ok := rec.Registry().Get("gone.md")
		return !ok
	}, time.Second, 10*time.Millisecond)
}
