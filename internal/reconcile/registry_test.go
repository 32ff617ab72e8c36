package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncline/syncline/internal/crdt"
)

func TestFileRegistryClaimActivateUnclaim(t *testing.T) {
	reg := NewFileRegistry()

	require.True(t, reg.TryClaim("note.md"))
	require.False(t, reg.TryClaim("note.md"), "double claim must fail")
	require.True(t, reg.IsTracked("note.md"))

	af := &ActiveFile{RelPath: "note.md", Doc: crdt.NewTextDoc(crdt.NewClientID())}
	reg.Activate("note.md", af)

	got, ok := reg.Get("note.md")
	require.True(t, ok)
	require.Same(t, af, got)
	require.False(t, reg.TryClaim("note.md"), "active paths cannot be reclaimed")

	reg.Unclaim("note.md")
	_, ok = reg.Get("note.md")
	require.False(t, ok)
	require.True(t, reg.TryClaim("note.md"), "unclaimed path can be reclaimed")
}

func TestFileRegistryReleaseReturnsToUnclaimed(t *testing.T) {
	reg := NewFileRegistry()
	require.True(t, reg.TryClaim("draft.txt"))
	reg.Release("draft.txt")
	require.False(t, reg.IsTracked("draft.txt"))
	require.True(t, reg.TryClaim("draft.txt"))
}

func TestFileRegistryUnclaimCancelsObserver(t *testing.T) {
	reg := NewFileRegistry()
	require.True(t, reg.TryClaim("x.md"))

	cancelled := false
	af := &ActiveFile{
		RelPath:        "x.md",
		Doc:            crdt.NewTextDoc(crdt.NewClientID()),
		cancelObserver: func() { cancelled = true },
	}
	reg.Activate("x.md", af)
	reg.Unclaim("x.md")
	require.True(t, cancelled)
}
