package persist

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncline/syncline/internal/crdt"
)

// TestSnapshotRoundTrip is property P5: load(save(doc)).get_string =
// doc.get_string for any document.
func TestSnapshotRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	doc := crdt.NewTextDoc(1)
	_, _ = doc.InsertText(0, []byte("hello world"))
	_, _ = doc.DeleteRangeText(5, 6)

	require.NoError(t, s.Save("notes/a.md", doc))
	loaded := s.Load("notes/a.md", crdt.KindText)
	require.Equal(t, string(doc.GetString()), string(loaded.GetString()))
}

func TestLoadMissingSnapshotReturnsFresh(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	doc := s.Load("never/written.md", crdt.KindText)
	require.Empty(t, doc.GetString())
}

func TestPathEncodingReplacesSeparators(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "notes_sub_a.md.snap", filepathBase(s.pathFor("notes/sub/a.md")))
}

func TestMergeIncrementalDoesNotTouchLiveDocument(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	live := crdt.NewTextDoc(1)
	_, _ = live.InsertText(0, []byte("seed"))
	require.NoError(t, s.Save("doc", live))

	remote := crdt.NewTextDoc(2)
	_, _ = remote.InsertText(4, []byte("-extra"))
	update := remote.ExportFull()

	require.NoError(t, s.MergeIncremental("doc", crdt.KindText, update))

	// live is untouched: MergeIncremental must operate on a separate temp
	// document, never the caller's live handle.
	require.Equal(t, "seed", string(live.GetString()))

	merged := s.Load("doc", crdt.KindText)
	require.Contains(t, string(merged.GetString()), "seed")
}

func TestDeleteRemovesSnapshot(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	doc := crdt.NewTextDoc(1)
	_, _ = doc.InsertText(0, []byte("gone soon"))
	require.NoError(t, s.Save("doomed.txt", doc))
	require.NoError(t, s.Delete("doomed.txt"))

	fresh := s.Load("doomed.txt", crdt.KindText)
	require.Empty(t, fresh.GetString())
}

func filepathBase(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return p[i+1:]
		}
	}
	return p
}
