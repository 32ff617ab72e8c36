package reconcile

import (
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/syncline/syncline/internal/crdt"
)

// dmp is shared across every diff call; diffmatchpatch.New allocates no
// mutable state beyond algorithm tuning knobs, so one instance is safe to
// reuse across goroutines the way the package's own examples do.
var dmp = diffmatchpatch.New()

// ApplyDiffToCRDT computes a Myers diff between a document's current text
// (oldContent) and a file's freshly-read content, translating each diff
// chunk into CRDT operations addressed by BYTE offset into the document's
// current content — not rune or UTF-16 code-unit count. Go strings are
// already UTF-8 byte sequences, so len(chunk) is the byte length the CRDT
// needs; the critical discipline is advancing the cursor by that byte count,
// not by counting runes, which is what corrupts multi-byte sequences (the
// "🚀a" regression in §8).
//
// The caller is responsible for holding the document's write-transaction
// lock for the duration of this call — it applies a sequence of CRDT
// mutations that must be seen as a single atomic reconciliation pass per
// invariant I5.
func ApplyDiffToCRDT(doc *crdt.Doc, oldContent, newContent string) error {
	diffs := dmp.DiffMain(oldContent, newContent, false)

	var cursor uint64
	for _, d := range diffs {
		n := uint64(len(d.Text))
		if n == 0 {
			continue
		}
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			cursor += n
		case diffmatchpatch.DiffDelete:
			if _, err := doc.DeleteRangeText(cursor, n); err != nil {
				return err
			}
		case diffmatchpatch.DiffInsert:
			if _, err := doc.InsertText(cursor, []byte(d.Text)); err != nil {
				return err
			}
			cursor += n
		}
	}
	return nil
}
