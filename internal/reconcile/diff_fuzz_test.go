package reconcile

import (
	"strings"
	"testing"

	"github.com/syncline/syncline/internal/crdt"
)

// FuzzApplyDiffToCRDT recovers the original Rust implementation's fuzzer/
// crate, exercising invariant P2: for any two valid UTF-8 strings, diffing
// and applying them to a document currently equal to the first must leave
// it equal to the second, without panicking. Fuzzer-generated byte strings
// that are not valid UTF-8 are first mapped to valid UTF-8 (invalid bytes
// become U+FFFD), since ApplyDiffToCRDT diffs by rune and the reconciler
// only ever hands it valid UTF-8 (binary files go through the base64
// envelope).
func FuzzApplyDiffToCRDT(f *testing.F) {
	f.Add("hello", "hello world")
	f.Add("🚀a", "🚀b")
	f.Add("", "")
	f.Add("abc", "")
	f.Add("line one\nline two", "line one\nline three\nline two")

	f.Fuzz(func(t *testing.T, oldStr, newStr string) {
		oldStr = strings.ToValidUTF8(oldStr, "�")
		newStr = strings.ToValidUTF8(newStr, "�")
		doc := crdt.NewTextDoc(crdt.NewClientID())
		if oldStr != "" {
			if _, err := doc.InsertText(0, []byte(oldStr)); err != nil {
				t.Fatalf("seed insert: %v", err)
			}
		}
		if err := ApplyDiffToCRDT(doc, oldStr, newStr); err != nil {
			t.Fatalf("apply diff: %v", err)
		}
		if got := string(doc.GetString()); got != newStr {
			t.Fatalf("got %q, want %q", got, newStr)
		}
	})
}
