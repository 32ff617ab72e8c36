package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunDiscoversAndSnapshotsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("hello"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.md"), []byte("world"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.bin"), []byte("nope"), 0o644))

	bs, err := Run(context.Background(), Config{
		URL:        "ws://127.0.0.1:0/sync",
		Root:       dir,
		Extensions: []string{"md"},
	})
	require.NoError(t, err)

	af, ok := bs.Reconciler.Registry().Get("a.md")
	require.True(t, ok)
	require.Equal(t, "hello", string(af.Doc.GetString()))

	_, ok = bs.Reconciler.Registry().Get("sub/b.md")
	require.True(t, ok)

	_, ok = bs.Reconciler.Registry().Get("ignored.bin")
	require.False(t, ok)

	require.Contains(t, bs.Index.Doc().Keys(), "a.md")
	require.Contains(t, bs.Index.Doc().Keys(), "sub/b.md")

	_, err = os.Stat(filepath.Join(dir, ".syncline", "a.md.snap"))
	require.NoError(t, err)
}

func TestRunRejectsNonDirectoryRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notadir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := Run(context.Background(), Config{Root: file, Extensions: []string{"md"}})
	require.Error(t, err)
}

func TestRunRejectsMissingRoot(t *testing.T) {
	_, err := Run(context.Background(), Config{Root: "/does/not/exist/at/all", Extensions: []string{"md"}})
	require.Error(t, err)
}
