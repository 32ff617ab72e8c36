package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "updates.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndLoadAllPreservesOrder(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "notes/a.md", []byte("one")))
	require.NoError(t, s.Append(ctx, "notes/a.md", []byte("two")))
	require.NoError(t, s.Append(ctx, "notes/b.md", []byte("other")))

	got, err := s.LoadAll(ctx, "notes/a.md")
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("one"), []byte("two")}, got)
}

func TestLoadAllUnknownDocReturnsEmpty(t *testing.T) {
	s := openTest(t)
	got, err := s.LoadAll(context.Background(), "missing")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestListDocIDs(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "a", []byte("x")))
	require.NoError(t, s.Append(ctx, "b", []byte("y")))
	require.NoError(t, s.Append(ctx, "a", []byte("z")))

	ids, err := s.ListDocIDs(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestOpenPreservesCallerSuppliedQueryParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "updates.db")
	dsn := "sqlite://" + path + "?mode=rwc"

	file, query, err := splitDSN(dsn)
	require.NoError(t, err)
	require.Equal(t, path, file)
	require.Equal(t, "rwc", query.Get("mode"))
	require.Equal(t, "WAL", query.Get("_journal_mode"))
	require.Equal(t, "on", query.Get("_foreign_keys"))

	s, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	defer s.Close()
}

func TestReopenPersistsAcrossHandles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "updates.db")
	ctx := context.Background()

	s1, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s1.Append(ctx, "doc", []byte("persisted")))
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.LoadAll(ctx, "doc")
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("persisted")}, got)
}
