package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]BlobStore {
	t.Helper()
	dir := t.TempDir()

	fs, err := NewFileBlobStore(filepath.Join(dir, "files"))
	require.NoError(t, err)
	bs, err := NewBoltStore(filepath.Join(dir, "bolt", "vault.db"))
	require.NoError(t, err)
	ss, err := NewSQLiteStore(filepath.Join(dir, "vault.sqlite"))
	require.NoError(t, err)
	mem, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)

	stores := map[string]BlobStore{"file": fs, "bolt": bs, "sqlite": ss, "sqlite-memory": mem}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestBlobStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "entry/missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put(ctx, "entry/b", []byte("two")))
			require.NoError(t, s.Put(ctx, "entry/a", []byte("one")))
			require.NoError(t, s.Put(ctx, "master", []byte("m")))

			got, err := s.Get(ctx, "entry/a")
			require.NoError(t, err)
			assert.Equal(t, []byte("one"), got)

			require.NoError(t, s.Put(ctx, "entry/a", []byte("uno")))
			got, err = s.Get(ctx, "entry/a")
			require.NoError(t, err)
			assert.Equal(t, []byte("uno"), got)

			ids, err := s.List(ctx, "entry/")
			require.NoError(t, err)
			assert.Equal(t, []string{"entry/a", "entry/b"}, ids)

			all, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)

			require.NoError(t, s.Delete(ctx, "entry/a"))
			require.NoError(t, s.Delete(ctx, "entry/a"), "delete is idempotent")
			_, err = s.Get(ctx, "entry/a")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.Error(t, s.Put(ctx, "", []byte("x")))
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "floppy"})
	assert.Error(t, err)
}

func TestOpenBoltBackend(t *testing.T) {
	s, err := Open(context.Background(), Options{Backend: "bolt", Path: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Put(context.Background(), "k", []byte("v")))
}
