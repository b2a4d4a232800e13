package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	vfs "github.com/hupe1980/slabpool/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store BlobStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing.slbp")
	require.ErrorIs(t, err, ErrNotFound)

	data := []byte("slab snapshot payload")
	require.NoError(t, store.Put(ctx, "pools/a.slbp", data))
	require.NoError(t, store.Put(ctx, "pools/b.slbp", []byte{}))
	require.NoError(t, store.Put(ctx, "other.slbp", []byte("x")))

	got, err := store.Get(ctx, "pools/a.slbp")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	got, err = store.Get(ctx, "pools/b.slbp")
	require.NoError(t, err)
	assert.Empty(t, got)

	// Overwrite
	require.NoError(t, store.Put(ctx, "pools/a.slbp", []byte("v2")))
	got, err = store.Get(ctx, "pools/a.slbp")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	names, err := store.List(ctx, "pools/")
	require.NoError(t, err)
	assert.Equal(t, []string{"pools/a.slbp", "pools/b.slbp"}, names)

	names, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, names, 3)

	require.NoError(t, store.Delete(ctx, "pools/a.slbp"))
	require.NoError(t, store.Delete(ctx, "pools/a.slbp"))
	_, err = store.Get(ctx, "pools/a.slbp")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	testStore(t, NewLocalStore(dir))

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Join(dir, "pools"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestLocalStore_FailedPutKeepsOldBlob(t *testing.T) {
	for name, fault := range map[string]vfs.Fault{
		"write":  {FailAfterBytes: 2},
		"sync":   {FailAfterBytes: -1, FailOnSync: true},
		"close":  {FailAfterBytes: -1, FailOnClose: true},
		"rename": {FailAfterBytes: -1, FailOnRename: true},
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			store := NewLocalStore(dir)
			require.NoError(t, store.Put(ctx, "a.slbp", []byte("v1")))

			ffs := vfs.NewFaultyFS(nil)
			ffs.AddRule(".tmp-", fault)
			store.fs = ffs

			err := store.Put(ctx, "a.slbp", []byte("version two"))
			assert.ErrorIs(t, err, vfs.ErrInjected)

			got, err := store.Get(ctx, "a.slbp")
			require.NoError(t, err)
			assert.Equal(t, "v1", string(got))

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Len(t, entries, 1)
		})
	}
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "nope"))
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_CanceledContext(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Put(ctx, "a", []byte("x")), context.Canceled)
	_, err := store.Get(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestMemoryStore_CopiesData(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	data := []byte("abc")
	require.NoError(t, store.Put(ctx, "k", data))
	data[0] = 'z'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	got[1] = 'z'

	again, _ := store.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}
