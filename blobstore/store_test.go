package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/segdb/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStores(t *testing.T) map[string]BlobStore {
	t.Helper()
	cached, err := NewCachingStore(NewMemoryStore(), 1<<20, 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cached.Close() })
	return map[string]BlobStore{
		"local":   NewLocalStore(t.TempDir()),
		"localfs": NewLocalStore(t.TempDir(), WithFileSystem(fs.NewFaultyFS(nil))),
		"memory":  NewMemoryStore(),
		"caching": cached,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, "seg-000001/ids", []byte("0123456789abcdefghij")))

			w, err := store.Create(ctx, "seg-000001/f0.num")
			require.NoError(t, err)
			_, err = w.Write([]byte("hello "))
			require.NoError(t, err)
			_, err = w.Write([]byte("world"))
			require.NoError(t, err)
			require.NoError(t, w.Close())

			b, err := store.Open(ctx, "seg-000001/ids")
			require.NoError(t, err)
			assert.Equal(t, int64(20), b.Size())

			buf := make([]byte, 8)
			n, err := b.ReadAt(ctx, buf, 10)
			require.NoError(t, err)
			assert.Equal(t, "abcdefgh", string(buf[:n]))

			n, err = b.ReadAt(ctx, buf, 16)
			assert.ErrorIs(t, err, io.EOF)
			assert.Equal(t, "ghij", string(buf[:n]))

			rc, err := b.ReadRange(ctx, 2, 5)
			require.NoError(t, err)
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, "23456", string(got))
			require.NoError(t, b.Close())

			data, err := ReadAll(ctx, store, "seg-000001/f0.num")
			require.NoError(t, err)
			assert.Equal(t, "hello world", string(data))

			names, err := store.List(ctx, "seg-000001/")
			require.NoError(t, err)
			assert.Equal(t, []string{"seg-000001/f0.num", "seg-000001/ids"}, names)

			require.NoError(t, DeletePrefix(ctx, store, "seg-000001/"))
			_, err = store.Open(ctx, "seg-000001/ids")
			assert.ErrorIs(t, err, ErrNotFound)
			require.NoError(t, store.Delete(ctx, "seg-000001/ids"))
		})
	}
}

func TestMemoryStoreReadAfterDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "a", []byte("abc")))

	b, err := store.Open(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "a"))

	_, err = b.ReadAt(ctx, make([]byte, 1), 0)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCachingStoreServesFromCache(t *testing.T) {
	ctx := context.Background()
	cached, err := NewCachingStore(NewMemoryStore(), 1<<20, 4)
	require.NoError(t, err)
	defer cached.Close()

	require.NoError(t, cached.Put(ctx, "blob", []byte("abcdefghijkl")))
	b, err := cached.Open(ctx, "blob")
	require.NoError(t, err)

	buf := make([]byte, 6)
	n, err := b.ReadAt(ctx, buf, 3)
	require.NoError(t, err)
	assert.Equal(t, "defghi", string(buf[:n]))
	assert.Equal(t, int64(3), cached.Stats().Misses)

	require.NoError(t, cached.Put(ctx, "blob", []byte("ABCDEFGHIJKL")))
	b, err = cached.Open(ctx, "blob")
	require.NoError(t, err)
	n, err = b.ReadAt(ctx, buf, 3)
	require.NoError(t, err)
	assert.Equal(t, "DEFGHI", string(buf[:n]), "rewritten blob is not served stale")
}

func TestLocalStoreSkipsTempFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewLocalStore(root)
	require.NoError(t, os.WriteFile(filepath.Join(root, "y.7.tmp"), []byte("partial"), 0o644))
	require.NoError(t, store.Put(ctx, "x", []byte("done")))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, names)
}

func TestLocalStoreAbortsFailedPut(t *testing.T) {
	ctx := context.Background()
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(".tmp", fs.Fault{FailAfterBytes: 2, FailAfterReads: -1})
	store := NewLocalStore(t.TempDir(), WithFileSystem(ffs))

	err := store.Put(ctx, "blob", []byte("too long"))
	assert.ErrorIs(t, err, fs.ErrInjected)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestPrefixed(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	seg := Prefixed(mem, "seg-000002")

	require.NoError(t, seg.Put(ctx, "meta.json", []byte("{}")))
	names, err := mem.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"seg-000002/meta.json"}, names)

	names, err = seg.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"meta.json"}, names)
}
