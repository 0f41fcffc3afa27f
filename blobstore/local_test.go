package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/catid/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBlobStore_Lifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	name := "users/u1/embeddings/c1_abc.npy"
	data := []byte("hello world, this is a test blob")

	require.NoError(t, store.Put(ctx, name, data))

	_, err := os.Stat(filepath.Join(tmpDir, "users", "u1", "embeddings", "c1_abc.npy"))
	require.NoError(t, err)

	blob, err := store.Open(ctx, name)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err := blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(buf))
	require.NoError(t, blob.Close())

	got, err := ReadAll(ctx, store, name)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ok, err := Exists(ctx, store, name)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, name))
	require.NoError(t, store.Delete(ctx, name), "deleting twice is fine")

	_, err = store.Open(ctx, name)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err = Exists(ctx, store, name)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalBlobStore_List(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	for _, name := range []string{
		"users/u1/metadata.json",
		"users/u1/embeddings/c1_a.npy",
		"users/u1/devices/d1/metadata.json",
		"users/u10/metadata.json",
	} {
		require.NoError(t, store.Put(ctx, name, []byte("x")))
	}
	unlock, err := store.Lock(ctx, "users/u1")
	require.NoError(t, err)
	require.NoError(t, unlock())

	names, err := store.List(ctx, "users/u1/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"users/u1/devices/d1/metadata.json",
		"users/u1/embeddings/c1_a.npy",
		"users/u1/metadata.json",
	}, names)

	// A partial path segment is a plain string prefix.
	names, err = store.List(ctx, "users/u1")
	require.NoError(t, err)
	assert.Len(t, names, 4)

	names, err = store.List(ctx, "missing/")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalBlobStore_InvalidNames(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	for _, name := range []string{"", "/abs", "../escape", "a/../../b", "."} {
		assert.ErrorIs(t, store.Put(ctx, name, nil), ErrInvalidName, name)
	}
}

func TestLocalBlobStore_EmptyBlob(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "empty", nil))
	got, err := ReadAll(ctx, store, "empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLocalBlobStore_PutFaultKeepsPrevious(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	store := NewLocalStore(t.TempDir(), WithFileSystem(ffs))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "users/u1/metadata.json", []byte("v1")))

	ffs.AddRule("metadata.json", fs.Fault{FailAfterBytes: -1, FailOnSync: true})
	assert.ErrorIs(t, store.Put(ctx, "users/u1/metadata.json", []byte("v2")), fs.ErrInjected)

	got, err := ReadAll(ctx, store, "users/u1/metadata.json")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))
}

func TestLocalBlobStore_Lock(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		overlap atomic.Bool
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := store.Lock(ctx, "users/u1")
			if !assert.NoError(t, err) {
				return
			}
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			assert.NoError(t, unlock())
		}()
	}
	wg.Wait()
	assert.False(t, overlap.Load())

	_, err := store.Lock(ctx, "../outside")
	assert.ErrorIs(t, err, ErrInvalidName)
}
