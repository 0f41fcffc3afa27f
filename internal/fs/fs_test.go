package fs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "subdir")
	assert.NoError(t, lfs.MkdirAll(dir, 0755))

	fpath := filepath.Join(dir, "test.txt")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)

	_, err = f.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.NoError(t, f.Sync())

	info, err := f.Stat()
	assert.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())
	assert.NoError(t, f.Close())

	entries, err := lfs.ReadDir(dir)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)

	newPath := filepath.Join(dir, "renamed.txt")
	assert.NoError(t, lfs.Rename(fpath, newPath))

	data, err := ReadFile(lfs, newPath)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	assert.NoError(t, lfs.Remove(newPath))
	_, err = lfs.Stat(newPath)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteFileAtomic(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "a", "b", "metadata.json")

	require.NoError(t, WriteFileAtomic(Default, path, []byte("v1"), 0o644))
	require.NoError(t, WriteFileAtomic(Default, path, []byte("v2"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not linger")
}

func TestWriteFileAtomic_FaultKeepsPrevious(t *testing.T) {
	tests := []struct {
		name  string
		fault Fault
	}{
		{"Write", Fault{FailAfterBytes: 0}},
		{"Sync", Fault{FailAfterBytes: -1, FailOnSync: true}},
		{"Close", Fault{FailAfterBytes: -1, FailOnClose: true}},
		{"Rename", Fault{FailAfterBytes: -1, FailOnRename: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmp := t.TempDir()
			path := filepath.Join(tmp, "metadata.json")
			require.NoError(t, os.WriteFile(path, []byte("committed"), 0o644))

			ffs := NewFaultyFS(nil)
			ffs.AddRule("metadata.json", tt.fault)

			err := WriteFileAtomic(ffs, path, []byte("new content"), 0o644)
			assert.ErrorIs(t, err, ErrInjected)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "committed", string(data))

			_, err = os.Stat(path + ".tmp")
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestFaultyFS_GlobalLimit(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(LocalFS{})
	ffs.SetLimit(5)

	f, err := ffs.OpenFile(filepath.Join(tmp, "faulty.txt"), os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	defer f.Close()

	n, err := f.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.Write([]byte("!"))
	assert.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(5), ffs.Written())
}

func TestFaultyFS_ClearRules(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "x.json")

	ffs := NewFaultyFS(nil)
	ffs.AddRule("x.json", Fault{FailAfterBytes: -1, FailOnSync: true})
	require.Error(t, WriteFileAtomic(ffs, path, []byte("1"), 0o644))

	ffs.ClearRules()
	require.NoError(t, WriteFileAtomic(ffs, path, []byte("1"), 0o644))
}

func TestLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scope", ".lock")
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		holders atomic.Int32
		maxSeen atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := Lock(ctx, path)
			if !assert.NoError(t, err) {
				return
			}
			n := holders.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			holders.Add(-1)
			assert.NoError(t, l.Unlock())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestLock_ContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")

	held, err := Lock(context.Background(), path)
	require.NoError(t, err)
	defer held.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = Lock(ctx, path)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLock_UnlockIdempotent(t *testing.T) {
	l, err := Lock(context.Background(), filepath.Join(t.TempDir(), ".lock"))
	require.NoError(t, err)
	assert.NoError(t, l.Unlock())
	assert.NoError(t, l.Unlock())
}
