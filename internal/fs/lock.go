package fs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// lockPollInterval bounds how long Lock sleeps between attempts while another
// process holds the lock.
const lockPollInterval = 20 * time.Millisecond

// inProcess serializes lockers inside this process. flock locks are held per
// open file description, so two descriptors in one process would not exclude
// each other on every platform.
var inProcess sync.Map // path -> *sync.Mutex

// FileLock is a held exclusive lock.
type FileLock struct {
	path string
	f    *os.File
	mu   *sync.Mutex
	once sync.Once
}

// Lock acquires an exclusive lock on path, creating the file if needed. It
// waits until the lock is free or ctx is done.
func Lock(ctx context.Context, path string) (*FileLock, error) {
	v, _ := inProcess.LoadOrStore(path, &sync.Mutex{})
	mu := v.(*sync.Mutex)

	for !mu.TryLock() {
		if err := sleepCtx(ctx, lockPollInterval); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		mu.Unlock()
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		mu.Unlock()
		return nil, err
	}

	for {
		ok, err := tryLockFile(f)
		if err != nil {
			_ = f.Close()
			mu.Unlock()
			return nil, err
		}
		if ok {
			return &FileLock{path: path, f: f, mu: mu}, nil
		}
		if err := sleepCtx(ctx, lockPollInterval); err != nil {
			_ = f.Close()
			mu.Unlock()
			return nil, err
		}
	}
}

// Unlock releases the lock. Calling it more than once is a no-op.
func (l *FileLock) Unlock() error {
	var err error
	l.once.Do(func() {
		err = unlockFile(l.f)
		if cerr := l.f.Close(); err == nil {
			err = cerr
		}
		l.mu.Unlock()
	})
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
