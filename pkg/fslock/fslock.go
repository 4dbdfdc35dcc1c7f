// Package fslock provides advisory whole-file locks shared between goroutines
// and processes on the same host.
package fslock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// errLocked is returned by the platform layer when a non-blocking attempt fails.
var errLocked = errors.New("fslock: locked")

const retryInterval = 5 * time.Millisecond

// Lock is a held lock. Release it with Unlock.
type Lock struct {
	f *os.File
}

// Acquire blocks until an exclusive lock on path is held or ctx is done. The
// lock file is created when missing and never removed.
func Acquire(ctx context.Context, path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	for {
		err := tryLock(f)
		if err == nil {
			return &Lock{f: f}, nil
		}
		if !errors.Is(err, errLocked) {
			_ = f.Close()
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Unlock releases the lock and closes the underlying file.
func (l *Lock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}

// With runs fn while holding the lock on path.
func With(ctx context.Context, path string, fn func() error) error {
	l, err := Acquire(ctx, path)
	if err != nil {
		return err
	}
	defer l.Unlock()
	return fn()
}
