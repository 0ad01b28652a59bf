package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const fileRetryDelay = 25 * time.Millisecond

// FileBackend coordinates processes on one host through flock(2) lock files.
type FileBackend struct {
	dir string
}

// NewFileBackend constructs a file lock backend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

// Open makes sure the lock directory exists.
func (b *FileBackend) Open(_ context.Context) (Conn, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return &fileConn{dir: b.dir, locks: make(map[string]*flock.Flock)}, nil
}

type fileConn struct {
	dir   string
	locks map[string]*flock.Flock
}

// Acquire takes the flock for name, retrying until timeout elapses.
func (c *fileConn) Acquire(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	fl := flock.New(c.lockPath(name))

	var (
		locked bool
		err    error
	)
	if timeout <= 0 {
		locked, err = fl.TryLock()
	} else {
		lockCtx, cancel := context.WithTimeout(ctx, timeout)
		locked, err = fl.TryLockContext(lockCtx, fileRetryDelay)
		cancel()
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = nil
		}
	}
	if err != nil || !locked {
		_ = fl.Close()
		return false, err
	}

	c.locks[name] = fl
	return true, nil
}

// Release unlocks the file. The lock file itself is left in place.
func (c *fileConn) Release(_ context.Context, name string) (bool, error) {
	fl, ok := c.locks[name]
	if !ok {
		return false, nil
	}
	delete(c.locks, name)
	if err := fl.Unlock(); err != nil {
		return false, err
	}
	return true, nil
}

// Close releases any locks still held by this connection.
func (c *fileConn) Close() error {
	var errs []error
	for name, fl := range c.locks {
		if err := fl.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(c.locks, name)
	}
	return errors.Join(errs...)
}

func (c *fileConn) lockPath(name string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(name)
	return filepath.Join(c.dir, safe+".lock")
}
