package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotAcquired = errors.New("lock not acquired")

// ErrBackendUnavailable marks attempts that failed because the coordination
// backend could not be reached or returned an error, as opposed to plain contention.
var ErrBackendUnavailable = errors.New("lock backend unavailable")

// ErrUnsupported is returned by operations the coordination backends cannot provide.
var ErrUnsupported = fmt.Errorf("named lock: %w", errors.ErrUnsupported)

// Backend opens connections to a coordination service shared by all cooperating processes.
type Backend interface {
	// Open returns a new connection. The caller owns it and must Close it.
	Open(ctx context.Context) (Conn, error)
}

// Conn is a single backend connection. A lock acquired through a Conn is held
// for as long as the Conn stays open.
type Conn interface {
	// Acquire tries to take the named lock, waiting at most timeout.
	// A zero timeout performs a single attempt without waiting.
	Acquire(ctx context.Context, name string, timeout time.Duration) (bool, error)
	// Release frees the named lock and reports whether it was held.
	Release(ctx context.Context, name string) (bool, error)
	Close() error
}

// timeoutSeconds converts a wait bound to whole seconds, rounding up.
func timeoutSeconds(timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}
	seconds := int(timeout / time.Second)
	if timeout%time.Second != 0 {
		seconds++
	}
	return seconds
}
