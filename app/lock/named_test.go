package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// memoryBackend enforces named-lock exclusion between every connection it hands out.
type memoryBackend struct {
	mu      sync.Mutex
	owners  map[string]*memoryConn
	openErr error
	acqErr  error
	opened  int
	closed  int
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{owners: make(map[string]*memoryConn)}
}

func (b *memoryBackend) Open(_ context.Context) (Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.opened++
	return &memoryConn{backend: b}, nil
}

func (b *memoryBackend) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened, b.closed
}

type memoryConn struct {
	backend *memoryBackend
	closed  bool
}

func (c *memoryConn) Acquire(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		c.backend.mu.Lock()
		if c.backend.acqErr != nil {
			err := c.backend.acqErr
			c.backend.mu.Unlock()
			return false, err
		}
		if _, taken := c.backend.owners[name]; !taken {
			c.backend.owners[name] = c
			c.backend.mu.Unlock()
			return true, nil
		}
		c.backend.mu.Unlock()

		if !time.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (c *memoryConn) Release(_ context.Context, name string) (bool, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if c.backend.owners[name] != c {
		return false, nil
	}
	delete(c.backend.owners, name)
	return true, nil
}

func (c *memoryConn) Close() error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.closed = true
	c.backend.closed++
	for name, owner := range c.backend.owners {
		if owner == c {
			delete(c.backend.owners, name)
		}
	}
	return nil
}

func fastOptions() Options {
	return Options{
		AttemptTimeout: 5 * time.Millisecond,
		RetryInitial:   time.Millisecond,
		RetryMax:       5 * time.Millisecond,
	}
}

func TestNamedLockMutualExclusion(t *testing.T) {
	t.Parallel()

	backend := newMemoryBackend()

	var current, maxSeen, total int32
	const workers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, workers)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := NewNamedLock(backend, "spool-flush", fastOptions())
			err := l.WithLock(context.Background(), func(context.Context) error {
				active := atomic.AddInt32(&current, 1)
				for {
					seen := atomic.LoadInt32(&maxSeen)
					if active <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, active) {
						break
					}
				}
				atomic.AddInt32(&total, 1)
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil
			})
			if err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("WithLock: %v", err)
	}
	if total != workers {
		t.Fatalf("expected %d critical sections, got %d", workers, total)
	}
	if maxSeen != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxSeen)
	}
}

func TestNamedLockReentrantWithoutSecondConnection(t *testing.T) {
	t.Parallel()

	backend := newMemoryBackend()
	l := NewNamedLock(backend, "spool-flush", fastOptions())

	for i := 0; i < 3; i++ {
		acquired, err := l.TryAcquire(context.Background())
		if err != nil || !acquired {
			t.Fatalf("TryAcquire #%d: acquired=%v err=%v", i, acquired, err)
		}
	}
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire while held: %v", err)
	}

	if opened, _ := backend.counts(); opened != 1 {
		t.Fatalf("expected 1 connection, got %d", opened)
	}
}

func TestNamedLockReleaseIdempotent(t *testing.T) {
	t.Parallel()

	backend := newMemoryBackend()
	l := NewNamedLock(backend, "spool-flush", fastOptions())

	if err := l.Release(context.Background()); err != nil {
		t.Fatalf("Release before acquire: %v", err)
	}
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(context.Background()); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := l.Release(context.Background()); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if l.Held() {
		t.Fatalf("expected lock not held after release")
	}

	opened, closed := backend.counts()
	if opened != 1 || closed != 1 {
		t.Fatalf("expected 1 open and 1 close, got %d/%d", opened, closed)
	}
}

func TestNamedLockTryAcquireContended(t *testing.T) {
	t.Parallel()

	backend := newMemoryBackend()
	holder := NewNamedLock(backend, "spool-flush", fastOptions())
	other := NewNamedLock(backend, "spool-flush", fastOptions())

	if ok, err := holder.TryAcquire(context.Background()); err != nil || !ok {
		t.Fatalf("holder TryAcquire: ok=%v err=%v", ok, err)
	}

	acquired, err := other.TryAcquire(context.Background())
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if acquired {
		t.Fatalf("expected contended lock not to be acquired")
	}
	if other.Held() {
		t.Fatalf("handle must be cleared after failed acquire")
	}

	if acquired, _ := other.TryAcquireFor(context.Background(), 10*time.Millisecond); acquired {
		t.Fatalf("expected timed attempt to fail while held")
	}

	opened, closed := backend.counts()
	if opened-closed != 1 {
		t.Fatalf("expected only the holder's connection open, got opened=%d closed=%d", opened, closed)
	}

	if err := holder.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if acquired, err := other.TryAcquire(context.Background()); err != nil || !acquired {
		t.Fatalf("expected acquire after release: ok=%v err=%v", acquired, err)
	}
}

func TestNamedLockTryAcquireForWaitsForRelease(t *testing.T) {
	t.Parallel()

	backend := newMemoryBackend()
	holder := NewNamedLock(backend, "spool-flush", fastOptions())
	other := NewNamedLock(backend, "spool-flush", fastOptions())

	if err := holder.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = holder.Release(context.Background())
	}()

	acquired, err := other.TryAcquireFor(context.Background(), 2*time.Second)
	if err != nil || !acquired {
		t.Fatalf("expected timed acquire to succeed after release: ok=%v err=%v", acquired, err)
	}
}

func TestNamedLockBackendUnavailable(t *testing.T) {
	t.Parallel()

	backend := newMemoryBackend()
	backend.openErr = errors.New("connection refused")
	l := NewNamedLock(backend, "spool-flush", fastOptions())

	acquired, err := l.TryAcquire(context.Background())
	if acquired {
		t.Fatalf("expected not acquired")
	}
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}

	backend.mu.Lock()
	backend.openErr = nil
	backend.acqErr = errors.New("query failed")
	backend.mu.Unlock()

	if _, err := l.TryAcquire(context.Background()); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if opened, closed := backend.counts(); opened != closed {
		t.Fatalf("failed acquire must close its connection: opened=%d closed=%d", opened, closed)
	}
}

func TestNamedLockAcquireRetriesUntilBackendRecovers(t *testing.T) {
	t.Parallel()

	backend := newMemoryBackend()
	backend.openErr = errors.New("connection refused")
	l := NewNamedLock(backend, "spool-flush", fastOptions())

	go func() {
		time.Sleep(10 * time.Millisecond)
		backend.mu.Lock()
		backend.openErr = nil
		backend.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !l.Held() {
		t.Fatalf("expected lock held")
	}
}

func TestNamedLockAcquireHonoursCancellation(t *testing.T) {
	t.Parallel()

	backend := newMemoryBackend()
	holder := NewNamedLock(backend, "spool-flush", fastOptions())
	if err := holder.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	other := NewNamedLock(backend, "spool-flush", fastOptions())
	if err := other.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if other.Held() {
		t.Fatalf("cancelled acquire must not hold the lock")
	}
}

func TestNamedLockWithTryLockContended(t *testing.T) {
	t.Parallel()

	backend := newMemoryBackend()
	holder := NewNamedLock(backend, "spool-flush", fastOptions())
	if err := holder.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ran := false
	other := NewNamedLock(backend, "spool-flush", fastOptions())
	err := other.WithTryLock(context.Background(), func(context.Context) error {
		ran = true
		return nil
	})
	if !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	if ran {
		t.Fatalf("fn must not run without the lock")
	}
}

func TestNamedLockUnsupportedOperations(t *testing.T) {
	t.Parallel()

	l := NewNamedLock(newMemoryBackend(), "spool-flush", Options{})

	if err := l.LockInterruptibly(); !errors.Is(err, errors.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	cond, err := l.NewCondition()
	if cond != nil || !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got cond=%v err=%v", cond, err)
	}
}

func TestTimeoutSeconds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{2 * time.Minute, 120},
	}
	for _, tc := range tests {
		if got := timeoutSeconds(tc.in); got != tc.want {
			t.Fatalf("timeoutSeconds(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
