package lock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collector/app/metrics"
)

const (
	DefaultAttemptTimeout = time.Second
	DefaultRetryInitial   = 50 * time.Millisecond
	DefaultRetryMax       = 2 * time.Second
)

// Options tunes the blocking acquisition loop.
type Options struct {
	AttemptTimeout time.Duration
	RetryInitial   time.Duration
	RetryMax       time.Duration
	Logger         logrus.FieldLogger
}

// NamedLock is a mutual-exclusion primitive over a name, enforced across
// processes by a shared Backend.
//
// All operations on one instance are serialized, including the whole retry
// loop of Acquire. Exclusion between processes is entirely up to the backend.
// The handle is re-entrant for this instance only: a second NamedLock with the
// same name in the same process contends like any other process would.
type NamedLock struct {
	name    string
	backend Backend
	opts    Options
	logger  logrus.FieldLogger

	mu   sync.Mutex
	conn Conn
}

// NewNamedLock builds a lock for name on backend. Zero option values fall back to defaults.
func NewNamedLock(backend Backend, name string, opts Options) *NamedLock {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = DefaultRetryInitial
	}
	if opts.RetryMax < opts.RetryInitial {
		opts.RetryMax = DefaultRetryMax
		if opts.RetryMax < opts.RetryInitial {
			opts.RetryMax = opts.RetryInitial
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &NamedLock{
		name:    name,
		backend: backend,
		opts:    opts,
		logger:  logger.WithFields(logrus.Fields{"component": "named-lock", "lock": name}),
	}
}

// Name returns the lock name.
func (l *NamedLock) Name() string {
	return l.name
}

// Held reports whether this instance currently holds the lock.
func (l *NamedLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Acquire blocks until the lock is held or ctx is done.
// Contention and backend failures are both retried; only the log level differs.
func (l *NamedLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delay := l.opts.RetryInitial
	for attempt := 1; ; attempt++ {
		acquired, err := l.acquireLocked(ctx, l.opts.AttemptTimeout)
		if acquired {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			l.logger.WithError(err).WithField("attempt", attempt).Warn("lock backend unavailable, retrying")
		} else {
			l.logger.WithField("attempt", attempt).Debug("lock contended, retrying")
		}

		wait := delay/2 + rand.N(delay/2+1)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > l.opts.RetryMax {
			delay = l.opts.RetryMax
		}
	}
}

// TryAcquire makes exactly one attempt without waiting.
func (l *NamedLock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquireLocked(ctx, 0)
}

// TryAcquireFor makes exactly one attempt, letting the backend wait up to timeout.
func (l *NamedLock) TryAcquireFor(ctx context.Context, timeout time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquireLocked(ctx, timeout)
}

// LockInterruptibly is not available: the backends give no way to interrupt a
// pending acquisition. Use Acquire with a cancellable context instead.
func (l *NamedLock) LockInterruptibly() error {
	return ErrUnsupported
}

// NewCondition is not available for named locks.
func (l *NamedLock) NewCondition() (*sync.Cond, error) {
	return nil, ErrUnsupported
}

// Release frees the lock if held. The connection is closed and the handle
// cleared even when the backend rejects the release. Safe to call repeatedly.
func (l *NamedLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil

	var errs []error
	released, err := conn.Release(ctx, l.name)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("release lock %s: %w", l.name, err))
	case !released:
		l.logger.Warn("backend reported lock was not held on release")
	}
	if err := conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close lock connection %s: %w", l.name, err))
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		l.logger.WithError(err).Error("lock release failed")
		return err
	}
	l.logger.Debug("lock released")
	return nil
}

// WithLock runs fn while holding the lock, blocking until it is acquired.
func (l *NamedLock) WithLock(ctx context.Context, fn func(context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		_ = l.Release(context.Background())
	}()
	return fn(ctx)
}

// WithTryLock runs fn only if the lock can be taken immediately.
// It returns ErrNotAcquired when another holder has it.
func (l *NamedLock) WithTryLock(ctx context.Context, fn func(context.Context) error) error {
	acquired, err := l.TryAcquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrNotAcquired
	}
	defer func() {
		_ = l.Release(context.Background())
	}()
	return fn(ctx)
}

// acquireLocked performs one attempt. l.mu must be held.
func (l *NamedLock) acquireLocked(ctx context.Context, timeout time.Duration) (bool, error) {
	if l.conn != nil {
		return true, nil
	}

	conn, err := l.backend.Open(ctx)
	if err != nil {
		metrics.LockAttemptsTotal.WithLabelValues(l.name, "error").Inc()
		return false, fmt.Errorf("%w: open connection for %s: %w", ErrBackendUnavailable, l.name, err)
	}

	acquired, err := conn.Acquire(ctx, l.name, timeout)
	if err != nil || !acquired {
		_ = conn.Close()
		if err != nil {
			metrics.LockAttemptsTotal.WithLabelValues(l.name, "error").Inc()
			return false, fmt.Errorf("%w: acquire %s: %w", ErrBackendUnavailable, l.name, err)
		}
		metrics.LockAttemptsTotal.WithLabelValues(l.name, "contended").Inc()
		return false, nil
	}

	l.conn = conn
	metrics.LockAttemptsTotal.WithLabelValues(l.name, "acquired").Inc()
	l.logger.Debug("lock acquired")
	return true, nil
}
