package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultEtcdPrefix is the etcd key prefix under which lock keys live.
const DefaultEtcdPrefix = "/collector/locks/"

// EtcdBackend coordinates through etcd mutexes. Each connection owns a lease
// session, so a crashed holder loses the lock once the session TTL expires.
type EtcdBackend struct {
	client     *clientv3.Client
	prefix     string
	sessionTTL int
}

// NewEtcdBackend constructs an etcd lock backend. ttl is rounded up to whole seconds.
func NewEtcdBackend(client *clientv3.Client, prefix string, ttl time.Duration) *EtcdBackend {
	if prefix == "" {
		prefix = DefaultEtcdPrefix
	}
	sessionTTL := timeoutSeconds(ttl)
	if sessionTTL < 1 {
		sessionTTL = 1
	}
	return &EtcdBackend{client: client, prefix: prefix, sessionTTL: sessionTTL}
}

// Open creates a new lease session.
func (b *EtcdBackend) Open(ctx context.Context) (Conn, error) {
	session, err := concurrency.NewSession(b.client,
		concurrency.WithTTL(b.sessionTTL),
		concurrency.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("create etcd session: %w", err)
	}
	return &etcdConn{backend: b, session: session, mutexes: make(map[string]*concurrency.Mutex)}, nil
}

type etcdConn struct {
	backend *EtcdBackend
	session *concurrency.Session
	mutexes map[string]*concurrency.Mutex
}

// Acquire uses TryLock for a zero timeout and a deadline-bound Lock otherwise.
func (c *etcdConn) Acquire(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	mutex := concurrency.NewMutex(c.session, c.backend.prefix+name)

	var err error
	if timeout <= 0 {
		err = mutex.TryLock(ctx)
	} else {
		lockCtx, cancel := context.WithTimeout(ctx, timeout)
		err = mutex.Lock(lockCtx)
		cancel()
		if err != nil && ctx.Err() == nil && isDeadline(err) {
			return false, nil
		}
	}
	if errors.Is(err, concurrency.ErrLocked) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	c.mutexes[name] = mutex
	return true, nil
}

// Release unlocks the mutex taken on this session.
func (c *etcdConn) Release(ctx context.Context, name string) (bool, error) {
	mutex, ok := c.mutexes[name]
	if !ok {
		return false, nil
	}
	delete(c.mutexes, name)
	if err := mutex.Unlock(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Close ends the session and revokes its lease.
func (c *etcdConn) Close() error {
	return c.session.Close()
}

// isDeadline matches a lapsed wait whether the client surfaces it as a context
// error or as a gRPC status.
func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || status.Code(err) == codes.DeadlineExceeded
}
