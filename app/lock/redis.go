package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

const renewScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`

const redisPollInterval = 25 * time.Millisecond

// RedisBackend coordinates through SET NX keys carrying a per-connection token.
// The TTL bounds how long a crashed holder can block the others. A live holder
// keeps its key alive with a token-checked PEXPIRE every third of the TTL, so a
// critical section may outlast the TTL.
type RedisBackend struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	renewEvery time.Duration
}

// NewRedisBackend constructs a Redis-based lock backend.
func NewRedisBackend(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	renewEvery := ttl / 3
	if renewEvery <= 0 {
		renewEvery = time.Millisecond
	}
	return &RedisBackend{client: client, prefix: prefix, ttl: ttl, renewEvery: renewEvery}
}

// Open creates a logical connection identified by a fresh token.
func (b *RedisBackend) Open(_ context.Context) (Conn, error) {
	token, err := randomToken(16)
	if err != nil {
		return nil, err
	}
	return &redisConn{backend: b, token: token, watchdogs: make(map[string]chan struct{})}, nil
}

type redisConn struct {
	backend *RedisBackend
	token   string

	mu        sync.Mutex
	watchdogs map[string]chan struct{}
	wg        sync.WaitGroup
}

// Acquire sets the key if absent, polling until timeout elapses.
func (c *redisConn) Acquire(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	key := c.backend.prefix + name
	deadline := time.Now().Add(timeout)
	for {
		ok, err := c.backend.client.SetNX(ctx, key, c.token, c.backend.ttl).Result()
		if err != nil {
			return false, err
		}
		if ok {
			c.startWatchdog(key)
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}

		timer := time.NewTimer(redisPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

// Release deletes the key only if this connection still owns it.
func (c *redisConn) Release(ctx context.Context, name string) (bool, error) {
	c.stopWatchdog(c.backend.prefix + name)
	deleted, err := c.backend.client.Eval(ctx, releaseScript, []string{c.backend.prefix + name}, c.token).Int()
	if err != nil {
		return false, err
	}
	return deleted == 1, nil
}

// Close stops every renewal loop. The client pool is shared and stays open.
func (c *redisConn) Close() error {
	c.mu.Lock()
	for key, stop := range c.watchdogs {
		close(stop)
		delete(c.watchdogs, key)
	}
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}

// startWatchdog extends the key's TTL until stopped or until ownership is lost.
func (c *redisConn) startWatchdog(key string) {
	stop := make(chan struct{})

	c.mu.Lock()
	if prev, ok := c.watchdogs[key]; ok {
		close(prev)
	}
	c.watchdogs[key] = stop
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.backend.renewEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
			if !c.renew(key) {
				return
			}
		}
	}()
}

// renew reports whether the key is still owned. Transport errors keep the loop
// going since the key may still be alive on the server.
func (c *redisConn) renew(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.backend.renewEvery)
	defer cancel()

	extended, err := c.backend.client.Eval(ctx, renewScript, []string{key}, c.token, c.backend.ttl.Milliseconds()).Int()
	if err != nil {
		return true
	}
	return extended == 1
}

func (c *redisConn) stopWatchdog(key string) {
	c.mu.Lock()
	stop, ok := c.watchdogs[key]
	if ok {
		close(stop)
		delete(c.watchdogs, key)
	}
	c.mu.Unlock()
}

// randomToken creates a hex token for Redis lock ownership.
func randomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
