// Package redislock implements keylock.Locker on Redis so several engine
// processes sharing one durable store also share per-space and per-vehicle
// exclusion.
//
// A lock is a key set with NX and a TTL whose value is a random owner token.
// Release deletes the key only if it still carries that token, so a holder
// whose lease expired can never drop somebody else's lock.
package redislock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xraph/parking/keylock"
)

var _ keylock.Locker = (*Locker)(nil)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a Redis-backed keylock.Locker.
type Locker struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// Option configures a Locker.
type Option func(*Locker)

// WithPrefix namespaces lock keys (default "parking:lock:").
func WithPrefix(prefix string) Option {
	return func(l *Locker) { l.prefix = prefix }
}

// WithTTL bounds how long a crashed holder can keep a key (default 10s).
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) { l.ttl = ttl }
}

// WithRetryInterval sets the polling interval while a key is held (default 10ms).
func WithRetryInterval(d time.Duration) Option {
	return func(l *Locker) { l.retry = d }
}

// WithLogger sets the logger used for release failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) { l.logger = logger }
}

// New creates a Locker on top of an existing Redis client.
func New(rdb redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{
		rdb:    rdb,
		prefix: "parking:lock:",
		ttl:    10 * time.Second,
		retry:  10 * time.Millisecond,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key returns the Redis key used for a lock key.
func (l *Locker) Key(key string) string { return l.prefix + key }

// Lock polls SET NX until the key is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (keylock.Unlock, error) {
	rkey := l.Key(key)
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, rkey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redislock: acquire %s: %w", key, err)
		}
		if ok {
			return l.unlocker(rkey, token), nil
		}

		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (l *Locker) unlocker(rkey, token string) keylock.Unlock {
	var once sync.Once
	return func() {
		once.Do(func() {
			// Release even when the caller's context is already gone.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.rdb, []string{rkey}, token).Err(); err != nil {
				l.logger.Warn("redislock: release failed",
					"key", rkey,
					"error", err,
				)
			}
		})
	}
}
