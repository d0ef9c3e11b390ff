// Package lock implements a Redis-backed mutual exclusion lock with
// per-acquisition tokens.
//
// A lock is a single key holding a random token with a PX expiry. Only the
// caller presenting the token it was granted can release or renew the key, so
// a holder whose TTL lapsed can never delete somebody else's lock. When Redis
// cannot be reached Acquire reports ErrDenied (wrapped with
// ErrStoreUnavailable) and the caller proceeds as if the resource were busy.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"appointments/pkg/logger"
	"appointments/pkg/metrics"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var (
	// ErrDenied means the key is held by another token.
	ErrDenied = errors.New("lock denied")

	// ErrNotHeld means the presented token no longer owns the key.
	ErrNotHeld = errors.New("lock not held")

	// ErrStoreUnavailable marks failures talking to the lock store.
	ErrStoreUnavailable = errors.New("lock store unavailable")
)

// Locker is the contract every component uses to serialize work on a shared resource.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	Release(ctx context.Context, key, token string) error
	Renew(ctx context.Context, key, token string, ttl time.Duration) error
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type RedisLocker struct {
	client redis.Cmdable
	log    *logger.Logger
}

func NewRedisLocker(client redis.Cmdable, log *logger.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		log:    log,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		metrics.LockOperations.WithLabelValues("acquire", "error").Inc()
		l.log.Warn("Lock store unreachable, denying acquisition", "key", key, "error", err)
		return "", fmt.Errorf("%w: %w: %v", ErrDenied, ErrStoreUnavailable, err)
	}
	if !ok {
		metrics.LockOperations.WithLabelValues("acquire", "denied").Inc()
		l.log.Debug("Lock busy", "key", key)
		return "", ErrDenied
	}

	metrics.LockOperations.WithLabelValues("acquire", "ok").Inc()
	return token, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	deleted, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int64()
	if err != nil {
		metrics.LockOperations.WithLabelValues("release", "error").Inc()
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if deleted == 0 {
		metrics.LockOperations.WithLabelValues("release", "not_held").Inc()
		return ErrNotHeld
	}

	metrics.LockOperations.WithLabelValues("release", "ok").Inc()
	return nil
}

func (l *RedisLocker) Renew(ctx context.Context, key, token string, ttl time.Duration) error {
	renewed, err := renewScript.Run(ctx, l.client, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		metrics.LockOperations.WithLabelValues("renew", "error").Inc()
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if renewed == 0 {
		metrics.LockOperations.WithLabelValues("renew", "not_held").Inc()
		return ErrNotHeld
	}

	metrics.LockOperations.WithLabelValues("renew", "ok").Inc()
	return nil
}
