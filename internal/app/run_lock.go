package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rencire/free-games-claimer/internal/domain"
)

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// ReleaseFunc gives a held lock back.
type ReleaseFunc func(ctx context.Context) error

// RunLock keeps two runs from writing the same user's ledger at once.
type RunLock interface {
	Acquire(ctx context.Context, namespace string) (ReleaseFunc, error)
}

// NoopLock is used when no lock backend is configured.
type NoopLock struct{}

func (NoopLock) Acquire(context.Context, string) (ReleaseFunc, error) {
	return func(context.Context) error { return nil }, nil
}

type lockClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisRunLock is a single-holder lock per namespace stored in Redis. The key expires
// after ttl so a crashed run cannot block the user forever; while the holder is alive
// the expiry is pushed back every ttl/3.
type RedisRunLock struct {
	client lockClient
	prefix string
	ttl    time.Duration
}

func NewRedisRunLock(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisRunLock {
	return newRedisRunLock(client, prefix, ttl)
}

func newRedisRunLock(client lockClient, prefix string, ttl time.Duration) *RedisRunLock {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "claimer:lock"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &RedisRunLock{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

func (r *RedisRunLock) key(namespace string) string {
	return fmt.Sprintf("%s:%s", r.prefix, strings.TrimSpace(namespace))
}

// Acquire takes the lock for namespace or fails with ErrRunInProgress.
func (r *RedisRunLock) Acquire(ctx context.Context, namespace string) (ReleaseFunc, error) {
	key := r.key(namespace)
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunInProgress, namespace)
	}

	keepAliveCtx, stopKeepAlive := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.keepAlive(keepAliveCtx, key, token)
	}()

	var stopOnce sync.Once
	return func(ctx context.Context) error {
		stopOnce.Do(func() {
			stopKeepAlive()
			<-done
		})
		// Only the holder's token may delete the key.
		if err := releaseLockScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release run lock %s: %w", key, err)
		}
		return nil
	}, nil
}

// keepAlive extends the key until ctx is done or the key no longer holds token.
// A failed extension is retried on the next tick.
func (r *RedisRunLock) keepAlive(ctx context.Context, key, token string) {
	ticker := time.NewTicker(max(r.ttl/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := extendLockScript.Run(ctx, r.client, []string{key}, token, r.ttl.Milliseconds()).Int64()
			if err == nil && held == 0 {
				return
			}
		}
	}
}
