package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rencire/free-games-claimer/internal/domain"
)

// lockClientStub keeps keys in memory. The release script is evaluated as a
// compare-and-delete, the keep-alive script as a compare-and-expire.
type lockClientStub struct {
	mu       sync.Mutex
	keys     map[string]string
	ttls     map[string]time.Duration
	setErr   error
	evals    int
	extended int
}

func newLockClientStub() *lockClientStub {
	return &lockClientStub{keys: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (s *lockClientStub) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return redis.NewBoolResult(false, s.setErr)
	}
	if _, ok := s.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	s.keys[key] = fmt.Sprint(value)
	s.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (s *lockClientStub) runScript(keys []string, args []interface{}) *redis.Cmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evals++
	if len(keys) != 1 || len(args) == 0 || len(args) > 2 {
		return redis.NewCmdResult(nil, errors.New("unexpected script arguments"))
	}
	if s.keys[keys[0]] != fmt.Sprint(args[0]) {
		return redis.NewCmdResult(int64(0), nil)
	}
	if len(args) == 2 {
		ms, ok := args[1].(int64)
		if !ok {
			return redis.NewCmdResult(nil, fmt.Errorf("unexpected ttl %T", args[1]))
		}
		s.ttls[keys[0]] = time.Duration(ms) * time.Millisecond
		s.extended++
		return redis.NewCmdResult(int64(1), nil)
	}
	delete(s.keys, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}

func (s *lockClientStub) key(k string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.keys[k]
	return v, ok
}

func (s *lockClientStub) extensions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extended
}

func (s *lockClientStub) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return s.runScript(keys, args)
}

func (s *lockClientStub) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return s.runScript(keys, args)
}

func (s *lockClientStub) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return s.runScript(keys, args)
}

func (s *lockClientStub) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return s.runScript(keys, args)
}

func (s *lockClientStub) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (s *lockClientStub) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult("", nil)
}

func TestRedisRunLock_AcquireAndRelease(t *testing.T) {
	client := newLockClientStub()
	lock := newRedisRunLock(client, "claimer:lock:", 10*time.Minute)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := client.keys["claimer:lock:Alice"]; !ok {
		t.Fatalf("expected lock key, got %v", client.keys)
	}
	if client.ttls["claimer:lock:Alice"] != 10*time.Minute {
		t.Fatalf("expected ttl to be applied, got %v", client.ttls)
	}

	if _, err := lock.Acquire(ctx, "Alice"); !errors.Is(err, domain.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if _, err := lock.Acquire(ctx, "Bob"); err != nil {
		t.Fatalf("expected other namespaces to be independent, got %v", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release returned error: %v", err)
	}
	if _, ok := client.keys["claimer:lock:Alice"]; ok {
		t.Fatal("expected lock key to be deleted")
	}
	if _, err := lock.Acquire(ctx, "Alice"); err != nil {
		t.Fatalf("expected lock to be free again, got %v", err)
	}
}

func TestRedisRunLock_ReleaseKeepsForeignLock(t *testing.T) {
	client := newLockClientStub()
	lock := newRedisRunLock(client, "", 0)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.ttls["claimer:lock:Alice"] != time.Hour {
		t.Fatalf("expected default prefix and ttl, got %v", client.ttls)
	}

	// The key expired and another run took it over.
	client.keys["claimer:lock:Alice"] = "someone-else"
	if err := release(ctx); err != nil {
		t.Fatalf("release returned error: %v", err)
	}
	if client.keys["claimer:lock:Alice"] != "someone-else" {
		t.Fatal("expected the other run's lock to survive")
	}
}

func TestRedisRunLock_BackendError(t *testing.T) {
	client := newLockClientStub()
	client.setErr = errors.New("connection refused")
	lock := newRedisRunLock(client, "locks", time.Minute)

	_, err := lock.Acquire(context.Background(), "Alice")
	if err == nil || errors.Is(err, domain.ErrRunInProgress) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestRedisRunLock_KeepsLockAliveUntilRelease(t *testing.T) {
	client := newLockClientStub()
	lock := newRedisRunLock(client, "locks", 30*time.Millisecond)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for client.extensions() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected the lock to be extended while held, got %d extensions", client.extensions())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release returned error: %v", err)
	}
	if _, ok := client.key("locks:Alice"); ok {
		t.Fatal("expected lock key to be deleted")
	}
	after := client.extensions()
	time.Sleep(50 * time.Millisecond)
	if got := client.extensions(); got != after {
		t.Fatalf("expected no extension after release, got %d then %d", after, got)
	}
}

func TestRedisRunLock_KeepAliveStopsWhenLockIsLost(t *testing.T) {
	client := newLockClientStub()
	lock := newRedisRunLock(client, "locks", 30*time.Millisecond)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.mu.Lock()
	client.keys["locks:Alice"] = "someone-else"
	client.mu.Unlock()

	time.Sleep(60 * time.Millisecond)
	if got := client.extensions(); got != 0 {
		t.Fatalf("expected a foreign lock not to be extended, got %d", got)
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release returned error: %v", err)
	}
	if v, _ := client.key("locks:Alice"); v != "someone-else" {
		t.Fatal("expected the other run's lock to survive")
	}
}
