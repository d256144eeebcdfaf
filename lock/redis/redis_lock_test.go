// Package redis provides tests for the Redis implementation of the lock.Locker interface.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"pgregory.net/rapid"

	"ledger/lock"
)

// ============================================================================
// Test Helpers
// ============================================================================

// mockRedisClient is a minimal mock for testing lock behavior
type mockRedisClient struct {
	redis.Cmdable
	mu         sync.Mutex
	locks      map[string]string // key -> token
	setNXCalls []setNXCall
	setNXErr   error
	evalCalls  int
}

type setNXCall struct {
	key   string
	value string
	ttl   time.Duration
}

func newMockRedisClient() *mockRedisClient {
	return &mockRedisClient{
		locks: make(map[string]string),
	}
}

// SetNX implements the SetNX command for testing
func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setNXCalls = append(m.setNXCalls, setNXCall{key: key, value: value.(string), ttl: expiration})

	cmd := redis.NewBoolCmd(ctx)
	if m.setNXErr != nil {
		cmd.SetErr(m.setNXErr)
		return cmd
	}
	if _, exists := m.locks[key]; exists {
		cmd.SetVal(false) // Lock already held
	} else {
		m.locks[key] = value.(string)
		cmd.SetVal(true) // Lock acquired
	}
	return cmd
}

// Eval implements the release script: delete only on token match
func (m *mockRedisClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evalCalls++
	cmd := redis.NewCmd(ctx)

	if len(keys) == 0 {
		cmd.SetVal(int64(0))
		return cmd
	}

	key := keys[0]
	token := ""
	if len(args) > 0 {
		token, _ = args[0].(string)
	}

	if storedToken, exists := m.locks[key]; exists && storedToken == token {
		delete(m.locks, key)
		cmd.SetVal(int64(1))
	} else {
		cmd.SetVal(int64(0))
	}

	return cmd
}

// EvalSha implements the EvalSha command (scripts are cached by SHA)
func (m *mockRedisClient) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return m.Eval(ctx, sha1, keys, args...)
}

// ScriptExists implements the ScriptExists command
func (m *mockRedisClient) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	cmd := redis.NewBoolSliceCmd(ctx)
	cmd.SetVal(make([]bool, len(hashes)))
	return cmd
}

// expire simulates the TTL running out.
func (m *mockRedisClient) expire(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
}

func (m *mockRedisClient) holder(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.locks[key]
	return token, ok
}

// ============================================================================
// Unit Tests: Lock Acquisition and Release
// ============================================================================

func TestRedisLocker_TryAcquire(t *testing.T) {
	mock := newMockRedisClient()
	locker := NewRedisLocker(mock)

	key := lock.Key("account:op:lock:", "ACC-1")
	handle, ok, err := locker.TryAcquire(context.Background(), key, 3*time.Second)
	if err != nil || !ok {
		t.Fatalf("TryAcquire failed: ok=%v err=%v", ok, err)
	}
	if handle.Key() != key {
		t.Errorf("expected key %q, got %q", key, handle.Key())
	}

	if len(mock.setNXCalls) != 1 {
		t.Fatalf("expected 1 SetNX call, got %d", len(mock.setNXCalls))
	}
	call := mock.setNXCalls[0]
	if call.key != "account:op:lock:ACC-1" {
		t.Errorf("expected key 'account:op:lock:ACC-1', got '%s'", call.key)
	}
	if call.ttl != 3*time.Second {
		t.Errorf("expected TTL 3s, got %v", call.ttl)
	}
	if call.value == "" {
		t.Error("expected a non-empty holder token")
	}
}

func TestRedisLocker_TryAcquire_Held(t *testing.T) {
	mock := newMockRedisClient()
	locker := NewRedisLocker(mock)
	ctx := context.Background()

	if _, ok, _ := locker.TryAcquire(ctx, "k", time.Second); !ok {
		t.Fatal("first acquire should succeed")
	}

	handle, ok, err := locker.TryAcquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("contention must not be an error: %v", err)
	}
	if ok || handle != nil {
		t.Error("second acquire must not be granted")
	}
}

func TestRedisLocker_TryAcquire_BackendError(t *testing.T) {
	mock := newMockRedisClient()
	mock.setNXErr = errors.New("dial tcp: connection refused")
	locker := NewRedisLocker(mock)

	_, ok, err := locker.TryAcquire(context.Background(), "k", time.Second)
	if err == nil || ok {
		t.Errorf("expected backend error, got ok=%v err=%v", ok, err)
	}
}

func TestRedisLocker_Release(t *testing.T) {
	mock := newMockRedisClient()
	locker := NewRedisLocker(mock)
	ctx := context.Background()

	handle, _, _ := locker.TryAcquire(ctx, "k", time.Second)
	if err := handle.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, held := mock.holder("k"); held {
		t.Error("expected lock to be released")
	}

	if _, ok, _ := locker.TryAcquire(ctx, "k", time.Second); !ok {
		t.Error("expected lock to be acquirable after release")
	}
}

func TestRedisLocker_ReleaseAfterTakeover(t *testing.T) {
	mock := newMockRedisClient()
	tokens := []string{"first", "second"}
	var i int
	locker := NewRedisLocker(mock, WithTokenGenerator(func() string {
		tok := tokens[i]
		i++
		return tok
	}))
	ctx := context.Background()

	stale, _, _ := locker.TryAcquire(ctx, "k", time.Second)
	mock.expire("k")

	if _, ok, _ := locker.TryAcquire(ctx, "k", time.Second); !ok {
		t.Fatal("expected takeover after expiry")
	}

	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale Release must not fail: %v", err)
	}
	if token, _ := mock.holder("k"); token != "second" {
		t.Errorf("stale holder released the new owner's lock, holder is %q", token)
	}
}

// ============================================================================
// Property-Based Tests
// ============================================================================

// Property: at most one holder per key at any time.
func TestProperty_MutualExclusion(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mock := newMockRedisClient()
		locker := NewRedisLocker(mock)
		ctx := context.Background()

		keys := rapid.IntRange(1, 4).Draw(t, "keys")
		held := make(map[string]lock.Handle)

		ops := rapid.IntRange(1, 40).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			key := fmt.Sprintf("k%d", rapid.IntRange(0, keys-1).Draw(t, "key"))

			if h, ok := held[key]; ok && rapid.Bool().Draw(t, "release") {
				if err := h.Release(ctx); err != nil {
					t.Fatalf("Release failed: %v", err)
				}
				delete(held, key)
				continue
			}

			h, ok, err := locker.TryAcquire(ctx, key, time.Second)
			if err != nil {
				t.Fatalf("TryAcquire failed: %v", err)
			}
			_, alreadyHeld := held[key]
			if ok == alreadyHeld {
				t.Fatalf("key %s: granted=%v while held=%v", key, ok, alreadyHeld)
			}
			if ok {
				held[key] = h
			}
		}
	})
}
