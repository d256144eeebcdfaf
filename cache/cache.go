// Package cache provides the read-through cache in front of account lookups.
// A cache failure never fails the caller; it is logged and treated as a miss.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores values of type T by key.
type Cache[T any] interface {
	// Get returns (nil, false) on any miss or decode error.
	Get(ctx context.Context, key string) (*T, bool)
	Set(ctx context.Context, key string, value *T)
	Delete(ctx context.Context, keys ...string)
}

// ============================================================================
// Redis
// ============================================================================

// ViewCache is a JSON-backed Redis cache bound to view type T.
type ViewCache[T any] struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

var _ Cache[struct{}] = (*ViewCache[struct{}])(nil)

// Option configures a ViewCache
type Option func(*options)

type options struct {
	prefix string
	logger *slog.Logger
}

// WithPrefix namespaces every key.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithLogger sets the logger for cache failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// NewViewCache creates a ViewCache. A ttl of 0 means keys do not expire.
func NewViewCache[T any](client redis.Cmdable, ttl time.Duration, opts ...Option) *ViewCache[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &ViewCache[T]{client: client, ttl: ttl, prefix: o.prefix, logger: o.logger}
}

func (c *ViewCache[T]) Get(ctx context.Context, key string) (*T, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WarnContext(ctx, "cache read failed", "key", c.prefix+key, "error", err)
		}
		return nil, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.WarnContext(ctx, "cache decode failed", "key", c.prefix+key, "error", err)
		return nil, false
	}
	return &v, true
}

func (c *ViewCache[T]) Set(ctx context.Context, key string, value *T) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.WarnContext(ctx, "cache encode failed", "key", c.prefix+key, "error", err)
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "cache write failed", "key", c.prefix+key, "error", err)
	}
}

func (c *ViewCache[T]) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		c.logger.WarnContext(ctx, "cache delete failed", "keys", full, "error", err)
	}
}

// ============================================================================
// In-process
// ============================================================================

// Memory is a map-backed Cache without expiry.
type Memory[T any] struct {
	mu     sync.Mutex
	values map[string]T
}

var _ Cache[struct{}] = (*Memory[struct{}])(nil)

// NewMemory creates an empty Memory cache.
func NewMemory[T any]() *Memory[T] {
	return &Memory[T]{values: make(map[string]T)}
}

func (m *Memory[T]) Get(ctx context.Context, key string) (*T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false
	}
	return &v, true
}

func (m *Memory[T]) Set(ctx context.Context, key string, value *T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = *value
}

func (m *Memory[T]) Delete(ctx context.Context, keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
}

// Len returns the number of cached entries.
func (m *Memory[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

// ============================================================================
// No-op
// ============================================================================

// Noop never stores anything.
type Noop[T any] struct{}

func (Noop[T]) Get(ctx context.Context, key string) (*T, bool) { return nil, false }
func (Noop[T]) Set(ctx context.Context, key string, value *T)  {}
func (Noop[T]) Delete(ctx context.Context, keys ...string)     {}
