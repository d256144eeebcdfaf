// Package memory provides an in-process TTL locker for tests and
// single-instance runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledger/lock"
)

// MemoryLocker implements lock.Locker in memory.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
	now   func() time.Time
}

type lockEntry struct {
	holder    string
	expiresAt time.Time
}

var _ lock.Locker = (*MemoryLocker)(nil)

// Option configures a MemoryLocker
type Option func(*MemoryLocker)

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(l *MemoryLocker) {
		l.now = now
	}
}

// NewMemoryLocker creates a MemoryLocker.
func NewMemoryLocker(opts ...Option) *MemoryLocker {
	l := &MemoryLocker{
		locks: make(map[string]*lockEntry),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire takes key unless an unexpired entry holds it.
func (l *MemoryLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (lock.Handle, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, exists := l.locks[key]; exists && now.Before(entry.expiresAt) {
		return nil, false, nil
	}

	holder := uuid.NewString()
	l.locks[key] = &lockEntry{holder: holder, expiresAt: now.Add(ttl)}
	return &memoryLockHandle{locker: l, key: key, holder: holder}, true, nil
}

// Held reports whether key is currently locked.
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.locks[key]
	return exists && l.now().Before(entry.expiresAt)
}

type memoryLockHandle struct {
	locker *MemoryLocker
	key    string
	holder string
}

// Release frees the key if this handle still owns it.
func (h *memoryLockHandle) Release(ctx context.Context) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()

	if entry, exists := h.locker.locks[h.key]; exists && entry.holder == h.holder {
		delete(h.locker.locks, h.key)
	}
	return nil
}

func (h *memoryLockHandle) Key() string {
	return h.key
}
