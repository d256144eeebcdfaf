// Package lock provides the advisory per-account lock taken before every
// mutation. The lock only narrows contention windows; the conditional update
// in the store remains the source of truth.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ledger"
	"ledger/circuit"
)

// Locker takes named locks with a time-to-live.
type Locker interface {
	// TryAcquire makes a single non-blocking attempt to take key for ttl.
	// ok is false when another holder owns the key. err is reserved for
	// backend failures.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (h Handle, ok bool, err error)
}

// Handle represents one held lock.
type Handle interface {
	// Release frees the lock if this holder still owns it. Releasing a lock
	// that expired or was taken over is not an error.
	Release(ctx context.Context) error

	// Key returns the locked key
	Key() string
}

// Key builds the lock key for an account.
func Key(prefix, accountNumber string) string {
	return prefix + accountNumber
}

// Acquire takes key or fails with a Concurrency error if it is held. Backend
// failures are returned as Infrastructure errors.
func Acquire(ctx context.Context, l Locker, key string, ttl time.Duration) (Handle, error) {
	h, ok, err := l.TryAcquire(ctx, key, ttl)
	if err != nil {
		return nil, ledger.Wrap(ledger.KindInfrastructure, err, "acquire lock %s", key)
	}
	if !ok {
		return nil, ledger.Errorf(ledger.KindConcurrency, "lock %s is held by another operation", key)
	}
	return h, nil
}

// ============================================================================
// No-op Locker
// ============================================================================

// NoopLocker grants every request. It stands in when no lock backend is
// configured.
type NoopLocker struct{}

var _ Locker = NoopLocker{}

func (NoopLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Handle, bool, error) {
	return noopHandle(key), true, nil
}

type noopHandle string

func (h noopHandle) Release(ctx context.Context) error { return nil }
func (h noopHandle) Key() string                       { return string(h) }

// ============================================================================
// Guarded Locker
// ============================================================================

// Guarded wraps a Locker with a circuit breaker. Contention (ok == false) is
// a healthy answer and does not count against the breaker.
type Guarded struct {
	locker   Locker
	breaker  *circuit.Breaker
	failOpen bool
	logger   *slog.Logger
}

var _ Locker = (*Guarded)(nil)

// GuardOption configures a Guarded locker
type GuardOption func(*Guarded)

// WithFailOpen grants the lock without the backend while it is failing.
func WithFailOpen(failOpen bool) GuardOption {
	return func(g *Guarded) {
		g.failOpen = failOpen
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *Guarded) {
		g.logger = logger
	}
}

// NewGuarded creates a Guarded locker.
func NewGuarded(locker Locker, breaker *circuit.Breaker, opts ...GuardOption) *Guarded {
	g := &Guarded{
		locker:  locker,
		breaker: breaker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TryAcquire delegates to the wrapped locker through the breaker.
func (g *Guarded) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Handle, bool, error) {
	var (
		h  Handle
		ok bool
	)
	err := g.breaker.Execute(ctx, func() error {
		var err error
		h, ok, err = g.locker.TryAcquire(ctx, key, ttl)
		return err
	})
	if err == nil {
		return h, ok, nil
	}

	if g.failOpen {
		g.logger.WarnContext(ctx, "lock backend unavailable, proceeding without lock",
			"key", key, "breaker", g.breaker.State().String(), "error", err)
		return noopHandle(key), true, nil
	}
	if errors.Is(err, circuit.ErrOpen) {
		return nil, false, ledger.Wrap(ledger.KindInfrastructure, err, "lock backend %s", g.breaker.Name())
	}
	return nil, false, err
}

// Breaker returns the breaker guarding the backend.
func (g *Guarded) Breaker() *circuit.Breaker {
	return g.breaker
}
