// Package engine holds the collaborators shared by the account lifecycle
// manager and the transfer orchestrator: the store and its transaction
// boundary, the advisory lock, id sources, cache, events, metrics and tracing.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"ledger"
	"ledger/cache"
	"ledger/circuit"
	"ledger/event"
	"ledger/idgen"
	"ledger/lock"
	"ledger/metrics"
	"ledger/store"
	"ledger/tracing"
	"ledger/txn"
)

// LockService is the breaker name of the lock backend.
const LockService = "lock"

// IDSource issues unique, increasing identifiers.
type IDSource interface {
	NextID() (int64, error)
}

// Engine is the shared runtime of every ledger operation.
type Engine struct {
	// Storage
	store  store.Store
	runner txn.Runner

	// Dependencies
	locker   lock.Locker
	guarded  *lock.Guarded
	ids      IDSource
	versions IDSource
	cache    cache.Cache[store.Account]
	events   event.EventBus
	metrics  metrics.Metrics
	tracer   tracing.Tracer
	logger   *slog.Logger
	now      func() time.Time

	// Configuration
	config ledger.Config
}

// Option is a function that configures the Engine.
type Option func(*Engine)

// WithLocker sets the lock backend. It is wrapped in a circuit breaker built
// from the engine configuration. Without a locker every lock is granted.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithIDSources sets the generators for account ids and version tokens.
// They must be distinct instances.
func WithIDSources(ids, versions IDSource) Option {
	return func(e *Engine) {
		e.ids = ids
		e.versions = versions
	}
}

// WithCache sets the read-through cache for account lookups.
func WithCache(c cache.Cache[store.Account]) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithEventBus sets the event bus for committed mutations.
func WithEventBus(bus event.EventBus) Option {
	return func(e *Engine) {
		e.events = bus
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t tracing.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock overrides the time source used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithConfig sets the engine configuration.
func WithConfig(cfg ledger.Config) Option {
	return func(e *Engine) {
		e.config = cfg
	}
}

// New creates an Engine on top of st and runner. Missing collaborators fall
// back to no-op implementations; missing id sources are created with the
// default generator layout.
func New(st store.Store, runner txn.Runner, opts ...Option) (*Engine, error) {
	if st == nil || runner == nil {
		return nil, fmt.Errorf("%w: store and transaction runner are required", ledger.ErrInvalidConfig)
	}

	e := &Engine{
		store:   st,
		runner:  runner,
		cache:   cache.Noop[store.Account]{},
		events:  event.NoOpEventBus{},
		metrics: &metrics.NoopMetrics{},
		tracer:  &tracing.NoopTracer{},
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		config:  ledger.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.config.Validate(); err != nil {
		return nil, err
	}

	if e.ids == nil || e.versions == nil {
		ids, err := idgen.New(idgen.DefaultConfig())
		if err != nil {
			return nil, err
		}
		versions, err := idgen.New(idgen.DefaultConfig())
		if err != nil {
			return nil, err
		}
		e.ids, e.versions = ids, versions
	}

	if e.locker == nil {
		e.locker = lock.NoopLocker{}
	} else {
		breaker := circuit.New(LockService, e.config.ToBreakerConfig(),
			circuit.WithStateChange(e.onBreakerChange))
		e.guarded = lock.NewGuarded(e.locker, breaker,
			lock.WithFailOpen(e.config.LockFailOpen),
			lock.WithLogger(e.logger))
		e.locker = e.guarded
		e.metrics.CircuitStateChanged(LockService, circuit.StateClosed)
	}

	return e, nil
}

func (e *Engine) onBreakerChange(name string, from, to circuit.State) {
	e.metrics.CircuitStateChanged(name, to)
	e.logger.Warn("lock backend breaker changed state",
		"breaker", name, "from", from.String(), "to", to.String())
}

// Store returns the account store.
func (e *Engine) Store() store.Store { return e.store }

// Config returns the engine configuration.
func (e *Engine) Config() ledger.Config { return e.config }

// Metrics returns the metrics collector.
func (e *Engine) Metrics() metrics.Metrics { return e.metrics }

// Now returns the current time from the engine clock.
func (e *Engine) Now() time.Time { return e.now() }

// Breaker returns the breaker guarding the lock backend, or nil when no
// backend is configured.
func (e *Engine) Breaker() *circuit.Breaker {
	if e.guarded == nil {
		return nil
	}
	return e.guarded.Breaker()
}

// NextID returns a new account id.
func (e *Engine) NextID() (int64, error) {
	id, err := e.ids.NextID()
	if err != nil {
		return 0, ledger.Wrap(ledger.KindInfrastructure, err, "generate account id")
	}
	return id, nil
}

// NextVersion returns a new version token.
func (e *Engine) NextVersion() (int64, error) {
	v, err := e.versions.NextID()
	if err != nil {
		return 0, ledger.Wrap(ledger.KindInfrastructure, err, "generate version")
	}
	return v, nil
}
