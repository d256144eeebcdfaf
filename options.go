package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"ledger/circuit"
)

// Config holds the configuration shared by the lifecycle manager and the
// transfer orchestrator.
type Config struct {
	// Lock configuration
	LockTTL      time.Duration // Per-account lock expiry, default 3s
	LockPrefix   string        // Key prefix, default "account:op:lock:"
	LockFailOpen bool          // Proceed without the lock when the backend is down, default false

	// Lock backend circuit breaker
	CircuitThreshold    int           // Consecutive backend failures before opening, default 5
	CircuitTimeout      time.Duration // Open duration before probing again, default 30s
	CircuitHalfOpenReqs int           // Probe requests in half-open state, default 3

	// Listing
	DefaultPageSize int // Page size when none is given, default 10
	MaxPageSize     int // Largest accepted page size, default 100

	// Read cache
	CacheTTL    time.Duration // Account snapshot TTL, default 10min
	CachePrefix string        // Cache key prefix, default "account:"

	// Transactions
	Isolation sql.IsolationLevel // Isolation for mutations, default repeatable read
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		LockTTL:             3 * time.Second,
		LockPrefix:          "account:op:lock:",
		LockFailOpen:        false,
		CircuitThreshold:    5,
		CircuitTimeout:      30 * time.Second,
		CircuitHalfOpenReqs: 3,
		DefaultPageSize:     10,
		MaxPageSize:         100,
		CacheTTL:            10 * time.Minute,
		CachePrefix:         "account:",
		Isolation:           sql.LevelRepeatableRead,
	}
}

// Option is a function that modifies the Config.
type Option func(*Config)

// WithLockTTL sets the lock TTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.LockTTL = ttl
	}
}

// WithLockPrefix sets the lock key prefix.
func WithLockPrefix(prefix string) Option {
	return func(c *Config) {
		c.LockPrefix = prefix
	}
}

// WithLockFailOpen lets operations run unlocked while the lock backend is unavailable.
func WithLockFailOpen(failOpen bool) Option {
	return func(c *Config) {
		c.LockFailOpen = failOpen
	}
}

// WithCircuitThreshold sets the lock backend breaker failure threshold.
func WithCircuitThreshold(threshold int) Option {
	return func(c *Config) {
		c.CircuitThreshold = threshold
	}
}

// WithCircuitTimeout sets the lock backend breaker recovery timeout.
func WithCircuitTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.CircuitTimeout = timeout
	}
}

// WithCircuitHalfOpenReqs sets the probe requests allowed in half-open state.
func WithCircuitHalfOpenReqs(reqs int) Option {
	return func(c *Config) {
		c.CircuitHalfOpenReqs = reqs
	}
}

// WithPageSizes sets the default and maximum page sizes for listing.
func WithPageSizes(defaultSize, maxSize int) Option {
	return func(c *Config) {
		c.DefaultPageSize = defaultSize
		c.MaxPageSize = maxSize
	}
}

// WithCacheTTL sets the account snapshot cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.CacheTTL = ttl
	}
}

// WithCachePrefix sets the account snapshot cache key prefix.
func WithCachePrefix(prefix string) Option {
	return func(c *Config) {
		c.CachePrefix = prefix
	}
}

// WithIsolation sets the isolation level used for mutations.
func WithIsolation(level sql.IsolationLevel) Option {
	return func(c *Config) {
		c.Isolation = level
	}
}

// WithConfig applies a complete Config, overriding all values.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// ApplyOptions applies the given options to a default config and returns the result.
func ApplyOptions(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// ToBreakerConfig converts the lock backend breaker settings to a circuit.Config.
func (c Config) ToBreakerConfig() circuit.Config {
	return circuit.Config{
		Threshold:       c.CircuitThreshold,
		Timeout:         c.CircuitTimeout,
		HalfOpenMaxReqs: c.CircuitHalfOpenReqs,
	}
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.LockTTL <= 0 {
		return fmt.Errorf("%w: lock TTL must be positive", ErrInvalidConfig)
	}
	if c.CircuitThreshold <= 0 {
		return fmt.Errorf("%w: circuit threshold must be positive", ErrInvalidConfig)
	}
	if c.CircuitTimeout <= 0 {
		return fmt.Errorf("%w: circuit timeout must be positive", ErrInvalidConfig)
	}
	if c.CircuitHalfOpenReqs <= 0 {
		return fmt.Errorf("%w: circuit half-open requests must be positive", ErrInvalidConfig)
	}
	if c.DefaultPageSize <= 0 {
		return fmt.Errorf("%w: default page size must be positive", ErrInvalidConfig)
	}
	if c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("%w: max page size %d below default %d", ErrInvalidConfig, c.MaxPageSize, c.DefaultPageSize)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("%w: cache TTL must not be negative", ErrInvalidConfig)
	}
	return nil
}
