// Package idgen generates time-ordered 64-bit identifiers.
//
// An ID packs, from the most significant bit down: milliseconds since the
// configured epoch, the tenant id, the node id and a per-millisecond sequence.
// The sign bit is never set.
package idgen

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrClockMovedBackwards is returned when the clock reads earlier than the last
// issued timestamp by more than the configured tolerance.
var ErrClockMovedBackwards = errors.New("clock moved backwards")

// DefaultEpoch is 2020-01-01T00:00:00Z.
var DefaultEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Config describes the bit layout and identity of a generator.
type Config struct {
	Epoch        time.Time // Start of the timestamp field, default 2020-01-01 UTC
	TenantBits   uint      // Default 5
	NodeBits     uint      // Default 5
	SequenceBits uint      // Default 12
	TenantID     int64
	NodeID       int64

	// MaxBackwardWait is how long NextID blocks waiting for a regressed clock
	// to catch up before failing. Zero fails immediately.
	MaxBackwardWait time.Duration
}

// DefaultConfig returns the default layout: 41 bits of time, 5 tenant, 5 node, 12 sequence.
func DefaultConfig() Config {
	return Config{
		Epoch:           DefaultEpoch,
		TenantBits:      5,
		NodeBits:        5,
		SequenceBits:    12,
		MaxBackwardWait: 5 * time.Millisecond,
	}
}

// Generator is safe for concurrent use. Each instance owns its last timestamp
// and sequence, so two generators with the same tenant and node must not be
// used for the same ID space.
type Generator struct {
	mu sync.Mutex

	epochMs       int64
	tenantShift   uint
	nodeShift     uint
	timeShift     uint
	sequenceMask  int64
	tenantNode    int64
	maxTimestamp  int64
	maxWait       time.Duration
	lastTimestamp int64
	sequence      int64

	now   func() time.Time
	sleep func(time.Duration)
}

// Option configures a Generator
type Option func(*Generator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// WithSleep overrides how the generator waits for the next millisecond.
func WithSleep(sleep func(time.Duration)) Option {
	return func(g *Generator) {
		g.sleep = sleep
	}
}

// New validates cfg and returns a generator.
func New(cfg Config, opts ...Option) (*Generator, error) {
	if cfg.Epoch.IsZero() {
		cfg.Epoch = DefaultEpoch
	}
	if cfg.SequenceBits == 0 {
		return nil, errors.New("idgen: sequence bits must be positive")
	}
	if cfg.TenantBits+cfg.NodeBits+cfg.SequenceBits > 30 {
		return nil, fmt.Errorf("idgen: %d tenant+node+sequence bits leave too few timestamp bits",
			cfg.TenantBits+cfg.NodeBits+cfg.SequenceBits)
	}
	maxTenant := int64(1)<<cfg.TenantBits - 1
	if cfg.TenantID < 0 || cfg.TenantID > maxTenant {
		return nil, fmt.Errorf("idgen: tenant id %d out of range [0, %d]", cfg.TenantID, maxTenant)
	}
	maxNode := int64(1)<<cfg.NodeBits - 1
	if cfg.NodeID < 0 || cfg.NodeID > maxNode {
		return nil, fmt.Errorf("idgen: node id %d out of range [0, %d]", cfg.NodeID, maxNode)
	}

	nodeShift := cfg.SequenceBits
	tenantShift := nodeShift + cfg.NodeBits
	timeShift := tenantShift + cfg.TenantBits

	g := &Generator{
		epochMs:       cfg.Epoch.UnixMilli(),
		tenantShift:   tenantShift,
		nodeShift:     nodeShift,
		timeShift:     timeShift,
		sequenceMask:  int64(1)<<cfg.SequenceBits - 1,
		tenantNode:    cfg.TenantID<<tenantShift | cfg.NodeID<<nodeShift,
		maxTimestamp:  int64(1)<<(63-timeShift) - 1,
		maxWait:       cfg.MaxBackwardWait,
		lastTimestamp: -1,
		now:           time.Now,
		sleep:         time.Sleep,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// NextID returns the next identifier. It never returns a value lower than or
// equal to a previously returned one.
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.timestamp()
	if ts < g.lastTimestamp {
		drift := time.Duration(g.lastTimestamp-ts) * time.Millisecond
		if drift > g.maxWait {
			return 0, fmt.Errorf("%w: refusing to generate id for %v", ErrClockMovedBackwards, drift)
		}
		ts = g.waitUntil(g.lastTimestamp)
		if ts < g.lastTimestamp {
			return 0, fmt.Errorf("%w: clock did not recover within %v", ErrClockMovedBackwards, g.maxWait)
		}
	}

	if ts == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & g.sequenceMask
		if g.sequence == 0 {
			// sequence exhausted for this millisecond
			ts = g.waitUntil(g.lastTimestamp + 1)
			if ts <= g.lastTimestamp {
				return 0, fmt.Errorf("%w: clock stalled at %d", ErrClockMovedBackwards, ts)
			}
		}
	} else {
		g.sequence = 0
	}

	if ts > g.maxTimestamp {
		return 0, fmt.Errorf("idgen: timestamp %d exceeds the layout capacity", ts)
	}
	g.lastTimestamp = ts

	return ts<<g.timeShift | g.tenantNode | g.sequence, nil
}

// MustNextID is NextID for callers that treat clock regression as fatal.
func (g *Generator) MustNextID() int64 {
	id, err := g.NextID()
	if err != nil {
		panic(err)
	}
	return id
}

// Decompose splits an id produced by g into its fields.
func (g *Generator) Decompose(id int64) (at time.Time, tenant, node, sequence int64) {
	ms := id >> g.timeShift
	tenantMask := int64(1)<<(g.timeShift-g.tenantShift) - 1
	nodeMask := int64(1)<<(g.tenantShift-g.nodeShift) - 1
	tenant = (id >> g.tenantShift) & tenantMask
	node = (id >> g.nodeShift) & nodeMask
	sequence = id & g.sequenceMask
	return time.UnixMilli(ms + g.epochMs).UTC(), tenant, node, sequence
}

func (g *Generator) timestamp() int64 {
	return g.now().UnixMilli() - g.epochMs
}

// waitUntil spins until the clock reaches target or the backward wait budget
// is spent, and returns the last reading.
func (g *Generator) waitUntil(target int64) int64 {
	deadline := g.now().Add(g.maxWait + time.Millisecond)
	ts := g.timestamp()
	for ts < target {
		if g.now().After(deadline) {
			return ts
		}
		g.sleep(time.Duration(target-ts) * time.Millisecond / 2)
		ts = g.timestamp()
	}
	return ts
}
