// Package metrics provides the metrics interface for the ledger services.
package metrics

import (
	"time"

	"ledger/circuit"
)

// Metrics defines the interface for collecting observability metrics.
// Operation names are the public service methods: create, update, delete,
// get, list and transfer.
type Metrics interface {
	// Operation metrics
	OperationStarted(op string)
	OperationCompleted(op string, duration time.Duration)
	OperationFailed(op string, kind string, duration time.Duration)

	// CASConflict counts conditional updates that matched no row
	CASConflict(op string)

	// Lock metrics
	LockAcquired(duration time.Duration)
	LockFailed(reason string)

	// Cache metrics
	CacheHit()
	CacheMiss()

	// Circuit breaker metrics
	CircuitStateChanged(service string, state circuit.State)
}

// NoopMetrics is a no-op implementation of Metrics for testing or when metrics are disabled.
type NoopMetrics struct{}

var _ Metrics = (*NoopMetrics)(nil)

func (n *NoopMetrics) OperationStarted(op string)                              {}
func (n *NoopMetrics) OperationCompleted(op string, duration time.Duration)    {}
func (n *NoopMetrics) OperationFailed(op, kind string, d time.Duration)        {}
func (n *NoopMetrics) CASConflict(op string)                                   {}
func (n *NoopMetrics) LockAcquired(duration time.Duration)                     {}
func (n *NoopMetrics) LockFailed(reason string)                                {}
func (n *NoopMetrics) CacheHit()                                               {}
func (n *NoopMetrics) CacheMiss()                                              {}
func (n *NoopMetrics) CircuitStateChanged(service string, state circuit.State) {}
