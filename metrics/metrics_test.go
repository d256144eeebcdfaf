package metrics

import (
	"testing"
	"time"

	"ledger/circuit"
)

func TestNoopMetrics(t *testing.T) {
	m := &NoopMetrics{}

	// All methods should not panic
	m.OperationStarted("transfer")
	m.OperationCompleted("transfer", 100*time.Millisecond)
	m.OperationFailed("transfer", "CONCURRENCY", 5*time.Millisecond)
	m.CASConflict("transfer")
	m.LockAcquired(10 * time.Millisecond)
	m.LockFailed("held")
	m.CacheHit()
	m.CacheMiss()
	m.CircuitStateChanged("lock", circuit.StateOpen)
}

func TestNoopMetrics_ImplementsInterface(t *testing.T) {
	var _ Metrics = (*NoopMetrics)(nil)
}
