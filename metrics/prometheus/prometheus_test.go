package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"ledger/circuit"
)

// ============================================================================
// Test Helpers
// ============================================================================

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

// labeled finds the series whose labels include all of want.
func labeled(mf *dto.MetricFamily, want map[string]string) *dto.Metric {
	if mf == nil {
		return nil
	}
	for _, m := range mf.GetMetric() {
		matched := 0
		for _, l := range m.GetLabel() {
			if v, ok := want[l.GetName()]; ok && v == l.GetValue() {
				matched++
			}
		}
		if matched == len(want) {
			return m
		}
	}
	return nil
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Namespace != "ledger" {
		t.Errorf("expected namespace 'ledger', got '%s'", cfg.Namespace)
	}
	if cfg.Subsystem != "" {
		t.Errorf("expected empty subsystem, got '%s'", cfg.Subsystem)
	}
	if cfg.Registry != prometheus.DefaultRegisterer {
		t.Error("expected default registry")
	}
}

func TestPrometheusMetrics_Operations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Namespace: "test", Registry: reg})

	m.OperationStarted("transfer")
	m.OperationStarted("transfer")
	m.OperationCompleted("transfer", 20*time.Millisecond)
	m.OperationFailed("transfer", "INSUFFICIENT_BALANCE", 5*time.Millisecond)

	mfs := gather(t, reg)

	started := labeled(mfs["test_operation_started_total"], map[string]string{"operation": "transfer"})
	if started == nil || started.GetCounter().GetValue() != 2 {
		t.Errorf("expected 2 started transfers, got %v", started)
	}

	failed := labeled(mfs["test_operation_failed_total"], map[string]string{"operation": "transfer", "kind": "INSUFFICIENT_BALANCE"})
	if failed == nil || failed.GetCounter().GetValue() != 1 {
		t.Errorf("expected 1 failed transfer, got %v", failed)
	}

	success := labeled(mfs["test_operation_duration_seconds"], map[string]string{"operation": "transfer", "outcome": "success"})
	if success == nil || success.GetHistogram().GetSampleCount() != 1 {
		t.Errorf("expected one success observation, got %v", success)
	}
}

func TestPrometheusMetrics_CASConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Namespace: "test", Registry: reg})

	m.CASConflict("update")
	m.CASConflict("update")
	m.CASConflict("delete")

	mfs := gather(t, reg)
	mf := mfs["test_cas_conflict_total"]
	if mf == nil || len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 cas conflict series, got %v", mf)
	}
	if got := labeled(mf, map[string]string{"operation": "update"}).GetCounter().GetValue(); got != 2 {
		t.Errorf("expected 2 update conflicts, got %f", got)
	}
}

func TestPrometheusMetrics_Lock(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Namespace: "test", Registry: reg})

	m.LockAcquired(3 * time.Millisecond)
	m.LockFailed("held")
	m.LockFailed("backend")

	mfs := gather(t, reg)
	if got := mfs["test_lock_acquired_total"].GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("expected 1 acquired lock, got %f", got)
	}
	if got := mfs["test_lock_acquire_duration_seconds"].GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("expected 1 duration sample, got %d", got)
	}
	if labeled(mfs["test_lock_failed_total"], map[string]string{"reason": "held"}) == nil {
		t.Error("expected lock failure series for reason=held")
	}
}

func TestPrometheusMetrics_Cache(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Namespace: "test", Registry: reg})

	m.CacheMiss()
	m.CacheHit()
	m.CacheHit()

	mfs := gather(t, reg)
	hits := labeled(mfs["test_cache_requests_total"], map[string]string{"result": "hit"})
	if hits == nil || hits.GetCounter().GetValue() != 2 {
		t.Errorf("expected 2 hits, got %v", hits)
	}
}

func TestPrometheusMetrics_CircuitState(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Namespace: "test", Registry: reg})

	m.CircuitStateChanged("lock", circuit.StateOpen)

	mfs := gather(t, reg)
	g := labeled(mfs["test_circuit_breaker_state"], map[string]string{"service": "lock"})
	if g == nil || g.GetGauge().GetValue() != float64(circuit.StateOpen) {
		t.Errorf("expected gauge %d, got %v", circuit.StateOpen, g)
	}

	m.CircuitStateChanged("lock", circuit.StateClosed)
	mfs = gather(t, reg)
	g = labeled(mfs["test_circuit_breaker_state"], map[string]string{"service": "lock"})
	if g.GetGauge().GetValue() != 0 {
		t.Errorf("expected closed gauge, got %f", g.GetGauge().GetValue())
	}
}
