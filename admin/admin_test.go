package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ledger/circuit"
	"ledger/event"
)

// ============================================================================
// Test Helpers
// ============================================================================

func do(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	var resp APIResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, resp
}

func accountEvent(typ event.EventType, accountNumber string) event.Event {
	return event.NewEvent(typ).WithAccount(accountNumber)
}

// ============================================================================
// EventStore
// ============================================================================

func TestEventStore_DropsOldest(t *testing.T) {
	s := NewEventStore(3)
	for i := 0; i < 5; i++ {
		s.Store(accountEvent(event.EventAccountCreated, fmt.Sprintf("A%03d", i)))
	}

	if s.Len() != 3 {
		t.Fatalf("expected 3 events, got %d", s.Len())
	}
	got := s.List(EventFilter{})
	if got[0].AccountNumber != "A004" || got[2].AccountNumber != "A002" {
		t.Errorf("expected newest first from A004 to A002, got %s..%s", got[0].AccountNumber, got[2].AccountNumber)
	}
}

func TestEventStore_Filter(t *testing.T) {
	s := NewEventStore(0)
	s.Store(accountEvent(event.EventAccountCreated, "A001"))
	s.Store(accountEvent(event.EventTransferCompleted, "A001"))
	s.Store(accountEvent(event.EventAccountCreated, "A002"))

	tests := []struct {
		name   string
		filter EventFilter
		want   int
	}{
		{"all", EventFilter{}, 3},
		{"by type", EventFilter{Type: string(event.EventAccountCreated)}, 2},
		{"by account", EventFilter{AccountNumber: "A001"}, 2},
		{"by both", EventFilter{Type: string(event.EventTransferCompleted), AccountNumber: "A001"}, 1},
		{"no match", EventFilter{AccountNumber: "A999"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Count(tt.filter); got != tt.want {
				t.Errorf("Count = %d, want %d", got, tt.want)
			}
			if got := len(s.List(tt.filter)); got != tt.want {
				t.Errorf("len(List) = %d, want %d", got, tt.want)
			}
		})
	}

	if page := s.List(EventFilter{Limit: 1, Offset: 1}); len(page) != 1 || page[0].Type != event.EventTransferCompleted {
		t.Errorf("unexpected page: %+v", page)
	}
	if page := s.List(EventFilter{Offset: 10}); len(page) != 0 {
		t.Errorf("expected empty page, got %d", len(page))
	}
	if types := s.EventTypes(); len(types) != 2 || types[0] != "account.created" {
		t.Errorf("unexpected types: %v", types)
	}
}

func TestEventStore_SubscribesToBus(t *testing.T) {
	s := NewEventStore(10)
	bus := event.NewMemoryEventBus()
	if err := bus.SubscribeAll(s.EventHandler()); err != nil {
		t.Fatalf("SubscribeAll failed: %v", err)
	}

	if err := bus.Publish(context.Background(), accountEvent(event.EventAccountClosed, "A001")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 stored event, got %d", s.Len())
	}
}

// ============================================================================
// Server
// ============================================================================

func TestServer_Health(t *testing.T) {
	healthy := NewServer()
	rec, resp := do(t, healthy.Handler(), http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK || !resp.Success {
		t.Errorf("expected healthy, got %d %+v", rec.Code, resp)
	}

	sick := NewServer(WithHealthCheck(func(ctx context.Context) error {
		return errors.New("database unreachable")
	}))
	rec, resp = do(t, sick.Handler(), http.MethodGet, "/healthz")
	if rec.Code != http.StatusServiceUnavailable || resp.Error == nil || resp.Error.Code != ErrCodeUnhealthy {
		t.Errorf("expected unhealthy, got %d %+v", rec.Code, resp)
	}
}

func TestServer_ListEvents(t *testing.T) {
	store := NewEventStore(10)
	store.Store(accountEvent(event.EventAccountCreated, "A001"))
	store.Store(accountEvent(event.EventOperationFailed, "A002"))
	srv := NewServer(WithEventStore(store))

	rec, resp := do(t, srv.Handler(), http.MethodGet, "/api/events?account_number=A002")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := resp.Data.(map[string]any)
	if data["total"].(float64) != 1 {
		t.Errorf("expected total 1, got %v", data["total"])
	}
	events := data["events"].([]any)
	if events[0].(map[string]any)["type"] != "operation.failed" {
		t.Errorf("unexpected event: %v", events[0])
	}

	for _, q := range []string{"limit=0", "limit=abc", "limit=1001", "offset=-1"} {
		rec, _ := do(t, srv.Handler(), http.MethodGet, "/api/events?"+q)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestServer_ListEventsWithoutStore(t *testing.T) {
	rec, _ := do(t, NewServer().Handler(), http.MethodGet, "/api/events")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestServer_CircuitBreakers(t *testing.T) {
	b := circuit.New("lock", circuit.Config{Threshold: 1, Timeout: time.Hour, HalfOpenMaxReqs: 1})
	_ = b.Execute(context.Background(), func() error { return errors.New("redis down") })
	srv := NewServer(WithBreaker(b), WithBreaker(nil))

	_, resp := do(t, srv.Handler(), http.MethodGet, "/api/circuit-breakers")
	infos := resp.Data.([]any)
	if len(infos) != 1 {
		t.Fatalf("expected 1 breaker, got %d", len(infos))
	}
	info := infos[0].(map[string]any)
	if info["service"] != "lock" || info["state"] != "OPEN" || info["total_failures"].(float64) != 1 {
		t.Errorf("unexpected breaker info: %v", info)
	}

	rec, resp := do(t, srv.Handler(), http.MethodPost, "/api/circuit-breakers/lock/reset")
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("reset failed: %d %+v", rec.Code, resp)
	}
	if b.State() != circuit.StateClosed {
		t.Errorf("expected closed breaker after reset, got %s", b.State())
	}

	rec, resp = do(t, srv.Handler(), http.MethodPost, "/api/circuit-breakers/kafka/reset")
	if rec.Code != http.StatusNotFound || resp.Error.Code != ErrCodeServiceNotFound {
		t.Errorf("expected 404, got %d %+v", rec.Code, resp)
	}
}

func TestServer_MetricsHandler(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ledger_operation_started_total 1\n"))
	})
	srv := NewServer(WithMetricsHandler("/metrics", metrics))

	rec, _ := do(t, srv.Handler(), http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ledger_operation_started_total") {
		t.Errorf("unexpected metrics response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestServer_StopBeforeStart(t *testing.T) {
	if err := NewServer().Stop(context.Background()); err != nil {
		t.Errorf("Stop on idle server should be a no-op, got %v", err)
	}
}
