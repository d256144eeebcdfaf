package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"ledger/circuit"
)

// Server serves the operational endpoints.
type Server struct {
	addr        string
	breakers    map[string]*circuit.Breaker
	events      *EventStore
	metricsPath string
	metrics     http.Handler
	health      func(ctx context.Context) error
	logger      *slog.Logger
	mux         *http.ServeMux
	server      *http.Server

	mu      sync.Mutex
	running bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) ServerOption {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithBreaker exposes b under its name. A nil breaker is ignored.
func WithBreaker(b *circuit.Breaker) ServerOption {
	return func(s *Server) {
		if b != nil {
			s.breakers[b.Name()] = b
		}
	}
}

// WithEventStore sets the store backing /api/events.
func WithEventStore(events *EventStore) ServerOption {
	return func(s *Server) {
		s.events = events
	}
}

// WithMetricsHandler mounts h at path.
func WithMetricsHandler(path string, h http.Handler) ServerOption {
	return func(s *Server) {
		s.metricsPath = path
		s.metrics = h
	}
}

// WithHealthCheck sets the probe run by /healthz.
func WithHealthCheck(fn func(ctx context.Context) error) ServerOption {
	return func(s *Server) {
		s.health = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a Server.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		addr:     ":9090",
		breakers: make(map[string]*circuit.Breaker),
		logger:   slog.Default(),
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("GET /api/circuit-breakers", s.handleListBreakers)
	s.mux.HandleFunc("POST /api/circuit-breakers/{service}/reset", s.handleResetBreaker)
	if s.metrics != nil {
		s.mux.Handle("GET "+s.metricsPath, s.metrics)
	}
}

// Start listens until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("admin server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.server
	s.mu.Unlock()

	return srv.Shutdown(ctx)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ============================================================================
// Responses
// ============================================================================

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeInternalError   = "INTERNAL_ERROR"
	ErrCodeServiceNotFound = "SERVICE_NOT_FOUND"
	ErrCodeUnhealthy       = "UNHEALTHY"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIResponse{Error: &APIError{Code: code, Message: message}})
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnhealthy, err.Error())
			return
		}
	}
	writeSuccess(w, map[string]string{"status": "ok"})
}

// EventsListResponse is the payload of GET /api/events.
type EventsListResponse struct {
	Events     any      `json:"events"`
	Total      int      `json:"total"`
	EventTypes []string `json:"event_types"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "event store not configured")
		return
	}

	filter, err := parseEventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	writeSuccess(w, EventsListResponse{
		Events:     s.events.List(filter),
		Total:      s.events.Count(filter),
		EventTypes: s.events.EventTypes(),
	})
}

func parseEventFilter(r *http.Request) (EventFilter, error) {
	q := r.URL.Query()
	filter := EventFilter{
		Type:          q.Get("type"),
		AccountNumber: q.Get("account_number"),
		Limit:         100,
	}

	if v := q.Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l <= 0 || l > 1000 {
			return filter, fmt.Errorf("limit must be between 1 and 1000")
		}
		filter.Limit = l
	}
	if v := q.Get("offset"); v != "" {
		o, err := strconv.Atoi(v)
		if err != nil || o < 0 {
			return filter, fmt.Errorf("offset must not be negative")
		}
		filter.Offset = o
	}
	return filter, nil
}

// CircuitBreakerInfo describes one breaker.
type CircuitBreakerInfo struct {
	Service             string `json:"service"`
	State               string `json:"state"`
	Requests            int64  `json:"requests"`
	TotalFailures       int64  `json:"total_failures"`
	ConsecutiveFailures int64  `json:"consecutive_failures"`
}

func (s *Server) handleListBreakers(w http.ResponseWriter, r *http.Request) {
	infos := make([]CircuitBreakerInfo, 0, len(s.breakers))
	for name, b := range s.breakers {
		c := b.Counts()
		infos = append(infos, CircuitBreakerInfo{
			Service:             name,
			State:               b.State().String(),
			Requests:            c.Requests,
			TotalFailures:       c.TotalFailures,
			ConsecutiveFailures: c.ConsecutiveFailures,
		})
	}
	writeSuccess(w, infos)
}

func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	b, ok := s.breakers[service]
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeServiceNotFound, fmt.Sprintf("no circuit breaker named %q", service))
		return
	}

	b.Reset()
	s.logger.WarnContext(r.Context(), "circuit breaker reset", "service", service)
	writeSuccess(w, map[string]string{"service": service, "state": b.State().String()})
}
