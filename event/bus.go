package event

import (
	"context"
	"log/slog"
	"sync"
)

// EventHandler handles one event. A returned error is logged and dropped.
type EventHandler func(ctx context.Context, event Event) error

// EventBus delivers events to subscribers.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// MemoryEventBus delivers events synchronously to in-process handlers.
type MemoryEventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
	logger      *slog.Logger
}

var _ EventBus = (*MemoryEventBus)(nil)

// MemoryEventBusOption configures a MemoryEventBus
type MemoryEventBusOption func(*MemoryEventBus)

// WithLogger sets the logger for handler failures.
func WithLogger(logger *slog.Logger) MemoryEventBusOption {
	return func(b *MemoryEventBus) {
		b.logger = logger
	}
}

// NewMemoryEventBus creates a new in-memory event bus.
func NewMemoryEventBus(opts ...MemoryEventBusOption) *MemoryEventBus {
	bus := &MemoryEventBus{
		handlers: make(map[EventType][]EventHandler),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(bus)
	}
	return bus
}

// Publish runs the type handlers, then the catch-all handlers. The mutation
// that produced the event has already committed, so handler failures never
// reach the caller.
func (b *MemoryEventBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers[event.Type])+len(b.allHandlers))
	handlers = append(handlers, b.handlers[event.Type]...)
	handlers = append(handlers, b.allHandlers...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.executeHandler(ctx, handler, event)
	}
	return nil
}

func (b *MemoryEventBus) executeHandler(ctx context.Context, handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "event handler panic",
				"event_type", event.Type.String(), "event_id", event.ID, "panic", r)
		}
	}()

	if err := handler(ctx, event); err != nil {
		b.logger.WarnContext(ctx, "event handler failed",
			"event_type", event.Type.String(), "event_id", event.ID,
			"account_number", event.AccountNumber, "error", err)
	}
}

// Subscribe registers handler for one event type.
func (b *MemoryEventBus) Subscribe(eventType EventType, handler EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return nil
}

// SubscribeAll registers handler for every event.
func (b *MemoryEventBus) SubscribeAll(handler EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.allHandlers = append(b.allHandlers, handler)
	return nil
}

// HandlerCount returns the number of handlers for a specific event type.
func (b *MemoryEventBus) HandlerCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.handlers[eventType])
}

// NoOpEventBus drops every event.
type NoOpEventBus struct{}

func (NoOpEventBus) Publish(context.Context, Event) error    { return nil }
func (NoOpEventBus) Subscribe(EventType, EventHandler) error { return nil }
func (NoOpEventBus) SubscribeAll(EventHandler) error         { return nil }
