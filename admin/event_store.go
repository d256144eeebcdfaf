// Package admin provides the operational HTTP endpoints of a running ledger:
// recent events, lock breaker state, health and metrics.
package admin

import (
	"context"
	"sort"
	"sync"

	"ledger/event"
)

// EventStore keeps the most recent events in memory, dropping the oldest
// once maxEvents is reached.
type EventStore struct {
	events    []event.Event
	maxEvents int
	mu        sync.RWMutex
}

// EventFilter selects events. Empty fields match everything.
type EventFilter struct {
	Type          string
	AccountNumber string
	Limit         int
	Offset        int
}

func (f EventFilter) match(e event.Event) bool {
	if f.Type != "" && string(e.Type) != f.Type {
		return false
	}
	return f.AccountNumber == "" || e.AccountNumber == f.AccountNumber
}

// NewEventStore creates an EventStore holding at most maxEvents events.
func NewEventStore(maxEvents int) *EventStore {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &EventStore{
		events:    make([]event.Event, 0, maxEvents),
		maxEvents: maxEvents,
	}
}

// Store appends e.
func (s *EventStore) Store(e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, e)
	if excess := len(s.events) - s.maxEvents; excess > 0 {
		s.events = s.events[excess:]
	}
}

// List returns matching events, newest first.
func (s *EventStore) List(filter EventFilter) []event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	var filtered []event.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if filter.match(s.events[i]) {
			filtered = append(filtered, s.events[i])
		}
	}

	if filter.Offset >= len(filtered) {
		return []event.Event{}
	}
	end := filter.Offset + filter.Limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[filter.Offset:end]
}

// Count returns the number of matching events.
func (s *EventStore) Count(filter EventFilter) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.events {
		if filter.match(e) {
			count++
		}
	}
	return count
}

// EventHandler returns a handler for EventBus.SubscribeAll.
func (s *EventStore) EventHandler() event.EventHandler {
	return func(ctx context.Context, e event.Event) error {
		s.Store(e)
		return nil
	}
}

// Len returns the number of stored events.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// EventTypes returns the distinct stored event types, sorted.
func (s *EventStore) EventTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[string]struct{})
	for _, e := range s.events {
		set[string(e.Type)] = struct{}{}
	}
	types := make([]string, 0, len(set))
	for t := range set {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
