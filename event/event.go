// Package event defines the notifications published after account mutations
// commit, and the bus that delivers them.
package event

import (
	"time"

	"github.com/google/uuid"

	"ledger"
)

// EventType identifies what happened
type EventType string

const (
	// Account lifecycle events
	EventAccountCreated EventType = "account.created"
	EventAccountUpdated EventType = "account.updated"
	EventAccountFrozen  EventType = "account.frozen"
	EventAccountClosed  EventType = "account.closed"

	// Money movement events
	EventTransferCompleted EventType = "transfer.completed"

	// Published when a mutation is rejected or aborted
	EventOperationFailed EventType = "operation.failed"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// Event is a committed fact about an account. Events are published only after
// the owning transaction commits, except EventOperationFailed.
type Event struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Operation     string         `json:"operation"`
	AccountNumber string         `json:"account_number"`
	Timestamp     time.Time      `json:"timestamp"`
	Data          map[string]any `json:"data,omitempty"`
	ErrorKind     string         `json:"error_kind,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// NewEvent creates an event with a fresh id and the current time.
func NewEvent(eventType EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      make(map[string]any),
	}
}

// WithOperation sets the operation that produced the event.
func (e Event) WithOperation(op string) Event {
	e.Operation = op
	return e
}

// WithAccount sets the primary account number. For transfers this is the source.
func (e Event) WithAccount(accountNumber string) Event {
	e.AccountNumber = accountNumber
	return e
}

// WithError records err and its kind.
func (e Event) WithError(err error) Event {
	if err == nil {
		return e
	}
	e.Error = err.Error()
	e.ErrorKind = ledger.KindOf(err).String()
	return e
}

// WithData sets a key-value pair in the event data.
func (e Event) WithData(key string, value any) Event {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}
