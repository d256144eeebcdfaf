// Package store provides the storage interfaces and models for accounts and
// their audit trail.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ledger"
)

// CASKey is the precondition every conditional update compares against.
// AccountNumber is checked together with ID because ids may repeat across shards.
type CASKey struct {
	ID              int64
	AccountNumber   string
	ExpectedState   ledger.AccountState
	ExpectedVersion int64
}

// InfoUpdate replaces owner name and contact info.
type InfoUpdate struct {
	CASKey
	OwnerName   string
	ContactInfo string
	NewVersion  int64
	At          time.Time
}

// StateTransition moves an account to NewState. A transition to Closed also
// requires a zero balance and stamps deleted_at.
type StateTransition struct {
	CASKey
	NewState   ledger.AccountState
	NewVersion int64
	At         time.Time
}

// BalanceUpdate moves Amount (always positive) out of or into an account whose
// balance is expected to equal ExpectedBalance.
type BalanceUpdate struct {
	CASKey
	ExpectedBalance decimal.Decimal
	Amount          decimal.Decimal
	NewVersion      int64
	At              time.Time
}

// AccountStore is the persistent account table.
//
// The four conditional updates are single-statement compare-and-swap
// operations. They return the number of affected rows (0 or 1); 0 means the
// precondition no longer holds and is not reported as an error.
type AccountStore interface {
	// FindByAccountNumber returns the account in any state.
	// Returns an error of kind NotFound if no row matches.
	FindByAccountNumber(ctx context.Context, accountNumber string) (*Account, error)

	// FindByStateBeforeID returns up to limit accounts in state with id < cursorID,
	// ordered by id descending.
	FindByStateBeforeID(ctx context.Context, state ledger.AccountState, cursorID int64, limit int) ([]*Account, error)

	// Insert creates a new account row.
	// Returns an error of kind Duplicate if the account number is taken.
	Insert(ctx context.Context, account *Account) error

	UpdateInfo(ctx context.Context, u InfoUpdate) (int64, error)
	TransitionState(ctx context.Context, t StateTransition) (int64, error)

	// Debit additionally requires balance = ExpectedBalance AND balance >= Amount.
	Debit(ctx context.Context, u BalanceUpdate) (int64, error)

	// Credit additionally requires balance = ExpectedBalance.
	Credit(ctx context.Context, u BalanceUpdate) (int64, error)
}

// AuditWriter appends immutable audit records. Records are only ever inserted.
type AuditWriter interface {
	AppendAccountChange(ctx context.Context, log *AccountChangeLog) error
	AppendBalanceChange(ctx context.Context, log *BalanceChangeLog) error
	AppendTransfer(ctx context.Context, log *TransferLog) error
}

// Store combines the account table and its audit trail.
type Store interface {
	AccountStore
	AuditWriter
}
