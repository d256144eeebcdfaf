package store

import (
	"time"

	"github.com/shopspring/decimal"

	"ledger"
)

// Account represents a row of the bank_account table.
type Account struct {
	// ID is the generated primary key.
	ID int64 `db:"id" json:"id"`

	// AccountNumber is the unique business key.
	AccountNumber string `db:"account_number" json:"account_number"`

	AccountType ledger.AccountType `db:"account_type" json:"account_type"`
	OwnerID     string             `db:"owner_id" json:"owner_id"`
	OwnerName   string             `db:"owner_name" json:"owner_name"`
	ContactInfo string             `db:"contact_info" json:"contact_info"`

	// Balance is never negative.
	Balance decimal.Decimal `db:"balance" json:"balance"`

	// BalanceAt is when the balance last changed.
	BalanceAt *time.Time `db:"balance_at" json:"balance_at,omitempty"`

	State ledger.AccountState `db:"state" json:"state"`

	// Version is an opaque token replaced on every mutation.
	Version int64 `db:"ver" json:"version"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Clone returns a copy that shares no pointers with a.
func (a *Account) Clone() *Account {
	c := *a
	if a.BalanceAt != nil {
		t := *a.BalanceAt
		c.BalanceAt = &t
	}
	if a.DeletedAt != nil {
		t := *a.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// Key returns the CAS precondition matching the current row.
func (a *Account) Key() CASKey {
	return CASKey{
		ID:              a.ID,
		AccountNumber:   a.AccountNumber,
		ExpectedState:   a.State,
		ExpectedVersion: a.Version,
	}
}

// AccountChangeLog represents a row of bank_account_change_log.
type AccountChangeLog struct {
	ID                int64               `db:"id" json:"id"`
	AccountID         int64               `db:"account_id" json:"account_id"`
	AccountNumber     string              `db:"account_number" json:"account_number"`
	OwnerID           string              `db:"owner_id" json:"owner_id"`
	ChangeType        ledger.ChangeType   `db:"change_type" json:"change_type"`
	ChangeDesc        string              `db:"change_desc" json:"change_desc"`
	BeforeState       ledger.AccountState `db:"before_state" json:"before_state"`
	AfterState        ledger.AccountState `db:"after_state" json:"after_state"`
	BeforeOwnerName   string              `db:"before_owner_name" json:"before_owner_name"`
	AfterOwnerName    string              `db:"after_owner_name" json:"after_owner_name"`
	BeforeContactInfo string              `db:"before_contact_info" json:"before_contact_info"`
	AfterContactInfo  string              `db:"after_contact_info" json:"after_contact_info"`
	CreatedAt         time.Time           `db:"created_at" json:"created_at"`
}

// BalanceChangeLog represents a row of bank_account_balance_log.
type BalanceChangeLog struct {
	ID            int64                    `db:"id" json:"id"`
	AccountID     int64                    `db:"account_id" json:"account_id"`
	AccountNumber string                   `db:"account_number" json:"account_number"`
	BeforeBalance decimal.Decimal          `db:"before_balance" json:"before_balance"`
	AfterBalance  decimal.Decimal          `db:"after_balance" json:"after_balance"`
	ChangeAmount  decimal.Decimal          `db:"change_amount" json:"change_amount"` // negative for outflows
	ChangeType    ledger.BalanceChangeType `db:"change_type" json:"change_type"`
	ChangeDesc    string                   `db:"change_desc" json:"change_desc"`
	CreatedAt     time.Time                `db:"created_at" json:"created_at"`
}

// TransferLog represents a row of bank_account_transfer_log.
type TransferLog struct {
	ID                int64           `db:"id" json:"id"`
	FromAccountID     int64           `db:"from_account_id" json:"from_account_id"`
	FromAccountNumber string          `db:"from_account_number" json:"from_account_number"`
	ToAccountID       int64           `db:"to_account_id" json:"to_account_id"`
	ToAccountNumber   string          `db:"to_account_number" json:"to_account_number"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	BeforeBalanceFrom decimal.Decimal `db:"before_balance_from" json:"before_balance_from"`
	AfterBalanceFrom  decimal.Decimal `db:"after_balance_from" json:"after_balance_from"`
	BeforeBalanceTo   decimal.Decimal `db:"before_balance_to" json:"before_balance_to"`
	AfterBalanceTo    decimal.Decimal `db:"after_balance_to" json:"after_balance_to"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

// NewAccountChangeLog records the difference between before and after.
// A nil before describes an account being opened.
func NewAccountChangeLog(before, after *Account, changeType ledger.ChangeType, at time.Time) *AccountChangeLog {
	log := &AccountChangeLog{
		AccountID:        after.ID,
		AccountNumber:    after.AccountNumber,
		OwnerID:          after.OwnerID,
		ChangeType:       changeType,
		ChangeDesc:       changeType.Description(),
		BeforeState:      ledger.StateNone,
		AfterState:       after.State,
		AfterOwnerName:   after.OwnerName,
		AfterContactInfo: after.ContactInfo,
		CreatedAt:        at,
	}
	if before != nil {
		log.BeforeState = before.State
		log.BeforeOwnerName = before.OwnerName
		log.BeforeContactInfo = before.ContactInfo
	}
	return log
}

// NewBalanceChangeLog records a balance movement of amount (signed) on a.
func NewBalanceChangeLog(a *Account, amount decimal.Decimal, changeType ledger.BalanceChangeType, at time.Time) *BalanceChangeLog {
	return &BalanceChangeLog{
		AccountID:     a.ID,
		AccountNumber: a.AccountNumber,
		BeforeBalance: a.Balance,
		AfterBalance:  a.Balance.Add(amount),
		ChangeAmount:  amount,
		ChangeType:    changeType,
		ChangeDesc:    changeType.Description(),
		CreatedAt:     at,
	}
}

// NewTransferLog records amount moving from one account to another, using the
// balances read before the transfer.
func NewTransferLog(from, to *Account, amount decimal.Decimal, at time.Time) *TransferLog {
	return &TransferLog{
		FromAccountID:     from.ID,
		FromAccountNumber: from.AccountNumber,
		ToAccountID:       to.ID,
		ToAccountNumber:   to.AccountNumber,
		Amount:            amount,
		BeforeBalanceFrom: from.Balance,
		AfterBalanceFrom:  from.Balance.Sub(amount),
		BeforeBalanceTo:   to.Balance,
		AfterBalanceTo:    to.Balance.Add(amount),
		CreatedAt:         at,
	}
}
