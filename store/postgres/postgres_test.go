package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"ledger"
	"ledger/store"
	"ledger/store/sqlstore"
)

func newTestStore(t *testing.T) (*sqlstore.Store, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return New(db), mock, func() { db.Close() }
}

func TestDialect_IsDuplicateKey(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unique violation", &pq.Error{Code: "23505"}, true},
		{"wrapped unique violation", fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), true},
		{"serialization failure", &pq.Error{Code: "40001"}, false},
		{"plain error", errors.New("duplicate key value"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Dialect{}).IsDuplicateKey(tt.err); got != tt.want {
				t.Errorf("IsDuplicateKey(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDialect_Schema(t *testing.T) {
	stmts := (Dialect{}).Schema()

	var tables, indexes int
	for _, s := range stmts {
		switch {
		case strings.HasPrefix(s, "CREATE TABLE"):
			tables++
		case strings.HasPrefix(s, "CREATE INDEX"):
			indexes++
		default:
			t.Errorf("unexpected statement: %.60s", s)
		}
	}
	if tables != 4 {
		t.Errorf("expected 4 tables, got %d", tables)
	}
	if indexes != 6 {
		t.Errorf("expected 6 indexes, got %d", indexes)
	}
}

func TestStore_DebitUsesNumberedPlaceholders(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectExec(`balance = balance - \$1, balance_at = \$2.+ AND balance = \$9 AND balance >= \$10`).
		WithArgs("5.0000000000", sqlmock.AnyArg(), int64(2), sqlmock.AnyArg(),
			int64(1), "ACC-1", ledger.StateActive, int64(1), "10.0000000000", "5.0000000000").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.Debit(context.Background(), store.BalanceUpdate{
		CASKey:          store.CASKey{ID: 1, AccountNumber: "ACC-1", ExpectedState: ledger.StateActive, ExpectedVersion: 1},
		ExpectedBalance: decimal.NewFromInt(10),
		Amount:          decimal.NewFromInt(5),
		NewVersion:      2,
		At:              time.Now(),
	})
	if err != nil || n != 1 {
		t.Fatalf("expected 1 row, got %d (%v)", n, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_AppendUsesReturning(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery(`INSERT INTO bank_account_transfer_log .+ RETURNING id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(31)))

	from := &store.Account{ID: 1, AccountNumber: "A", Balance: decimal.NewFromInt(10)}
	to := &store.Account{ID: 2, AccountNumber: "B"}
	l := store.NewTransferLog(from, to, decimal.NewFromInt(4), time.Now())

	if err := s.AppendTransfer(context.Background(), l); err != nil {
		t.Fatalf("AppendTransfer failed: %v", err)
	}
	if l.ID != 31 {
		t.Errorf("expected id 31, got %d", l.ID)
	}
}

func TestStore_InsertDuplicate(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO bank_account").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uniq_account"})

	err := s.Insert(context.Background(), &store.Account{AccountNumber: "ACC-1"})
	if !errors.Is(err, ledger.ErrDuplicate) {
		t.Errorf("expected duplicate error, got %v", err)
	}
}
