// Package sqlstore implements store.Store on database/sql.
//
// Statements are written with '?' placeholders; the Dialect rewrites them
// for drivers that number their parameters.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledger"
	"ledger/money"
	"ledger/store"
	"ledger/txn"
)

// Dialect captures what differs between SQL backends.
type Dialect interface {
	// Name identifies the dialect in logs and errors.
	Name() string

	// Rebind rewrites '?' placeholders into the driver's syntax.
	Rebind(query string) string

	// IsDuplicateKey reports whether err is a unique-constraint violation.
	IsDuplicateKey(err error) bool

	// InsertID runs an INSERT and returns the generated primary key.
	InsertID(ctx context.Context, exec txn.Execer, query string, args ...any) (int64, error)

	// Schema returns the DDL statements creating the ledger tables.
	Schema() []string
}

// Store implements store.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ store.Store = (*Store)(nil)

// New creates a Store on db.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Migrate creates the ledger tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	for _, stmt := range dialect.Schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s migrate: %w", dialect.Name(), err)
		}
	}
	return nil
}

func (s *Store) exec(ctx context.Context) txn.Execer {
	return txn.Executor(ctx, s.db)
}

// ============================================================================
// Account Queries
// ============================================================================

const accountColumns = `id, account_number, account_type, owner_id, owner_name, contact_info,
		balance, balance_at, state, ver, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*store.Account, error) {
	a := &store.Account{}
	var contactInfo sql.NullString
	var balanceAt, deletedAt sql.NullTime

	err := row.Scan(
		&a.ID, &a.AccountNumber, &a.AccountType, &a.OwnerID, &a.OwnerName, &contactInfo,
		&a.Balance, &balanceAt, &a.State, &a.Version, &a.CreatedAt, &a.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	a.ContactInfo = contactInfo.String
	if balanceAt.Valid {
		t := balanceAt.Time
		a.BalanceAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		a.DeletedAt = &t
	}
	return a, nil
}

// FindByAccountNumber returns the account regardless of its state.
func (s *Store) FindByAccountNumber(ctx context.Context, accountNumber string) (*store.Account, error) {
	query := s.dialect.Rebind(`
		SELECT ` + accountColumns + `
		FROM bank_account
		WHERE account_number = ?
	`)

	a, err := scanAccount(s.exec(ctx).QueryRowContext(ctx, query, accountNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.Errorf(ledger.KindNotFound, "account %s not found", accountNumber)
	}
	if err != nil {
		return nil, ledger.Wrap(ledger.KindInfrastructure, err, "find account %s", accountNumber)
	}
	return a, nil
}

// FindByStateBeforeID pages backwards through accounts in state.
func (s *Store) FindByStateBeforeID(ctx context.Context, state ledger.AccountState, cursorID int64, limit int) ([]*store.Account, error) {
	query := s.dialect.Rebind(`
		SELECT ` + accountColumns + `
		FROM bank_account
		WHERE state = ? AND id < ?
		ORDER BY id DESC
		LIMIT ?
	`)

	rows, err := s.exec(ctx).QueryContext(ctx, query, state, cursorID, limit)
	if err != nil {
		return nil, ledger.Wrap(ledger.KindInfrastructure, err, "list accounts before %d", cursorID)
	}
	defer rows.Close()

	accounts := make([]*store.Account, 0, limit)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, ledger.Wrap(ledger.KindInfrastructure, err, "scan account")
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Wrap(ledger.KindInfrastructure, err, "iterate accounts")
	}
	return accounts, nil
}

// Insert creates the account row. A unique violation on account_number is
// reported as a Duplicate error.
func (s *Store) Insert(ctx context.Context, a *store.Account) error {
	query := s.dialect.Rebind(`
		INSERT INTO bank_account (
			id, account_number, account_type, owner_id, owner_name, contact_info,
			balance, balance_at, state, ver, created_at, updated_at, deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.exec(ctx).ExecContext(ctx, query,
		a.ID, a.AccountNumber, a.AccountType, a.OwnerID, a.OwnerName, a.ContactInfo,
		money.Storage(a.Balance), nullTime(a.BalanceAt), a.State, a.Version,
		a.CreatedAt, a.UpdatedAt, nullTime(a.DeletedAt),
	)
	if err != nil {
		if s.dialect.IsDuplicateKey(err) {
			return ledger.Errorf(ledger.KindDuplicate, "account with number %s already exists", a.AccountNumber)
		}
		return ledger.Wrap(ledger.KindInfrastructure, err, "insert account %s", a.AccountNumber)
	}
	return nil
}

// ============================================================================
// Conditional Updates
// ============================================================================

// UpdateInfo replaces owner name and contact info if the CAS key still matches.
func (s *Store) UpdateInfo(ctx context.Context, u store.InfoUpdate) (int64, error) {
	query := s.dialect.Rebind(`
		UPDATE bank_account SET
			owner_name = ?, contact_info = ?, ver = ?, updated_at = ?
		WHERE id = ? AND account_number = ? AND state = ? AND ver = ?
	`)

	return s.execCAS(ctx, "update info", query,
		u.OwnerName, u.ContactInfo, u.NewVersion, u.At,
		u.ID, u.AccountNumber, u.ExpectedState, u.ExpectedVersion,
	)
}

// TransitionState changes the account state. Closing additionally requires a
// zero balance and stamps deleted_at.
func (s *Store) TransitionState(ctx context.Context, t store.StateTransition) (int64, error) {
	if t.NewState == ledger.StateClosed {
		query := s.dialect.Rebind(`
			UPDATE bank_account SET
				state = ?, ver = ?, updated_at = ?, deleted_at = ?
			WHERE id = ? AND account_number = ? AND state = ? AND ver = ? AND balance = 0
		`)
		return s.execCAS(ctx, "close", query,
			t.NewState, t.NewVersion, t.At, t.At,
			t.ID, t.AccountNumber, t.ExpectedState, t.ExpectedVersion,
		)
	}

	query := s.dialect.Rebind(`
		UPDATE bank_account SET
			state = ?, ver = ?, updated_at = ?
		WHERE id = ? AND account_number = ? AND state = ? AND ver = ?
	`)
	return s.execCAS(ctx, "transition state", query,
		t.NewState, t.NewVersion, t.At,
		t.ID, t.AccountNumber, t.ExpectedState, t.ExpectedVersion,
	)
}

// Debit subtracts the amount if balance still equals the expected value and covers it.
func (s *Store) Debit(ctx context.Context, u store.BalanceUpdate) (int64, error) {
	query := s.dialect.Rebind(`
		UPDATE bank_account SET
			balance = balance - ?, balance_at = ?, ver = ?, updated_at = ?
		WHERE id = ? AND account_number = ? AND state = ? AND ver = ?
			AND balance = ? AND balance >= ?
	`)

	amount := money.Storage(u.Amount)
	return s.execCAS(ctx, "debit", query,
		amount, u.At, u.NewVersion, u.At,
		u.ID, u.AccountNumber, u.ExpectedState, u.ExpectedVersion,
		money.Storage(u.ExpectedBalance), amount,
	)
}

// Credit adds the amount if balance still equals the expected value.
func (s *Store) Credit(ctx context.Context, u store.BalanceUpdate) (int64, error) {
	query := s.dialect.Rebind(`
		UPDATE bank_account SET
			balance = balance + ?, balance_at = ?, ver = ?, updated_at = ?
		WHERE id = ? AND account_number = ? AND state = ? AND ver = ?
			AND balance = ?
	`)

	return s.execCAS(ctx, "credit", query,
		money.Storage(u.Amount), u.At, u.NewVersion, u.At,
		u.ID, u.AccountNumber, u.ExpectedState, u.ExpectedVersion,
		money.Storage(u.ExpectedBalance),
	)
}

func (s *Store) execCAS(ctx context.Context, op, query string, args ...any) (int64, error) {
	result, err := s.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, ledger.Wrap(ledger.KindInfrastructure, err, "%s", op)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, ledger.Wrap(ledger.KindInfrastructure, err, "%s rows affected", op)
	}
	return n, nil
}

// ============================================================================
// Audit Trail
// ============================================================================

// AppendAccountChange inserts an account change record and sets its ID.
func (s *Store) AppendAccountChange(ctx context.Context, l *store.AccountChangeLog) error {
	id, err := s.dialect.InsertID(ctx, s.exec(ctx), s.dialect.Rebind(`
		INSERT INTO bank_account_change_log (
			account_id, account_number, owner_id, change_type, change_desc,
			before_state, after_state, before_owner_name, after_owner_name,
			before_contact_info, after_contact_info, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		l.AccountID, l.AccountNumber, l.OwnerID, l.ChangeType, l.ChangeDesc,
		l.BeforeState, l.AfterState, l.BeforeOwnerName, l.AfterOwnerName,
		l.BeforeContactInfo, l.AfterContactInfo, l.CreatedAt,
	)
	if err != nil {
		return ledger.Wrap(ledger.KindInfrastructure, err, "append account change for %s", l.AccountNumber)
	}
	l.ID = id
	return nil
}

// AppendBalanceChange inserts a balance change record and sets its ID.
func (s *Store) AppendBalanceChange(ctx context.Context, l *store.BalanceChangeLog) error {
	id, err := s.dialect.InsertID(ctx, s.exec(ctx), s.dialect.Rebind(`
		INSERT INTO bank_account_balance_log (
			account_id, account_number, before_balance, after_balance,
			change_amount, change_type, change_desc, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`),
		l.AccountID, l.AccountNumber, money.Storage(l.BeforeBalance), money.Storage(l.AfterBalance),
		money.Storage(l.ChangeAmount), l.ChangeType, l.ChangeDesc, l.CreatedAt,
	)
	if err != nil {
		return ledger.Wrap(ledger.KindInfrastructure, err, "append balance change for %s", l.AccountNumber)
	}
	l.ID = id
	return nil
}

// AppendTransfer inserts a transfer record and sets its ID.
func (s *Store) AppendTransfer(ctx context.Context, l *store.TransferLog) error {
	id, err := s.dialect.InsertID(ctx, s.exec(ctx), s.dialect.Rebind(`
		INSERT INTO bank_account_transfer_log (
			from_account_id, from_account_number, to_account_id, to_account_number, amount,
			before_balance_from, after_balance_from, before_balance_to, after_balance_to, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		l.FromAccountID, l.FromAccountNumber, l.ToAccountID, l.ToAccountNumber, money.Storage(l.Amount),
		money.Storage(l.BeforeBalanceFrom), money.Storage(l.AfterBalanceFrom),
		money.Storage(l.BeforeBalanceTo), money.Storage(l.AfterBalanceTo), l.CreatedAt,
	)
	if err != nil {
		return ledger.Wrap(ledger.KindInfrastructure, err, "append transfer %s -> %s", l.FromAccountNumber, l.ToAccountNumber)
	}
	l.ID = id
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// LastInsertID runs query and returns the driver's last insert id.
func LastInsertID(ctx context.Context, exec txn.Execer, query string, args ...any) (int64, error) {
	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// Returning appends RETURNING id to query and scans the generated key.
func Returning(ctx context.Context, exec txn.Execer, query string, args ...any) (int64, error) {
	var id int64
	err := exec.QueryRowContext(ctx, strings.TrimRight(query, " \t\n")+" RETURNING id", args...).Scan(&id)
	return id, err
}

// Rebind converts '?' placeholders into '$1', '$2', ... as numbered-parameter
// drivers expect. Placeholders inside quoted literals are left alone.
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			fmt.Fprintf(&b, "$%d", n)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// SplitStatements splits a schema script on ';' terminators, dropping blanks
// and '--' comment lines.
func SplitStatements(script string) []string {
	var stmts []string
	for _, part := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			stmts = append(stmts, strings.TrimSpace(strings.Join(lines, "\n")))
		}
	}
	return stmts
}

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Apply sets the non-zero pool limits on db.
func (p PoolConfig) Apply(db *sql.DB) {
	if p.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.MaxOpenConns)
	}
	if p.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.MaxIdleConns)
	}
	if p.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.ConnMaxLifetime)
	}
	if p.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(p.ConnMaxIdleTime)
	}
}
