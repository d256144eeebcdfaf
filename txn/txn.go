// Package txn provides the transaction boundary around account mutations.
//
// The active *sql.Tx travels in the context, so stores pick it up with
// Executor without the caller threading it through every call.
package txn

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"ledger"
)

// Runner runs a function inside a transaction. Returning an error from fn
// rolls everything back; partial writes are never observable.
type Runner interface {
	// WithTransaction runs fn in a read-write transaction at the configured isolation.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// ReadOnly runs fn in its own read-only transaction.
	ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error
}

// Execer is the subset of *sql.DB and *sql.Tx used by stores.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txKey is the key type for storing the transaction in context.
type txKey struct{}

// Manager implements Runner on a *sql.DB.
type Manager struct {
	db        *sql.DB
	isolation sql.IsolationLevel
	logger    *slog.Logger
}

var _ Runner = (*Manager)(nil)

// Option configures a Manager
type Option func(*Manager)

// WithIsolation sets the isolation level for read-write transactions.
func WithIsolation(level sql.IsolationLevel) Option {
	return func(m *Manager) {
		m.isolation = level
	}
}

// WithLogger sets the logger used for rollback failures.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager. Read-write transactions default to repeatable read.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:        db,
		isolation: sql.LevelRepeatableRead,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithTransaction runs fn in a transaction. If ctx already carries one, fn
// joins it and the outermost call decides commit or rollback.
func (m *Manager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.run(ctx, &sql.TxOptions{Isolation: m.isolation}, fn)
}

// ReadOnly runs fn in a fresh read-only transaction so lookups never see a
// session-cached view left by an earlier write.
func (m *Manager) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.run(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

func (m *Manager) run(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context) error) (err error) {
	if _, ok := FromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, opts)
	if err != nil {
		return ledger.Wrap(ledger.KindInfrastructure, err, "begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			m.rollback(ctx, tx)
			panic(p)
		}
		if err != nil {
			m.rollback(ctx, tx)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return ledger.Wrap(ledger.KindInfrastructure, err, "commit transaction")
	}
	return nil
}

func (m *Manager) rollback(ctx context.Context, tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		m.logger.ErrorContext(ctx, "rollback transaction failed", "error", err)
	}
}

// FromContext returns the transaction carried by ctx.
func FromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}

// Executor returns the transaction in ctx, or db when there is none.
func Executor(ctx context.Context, db *sql.DB) Execer {
	if tx, ok := FromContext(ctx); ok {
		return tx
	}
	return db
}
