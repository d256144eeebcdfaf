// Package postgres provides the PostgreSQL dialect of the account store.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"ledger/store/sqlstore"
	"ledger/txn"
)

// uniqueViolation is the SQLSTATE for a unique constraint violation.
const uniqueViolation = pq.ErrorCode("23505")

//go:embed schema.sql
var schema string

// Dialect implements sqlstore.Dialect for PostgreSQL.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Rebind(query string) string { return sqlstore.Rebind(query) }

func (Dialect) IsDuplicateKey(err error) bool {
	var pe *pq.Error
	return errors.As(err, &pe) && pe.Code == uniqueViolation
}

// InsertID uses RETURNING id; lib/pq does not support LastInsertId.
func (Dialect) InsertID(ctx context.Context, exec txn.Execer, query string, args ...any) (int64, error) {
	return sqlstore.Returning(ctx, exec, query, args...)
}

func (Dialect) Schema() []string {
	return sqlstore.SplitStatements(schema)
}

// New creates an account store on a PostgreSQL database.
func New(db *sql.DB) *sqlstore.Store {
	return sqlstore.New(db, Dialect{})
}

// Migrate creates the ledger tables and indexes.
func Migrate(ctx context.Context, db *sql.DB) error {
	return sqlstore.Migrate(ctx, db, Dialect{})
}

// Open connects to PostgreSQL with a lib/pq connection string or URL.
func Open(ctx context.Context, dsn string, pool sqlstore.PoolConfig) (*sql.DB, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	db := sql.OpenDB(connector)
	pool.Apply(db)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}
