// Package mysql provides the MySQL dialect of the account store.
package mysql

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"ledger/store/sqlstore"
	"ledger/txn"
)

// erDupEntry is the server error for a unique key violation.
const erDupEntry = 1062

//go:embed schema.sql
var schema string

// Dialect implements sqlstore.Dialect for MySQL.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "mysql" }

// Rebind returns query unchanged; MySQL uses '?' placeholders natively.
func (Dialect) Rebind(query string) string { return query }

// IsDuplicateKey checks if the error is a MySQL duplicate key error.
func (Dialect) IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == erDupEntry
	}
	return strings.Contains(err.Error(), "Duplicate entry") ||
		strings.Contains(err.Error(), "1062")
}

func (Dialect) InsertID(ctx context.Context, exec txn.Execer, query string, args ...any) (int64, error) {
	return sqlstore.LastInsertID(ctx, exec, query, args...)
}

func (Dialect) Schema() []string {
	return sqlstore.SplitStatements(schema)
}

// New creates an account store on a MySQL database.
func New(db *sql.DB) *sqlstore.Store {
	return sqlstore.New(db, Dialect{})
}

// Migrate creates the ledger tables.
func Migrate(ctx context.Context, db *sql.DB) error {
	return sqlstore.Migrate(ctx, db, Dialect{})
}

// Open connects to MySQL. parseTime is always enabled because the store scans
// DATETIME columns into time.Time.
func Open(ctx context.Context, dsn string, pool sqlstore.PoolConfig) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	pool.Apply(db)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}
