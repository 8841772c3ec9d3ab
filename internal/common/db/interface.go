package db

import (
	"context"
	"database/sql"
)

// Database defines the interface for database operations.
// Both direct connections and transactions satisfy Querier so repositories
// can run the same statements inside or outside a transaction.
type Database interface {
	Querier

	// Transaction executes fn within a transaction, committing on nil
	// and rolling back on error.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	// BeginTx starts a new transaction
	BeginTx(ctx context.Context, opts *TxOptions) (Transaction, error)

	// Ping verifies the connection is alive
	Ping(ctx context.Context) error

	// Close closes the database connection
	Close() error
}

// Querier abstracts statement execution for both database and transaction.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// Transaction represents an in-progress database transaction.
type Transaction interface {
	Querier

	Commit() error
	Rollback() error
}

// Rows is the result of a query.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is the result of a single-row query.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an executed statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// TxOptions holds transaction options.
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

// ConvertTxOptions converts TxOptions to sql.TxOptions.
func ConvertTxOptions(opts *TxOptions) *sql.TxOptions {
	if opts == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: opts.Isolation, ReadOnly: opts.ReadOnly}
}

// GetQuerier returns the transaction if provided, otherwise the database.
func GetQuerier(database Database, tx Transaction) Querier {
	if tx != nil {
		return tx
	}
	return database
}
