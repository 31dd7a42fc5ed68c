// Package pg provides small utilities for the lib/pq
// database driver.
package pg

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"tokenledger/errors"
)

// DB holds methods common to the DB, Tx, and Stmt types
// in package sql.
type DB interface {
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
}

// Open opens a connection pool to the postgres database at url
// and checks that it is reachable. If logQueries is set, every
// statement is logged.
func Open(ctx context.Context, url string, logQueries bool) (*sql.DB, error) {
	name := "postgres"
	if logQueries {
		name = LogDriverName
	}
	db, err := sql.Open(name, url)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping")
	}
	return db, nil
}

// InTx runs fn inside a transaction on db. The transaction is
// committed if fn returns nil and rolled back otherwise.
func InTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	err = fn(tx)
	if err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// IsUniqueViolation returns true if the given error is a Postgres unique
// constraint violation error.
func IsUniqueViolation(err error) bool {
	pqErr, ok := errors.Root(err).(*pq.Error)
	return ok && pqErr.Code.Name() == "unique_violation"
}
