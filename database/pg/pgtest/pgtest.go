// Package pgtest creates throwaway postgres databases for tests.
// Tests using it are skipped unless DB_URL_TEST is set.
package pgtest

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"

	"tokenledger/log"
)

// DBURL is a URL of the form "postgres://..." naming a server
// where the test user may create databases.
var DBURL = os.Getenv("DB_URL_TEST")

const (
	gcDur      = 3 * time.Minute
	timeFormat = "20060102150405"
)

// NewDB creates a database initialized with schema and returns it.
// The database is dropped when the test finishes.
func NewDB(t testing.TB, schema string) *sql.DB {
	t.Helper()
	if DBURL == "" {
		t.Skip("DB_URL_TEST not set")
	}
	ctx := context.Background()

	u, err := url.Parse(DBURL)
	if err != nil {
		t.Fatal(err)
	}
	ctldb, err := sql.Open("postgres", DBURL)
	if err != nil {
		t.Fatal(err)
	}
	err = gcdbs(ctx, ctldb)
	if err != nil {
		log.Error(ctx, err, "dropping old test databases")
	}

	dbname := pickDBName()
	_, err = ctldb.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(dbname))
	if err != nil {
		ctldb.Close()
		t.Fatal(err)
	}
	u.Path = "/" + dbname
	db, err := sql.Open("postgres", u.String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		db.Close()
		ctldb.ExecContext(ctx, "DROP DATABASE IF EXISTS "+pq.QuoteIdentifier(dbname))
		ctldb.Close()
	})

	_, err = db.ExecContext(ctx, schema)
	if err != nil {
		t.Fatal(err)
	}
	return db
}

// gcdbs drops test databases left behind by crashed runs.
func gcdbs(ctx context.Context, db *sql.DB) error {
	gcTime := time.Now().Add(-gcDur)
	const q = `
		SELECT datname FROM pg_database
		WHERE datname LIKE 'pgtest_%' AND datname < $1
	`
	rows, err := db.QueryContext(ctx, q, formatPrefix(gcTime))
	if err != nil {
		return err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		err = rows.Scan(&name)
		if err != nil {
			return err
		}
		names = append(names, name)
	}
	if rows.Err() != nil {
		return rows.Err()
	}
	for i, name := range names {
		if i > 5 {
			break // drop up to five databases per test
		}
		db.ExecContext(ctx, "DROP DATABASE "+pq.QuoteIdentifier(name))
	}
	return nil
}

func pickDBName() string {
	return fmt.Sprintf("%s_%08x", formatPrefix(time.Now()), rand.Uint32())
}

func formatPrefix(t time.Time) string {
	return "pgtest_" + t.UTC().Format(timeFormat)
}
