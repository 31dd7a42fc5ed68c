package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/lib/pq"

	"tokenledger/log"
	"tokenledger/metrics"
)

// LogDriverName is the database/sql driver that logs each statement
// before passing it to lib/pq.
const LogDriverName = "postgres-log"

func init() {
	sql.Register(LogDriverName, LogDriver(&pq.Driver{}))
}

const maxArgsLogLen = 20 // bytes

func logQuery(ctx context.Context, query string, args interface{}) {
	metrics.Inc("pg.statements")
	s := fmt.Sprint(args)
	if len(s) > maxArgsLogLen {
		s = s[:maxArgsLogLen-3] + "..."
	}
	log.Printkv(ctx, "query", query, "args", s)
}

type logDriver struct {
	driver driver.Driver
}

// LogDriver returns a Driver that logs each statement
// before forwarding it to d.
func LogDriver(d driver.Driver) driver.Driver {
	return &logDriver{d}
}

func (ld *logDriver) Open(name string) (driver.Conn, error) {
	c, err := ld.driver.Open(name)
	if err != nil {
		return nil, err
	}
	return &logConn{c}, nil
}

type logConn struct {
	driver.Conn
}

func (lc *logConn) Prepare(query string) (driver.Stmt, error) {
	stmt, err := lc.Conn.Prepare(query)
	if err != nil {
		return nil, err
	}
	return &logStmt{query, stmt}, nil
}

func (lc *logConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if b, ok := lc.Conn.(driver.ConnBeginTx); ok {
		return b.BeginTx(ctx, opts)
	}
	return lc.Conn.Begin()
}

func (lc *logConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	execer, ok := lc.Conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	logQuery(ctx, query, namedValues(args))
	defer metrics.Latency("pg.exec").RecordSince(time.Now())
	return execer.ExecContext(ctx, query, args)
}

func (lc *logConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	queryer, ok := lc.Conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	logQuery(ctx, query, namedValues(args))
	defer metrics.Latency("pg.query").RecordSince(time.Now())
	return queryer.QueryContext(ctx, query, args)
}

type logStmt struct {
	query string
	driver.Stmt
}

func (ls *logStmt) Exec(args []driver.Value) (driver.Result, error) {
	logQuery(context.Background(), ls.query, args)
	return ls.Stmt.Exec(args)
}

func (ls *logStmt) Query(args []driver.Value) (driver.Rows, error) {
	logQuery(context.Background(), ls.query, args)
	return ls.Stmt.Query(args)
}

func namedValues(args []driver.NamedValue) []driver.Value {
	vals := make([]driver.Value, len(args))
	for i, a := range args {
		vals[i] = a.Value
	}
	return vals
}
