// Package testutil provides a recording database/sql driver for postgres
// store tests.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
)

// Statement is one recorded Exec or Query.
type Statement struct {
	Query string
	Args  []any
}

// StubConn records statements and serves canned rows keyed by table name.
type StubConn struct {
	Execs   []Statement
	Queries []Statement
	// Rows maps a table name to the rows returned by any SELECT from it.
	Rows map[string][][]driver.Value

	// ExecErr, when set, is returned by every non-DDL Exec.
	ExecErr    error
	FailPing   bool
	FailBegin  bool
	FailCommit bool

	Commits   int
	Rollbacks int
}

var stubSeq uint64

// NewStubDB registers a sql.DB backed by a single recording connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Rows: make(map[string][][]driver.Value)}
	name := fmt.Sprintf("stubpg%d", atomic.AddUint64(&stubSeq, 1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	return db, conn
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Execs = append(c.Execs, Statement{Query: query, Args: values(args)})
	if c.ExecErr != nil && !isDDL(query) {
		return nil, c.ExecErr
	}
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.Queries = append(c.Queries, Statement{Query: query, Args: values(args)})
	table := tableOf(query)
	rows := c.Rows[table]
	width := 0
	if len(rows) > 0 {
		width = len(rows[0])
	}
	cols := make([]string, width)
	for i := range cols {
		cols[i] = fmt.Sprintf("c%d", i)
	}
	return &stubRows{cols: cols, rows: rows}, nil
}

// LastQuery returns the most recent query, or an empty statement.
func (c *StubConn) LastQuery() Statement {
	if len(c.Queries) == 0 {
		return Statement{}
	}
	return c.Queries[len(c.Queries)-1]
}

// ExecContaining returns the recorded execs whose text contains fragment.
func (c *StubConn) ExecContaining(fragment string) []Statement {
	var out []Statement
	for _, s := range c.Execs {
		if strings.Contains(s.Query, fragment) {
			out = append(out, s)
		}
	}
	return out
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	t.conn.Commits++
	return nil
}

func (t *stubTx) Rollback() error {
	t.conn.Rollbacks++
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func values(args []driver.NamedValue) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}

func isDDL(query string) bool {
	up := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(up, "CREATE ")
}

// tableOf returns the first identifier after FROM, lower-cased.
func tableOf(query string) string {
	lower := strings.ToLower(query)
	idx := strings.Index(lower, " from ")
	if idx == -1 {
		return ""
	}
	fields := strings.Fields(lower[idx+len(" from "):])
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], "();")
}
