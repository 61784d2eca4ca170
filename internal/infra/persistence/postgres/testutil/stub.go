// Package testutil provides an in-memory stub database for postgres store tests.
// It understands the narrow statement shapes the row writer emits: plain
// INSERTs, UPDATE ... SET ... WHERE and DELETE ... WHERE with equality
// predicates on $n parameters, and single-table SELECTs.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// StubConn records statements and keeps table rows in memory.
type StubConn struct {
	Execs      []string
	Tables     map[string][]map[string]any
	FailExec   bool
	FailBegin  bool
	RowsErr    error
	FailTables map[string]bool
	FailCommit bool
	// UniqueViolations makes inserts into the named tables fail with SQLSTATE 23505.
	UniqueViolations map[string]bool
	// SerializationFailure makes the next commit fail with SQLSTATE 40001.
	SerializationFailure bool
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailExec {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	if c.Tables == nil {
		c.Tables = make(map[string][]map[string]any)
	}
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "INSERT INTO"):
		table, cols, err := parseInsert(query)
		if err != nil {
			return nil, err
		}
		if err := c.checkTable(table); err != nil {
			return nil, err
		}
		if c.UniqueViolations[table] {
			return nil, &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint", TableName: table}
		}
		if len(cols) != len(args) {
			return nil, fmt.Errorf("column/arg mismatch for %s", table)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = args[i].Value
		}
		c.Tables[table] = append(c.Tables[table], row)
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(upper, "UPDATE "):
		table, sets, where, err := parseUpdate(query)
		if err != nil {
			return nil, err
		}
		if err := c.checkTable(table); err != nil {
			return nil, err
		}
		var affected int64
		for _, row := range c.Tables[table] {
			if !matches(row, where, args) {
				continue
			}
			for col, idx := range sets {
				row[col] = args[idx].Value
			}
			affected++
		}
		return driver.RowsAffected(affected), nil
	case strings.HasPrefix(upper, "DELETE FROM"):
		table, where, err := parseDelete(query)
		if err != nil {
			return nil, err
		}
		if err := c.checkTable(table); err != nil {
			return nil, err
		}
		var kept []map[string]any
		var affected int64
		for _, row := range c.Tables[table] {
			if matches(row, where, args) {
				affected++
				continue
			}
			kept = append(kept, row)
		}
		c.Tables[table] = kept
		return driver.RowsAffected(affected), nil
	}
	return driver.RowsAffected(0), nil
}

func (c *StubConn) checkTable(table string) error {
	if c.FailTables != nil && c.FailTables[table] {
		return fmt.Errorf("exec fail for %s", table)
	}
	return nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if c.Tables == nil {
		c.Tables = make(map[string][]map[string]any)
	}
	table, cols, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables != nil && c.FailTables[table] {
		return nil, fmt.Errorf("query fail for %s", table)
	}
	tableRows := c.Tables[table]
	values := make([][]driver.Value, 0, len(tableRows))
	for _, row := range tableRows {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{
		cols: cols,
		rows: values,
		err:  c.RowsErr,
	}, nil
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	if t.conn.SerializationFailure {
		t.conn.SerializationFailure = false
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"}
	}
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	return nil
}

// Rollback does not undo writes; tests inspect what reached the driver.
func (t *stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

// predicate binds a column to a zero-based argument index.
type predicate map[string]int

func matches(row map[string]any, where predicate, args []driver.NamedValue) bool {
	for col, idx := range where {
		if idx >= len(args) || row[col] != args[idx].Value {
			return false
		}
	}
	return true
}

func parseInsert(query string) (string, []string, error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	if intoIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(rest[:open]))
	cols := splitColumns(rest[open+1 : closeIdx])
	return table, cols, nil
}

func parseUpdate(query string) (string, predicate, predicate, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	setIdx := strings.Index(lower, " set ")
	whereIdx := strings.Index(lower, " where ")
	if !strings.HasPrefix(lower, "update ") || setIdx == -1 || whereIdx == -1 || whereIdx < setIdx {
		return "", nil, nil, fmt.Errorf("cannot parse update: %s", query)
	}
	table := strings.TrimSpace(lower[len("update "):setIdx])
	sets, err := parseAssignments(lower[setIdx+len(" set "):whereIdx], ",")
	if err != nil {
		return "", nil, nil, err
	}
	where, err := parseAssignments(lower[whereIdx+len(" where "):], " and ")
	if err != nil {
		return "", nil, nil, err
	}
	return table, sets, where, nil
}

func parseDelete(query string) (string, predicate, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	prefix := "delete from "
	whereIdx := strings.Index(lower, " where ")
	if !strings.HasPrefix(lower, prefix) || whereIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse delete: %s", query)
	}
	table := strings.TrimSpace(lower[len(prefix):whereIdx])
	where, err := parseAssignments(lower[whereIdx+len(" where "):], " and ")
	if err != nil {
		return "", nil, err
	}
	return table, where, nil
}

// parseAssignments reads "col = $n" pairs separated by sep.
func parseAssignments(raw, sep string) (predicate, error) {
	out := predicate{}
	for _, part := range strings.Split(raw, sep) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("cannot parse predicate %q", part)
		}
		param := strings.TrimPrefix(strings.TrimSpace(kv[1]), "$")
		n, err := strconv.Atoi(param)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("cannot parse parameter in %q", part)
		}
		out[strings.TrimSpace(kv[0])] = n - 1
	}
	return out, nil
}

func parseSelect(query string) (string, []string, error) {
	lower := strings.ToLower(query)
	selectPrefix := "select "
	fromToken := " from "
	if !strings.HasPrefix(lower, selectPrefix) {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, fromToken)
	if fromIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	cols := query[len(selectPrefix):fromIdx]
	table := strings.TrimSpace(query[fromIdx+len(fromToken):])
	if table == "" {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	table = strings.Fields(table)[0]
	return strings.ToLower(table), splitColumns(cols), nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
