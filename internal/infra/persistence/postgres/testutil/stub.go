// Package testutil provides a stub database speaking the small SQL subset the
// postgres driver issues, so the driver can be tested without a server.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// StubConn records statements and keeps table rows in memory.
type StubConn struct {
	mu         sync.Mutex
	Execs      []string
	Tables     map[string][]map[string]any
	FailExec   bool
	FailPing   bool
	FailBegin  bool
	FailCommit bool
	FailTables map[string]bool
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
	if c.FailPing {
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

var (
	insertPattern   = regexp.MustCompile(`(?is)^INSERT INTO\s+(\w+)\s*\(([^)]*)\)\s*VALUES\s*\([^)]*\)(?:\s*ON CONFLICT\s*\((\w+)\))?`)
	deletePattern   = regexp.MustCompile(`(?is)^DELETE FROM\s+(\w+)\s+WHERE\s+(\w+)\s*=\s*\$1`)
	selectPattern   = regexp.MustCompile(`(?is)^SELECT\s+(DISTINCT\s+)?(.+?)\s+FROM\s+(\w+)(?:\s+WHERE\s+(\w+)\s*=\s*\$1)?(?:\s+ORDER BY\s+(\w+))?\s*$`)
	maxExprPattern  = regexp.MustCompile(`(?i)^COALESCE\(MAX\((\w+)\),\s*0\)$`)
	createTableExpr = regexp.MustCompile(`(?is)^CREATE TABLE`)
)

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	query = strings.TrimSpace(query)
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	if createTableExpr.MatchString(query) {
		return driver.RowsAffected(0), nil
	}
	if m := insertPattern.FindStringSubmatch(query); m != nil {
		table := strings.ToLower(m[1])
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		cols := splitColumns(m[2])
		if len(cols) != len(args) {
			return nil, fmt.Errorf("column/arg mismatch for %s", table)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = args[i].Value
		}
		if conflict := strings.ToLower(m[3]); conflict != "" {
			c.Tables[table] = filterRows(c.Tables[table], conflict, row[conflict])
		}
		c.Tables[table] = append(c.Tables[table], row)
		return driver.RowsAffected(1), nil
	}
	if m := deletePattern.FindStringSubmatch(query); m != nil {
		table, col := strings.ToLower(m[1]), strings.ToLower(m[2])
		if len(args) == 0 {
			return nil, fmt.Errorf("missing args for delete %s", table)
		}
		before := len(c.Tables[table])
		c.Tables[table] = filterRows(c.Tables[table], col, args[0].Value)
		return driver.RowsAffected(int64(before - len(c.Tables[table]))), nil
	}
	return nil, fmt.Errorf("unsupported statement: %s", query)
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := selectPattern.FindStringSubmatch(strings.TrimSpace(query))
	if m == nil {
		return nil, fmt.Errorf("cannot parse select: %s", query)
	}
	distinct, table := m[1] != "", strings.ToLower(m[3])
	if c.FailTables[table] {
		return nil, fmt.Errorf("query fail for %s", table)
	}
	rows := c.Tables[table]
	if where := strings.ToLower(m[4]); where != "" {
		if len(args) == 0 {
			return nil, fmt.Errorf("missing args for select %s", table)
		}
		rows = matchRows(rows, where, args[0].Value)
	}
	cols := splitColumns(m[2])
	if len(cols) == 1 {
		if agg := maxExprPattern.FindStringSubmatch(m[2]); agg != nil {
			return &stubRows{cols: cols, rows: [][]driver.Value{{maxInt(rows, strings.ToLower(agg[1]))}}}, nil
		}
	}
	if order := strings.ToLower(m[5]); order != "" {
		sorted := append([]map[string]any(nil), rows...)
		sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i][order], sorted[j][order]) })
		rows = sorted
	}
	values := make([][]driver.Value, 0, len(rows))
	seen := map[string]bool{}
	for _, row := range rows {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		if distinct {
			args := make([]any, len(vals))
			for i, v := range vals {
				args[i] = v
			}
			key := fmt.Sprint(args...)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		values = append(values, vals)
	}
	return &stubRows{cols: cols, rows: values}, nil
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	return nil
}
func (t *stubTx) Rollback() error { return nil }

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

func filterRows(rows []map[string]any, col string, value any) []map[string]any {
	var out []map[string]any
	for _, row := range rows {
		if equal(row[col], value) {
			continue
		}
		out = append(out, row)
	}
	return out
}

func matchRows(rows []map[string]any, col string, value any) []map[string]any {
	var out []map[string]any
	for _, row := range rows {
		if equal(row[col], value) {
			out = append(out, row)
		}
	}
	return out
}

func maxInt(rows []map[string]any, col string) int64 {
	var out int64
	for _, row := range rows {
		if v, ok := row[col].(int64); ok && v > out {
			out = v
		}
	}
	return out
}

func equal(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func less(a, b any) bool {
	ai, aok := a.(int64)
	bi, bok := b.(int64)
	if aok && bok {
		return ai < bi
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func splitColumns(raw string) []string {
	if maxExprPattern.MatchString(strings.TrimSpace(raw)) {
		return []string{strings.ToLower(strings.TrimSpace(raw))}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
