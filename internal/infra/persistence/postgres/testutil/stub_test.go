package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func TestStubDBStoresAndQueriesRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	upsert := "INSERT INTO records(name,payload) VALUES($1,$2) ON CONFLICT(name) DO UPDATE SET payload=excluded.payload"
	for _, payload := range []string{`{"a":"1"}`, `{"a":"2"}`} {
		if _, err := conn.ExecContext(ctx, upsert, []driver.NamedValue{{Value: "ali"}, {Value: []byte(payload)}}); err != nil {
			t.Fatalf("ExecContext upsert: %v", err)
		}
	}
	if len(conn.Tables["records"]) != 1 {
		t.Fatalf("expected upsert to replace the row, got %v", conn.Tables["records"])
	}

	rows, err := conn.QueryContext(ctx, "SELECT payload FROM records WHERE name = $1", []driver.NamedValue{{Value: "ali"}})
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	dest := make([]driver.Value, 1)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(dest[0].([]byte)) != `{"a":"2"}` {
		t.Fatalf("unexpected payload: %s", dest[0])
	}

	for _, v := range []int64{1, 2} {
		if _, err := conn.ExecContext(ctx, "INSERT INTO history(name,version,payload) VALUES($1,$2,$3)", []driver.NamedValue{{Value: "ali"}, {Value: v}, {Value: []byte("{}")}}); err != nil {
			t.Fatalf("insert history: %v", err)
		}
	}
	rows, err = conn.QueryContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM history WHERE name = $1", []driver.NamedValue{{Value: "ali"}})
	if err != nil {
		t.Fatalf("QueryContext max: %v", err)
	}
	if err := rows.Next(dest); err != nil || dest[0] != int64(2) {
		t.Fatalf("expected max version 2, got %v (%v)", dest[0], err)
	}

	res, err := conn.ExecContext(ctx, "DELETE FROM records WHERE name = $1", []driver.NamedValue{{Value: "ali"}})
	if err != nil {
		t.Fatalf("ExecContext delete: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("expected one deleted row, got %d", n)
	}
	if _, err := conn.ExecContext(ctx, "VACUUM", nil); err == nil {
		t.Fatalf("expected unsupported statement error")
	}
}
