package testutil

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
)

func TestStubRecordsAndServesRows(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, "INSERT INTO logs (message) VALUES ($1)", "hello"); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if len(conn.Execs) != 1 || conn.Execs[0].Args[0] != "hello" {
		t.Fatalf("unexpected execs: %+v", conn.Execs)
	}

	conn.Rows["logs"] = [][]driver.Value{{"a", int64(1)}}
	rows, err := db.QueryContext(ctx, "SELECT message, seq FROM logs WHERE seq > $1", 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		t.Fatal("expected a row")
	}
	var msg string
	var seq int64
	if err := rows.Scan(&msg, &seq); err != nil || msg != "a" || seq != 1 {
		t.Fatalf("scan: %q %d %v", msg, seq, err)
	}
}

func TestStubExecErrSparesDDL(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	defer func() { _ = db.Close() }()
	conn.ExecErr = errors.New("boom")
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS x (a INT)"); err != nil {
		t.Fatalf("ddl should succeed: %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO x (a) VALUES ($1)", 1); err == nil {
		t.Fatal("expected injected error")
	}
}
