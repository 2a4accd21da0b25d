// Package postgres opens the central store on a PostgreSQL server through the
// pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"reactorboard/internal/infra/persistence/sqlstore"
	"reactorboard/internal/role"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/reactorboard?sslmode=disable"

	uniqueViolation = "23505"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Dialect is the PostgreSQL flavour of the shared SQL.
var Dialect = sqlstore.Dialect{
	Name:              "postgres",
	Numbered:          true,
	Floor:             func(expr string) string { return "FLOOR(" + expr + ")" },
	Double:            func(expr string) string { return "CAST(" + expr + " AS DOUBLE PRECISION)" },
	EncodeTime:        func(t time.Time) any { return t.UTC() },
	IsUniqueViolation: isUniqueViolation,
	Schema:            schemaSQL,
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// OpenCentralStore connects to dsn (falling back to a local default),
// verifies the connection and applies the schema.
func OpenCentralStore(ctx context.Context, dsn string, gate role.Gate) (*sqlstore.CentralStore, error) {
	if err := gate.Require("open central store"); err != nil {
		return nil, err
	}
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := sqlstore.NewCentralStore(db, Dialect, gate)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OverrideSQLOpen swaps the opener used by OpenCentralStore and returns a
// restore func. Tests only.
func OverrideSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}
