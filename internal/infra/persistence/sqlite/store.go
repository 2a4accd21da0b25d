// Package sqlite opens the central store and the local event cache on
// embedded SQLite files.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"reactorboard/internal/infra/persistence/sqlstore"
	"reactorboard/internal/role"
)

//go:embed schema.sql
var schemaSQL string

const (
	driverName = "sqlite"
	// DefaultPath is the central database file used when none is configured.
	DefaultPath = "reactorboard.sqlite"
	// LocalCacheFile is the cache file name inside the cache directory.
	LocalCacheFile = "reactorboard_local_cache.sqlite"
)

var sqlOpen = sql.Open

// Dialect is the SQLite flavour of the shared SQL.
var Dialect = sqlstore.Dialect{
	Name:              "sqlite",
	Floor:             func(expr string) string { return "CAST(" + expr + " AS INTEGER)" },
	Double:            func(expr string) string { return "CAST(" + expr + " AS REAL)" },
	EncodeTime:        func(t time.Time) any { return sqlstore.FormatTextTime(t) },
	IsUniqueViolation: isUniqueViolation,
	Schema:            schemaSQL,
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	}
	return false
}

// dsn enables WAL and a busy timeout on every pooled connection.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(ON)")
	return "file:" + path + "?" + q.Encode()
}

func open(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sqlOpen(driverName, dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// OpenCentralStore opens (creating if needed) the central database at path
// and applies the schema.
func OpenCentralStore(ctx context.Context, path string, gate role.Gate) (*sqlstore.CentralStore, error) {
	if err := gate.Require("open central store"); err != nil {
		return nil, err
	}
	if path == "" {
		path = DefaultPath
	}
	db, err := open(ctx, path)
	if err != nil {
		return nil, err
	}
	store := sqlstore.NewCentralStore(db, Dialect, gate)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OpenLocalCache opens the disposable event cache in dir, or in the system
// temporary directory when dir is empty.
func OpenLocalCache(ctx context.Context, dir string) (*sqlstore.LocalCache, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, LocalCacheFile)
	db, err := open(ctx, path)
	if err != nil {
		return nil, err
	}
	cache := sqlstore.NewLocalCache(db, Dialect, path)
	if err := cache.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return cache, nil
}
