package sqlstore

import (
	"context"
	"database/sql"

	"reactorboard/pkg/domain"
)

var (
	_ domain.LocalCache   = (*LocalCache)(nil)
	_ domain.LocalSession = (*LocalSession)(nil)
)

// LocalSchema is the DDL of the node-local event cache.
const LocalSchema = `CREATE TABLE IF NOT EXISTS logs (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	pioreactor_unit TEXT NOT NULL,
	task TEXT NOT NULL,
	message TEXT NOT NULL,
	level TEXT NOT NULL,
	source TEXT,
	experiment TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS logs_timestamp_idx ON logs (timestamp)`

// LocalCache is the disposable per-node event store. Every role may use it.
type LocalCache struct {
	db      *sql.DB
	dialect Dialect
	path    string
}

// NewLocalCache wraps db, whose data lives at path.
func NewLocalCache(db *sql.DB, dialect Dialect, path string) *LocalCache {
	return &LocalCache{db: db, dialect: dialect, path: path}
}

// Migrate creates the cache table.
func (c *LocalCache) Migrate(ctx context.Context) error {
	return ApplySchema(ctx, c.db, LocalSchema)
}

// Open acquires a dedicated connection.
func (c *LocalCache) Open(ctx context.Context) (domain.LocalSession, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, &domain.StorageError{Op: "acquire local connection", Err: err}
	}
	return &LocalSession{conn: conn, d: c.dialect}, nil
}

// Path is the cache's file location.
func (c *LocalCache) Path() string { return c.path }

// Close closes the pool.
func (c *LocalCache) Close() error { return c.db.Close() }

// LocalSession is one connection to the local cache.
type LocalSession struct {
	conn *sql.Conn
	d    Dialect
}

// AppendLog stores one event locally.
func (s *LocalSession) AppendLog(ctx context.Context, e domain.LogEvent) (int64, error) {
	return appendLog(ctx, s.conn, s.d, "append local log", e)
}

// RecentLogs returns up to limit events, newest first.
func (s *LocalSession) RecentLogs(ctx context.Context, limit int) ([]domain.LogEvent, error) {
	rows, err := s.conn.QueryContext(ctx, s.d.Rebind(`SELECT `+logColumns+` FROM logs ORDER BY timestamp DESC, seq DESC LIMIT ?`), limit)
	if err != nil {
		return nil, &domain.StorageError{Op: "recent local logs", Err: err}
	}
	return scanLogs(rows, "recent local logs")
}

// CountLogs returns the number of cached events.
func (s *LocalSession) CountLogs(ctx context.Context) (int64, error) {
	var n int64
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs`).Scan(&n); err != nil {
		return 0, &domain.StorageError{Op: "count local logs", Err: err}
	}
	return n, nil
}

// Close returns the connection to the pool.
func (s *LocalSession) Close() error { return s.conn.Close() }
