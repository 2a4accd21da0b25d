package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"reactorboard/internal/role"
	"reactorboard/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.CentralStore   = (*CentralStore)(nil)
	_ domain.CentralSession = (*CentralSession)(nil)
)

// CentralStore hands out per-request sessions on a shared pool. Only the
// leader may open sessions.
type CentralStore struct {
	db      *sql.DB
	dialect Dialect
	gate    role.Gate
}

// NewCentralStore wraps db. The schema is not applied.
func NewCentralStore(db *sql.DB, dialect Dialect, gate role.Gate) *CentralStore {
	return &CentralStore{db: db, dialect: dialect, gate: gate}
}

// Migrate applies the dialect's schema.
func (s *CentralStore) Migrate(ctx context.Context) error {
	return ApplySchema(ctx, s.db, s.dialect.Schema)
}

// Open acquires a dedicated connection from the pool.
func (s *CentralStore) Open(ctx context.Context) (domain.CentralSession, error) {
	if err := s.gate.Require("central store"); err != nil {
		return nil, err
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, &domain.StorageError{Op: "acquire central connection", Err: err}
	}
	return &CentralSession{conn: conn, d: s.dialect}, nil
}

// Close closes the pool.
func (s *CentralStore) Close() error { return s.db.Close() }

// CentralSession is one pooled connection. Mutations run in their own
// transaction.
type CentralSession struct {
	conn *sql.Conn
	d    Dialect
}

// Close returns the connection to the pool.
func (s *CentralSession) Close() error { return s.conn.Close() }

var errUniqueViolation = errors.New("unique constraint violated")

// mutate runs one statement in a transaction, rolling back on any error.
func mutate(ctx context.Context, conn *sql.Conn, d Dialect, op, query string, args ...any) (n int64, retErr error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, &domain.StorageError{Op: op, Err: fmt.Errorf("begin: %w", err)}
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, d.Rebind(query), args...)
	if err != nil {
		if d.IsUniqueViolation != nil && d.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%s: %w: %v", op, errUniqueViolation, err)
		}
		return 0, &domain.StorageError{Op: op, Err: err}
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, &domain.StorageError{Op: op, Err: fmt.Errorf("rows affected: %w", err)}
	}
	if err := tx.Commit(); err != nil {
		return 0, &domain.StorageError{Op: op, Err: fmt.Errorf("commit: %w", err)}
	}
	return n, nil
}

func (s *CentralSession) query(ctx context.Context, op, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.conn.QueryContext(ctx, s.d.Rebind(query), args...)
	if err != nil {
		return nil, &domain.StorageError{Op: op, Err: err}
	}
	return rows, nil
}

const experimentColumns = `experiment, created_at, COALESCE(description, ''), COALESCE(media_used, ''), COALESCE(organism_used, '')`

func scanExperiment(sc interface{ Scan(...any) error }) (domain.Experiment, error) {
	var e domain.Experiment
	var created dbTime
	if err := sc.Scan(&e.ID, &created, &e.Description, &e.MediaUsed, &e.OrganismUsed); err != nil {
		return domain.Experiment{}, err
	}
	e.CreatedAt = created.Time
	return e, nil
}

// CurrentExperiment returns the most recently created experiment; ties go to
// the highest identifier.
func (s *CentralSession) CurrentExperiment(ctx context.Context) (domain.Experiment, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+experimentColumns+` FROM experiments ORDER BY created_at DESC, experiment DESC LIMIT 1`)
	e, err := scanExperiment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Experiment{}, domain.NotFoundError{Entity: "experiment"}
	}
	if err != nil {
		return domain.Experiment{}, &domain.StorageError{Op: "current experiment", Err: err}
	}
	return e, nil
}

// GetExperiment returns one experiment by identifier.
func (s *CentralSession) GetExperiment(ctx context.Context, id string) (domain.Experiment, error) {
	row := s.conn.QueryRowContext(ctx, s.d.Rebind(`SELECT `+experimentColumns+` FROM experiments WHERE experiment = ?`), id)
	e, err := scanExperiment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Experiment{}, domain.NotFoundError{Entity: "experiment", ID: id}
	}
	if err != nil {
		return domain.Experiment{}, &domain.StorageError{Op: "get experiment", Err: err}
	}
	return e, nil
}

// ListExperiments returns every experiment, newest first.
func (s *CentralSession) ListExperiments(ctx context.Context) ([]domain.Experiment, error) {
	rows, err := s.query(ctx, "list experiments", `SELECT `+experimentColumns+` FROM experiments ORDER BY created_at DESC, experiment DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []domain.Experiment{}
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, &domain.StorageError{Op: "list experiments", Err: err}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list experiments", Err: err}
	}
	return out, nil
}

// CreateExperiment inserts exp, returning ConflictError on a duplicate id.
func (s *CentralSession) CreateExperiment(ctx context.Context, exp domain.Experiment) (int64, error) {
	n, err := mutate(ctx, s.conn, s.d, "create experiment",
		`INSERT INTO experiments (experiment, created_at, description, media_used, organism_used) VALUES (?, ?, ?, ?, ?)`,
		exp.ID, s.d.EncodeTime(exp.CreatedAt), exp.Description, exp.MediaUsed, exp.OrganismUsed)
	if errors.Is(err, errUniqueViolation) {
		return 0, domain.ConflictError{Entity: "experiment", ID: exp.ID}
	}
	return n, err
}

// UpdateExperimentDescription sets the description of id.
func (s *CentralSession) UpdateExperimentDescription(ctx context.Context, id, description string) (int64, error) {
	return mutate(ctx, s.conn, s.d, "update experiment description",
		`UPDATE experiments SET description = ? WHERE experiment = ?`, description, id)
}

// HistoricalOrganisms lists distinct non-empty organisms, most recent first.
func (s *CentralSession) HistoricalOrganisms(ctx context.Context) ([]string, error) {
	return s.historical(ctx, "organism_used")
}

// HistoricalMedia lists distinct non-empty media, most recent first.
func (s *CentralSession) HistoricalMedia(ctx context.Context) ([]string, error) {
	return s.historical(ctx, "media_used")
}

func (s *CentralSession) historical(ctx context.Context, column string) ([]string, error) {
	op := "historical " + column
	rows, err := s.query(ctx, op, fmt.Sprintf(
		`SELECT %[1]s FROM experiments WHERE %[1]s IS NOT NULL AND %[1]s <> '' GROUP BY %[1]s ORDER BY MAX(created_at) DESC`, column))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, &domain.StorageError{Op: op, Err: err}
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: op, Err: err}
	}
	return out, nil
}
