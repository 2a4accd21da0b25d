package sqlstore

import (
	"context"
	"database/sql"
	"strings"

	"reactorboard/pkg/domain"
)

const logColumns = `seq, timestamp, pioreactor_unit, task, message, level, COALESCE(source, ''), experiment`

func scanLogs(rows *sql.Rows, op string) ([]domain.LogEvent, error) {
	defer func() { _ = rows.Close() }()
	out := []domain.LogEvent{}
	for rows.Next() {
		var e domain.LogEvent
		var ts dbTime
		var level string
		if err := rows.Scan(&e.Seq, &ts, &e.Unit, &e.Task, &e.Message, &level, &e.Source, &e.Experiment); err != nil {
			return nil, &domain.StorageError{Op: op, Err: err}
		}
		e.Timestamp = ts.Time
		e.Level = domain.Level(level)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: op, Err: err}
	}
	return out, nil
}

func appendLog(ctx context.Context, conn *sql.Conn, d Dialect, op string, e domain.LogEvent) (int64, error) {
	return mutate(ctx, conn, d, op,
		`INSERT INTO logs (timestamp, pioreactor_unit, task, message, level, source, experiment) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.EncodeTime(e.Timestamp), e.Unit, e.Task, e.Message, string(e.Level), e.Source, e.Experiment)
}

// QueryLogs returns matching events newest first.
func (s *CentralSession) QueryLogs(ctx context.Context, q domain.LogQuery) ([]domain.LogEvent, error) {
	if len(q.Levels) == 0 {
		return []domain.LogEvent{}, nil
	}
	var sb strings.Builder
	sb.WriteString(`SELECT ` + logColumns + ` FROM logs WHERE level IN (` + Placeholders(len(q.Levels)) + `)`)
	args := make([]any, 0, len(q.Levels)+len(q.Experiments)+2)
	for _, l := range q.Levels {
		args = append(args, string(l))
	}
	if len(q.Experiments) > 0 {
		sb.WriteString(` AND experiment IN (` + Placeholders(len(q.Experiments)) + `)`)
		for _, e := range q.Experiments {
			args = append(args, e)
		}
	}
	if !q.Since.IsZero() {
		sb.WriteString(` AND timestamp >= ?`)
		args = append(args, s.d.EncodeTime(q.Since))
	}
	sb.WriteString(` ORDER BY timestamp DESC, seq DESC`)
	if q.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}
	rows, err := s.query(ctx, "query logs", sb.String(), args...)
	if err != nil {
		return nil, err
	}
	return scanLogs(rows, "query logs")
}

// AppendLog stores one event in the central logs table.
func (s *CentralSession) AppendLog(ctx context.Context, e domain.LogEvent) (int64, error) {
	return appendLog(ctx, s.conn, s.d, "append central log", e)
}
