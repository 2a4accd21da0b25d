package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"reactorboard/pkg/domain"
)

// QueryMetric returns the rows of one metric table for an experiment ordered
// by timestamp, optionally sampled and bounded below.
func (s *CentralSession) QueryMetric(ctx context.Context, q domain.MetricQuery) ([]domain.MetricSample, error) {
	m := q.Metric
	if m.Table == "" || m.ValueColumn == "" {
		return nil, domain.ValidationError{Field: "metric", Reason: "table and value column are required"}
	}
	channel := "''"
	if m.PerChannel {
		channel = "channel"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT seq, experiment, pioreactor_unit, %s, timestamp, %s FROM %s WHERE experiment = ?`, channel, m.ValueColumn, m.Table)
	args := []any{q.Experiment}
	if q.SamplingRate > 0 {
		sb.WriteString(" AND ")
		sb.WriteString(s.d.SampleClause("seq"))
		args = append(args, float64(q.SamplingRate))
	}
	if !q.Since.IsZero() {
		sb.WriteString(" AND timestamp > ?")
		args = append(args, s.d.EncodeTime(q.Since))
	}
	sb.WriteString(" ORDER BY timestamp, seq")

	op := "query " + m.Table
	rows, err := s.query(ctx, op, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []domain.MetricSample{}
	for rows.Next() {
		var smp domain.MetricSample
		var ts dbTime
		if err := rows.Scan(&smp.Seq, &smp.Experiment, &smp.Unit, &smp.Channel, &ts, &smp.Value); err != nil {
			return nil, &domain.StorageError{Op: op, Err: err}
		}
		smp.Timestamp = ts.Time
		out = append(out, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: op, Err: err}
	}
	return out, nil
}

// AppendSample inserts one reading into the metric's table.
func (s *CentralSession) AppendSample(ctx context.Context, m domain.Metric, smp domain.MetricSample) (int64, error) {
	if m.PerChannel {
		return mutate(ctx, s.conn, s.d, "append "+m.Table,
			fmt.Sprintf(`INSERT INTO %s (experiment, pioreactor_unit, channel, timestamp, %s) VALUES (?, ?, ?, ?, ?)`, m.Table, m.ValueColumn),
			smp.Experiment, smp.Unit, smp.Channel, s.d.EncodeTime(smp.Timestamp), smp.Value)
	}
	return mutate(ctx, s.conn, s.d, "append "+m.Table,
		fmt.Sprintf(`INSERT INTO %s (experiment, pioreactor_unit, timestamp, %s) VALUES (?, ?, ?, ?)`, m.Table, m.ValueColumn),
		smp.Experiment, smp.Unit, s.d.EncodeTime(smp.Timestamp), smp.Value)
}

// MediaRates sums automated media and alt-media additions per unit since
// q.Since and divides by q.Hours.
func (s *CentralSession) MediaRates(ctx context.Context, q domain.MediaRateQuery) ([]domain.MediaRate, error) {
	if q.Hours <= 0 {
		return nil, domain.ValidationError{Field: "hours", Reason: "must be > 0"}
	}
	const op = "media rates"
	rows, err := s.query(ctx, op, `SELECT pioreactor_unit,
		SUM(CASE WHEN event = 'add_media' THEN volume_change_ml ELSE 0 END),
		SUM(CASE WHEN event = 'add_alt_media' THEN volume_change_ml ELSE 0 END)
		FROM dosing_events
		WHERE experiment = ? AND timestamp >= ? AND event IN ('add_media', 'add_alt_media') AND source_of_event LIKE 'dosing_automation%'
		GROUP BY pioreactor_unit ORDER BY pioreactor_unit`,
		q.Experiment, s.d.EncodeTime(q.Since))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []domain.MediaRate{}
	for rows.Next() {
		var r domain.MediaRate
		var media, alt float64
		if err := rows.Scan(&r.Unit, &media, &alt); err != nil {
			return nil, &domain.StorageError{Op: op, Err: err}
		}
		r.MediaRate = media / q.Hours
		r.AltMediaRate = alt / q.Hours
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: op, Err: err}
	}
	return out, nil
}

// AppendDosingEvent records one dosing event.
func (s *CentralSession) AppendDosingEvent(ctx context.Context, e domain.DosingEvent) (int64, error) {
	return mutate(ctx, s.conn, s.d, "append dosing event",
		`INSERT INTO dosing_events (experiment, pioreactor_unit, timestamp, event, volume_change_ml, source_of_event) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Experiment, e.Unit, s.d.EncodeTime(e.Timestamp), e.Event, e.VolumeChangeML, e.SourceOfEvent)
}

// ListCalibrations returns a unit's calibrations of one type, newest first.
func (s *CentralSession) ListCalibrations(ctx context.Context, unit, calibrationType string) ([]domain.Calibration, error) {
	const op = "list calibrations"
	rows, err := s.query(ctx, op,
		`SELECT pioreactor_unit, type, created_at, data FROM calibrations WHERE pioreactor_unit = ? AND type = ? ORDER BY created_at DESC`,
		unit, calibrationType)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []domain.Calibration{}
	for rows.Next() {
		var c domain.Calibration
		var created dbTime
		if err := rows.Scan(&c.Unit, &c.Type, &created, &c.Data); err != nil {
			return nil, &domain.StorageError{Op: op, Err: err}
		}
		c.CreatedAt = created.Time
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: op, Err: err}
	}
	return out, nil
}

// AppendCalibration stores a calibration record.
func (s *CentralSession) AppendCalibration(ctx context.Context, c domain.Calibration) (int64, error) {
	return mutate(ctx, s.conn, s.d, "append calibration",
		`INSERT INTO calibrations (pioreactor_unit, type, created_at, data) VALUES (?, ?, ?, ?)`,
		c.Unit, c.Type, s.d.EncodeTime(c.CreatedAt), c.Data)
}
