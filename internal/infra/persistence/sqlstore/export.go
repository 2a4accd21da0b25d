package sqlstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"reactorboard/pkg/domain"
)

// datasetColumns lists the exported columns of each dataset after the
// experiment column.
var datasetColumns = map[string][]string{
	"growth_rates":         {"timestamp", "pioreactor_unit", "rate"},
	"temperature_readings": {"timestamp", "pioreactor_unit", "temperature_c"},
	"od_readings":          {"timestamp", "pioreactor_unit", "channel", "od_reading"},
	"od_readings_filtered": {"timestamp", "pioreactor_unit", "normalized_od_reading"},
	"alt_media_fractions":  {"timestamp", "pioreactor_unit", "alt_media_fraction"},
	"dosing_events":        {"timestamp", "pioreactor_unit", "event", "volume_change_ml", "source_of_event"},
	"logs":                 {"timestamp", "pioreactor_unit", "task", "level", "message", "source"},
}

// ExportDataset streams one experiment's rows of dataset into sink in
// insertion order and returns the row count.
func (s *CentralSession) ExportDataset(ctx context.Context, dataset, experiment string, sink domain.RowSink) (int, error) {
	cols, ok := datasetColumns[dataset]
	if !ok || !domain.IsDataset(dataset) {
		return 0, domain.ValidationError{Field: "dataset", Reason: fmt.Sprintf("unknown dataset %q", dataset)}
	}
	header := append([]string{"experiment"}, cols...)
	if err := sink.Header(header); err != nil {
		return 0, err
	}
	op := "export " + dataset
	rows, err := s.query(ctx, op,
		fmt.Sprintf(`SELECT %s FROM %s WHERE experiment = ? ORDER BY timestamp, seq`, strings.Join(header, ", "), dataset),
		experiment)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()

	values := make([]any, len(header))
	ptrs := make([]any, len(header))
	for i := range values {
		ptrs[i] = &values[i]
	}
	n := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return n, &domain.StorageError{Op: op, Err: err}
		}
		record := make([]string, len(values))
		for i, v := range values {
			record[i] = formatValue(v)
		}
		if err := sink.Row(record); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, &domain.StorageError{Op: op, Err: err}
	}
	return n, nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return FormatTextTime(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
