package domain

import "sort"

// Metric describes one time-ordered sample table and how it is presented.
type Metric struct {
	Name        string
	Table       string
	ValueColumn string
	// Precision is the number of decimal places values are rounded to
	// before assembly.
	Precision int
	// PerChannel metrics are keyed unit-channel instead of unit.
	PerChannel bool
	// Sampled metrics honour the sampling rate; the rest return every row.
	Sampled bool
	// Lookback metrics are bounded to the trailing lookback window.
	Lookback bool
}

var metricCatalog = map[string]Metric{
	"growth_rates": {
		Name: "growth_rates", Table: "growth_rates", ValueColumn: "rate",
		Precision: 5, Sampled: true,
	},
	"temperature_readings": {
		Name: "temperature_readings", Table: "temperature_readings", ValueColumn: "temperature_c",
		Precision: 2, Sampled: true,
	},
	"od_readings_filtered": {
		Name: "od_readings_filtered", Table: "od_readings_filtered", ValueColumn: "normalized_od_reading",
		Precision: 7, Sampled: true, Lookback: true,
	},
	"od_readings": {
		Name: "od_readings", Table: "od_readings", ValueColumn: "od_reading",
		Precision: 7, PerChannel: true, Sampled: true, Lookback: true,
	},
	"alt_media_fraction": {
		Name: "alt_media_fraction", Table: "alt_media_fractions", ValueColumn: "alt_media_fraction",
		Precision: 7,
	},
}

// LookupMetric returns the catalog entry for name.
func LookupMetric(name string) (Metric, bool) {
	m, ok := metricCatalog[name]
	return m, ok
}

// MetricNames returns the catalog's metric names in sorted order.
func MetricNames() []string {
	names := make([]string, 0, len(metricCatalog))
	for name := range metricCatalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Datasets that can be exported for an experiment, keyed by export name.
var Datasets = []string{
	"growth_rates",
	"temperature_readings",
	"od_readings",
	"od_readings_filtered",
	"alt_media_fractions",
	"dosing_events",
	"logs",
}

// IsDataset reports whether name is an exportable dataset.
func IsDataset(name string) bool {
	for _, d := range Datasets {
		if d == name {
			return true
		}
	}
	return false
}
