package domain

import (
	"context"
	"time"
)

// MetricQuery selects samples of one metric for one experiment.
type MetricQuery struct {
	Metric     Metric
	Experiment string
	// SamplingRate is the inverse density k; zero disables sampling.
	SamplingRate int
	// Since bounds timestamps exclusively from below; zero means unbounded.
	Since time.Time
}

// LogQuery selects log events, newest first.
type LogQuery struct {
	Levels []Level
	// Experiments matched by equality; empty matches every experiment.
	Experiments []string
	// Since bounds timestamps inclusively from below; zero means unbounded.
	Since time.Time
	Limit int
}

// MediaRateQuery selects dosing throughput over a trailing window.
type MediaRateQuery struct {
	Experiment string
	Since      time.Time
	Hours      float64
}

// RowSink receives exported dataset rows. Header is called once before any
// row.
type RowSink interface {
	Header(columns []string) error
	Row(values []string) error
}

// CentralStore is the durable, leader-only application store. Sessions are
// acquired per request and must be closed.
type CentralStore interface {
	Open(ctx context.Context) (CentralSession, error)
	Close() error
}

// CentralSession is one acquired connection to the central store. Mutating
// methods run inside their own transaction and return rows affected.
type CentralSession interface {
	CurrentExperiment(ctx context.Context) (Experiment, error)
	GetExperiment(ctx context.Context, id string) (Experiment, error)
	ListExperiments(ctx context.Context) ([]Experiment, error)
	CreateExperiment(ctx context.Context, exp Experiment) (int64, error)
	UpdateExperimentDescription(ctx context.Context, id, description string) (int64, error)
	HistoricalOrganisms(ctx context.Context) ([]string, error)
	HistoricalMedia(ctx context.Context) ([]string, error)

	QueryMetric(ctx context.Context, q MetricQuery) ([]MetricSample, error)
	// AppendSample, AppendDosingEvent and AppendCalibration write rows the
	// fleet's job processes normally insert directly. The dashboard only
	// reads these tables; the methods exist for seeding and imports.
	AppendSample(ctx context.Context, metric Metric, sample MetricSample) (int64, error)

	QueryLogs(ctx context.Context, q LogQuery) ([]LogEvent, error)
	AppendLog(ctx context.Context, event LogEvent) (int64, error)

	MediaRates(ctx context.Context, q MediaRateQuery) ([]MediaRate, error)
	AppendDosingEvent(ctx context.Context, event DosingEvent) (int64, error)

	ListCalibrations(ctx context.Context, unit, calibrationType string) ([]Calibration, error)
	AppendCalibration(ctx context.Context, c Calibration) (int64, error)

	ExportDataset(ctx context.Context, dataset, experiment string, sink RowSink) (int, error)

	Close() error
}

// LocalCache is the node-local, disposable event store. Every role may write
// to it; it is never the source of truth for leader events.
type LocalCache interface {
	Open(ctx context.Context) (LocalSession, error)
	// Path is the cache file location, logged at startup.
	Path() string
	Close() error
}

// LocalSession is one acquired connection to the local cache.
type LocalSession interface {
	AppendLog(ctx context.Context, event LogEvent) (int64, error)
	RecentLogs(ctx context.Context, limit int) ([]LogEvent, error)
	// CountLogs reports the cache size for health checks.
	CountLogs(ctx context.Context) (int64, error)
	Close() error
}
