package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"reactorboard/pkg/domain"
)

// MetricsRecorder receives the outcome of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Metrics publishes service, bridge, transport and export counters on a
// private Prometheus registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	opDuration      *prometheus.HistogramVec
	opResults       *prometheus.CounterVec
	bridgeEvents    *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	ingested        prometheus.Counter
	transportState  prometheus.Gauge
	exports         *prometheus.CounterVec
	fleetCommands   *prometheus.CounterVec
}

// NewMetrics registers the collectors on a fresh registry together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		opDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reactorboard_operation_duration_seconds",
			Help:    "Duration of service operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"operation"}),
		opResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reactorboard_operation_results_total",
			Help: "Service operation outcomes by status.",
		}, []string{"operation", "status"}),
		bridgeEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reactorboard_bridge_events_total",
			Help: "Events recorded through the event log bridge by level.",
		}, []string{"level"}),
		publishFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reactorboard_bridge_publish_failures_total",
			Help: "Events persisted locally whose publish was dropped, by reason.",
		}, []string{"reason"}),
		ingested: f.NewCounter(prometheus.CounterOpts{
			Name: "reactorboard_log_ingest_total",
			Help: "Log events appended to the central store from the transport.",
		}),
		transportState: f.NewGauge(prometheus.GaugeOpts{
			Name: "reactorboard_transport_state",
			Help: "Transport connection state: 0 disconnected, 1 connecting, 2 connected.",
		}),
		exports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reactorboard_exports_total",
			Help: "Dataset exports by terminal status.",
		}, []string{"status"}),
		fleetCommands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reactorboard_fleet_commands_total",
			Help: "Fleet commands by action and outcome.",
		}, []string{"action", "status"}),
	}
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Observe records a service operation outcome.
func (m *Metrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if m == nil || operation == "" {
		return
	}
	m.opDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.opResults.WithLabelValues(operation, status(success)).Inc()
}

// BridgeEvent counts one recorded event.
func (m *Metrics) BridgeEvent(level domain.Level) {
	if m == nil {
		return
	}
	m.bridgeEvents.WithLabelValues(string(level)).Inc()
}

// PublishFailure counts one dropped publish.
func (m *Metrics) PublishFailure(reason string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(reason).Inc()
}

// LogIngested counts one centrally persisted log event.
func (m *Metrics) LogIngested() {
	if m == nil {
		return
	}
	m.ingested.Inc()
}

// TransportState sets the transport state gauge.
func (m *Metrics) TransportState(state int) {
	if m == nil {
		return
	}
	m.transportState.Set(float64(state))
}

// ExportFinished counts one export reaching a terminal status.
func (m *Metrics) ExportFinished(status string) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(status).Inc()
}

// FleetCommand counts one fleet command.
func (m *Metrics) FleetCommand(action string, success bool) {
	if m == nil {
		return
	}
	m.fleetCommands.WithLabelValues(action, status(success)).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
