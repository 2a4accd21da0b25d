// Package ingest copies log events published by every unit into the central
// logs table. It runs on the leader only.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"reactorboard/internal/bridge"
	"reactorboard/internal/core"
	"reactorboard/pkg/domain"
)

// Subscriber is the transport side of ingestion.
type Subscriber interface {
	Subscribe(filter string, handler func(topic string, payload []byte)) error
}

// Sink stores ingested events.
type Sink interface {
	IngestLog(ctx context.Context, event domain.LogEvent) error
}

// Ingestor decodes transport log messages into central log rows.
type Ingestor struct {
	sink    Sink
	root    string
	logger  *zap.Logger
	metrics *core.Metrics
	timeout time.Duration
}

// New returns an ingestor for topics under root.
func New(sink Sink, root string, logger *zap.Logger, metrics *core.Metrics) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{sink: sink, root: root, logger: logger, metrics: metrics, timeout: 5 * time.Second}
}

// Start subscribes to every unit's log topics.
func (i *Ingestor) Start(sub Subscriber) error {
	filter := bridge.LogSubscription(i.root)
	if err := sub.Subscribe(filter, i.Handle); err != nil {
		return err
	}
	i.logger.Info("log ingest subscribed", zap.String("filter", filter))
	return nil
}

// Handle ingests one message. Malformed messages are logged and dropped.
func (i *Ingestor) Handle(topic string, payload []byte) {
	event, err := Decode(i.root, topic, payload)
	if err != nil {
		i.logger.Warn("dropping log message", zap.String("topic", topic), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()
	if err := i.sink.IngestLog(ctx, event); err != nil {
		i.logger.Error("ingest log", zap.String("topic", topic), zap.Error(err))
		return
	}
	i.metrics.LogIngested()
}

// Decode builds a log event from a topic and its JSON payload. Topic
// segments supply the unit and experiment; the level in the payload wins
// over the topic's.
func Decode(root, topic string, payload []byte) (domain.LogEvent, error) {
	parts, err := bridge.ParseLogTopic(root, topic)
	if err != nil {
		return domain.LogEvent{}, err
	}
	var p bridge.Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.LogEvent{}, domain.ValidationError{Field: "payload", Reason: err.Error()}
	}
	level := parts.Level
	if p.Level != "" {
		level, _ = domain.ParseLevel(p.Level)
	}
	source := p.Source
	if source == "" {
		source = parts.Source
	}
	return domain.LogEvent{
		Timestamp:  parseTimestamp(p.Timestamp),
		Unit:       parts.Unit,
		Task:       p.Task,
		Message:    p.Message,
		Level:      level,
		Source:     source,
		Experiment: parts.Experiment,
	}, nil
}

// parseTimestamp returns the zero time for missing or unparseable input so
// the service stamps the event on arrival.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{bridge.TimestampLayout, time.RFC3339Nano, "2006-01-02T15:04:05.000000"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
