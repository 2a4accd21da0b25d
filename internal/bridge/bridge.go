// Package bridge records operational events: every event is written to the
// node-local cache and, on the leader only, republished on the transport.
//
// Local persistence is the durability floor and its failure is returned to
// the caller. Publishing is best effort: resolution and transport failures
// are logged and counted, never returned, and the caller never waits on the
// network.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"reactorboard/internal/core"
	"reactorboard/internal/role"
	"reactorboard/pkg/domain"
)

// Publisher hands a message to the transport without waiting for delivery.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Resolver resolves the current experiment.
type Resolver interface {
	ResolveCurrent(ctx context.Context) (domain.Experiment, error)
}

const (
	// DefaultMaxInflight bounds concurrent publish hand-offs.
	DefaultMaxInflight = 32
	resolveTimeout     = 5 * time.Second
)

// Bridge is safe for concurrent use.
type Bridge struct {
	gate      role.Gate
	local     domain.LocalCache
	resolver  Resolver
	publisher Publisher
	topicRoot string
	clock     core.Clock
	logger    *zap.Logger
	metrics   *core.Metrics

	inflight chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithPublisher sets the transport. It is only used on the leader.
func WithPublisher(p Publisher) Option { return func(b *Bridge) { b.publisher = p } }

// WithResolver sets the current experiment resolver.
func WithResolver(r Resolver) Option { return func(b *Bridge) { b.resolver = r } }

// WithTopicRoot overrides the topic prefix.
func WithTopicRoot(root string) Option {
	return func(b *Bridge) {
		if root != "" {
			b.topicRoot = root
		}
	}
}

// WithLogger sets the process logger events are mirrored to.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *core.Metrics) Option { return func(b *Bridge) { b.metrics = m } }

// WithClock overrides the time source.
func WithClock(c core.Clock) Option {
	return func(b *Bridge) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithMaxInflight bounds how many events may be handed to the transport
// concurrently. Events beyond the bound are dropped and counted.
func WithMaxInflight(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.inflight = make(chan struct{}, n)
		}
	}
}

// New constructs a bridge writing to local.
func New(gate role.Gate, local domain.LocalCache, opts ...Option) *Bridge {
	b := &Bridge{
		gate:      gate,
		local:     local,
		topicRoot: DefaultTopicRoot,
		clock:     core.ClockFunc(nil),
		logger:    zap.NewNop(),
		inflight:  make(chan struct{}, DefaultMaxInflight),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Wait blocks until every publish hand-off started so far has finished.
func (b *Bridge) Wait() { b.wg.Wait() }

// Record persists an event locally and, on the leader, publishes it under
// the resolved experiment. An empty experiment means the current one.
func (b *Bridge) Record(ctx context.Context, msg any, task string, level domain.Level, experiment string) error {
	lvl, ok := domain.ParseLevel(string(level))
	if !ok {
		return domain.ValidationError{Field: "level", Reason: fmt.Sprintf("unknown level %q", level)}
	}
	if experiment == "" {
		experiment = domain.CurrentExperiment
	}
	text := CoerceMessage(msg)
	now := b.clock.Now()
	event := domain.LogEvent{
		Timestamp:  now,
		Unit:       b.gate.Unit(),
		Task:       task,
		Message:    text,
		Level:      lvl,
		Source:     Source,
		Experiment: experiment,
	}

	b.mirror(event)
	if err := b.persist(ctx, event); err != nil {
		return err
	}
	b.metrics.BridgeEvent(lvl)

	if !b.gate.IsLeader() {
		return nil
	}
	b.dispatch(event)
	return nil
}

// dispatch publishes event off the caller's goroutine. When the in-flight
// bound is reached the event is dropped rather than waited for.
func (b *Bridge) dispatch(event domain.LogEvent) {
	select {
	case b.inflight <- struct{}{}:
	default:
		b.drop("busy", event, domain.ErrTransport)
		return
	}
	b.wg.Add(1)
	go func() {
		defer func() {
			<-b.inflight
			b.wg.Done()
		}()
		// Detached from ctx entirely: request-scoped store handles carried
		// in ctx are released once the caller returns.
		pctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
		defer cancel()
		b.publish(pctx, event)
	}()
}

// Log records msg against the current experiment.
func (b *Bridge) Log(ctx context.Context, msg any, task string, level domain.Level) error {
	return b.Record(ctx, msg, task, level, domain.CurrentExperiment)
}

// Error records msg at ERROR against the current experiment.
func (b *Bridge) Error(ctx context.Context, msg any, task string) error {
	return b.Record(ctx, msg, task, domain.LevelError, domain.CurrentExperiment)
}

func (b *Bridge) persist(ctx context.Context, event domain.LogEvent) error {
	sess, release, err := core.LocalSession(ctx, b.local)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := release(); cerr != nil {
			b.logger.Warn("release local session", zap.Error(cerr))
		}
	}()
	_, err = sess.AppendLog(ctx, event)
	return err
}

func (b *Bridge) publish(ctx context.Context, event domain.LogEvent) {
	if b.publisher == nil {
		b.drop("no_transport", event, domain.ErrTransport)
		return
	}
	experiment := event.Experiment
	if domain.IsCurrentExperiment(experiment) {
		if b.resolver == nil {
			b.drop("resolve", event, domain.NotFoundError{Entity: "experiment"})
			return
		}
		current, err := b.resolver.ResolveCurrent(ctx)
		if err != nil {
			b.drop("resolve", event, err)
			return
		}
		experiment = current.ID
	}
	payload, err := NewPayload(event.Message, event.Task, event.Level, event.Timestamp).Encode()
	if err != nil {
		b.drop("encode", event, err)
		return
	}
	topic := LogTopic(b.topicRoot, b.gate.LeaderHost(), experiment, event.Level)
	if err := b.publisher.Publish(topic, payload); err != nil {
		b.drop("publish", event, err)
	}
}

func (b *Bridge) drop(reason string, event domain.LogEvent, err error) {
	b.metrics.PublishFailure(reason)
	b.logger.Warn("event not published",
		zap.String("reason", reason),
		zap.String("task", event.Task),
		zap.String("level", string(event.Level)),
		zap.Error(err))
}

func (b *Bridge) mirror(event domain.LogEvent) {
	fields := []zap.Field{zap.String("task", event.Task), zap.String("experiment", event.Experiment)}
	switch event.Level {
	case domain.LevelDebug:
		b.logger.Debug(event.Message, fields...)
	case domain.LevelWarning:
		b.logger.Warn(event.Message, fields...)
	case domain.LevelError:
		b.logger.Error(event.Message, fields...)
	default:
		b.logger.Info(event.Message, fields...)
	}
}

