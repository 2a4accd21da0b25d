// Package datasets exports experiment datasets as zipped CSV archives.
// Exports run asynchronously on a single worker goroutine and their records
// are kept in memory for status polling.
package datasets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reactorboard/internal/blob"
	"reactorboard/internal/core"
	"reactorboard/internal/role"
	"reactorboard/pkg/domain"
)

// Status is the lifecycle stage of an export.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ContentType of every export archive.
const ContentType = "application/zip"

// Record tracks one export request.
type Record struct {
	ID          string         `json:"id"`
	Experiment  string         `json:"experiment"`
	Datasets    []string       `json:"datasets"`
	Status      Status         `json:"status"`
	Error       string         `json:"error,omitempty"`
	Key         string         `json:"key,omitempty"`
	SizeBytes   int64          `json:"size_bytes,omitempty"`
	Rows        map[string]int `json:"rows,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func (r *Record) copy() Record {
	out := *r
	out.Datasets = append([]string(nil), r.Datasets...)
	if r.Rows != nil {
		out.Rows = make(map[string]int, len(r.Rows))
		for k, v := range r.Rows {
			out.Rows[k] = v
		}
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// Request selects the datasets of one experiment.
type Request struct {
	Experiment string   `json:"experiment"`
	Datasets   []string `json:"datasets"`
}

// Source reads dataset rows.
type Source interface {
	BoundaryFor(ctx context.Context, experiment string) (core.Boundary, error)
	ExportDataset(ctx context.Context, dataset, experiment string, sink domain.RowSink) (int, error)
}

// Worker executes exports in enqueue order.
type Worker struct {
	gate    role.Gate
	source  Source
	store   blob.Store
	logger  *zap.Logger
	metrics *core.Metrics
	clock   core.Clock

	queue chan string
	mu    sync.RWMutex
	jobs  map[string]*Record

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker)

func WithLogger(l *zap.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

func WithMetrics(m *core.Metrics) Option { return func(w *Worker) { w.metrics = m } }

func WithClock(c core.Clock) Option {
	return func(w *Worker) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithQueueSize bounds the number of pending exports.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queue = make(chan string, n)
		}
	}
}

// NewWorker returns a stopped worker.
func NewWorker(gate role.Gate, source Source, store blob.Store, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		gate:   gate,
		source: source,
		store:  store,
		logger: zap.NewNop(),
		clock:  core.ClockFunc(nil),
		queue:  make(chan string, 16),
		jobs:   make(map[string]*Record),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the worker goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop cancels in-flight work and waits for the worker to exit.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue validates req, resolves its experiment and schedules the export.
func (w *Worker) Enqueue(ctx context.Context, req Request) (Record, error) {
	if err := w.gate.Require("dataset export"); err != nil {
		return Record{}, err
	}
	datasets, err := normalizeDatasets(req.Datasets)
	if err != nil {
		return Record{}, err
	}
	b, err := w.source.BoundaryFor(ctx, strings.TrimSpace(req.Experiment))
	if err != nil {
		return Record{}, err
	}

	now := w.clock.Now()
	rec := &Record{
		ID:         uuid.NewString(),
		Experiment: b.Experiment,
		Datasets:   datasets,
		Status:     StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	w.mu.Lock()
	w.jobs[rec.ID] = rec
	snapshot := rec.copy()
	w.mu.Unlock()

	select {
	case w.queue <- rec.ID:
	default:
		w.mu.Lock()
		delete(w.jobs, rec.ID)
		w.mu.Unlock()
		return Record{}, fmt.Errorf("export queue full")
	}
	w.logger.Info("export queued", zap.String("id", rec.ID), zap.String("experiment", rec.Experiment), zap.Strings("datasets", datasets))
	return snapshot, nil
}

func normalizeDatasets(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, domain.ValidationError{Field: "datasets", Reason: "at least one dataset is required"}
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.TrimSpace(d)
		if !domain.IsDataset(d) {
			return nil, domain.ValidationError{Field: "datasets", Reason: fmt.Sprintf("unknown dataset %q", d)}
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out, nil
}

// Get returns a snapshot of the export with id.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	rec, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return rec.copy(), true
}

// Open returns the archive of a finished export.
func (w *Worker) Open(ctx context.Context, id string) (Record, io.ReadCloser, error) {
	rec, ok := w.Get(id)
	if !ok {
		return Record{}, nil, domain.NotFoundError{Entity: "export", ID: id}
	}
	if rec.Status != StatusSucceeded {
		return rec, nil, domain.ValidationError{Field: "export", Reason: fmt.Sprintf("export %s is %s", id, rec.Status)}
	}
	_, body, err := w.store.Get(ctx, rec.Key)
	if err != nil {
		return rec, nil, err
	}
	return rec, body, nil
}

func (w *Worker) process(id string) {
	rec, ok := w.Get(id)
	if !ok {
		return
	}
	w.update(id, func(r *Record) { r.Status = StatusRunning })

	arc := newArchive(w.clock.Now())
	rows := make(map[string]int, len(rec.Datasets))
	for _, dataset := range rec.Datasets {
		sink, flush, err := arc.member(dataset)
		if err != nil {
			w.fail(id, err)
			return
		}
		n, err := w.source.ExportDataset(w.ctx, dataset, rec.Experiment, sink)
		if err == nil {
			err = flush()
		}
		if err != nil {
			w.fail(id, fmt.Errorf("%s: %w", dataset, err))
			return
		}
		rows[dataset] = n
	}
	payload, err := arc.bytes()
	if err != nil {
		w.fail(id, err)
		return
	}
	key := fmt.Sprintf("exports/%s/%s.zip", rec.Experiment, id)
	info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: ContentType,
		Metadata:    map[string]string{"experiment": rec.Experiment, "datasets": strings.Join(rec.Datasets, ",")},
	})
	if err != nil {
		w.fail(id, fmt.Errorf("store archive: %w", err))
		return
	}
	now := w.clock.Now()
	w.update(id, func(r *Record) {
		r.Status = StatusSucceeded
		r.Error = ""
		r.Key = info.Key
		r.SizeBytes = info.Size
		r.Rows = rows
		r.CompletedAt = &now
	})
	w.metrics.ExportFinished(string(StatusSucceeded))
	w.logger.Info("export finished", zap.String("id", id), zap.String("key", info.Key), zap.Int64("size", info.Size))
}

func (w *Worker) update(id string, fn func(*Record)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if rec, ok := w.jobs[id]; ok {
		fn(rec)
		rec.UpdatedAt = w.clock.Now()
	}
}

func (w *Worker) fail(id string, err error) {
	now := w.clock.Now()
	w.update(id, func(r *Record) {
		r.Status = StatusFailed
		r.Error = err.Error()
		r.CompletedAt = &now
	})
	w.metrics.ExportFinished(string(StatusFailed))
	w.logger.Error("export failed", zap.String("id", id), zap.Error(err))
}
