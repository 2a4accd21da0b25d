package datasets

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"reactorboard/internal/core"
	"reactorboard/internal/infra/blob/memory"
	"reactorboard/internal/role"
	"reactorboard/pkg/domain"
)

type fakeSource struct {
	current string
	rows    map[string][][]string
	failOn  string
}

func (f *fakeSource) BoundaryFor(_ context.Context, experiment string) (core.Boundary, error) {
	if domain.IsCurrentExperiment(experiment) {
		if f.current == "" {
			return core.Boundary{}, domain.NotFoundError{Entity: "experiment"}
		}
		return core.Boundary{Experiment: f.current, Current: true}, nil
	}
	return core.Boundary{Experiment: experiment}, nil
}

func (f *fakeSource) ExportDataset(_ context.Context, dataset, experiment string, sink domain.RowSink) (int, error) {
	if dataset == f.failOn {
		return 0, errors.New("disk on fire")
	}
	if err := sink.Header([]string{"experiment", "value"}); err != nil {
		return 0, err
	}
	for _, r := range f.rows[dataset] {
		if err := sink.Row(append([]string{experiment}, r...)); err != nil {
			return 0, err
		}
	}
	return len(f.rows[dataset]), nil
}

func waitFor(t *testing.T, w *Worker, id string) Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, ok := w.Get(id)
		if !ok {
			t.Fatalf("export %s vanished", id)
		}
		if rec.Status == StatusSucceeded || rec.Status == StatusFailed {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("export %s did not finish", id)
	return Record{}
}

func startWorker(t *testing.T, gate role.Gate, src Source) *Worker {
	t.Helper()
	w := NewWorker(gate, src, memory.New(), WithMetrics(core.NewMetrics()))
	w.Start()
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	return w
}

func TestExportWritesZipOfCSVs(t *testing.T) {
	src := &fakeSource{current: "exp7", rows: map[string][][]string{
		"growth_rates": {{"0.1"}, {"0.2"}},
		"logs":         {{"hello"}},
	}}
	w := startWorker(t, role.Leader("leader1"), src)
	ctx := context.Background()

	rec, err := w.Enqueue(ctx, Request{Experiment: domain.CurrentExperiment, Datasets: []string{"growth_rates", "logs", "growth_rates"}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if rec.Experiment != "exp7" || rec.Status != StatusQueued || len(rec.Datasets) != 2 {
		t.Fatalf("queued record = %+v", rec)
	}
	done := waitFor(t, w, rec.ID)
	if done.Status != StatusSucceeded {
		t.Fatalf("export failed: %s", done.Error)
	}
	if done.Rows["growth_rates"] != 2 || done.Rows["logs"] != 1 {
		t.Fatalf("rows = %v", done.Rows)
	}

	_, body, err := w.Open(ctx, rec.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(body)
	_ = body.Close()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	if len(zr.File) != 2 || zr.File[0].Name != "growth_rates.csv" {
		t.Fatalf("members = %v", zr.File)
	}
	f, _ := zr.File[0].Open()
	records, err := csv.NewReader(f).ReadAll()
	_ = f.Close()
	if err != nil || len(records) != 3 || records[1][0] != "exp7" || records[2][1] != "0.2" {
		t.Fatalf("csv = %v %v", records, err)
	}
}

func TestExportFailureRecorded(t *testing.T) {
	src := &fakeSource{current: "exp7", failOn: "logs"}
	w := startWorker(t, role.Leader("leader1"), src)
	rec, err := w.Enqueue(context.Background(), Request{Experiment: "exp7", Datasets: []string{"logs"}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := waitFor(t, w, rec.ID)
	if done.Status != StatusFailed || done.Error == "" || done.CompletedAt == nil {
		t.Fatalf("record = %+v", done)
	}
	if _, _, err := w.Open(context.Background(), rec.ID); !domain.IsValidation(err) {
		t.Fatalf("open failed export: %v", err)
	}
}

func TestEnqueueValidation(t *testing.T) {
	src := &fakeSource{}
	w := NewWorker(role.Leader("leader1"), src, memory.New())
	ctx := context.Background()
	if _, err := w.Enqueue(ctx, Request{Experiment: "e"}); !domain.IsValidation(err) {
		t.Fatalf("no datasets: %v", err)
	}
	if _, err := w.Enqueue(ctx, Request{Experiment: "e", Datasets: []string{"experiments"}}); !domain.IsValidation(err) {
		t.Fatalf("unknown dataset: %v", err)
	}
	if _, err := w.Enqueue(ctx, Request{Datasets: []string{"logs"}}); !domain.IsNotFound(err) {
		t.Fatalf("no current experiment: %v", err)
	}
	if _, _, err := w.Open(ctx, "missing"); !domain.IsNotFound(err) {
		t.Fatalf("open missing: %v", err)
	}

	follower := NewWorker(role.Follower("w1", "leader1"), src, memory.New())
	if _, err := follower.Enqueue(ctx, Request{Experiment: "e", Datasets: []string{"logs"}}); !domain.IsRoleViolation(err) {
		t.Fatalf("follower enqueue: %v", err)
	}
}

func TestQueueFull(t *testing.T) {
	w := NewWorker(role.Leader("leader1"), &fakeSource{}, memory.New(), WithQueueSize(1))
	ctx := context.Background()
	if _, err := w.Enqueue(ctx, Request{Experiment: "e", Datasets: []string{"logs"}}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := w.Enqueue(ctx, Request{Experiment: "e", Datasets: []string{"logs"}}); err == nil {
		t.Fatal("expected queue full")
	}
}
