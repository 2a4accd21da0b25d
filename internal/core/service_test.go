package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"reactorboard/internal/infra/persistence/sqlite"
	"reactorboard/internal/role"
	"reactorboard/pkg/domain"
)

var testT0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestService(t *testing.T, now time.Time, opts ...Option) *Service {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	gate := role.Leader("leader1")
	central, err := sqlite.OpenCentralStore(ctx, filepath.Join(dir, "central.sqlite"), gate)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = central.Close() })
	local, err := sqlite.OpenLocalCache(ctx, dir)
	if err != nil {
		t.Fatalf("local cache: %v", err)
	}
	t.Cleanup(func() { _ = local.Close() })
	opts = append([]Option{WithClock(fixedClock{t: now})}, opts...)
	return NewService(gate, central, local, opts...)
}

func seed(t *testing.T, svc *Service, fn func(domain.CentralSession)) {
	t.Helper()
	sess, err := svc.central.Open(context.Background())
	if err != nil {
		t.Fatalf("open seed session: %v", err)
	}
	defer func() { _ = sess.Close() }()
	fn(sess)
}

func TestResolveCurrentPicksLatest(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, testT0)
	if _, err := svc.ResolveCurrent(ctx); !domain.IsNotFound(err) {
		t.Fatalf("expected NotFound with no experiments, got %v", err)
	}
	if _, err := svc.CreateExperiment(ctx, domain.Experiment{ID: "A", CreatedAt: testT0.Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateExperiment(ctx, domain.Experiment{ID: "B", CreatedAt: testT0}); err != nil {
		t.Fatal(err)
	}
	cur, err := svc.ResolveCurrent(ctx)
	if err != nil || cur.ID != "B" {
		t.Fatalf("current = %+v %v, want B", cur, err)
	}
}

func TestBoundaryFor(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, testT0)
	if _, err := svc.CreateExperiment(ctx, domain.Experiment{ID: "exp1", CreatedAt: testT0}); err != nil {
		t.Fatal(err)
	}
	b, err := svc.BoundaryFor(ctx, domain.CurrentExperiment)
	if err != nil {
		t.Fatal(err)
	}
	if b.Experiment != "exp1" || !b.Current || !b.Since.Equal(testT0) {
		t.Fatalf("sentinel boundary = %+v", b)
	}
	b, err = svc.BoundaryFor(ctx, "old")
	if err != nil {
		t.Fatal(err)
	}
	if b.Experiment != "old" || b.Current || !b.Since.IsZero() {
		t.Fatalf("explicit boundary = %+v", b)
	}
}

func TestRecentSince(t *testing.T) {
	now := testT0
	b := Boundary{Since: now.Add(-time.Hour)}
	if got := RecentSince(now, 24*time.Hour, b); !got.Equal(b.Since) {
		t.Fatalf("expected experiment start, got %v", got)
	}
	b.Since = now.Add(-48 * time.Hour)
	if got := RecentSince(now, 24*time.Hour, b); !got.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("expected window start, got %v", got)
	}
}

func TestQuerySeriesDownsamplesWithinLookback(t *testing.T) {
	ctx := context.Background()
	now := testT0.Add(2 * time.Hour)
	svc := newTestService(t, now)
	if _, err := svc.CreateExperiment(ctx, domain.Experiment{ID: "exp1", CreatedAt: testT0}); err != nil {
		t.Fatal(err)
	}
	metric, _ := domain.LookupMetric("od_readings_filtered")
	seed(t, svc, func(sess domain.CentralSession) {
		for i := 0; i < 1000; i++ {
			smp := domain.MetricSample{
				Experiment: "exp1", Unit: "u1",
				Timestamp: testT0.Add(time.Duration(i) * time.Second),
				Value:     0.123456789 + float64(i)*1e-9,
			}
			if _, err := sess.AppendSample(ctx, metric, smp); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
	})

	lookback := 4.0
	env, err := svc.QuerySeries(ctx, SeriesRequest{Metric: metric.Name, Experiment: domain.CurrentExperiment, SamplingRate: 10, LookbackHours: lookback})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(env.Series) != 1 || env.Series[0] != "u1" || len(env.Data) != 1 {
		t.Fatalf("unexpected envelope: %v", env.Series)
	}
	pts := env.Data[0]
	if len(pts) < 85 || len(pts) > 115 {
		t.Fatalf("expected ~100 points, got %d", len(pts))
	}
	boundary := now.Add(-4 * time.Hour)
	for i, p := range pts {
		if p.X.Before(boundary) {
			t.Fatalf("point %d at %v before lookback boundary", i, p.X)
		}
		if p.Y != Round(p.Y, metric.Precision) {
			t.Fatalf("point %d value %v not rounded to %d places", i, p.Y, metric.Precision)
		}
	}
}

func TestQuerySeriesValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, testT0)
	if _, err := svc.QuerySeries(ctx, SeriesRequest{Metric: "nope", SamplingRate: 10}); !domain.IsValidation(err) {
		t.Fatalf("unknown metric: %v", err)
	}
	if _, err := svc.QuerySeries(ctx, SeriesRequest{Metric: "growth_rates", Experiment: "e", SamplingRate: 0}); !domain.IsValidation(err) {
		t.Fatalf("k=0: %v", err)
	}
	if _, err := svc.QuerySeries(ctx, SeriesRequest{Metric: "od_readings", Experiment: "e", SamplingRate: 10, LookbackHours: -1}); !domain.IsValidation(err) {
		t.Fatalf("negative lookback: %v", err)
	}
	env, err := svc.QuerySeries(ctx, SeriesRequest{Metric: "alt_media_fraction", Experiment: "e"})
	if err != nil || len(env.Series) != 0 {
		t.Fatalf("unsampled metric ignores k: %+v %v", env, err)
	}
	if _, err := svc.QuerySeries(ctx, SeriesRequest{Metric: "growth_rates", Experiment: domain.CurrentExperiment, SamplingRate: 5}); !domain.IsNotFound(err) {
		t.Fatalf("sentinel with no experiments: %v", err)
	}
}

func TestRecentLogsWarningScopedToLatestExperiment(t *testing.T) {
	ctx := context.Background()
	now := testT0.Add(2 * time.Hour)
	svc := newTestService(t, now)
	for _, e := range []domain.Experiment{{ID: "A", CreatedAt: testT0.Add(-10 * time.Hour)}, {ID: "B", CreatedAt: testT0}} {
		if _, err := svc.CreateExperiment(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	events := []domain.LogEvent{
		{Timestamp: testT0.Add(-time.Hour), Level: domain.LevelWarning, Experiment: "A", Message: "a-warning"},
		{Timestamp: testT0.Add(-time.Minute), Level: domain.LevelWarning, Experiment: "B", Message: "b-before-start"},
		{Timestamp: testT0.Add(30 * time.Minute), Level: domain.LevelWarning, Experiment: "B", Message: "b-warning"},
		{Timestamp: testT0.Add(40 * time.Minute), Level: domain.LevelInfo, Experiment: "B", Message: "b-info"},
		{Timestamp: testT0.Add(45 * time.Minute), Level: domain.LevelDebug, Experiment: "B", Message: "b-debug"},
		{Timestamp: testT0.Add(50 * time.Minute), Level: domain.LevelError, Experiment: domain.CurrentExperiment, Message: "sentinel-error"},
		{Timestamp: testT0.Add(time.Hour), Level: domain.LevelError, Experiment: "B", Message: "b-error"},
	}
	seed(t, svc, func(sess domain.CentralSession) {
		for _, e := range events {
			e.Unit, e.Task = "u1", "job"
			if _, err := sess.AppendLog(ctx, e); err != nil {
				t.Fatal(err)
			}
		}
	})
	got, err := svc.RecentLogs(ctx, LogRequest{MinLevel: "WARNING"})
	if err != nil {
		t.Fatalf("recent logs: %v", err)
	}
	want := []string{"b-error", "sentinel-error", "b-warning"}
	if len(got) != len(want) {
		t.Fatalf("got %d logs: %+v", len(got), got)
	}
	for i, msg := range want {
		if got[i].Message != msg {
			t.Fatalf("log %d = %q, want %q", i, got[i].Message, msg)
		}
	}
	if !got[0].IsError || got[2].IsError || !got[2].IsWarning {
		t.Fatalf("flags not projected: %+v", got)
	}

	info, err := svc.RecentLogs(ctx, LogRequest{})
	if err != nil || len(info) != 4 {
		t.Fatalf("default INFO tier: %d %v", len(info), err)
	}
}

func TestRecentLogsExplicitExperimentUsesWindowOnly(t *testing.T) {
	ctx := context.Background()
	now := testT0.Add(48 * time.Hour)
	svc := newTestService(t, now)
	for _, e := range []domain.Experiment{{ID: "A", CreatedAt: testT0}, {ID: "B", CreatedAt: now.Add(-time.Hour)}} {
		if _, err := svc.CreateExperiment(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	seed(t, svc, func(sess domain.CentralSession) {
		for _, e := range []domain.LogEvent{
			{Timestamp: testT0.Add(time.Hour), Message: "a-stale"},
			{Timestamp: now.Add(-3 * time.Hour), Message: "a-recent"},
		} {
			e.Unit, e.Task, e.Level, e.Experiment = "u1", "job", domain.LevelInfo, "A"
			if _, err := sess.AppendLog(ctx, e); err != nil {
				t.Fatal(err)
			}
		}
	})
	got, err := svc.RecentLogs(ctx, LogRequest{Experiment: "A"})
	if err != nil {
		t.Fatalf("recent logs: %v", err)
	}
	if len(got) != 1 || got[0].Message != "a-recent" {
		t.Fatalf("explicit experiment logs = %+v", got)
	}
	b, err := svc.BoundaryFor(ctx, "A")
	if err != nil || !b.Since.IsZero() {
		t.Fatalf("explicit boundary = %+v, %v", b, err)
	}
}

func TestExperimentOperations(t *testing.T) {
	ctx := context.Background()
	now := testT0.Add(90 * time.Minute)
	svc := newTestService(t, now)

	if _, err := svc.CreateExperiment(ctx, domain.Experiment{ID: " "}); !domain.IsValidation(err) {
		t.Fatalf("blank id: %v", err)
	}
	if _, err := svc.CreateExperiment(ctx, domain.Experiment{ID: domain.CurrentExperiment}); !domain.IsValidation(err) {
		t.Fatalf("sentinel id: %v", err)
	}
	created, err := svc.CreateExperiment(ctx, domain.Experiment{ID: "exp1", CreatedAt: testT0, OrganismUsed: "E. coli"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateExperiment(ctx, created); !domain.IsConflict(err) {
		t.Fatalf("duplicate: %v", err)
	}
	defaulted, err := svc.CreateExperiment(ctx, domain.Experiment{ID: "exp0", CreatedAt: testT0.Add(-time.Hour)})
	if err != nil || defaulted.CreatedAt.IsZero() {
		t.Fatalf("create exp0: %+v %v", defaulted, err)
	}

	latest, err := svc.LatestExperiment(ctx)
	if err != nil || latest.ID != "exp1" || latest.DeltaHours != 1.5 {
		t.Fatalf("latest = %+v %v", latest, err)
	}
	if err := svc.UpdateExperimentDescription(ctx, "exp1", "chemostat"); err != nil {
		t.Fatal(err)
	}
	if err := svc.UpdateExperimentDescription(ctx, "ghost", "x"); !domain.IsNotFound(err) {
		t.Fatalf("update missing: %v", err)
	}
	list, err := svc.ListExperiments(ctx)
	if err != nil || len(list) != 2 || list[0].Description != "chemostat" {
		t.Fatalf("list = %+v %v", list, err)
	}
	orgs, err := svc.HistoricalValues(ctx, HistoricalOrganisms)
	if err != nil || len(orgs) != 1 {
		t.Fatalf("organisms = %v %v", orgs, err)
	}
	if _, err := svc.HistoricalValues(ctx, "strains"); !domain.IsValidation(err) {
		t.Fatalf("bad kind: %v", err)
	}
}

func TestRecentMediaRatesUsesCurrentExperiment(t *testing.T) {
	ctx := context.Background()
	now := testT0.Add(time.Hour)
	svc := newTestService(t, now)
	if _, err := svc.CreateExperiment(ctx, domain.Experiment{ID: "exp1", CreatedAt: testT0}); err != nil {
		t.Fatal(err)
	}
	seed(t, svc, func(sess domain.CentralSession) {
		_, _ = sess.AppendDosingEvent(ctx, domain.DosingEvent{Experiment: "exp1", Unit: "u1", Timestamp: testT0, Event: "add_media", VolumeChangeML: 6, SourceOfEvent: "dosing_automation"})
		_, _ = sess.AppendDosingEvent(ctx, domain.DosingEvent{Experiment: "other", Unit: "u1", Timestamp: testT0, Event: "add_media", VolumeChangeML: 60, SourceOfEvent: "dosing_automation"})
	})
	rates, err := svc.RecentMediaRates(ctx)
	if err != nil || len(rates) != 1 || rates[0].MediaRate != 2 {
		t.Fatalf("rates = %+v %v", rates, err)
	}
}

func TestFollowerServiceRejectsCentralOperations(t *testing.T) {
	ctx := context.Background()
	local, err := sqlite.OpenLocalCache(ctx, t.TempDir())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer func() { _ = local.Close() }()
	svc := NewService(role.Follower("worker1", "leader1"), nil, local)
	if _, err := svc.ListExperiments(ctx); !domain.IsRoleViolation(err) {
		t.Fatalf("expected role violation, got %v", err)
	}
	if _, err := svc.UnitLogs(ctx, "", 0); err != nil {
		t.Fatalf("unit logs should work on followers: %v", err)
	}
}

func TestIngestLogValidatesLevel(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, testT0)
	if err := svc.IngestLog(ctx, domain.LogEvent{Level: "LOUD"}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := svc.IngestLog(ctx, domain.LogEvent{Level: domain.LevelInfo, Unit: "u1", Task: "t", Message: "m", Experiment: "e"}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
}

func TestServiceRecordsMetrics(t *testing.T) {
	m := NewMetrics()
	svc := newTestService(t, testT0, WithMetrics(m))
	_, _ = svc.ListExperiments(context.Background())
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "reactorboard_operation_results_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("operation counter not exported")
	}
}

type collectSink struct {
	header []string
	rows   [][]string
}

func (c *collectSink) Header(cols []string) error { c.header = cols; return nil }
func (c *collectSink) Row(vals []string) error    { c.rows = append(c.rows, vals); return nil }

func TestExportDatasetResolvesCurrent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, testT0)
	if _, err := svc.CreateExperiment(ctx, domain.Experiment{ID: "exp1", CreatedAt: testT0.Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}
	seed(t, svc, func(sess domain.CentralSession) {
		m, _ := domain.LookupMetric("growth_rates")
		for i := 0; i < 3; i++ {
			s := domain.MetricSample{Experiment: "exp1", Unit: "w1", Timestamp: testT0.Add(time.Duration(i) * time.Minute), Value: float64(i)}
			if _, err := sess.AppendSample(ctx, m, s); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
	})
	sink := &collectSink{}
	n, err := svc.ExportDataset(ctx, "growth_rates", domain.CurrentExperiment, sink)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 3 || len(sink.rows) != 3 || sink.header[0] != "experiment" || sink.rows[0][0] != "exp1" {
		t.Fatalf("n=%d header=%v rows=%v", n, sink.header, sink.rows)
	}
	if _, err := svc.ExportDataset(ctx, "nope", "exp1", sink); !domain.IsValidation(err) {
		t.Fatalf("unknown dataset: %v", err)
	}
}
