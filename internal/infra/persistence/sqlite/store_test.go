package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"reactorboard/internal/core"
	"reactorboard/internal/infra/persistence/sqlite"
	"reactorboard/internal/infra/persistence/sqlstore"
	"reactorboard/internal/role"
	"reactorboard/pkg/domain"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newCentral(t *testing.T) (*sqlstore.CentralStore, domain.CentralSession) {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.OpenCentralStore(ctx, filepath.Join(t.TempDir(), "central.sqlite"), role.Leader("leader1"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	sess, err := store.Open(ctx)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return store, sess
}

func TestOpenCentralStoreRejectsFollower(t *testing.T) {
	_, err := sqlite.OpenCentralStore(context.Background(), filepath.Join(t.TempDir(), "c.sqlite"), role.Follower("worker1", "leader1"))
	if !domain.IsRoleViolation(err) {
		t.Fatalf("expected role violation, got %v", err)
	}
}

func TestExperimentLifecycle(t *testing.T) {
	ctx := context.Background()
	_, sess := newCentral(t)

	if _, err := sess.CurrentExperiment(ctx); !domain.IsNotFound(err) {
		t.Fatalf("expected NotFound on empty store, got %v", err)
	}
	a := domain.Experiment{ID: "A", CreatedAt: t0, OrganismUsed: "E. coli", MediaUsed: "LB"}
	b := domain.Experiment{ID: "B", CreatedAt: t0.Add(time.Hour), OrganismUsed: "yeast", MediaUsed: "LB"}
	for _, e := range []domain.Experiment{a, b} {
		n, err := sess.CreateExperiment(ctx, e)
		if err != nil || n != 1 {
			t.Fatalf("create %s: n=%d err=%v", e.ID, n, err)
		}
	}
	if _, err := sess.CreateExperiment(ctx, a); !domain.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate, got %v", err)
	}

	cur, err := sess.CurrentExperiment(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if cur.ID != "B" || !cur.CreatedAt.Equal(b.CreatedAt) {
		t.Fatalf("current = %+v, want B", cur)
	}

	n, err := sess.UpdateExperimentDescription(ctx, "A", "first run")
	if err != nil || n != 1 {
		t.Fatalf("update: n=%d err=%v", n, err)
	}
	if n, _ := sess.UpdateExperimentDescription(ctx, "missing", "x"); n != 0 {
		t.Fatalf("expected 0 rows for missing experiment, got %d", n)
	}
	got, err := sess.GetExperiment(ctx, "A")
	if err != nil || got.Description != "first run" {
		t.Fatalf("get A: %+v %v", got, err)
	}

	list, err := sess.ListExperiments(ctx)
	if err != nil || len(list) != 2 || list[0].ID != "B" {
		t.Fatalf("list: %+v %v", list, err)
	}
	orgs, err := sess.HistoricalOrganisms(ctx)
	if err != nil || len(orgs) != 2 || orgs[0] != "yeast" {
		t.Fatalf("organisms: %v %v", orgs, err)
	}
	media, err := sess.HistoricalMedia(ctx)
	if err != nil || len(media) != 1 || media[0] != "LB" {
		t.Fatalf("media: %v %v", media, err)
	}
}

func TestCurrentExperimentTieBreaksOnHighestID(t *testing.T) {
	ctx := context.Background()
	_, sess := newCentral(t)
	for _, id := range []string{"exp-a", "exp-c", "exp-b"} {
		if _, err := sess.CreateExperiment(ctx, domain.Experiment{ID: id, CreatedAt: t0}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	cur, err := sess.CurrentExperiment(ctx)
	if err != nil || cur.ID != "exp-c" {
		t.Fatalf("current = %+v %v, want exp-c", cur, err)
	}
}

func TestQueryMetricSamplingMatchesInProcessSampler(t *testing.T) {
	ctx := context.Background()
	_, sess := newCentral(t)
	metric, _ := domain.LookupMetric("growth_rates")
	for i := 0; i < 1000; i++ {
		smp := domain.MetricSample{Experiment: "exp1", Unit: "u1", Timestamp: t0.Add(time.Duration(i) * time.Second), Value: float64(i) / 3}
		if _, err := sess.AppendSample(ctx, metric, smp); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	for _, k := range []int{1, 10, 100} {
		rows, err := sess.QueryMetric(ctx, domain.MetricQuery{Metric: metric, Experiment: "exp1", SamplingRate: k})
		if err != nil {
			t.Fatalf("query k=%d: %v", k, err)
		}
		want := 0
		for n := int64(1); n <= 1000; n++ {
			if core.IncludeSample(n, k) {
				want++
			}
		}
		if len(rows) != want {
			t.Fatalf("k=%d: sql selected %d rows, sampler selects %d", k, len(rows), want)
		}
		for _, r := range rows {
			if !core.IncludeSample(r.Seq, k) {
				t.Fatalf("k=%d: row seq %d selected by sql but not by sampler", k, r.Seq)
			}
		}
	}
}

func TestQueryMetricSinceAndChannels(t *testing.T) {
	ctx := context.Background()
	_, sess := newCentral(t)
	metric, _ := domain.LookupMetric("od_readings")
	for i := 0; i < 10; i++ {
		ch := "1"
		if i%2 == 1 {
			ch = "2"
		}
		smp := domain.MetricSample{Experiment: "exp1", Unit: "u1", Channel: ch, Timestamp: t0.Add(time.Duration(i) * time.Hour), Value: 0.1}
		if _, err := sess.AppendSample(ctx, metric, smp); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	since := t0.Add(5 * time.Hour)
	rows, err := sess.QueryMetric(ctx, domain.MetricQuery{Metric: metric, Experiment: "exp1", Since: since})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows strictly after since, got %d", len(rows))
	}
	for i, r := range rows {
		if !r.Timestamp.After(since) {
			t.Fatalf("row %d at %v not after %v", i, r.Timestamp, since)
		}
		if r.Channel == "" {
			t.Fatalf("expected channel on od reading")
		}
		if i > 0 && r.Timestamp.Before(rows[i-1].Timestamp) {
			t.Fatalf("rows not ascending")
		}
	}
}

func TestQueryLogsFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	_, sess := newCentral(t)
	events := []domain.LogEvent{
		{Timestamp: t0, Unit: "u1", Task: "od", Message: "old", Level: domain.LevelError, Experiment: "exp1"},
		{Timestamp: t0.Add(time.Minute), Unit: "u1", Task: "od", Message: "warn", Level: domain.LevelWarning, Experiment: "exp1"},
		{Timestamp: t0.Add(2 * time.Minute), Unit: "u2", Task: "od", Message: "info", Level: domain.LevelInfo, Experiment: "exp1"},
		{Timestamp: t0.Add(3 * time.Minute), Unit: "u2", Task: "ui", Message: "sentinel", Level: domain.LevelError, Experiment: domain.CurrentExperiment},
		{Timestamp: t0.Add(4 * time.Minute), Unit: "u3", Task: "od", Message: "other", Level: domain.LevelError, Experiment: "exp0"},
	}
	for _, e := range events {
		if _, err := sess.AppendLog(ctx, e); err != nil {
			t.Fatalf("append log: %v", err)
		}
	}
	got, err := sess.QueryLogs(ctx, domain.LogQuery{
		Levels:      []domain.Level{domain.LevelWarning, domain.LevelError},
		Experiments: []string{"exp1", domain.CurrentExperiment},
		Since:       t0.Add(time.Minute),
		Limit:       50,
	})
	if err != nil {
		t.Fatalf("query logs: %v", err)
	}
	if len(got) != 2 || got[0].Message != "sentinel" || got[1].Message != "warn" {
		t.Fatalf("unexpected logs: %+v", got)
	}
	limited, err := sess.QueryLogs(ctx, domain.LogQuery{Levels: domain.Levels, Limit: 1})
	if err != nil || len(limited) != 1 || limited[0].Message != "other" {
		t.Fatalf("limit: %+v %v", limited, err)
	}
}

func TestMediaRatesAndCalibrations(t *testing.T) {
	ctx := context.Background()
	_, sess := newCentral(t)
	dosing := []domain.DosingEvent{
		{Experiment: "exp1", Unit: "u1", Timestamp: t0, Event: "add_media", VolumeChangeML: 3, SourceOfEvent: "dosing_automation:chemostat"},
		{Experiment: "exp1", Unit: "u1", Timestamp: t0, Event: "add_alt_media", VolumeChangeML: 1.5, SourceOfEvent: "dosing_automation:chemostat"},
		{Experiment: "exp1", Unit: "u1", Timestamp: t0, Event: "add_media", VolumeChangeML: 100, SourceOfEvent: "manual"},
		{Experiment: "exp1", Unit: "u2", Timestamp: t0.Add(-5 * time.Hour), Event: "add_media", VolumeChangeML: 9, SourceOfEvent: "dosing_automation"},
	}
	for _, d := range dosing {
		if _, err := sess.AppendDosingEvent(ctx, d); err != nil {
			t.Fatalf("append dosing: %v", err)
		}
	}
	rates, err := sess.MediaRates(ctx, domain.MediaRateQuery{Experiment: "exp1", Since: t0.Add(-3 * time.Hour), Hours: 3})
	if err != nil {
		t.Fatalf("media rates: %v", err)
	}
	if len(rates) != 1 || rates[0].Unit != "u1" || rates[0].MediaRate != 1 || rates[0].AltMediaRate != 0.5 {
		t.Fatalf("unexpected rates: %+v", rates)
	}

	if _, err := sess.AppendCalibration(ctx, domain.Calibration{Unit: "u1", Type: "od", CreatedAt: t0, Data: `{"a":1}`}); err != nil {
		t.Fatalf("append calibration: %v", err)
	}
	cals, err := sess.ListCalibrations(ctx, "u1", "od")
	if err != nil || len(cals) != 1 || cals[0].Data != `{"a":1}` {
		t.Fatalf("calibrations: %+v %v", cals, err)
	}
}

type recordingSink struct {
	header []string
	rows   [][]string
}

func (r *recordingSink) Header(cols []string) error { r.header = cols; return nil }
func (r *recordingSink) Row(vals []string) error    { r.rows = append(r.rows, vals); return nil }

func TestExportDataset(t *testing.T) {
	ctx := context.Background()
	_, sess := newCentral(t)
	metric, _ := domain.LookupMetric("temperature_readings")
	if _, err := sess.AppendSample(ctx, metric, domain.MetricSample{Experiment: "exp1", Unit: "u1", Timestamp: t0, Value: 30.25}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := sess.AppendSample(ctx, metric, domain.MetricSample{Experiment: "exp2", Unit: "u1", Timestamp: t0, Value: 31}); err != nil {
		t.Fatalf("append: %v", err)
	}
	sink := &recordingSink{}
	n, err := sess.ExportDataset(ctx, "temperature_readings", "exp1", sink)
	if err != nil || n != 1 {
		t.Fatalf("export: n=%d err=%v", n, err)
	}
	if len(sink.header) != 4 || sink.header[0] != "experiment" {
		t.Fatalf("header: %v", sink.header)
	}
	if sink.rows[0][0] != "exp1" || sink.rows[0][3] != "30.25" {
		t.Fatalf("row: %v", sink.rows[0])
	}
	if _, err := sess.ExportDataset(ctx, "experiments", "exp1", sink); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for unknown dataset, got %v", err)
	}
}

func TestLocalCacheAppendAndRecent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cache, err := sqlite.OpenLocalCache(ctx, dir)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer func() { _ = cache.Close() }()
	if cache.Path() != filepath.Join(dir, sqlite.LocalCacheFile) {
		t.Fatalf("path = %s", cache.Path())
	}
	sess, err := cache.Open(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = sess.Close() }()
	for i := 0; i < 3; i++ {
		n, err := sess.AppendLog(ctx, domain.LogEvent{Timestamp: t0.Add(time.Duration(i) * time.Second), Unit: "u1", Task: "ui", Message: "m", Level: domain.LevelInfo, Experiment: domain.CurrentExperiment})
		if err != nil || n != 1 {
			t.Fatalf("append: n=%d err=%v", n, err)
		}
	}
	count, err := sess.CountLogs(ctx)
	if err != nil || count != 3 {
		t.Fatalf("count = %d %v", count, err)
	}
	recent, err := sess.RecentLogs(ctx, 2)
	if err != nil || len(recent) != 2 || !recent[0].Timestamp.Equal(t0.Add(2*time.Second)) {
		t.Fatalf("recent: %+v %v", recent, err)
	}
}
