package core

import (
	"context"
	"fmt"
	"time"

	"reactorboard/pkg/domain"
)

// SeriesRequest selects one metric's plot data.
type SeriesRequest struct {
	Metric     string
	Experiment string
	// SamplingRate is the inverse density k. It must be positive for sampled
	// metrics; callers apply Defaults().SamplingRate when the user gave none.
	SamplingRate int
	// LookbackHours bounds lookback metrics to the trailing window.
	LookbackHours float64
}

// QuerySeries returns the sampled, rounded series envelope of a metric.
func (s *Service) QuerySeries(ctx context.Context, req SeriesRequest) (domain.SeriesEnvelope, error) {
	metric, ok := domain.LookupMetric(req.Metric)
	if !ok {
		return domain.SeriesEnvelope{}, domain.ValidationError{Field: "metric", Reason: fmt.Sprintf("unknown metric %q", req.Metric)}
	}
	q := domain.MetricQuery{Metric: metric}
	if metric.Sampled {
		if err := ValidateSamplingRate(req.SamplingRate); err != nil {
			return domain.SeriesEnvelope{}, err
		}
		q.SamplingRate = req.SamplingRate
	}
	if metric.Lookback {
		if req.LookbackHours <= 0 {
			return domain.SeriesEnvelope{}, domain.ValidationError{Field: "lookback", Reason: "must be > 0 hours"}
		}
		q.Since = s.clock.Now().Add(-hours(req.LookbackHours))
	}

	var env domain.SeriesEnvelope
	err := s.withCentral(ctx, "query_series", func(sess domain.CentralSession) error {
		b, err := boundaryFor(ctx, sess, req.Experiment)
		if err != nil {
			return err
		}
		q.Experiment = b.Experiment
		samples, err := sess.QueryMetric(ctx, q)
		if err != nil {
			return err
		}
		env = AssembleSeries(samples, metric.Precision)
		return nil
	})
	return env, err
}

// LogRequest selects recent log events.
type LogRequest struct {
	MinLevel   string
	Experiment string
}

// RecentLogs returns the newest events at or above the requested level, newest
// first. The current experiment sentinel scopes the window to the later of
// the log window and the current experiment's start and also admits events
// recorded against the sentinel itself.
func (s *Service) RecentLogs(ctx context.Context, req LogRequest) ([]domain.LogView, error) {
	minLevel := req.MinLevel
	if minLevel == "" {
		minLevel = string(DefaultMinLevel)
	}
	var views []domain.LogView
	err := s.withCentral(ctx, "recent_logs", func(sess domain.CentralSession) error {
		b, err := boundaryFor(ctx, sess, req.Experiment)
		if err != nil {
			return err
		}
		q := domain.LogQuery{
			Levels:      IncludedLevels(minLevel),
			Experiments: []string{b.Experiment},
			Since:       RecentSince(s.clock.Now(), s.defaults.LogWindow, b),
			Limit:       s.defaults.LogLimit,
		}
		if b.Current {
			q.Experiments = append(q.Experiments, domain.CurrentExperiment)
		}
		events, err := sess.QueryLogs(ctx, q)
		if err != nil {
			return err
		}
		views = make([]domain.LogView, 0, len(events))
		for _, e := range events {
			views = append(views, domain.ViewOf(e))
		}
		return nil
	})
	return views, err
}

// IngestLog appends an event received from the transport to the central
// logs table.
func (s *Service) IngestLog(ctx context.Context, event domain.LogEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}
	if _, ok := domain.ParseLevel(string(event.Level)); !ok {
		return domain.ValidationError{Field: "level", Reason: fmt.Sprintf("unknown level %q", event.Level)}
	}
	return s.withCentral(ctx, "ingest_log", func(sess domain.CentralSession) error {
		_, err := sess.AppendLog(ctx, event)
		return err
	})
}

// CachedEventCount returns the number of events in this unit's local cache.
func (s *Service) CachedEventCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.withLocal(ctx, "cached_event_count", func(sess domain.LocalSession) error {
		var err error
		n, err = sess.CountLogs(ctx)
		return err
	})
	return n, err
}

// UnitLogs returns this unit's most recent locally cached events.
func (s *Service) UnitLogs(ctx context.Context, minLevel string, limit int) ([]domain.LogView, error) {
	if limit <= 0 {
		limit = s.defaults.LogLimit
	}
	if minLevel == "" {
		minLevel = string(DefaultMinLevel)
	}
	var views []domain.LogView
	err := s.withLocal(ctx, "unit_logs", func(sess domain.LocalSession) error {
		events, err := sess.RecentLogs(ctx, limit)
		if err != nil {
			return err
		}
		views = make([]domain.LogView, 0, len(events))
		for _, e := range events {
			if IncludeLevel(e.Level, minLevel) {
				views = append(views, domain.ViewOf(e))
			}
		}
		return nil
	})
	return views, err
}

// RecentMediaRates returns per-unit automated dosing throughput in ml per
// hour over the trailing media rate window of the current experiment.
func (s *Service) RecentMediaRates(ctx context.Context) ([]domain.MediaRate, error) {
	h := s.defaults.MediaRateHours
	var rates []domain.MediaRate
	err := s.withCentral(ctx, "recent_media_rates", func(sess domain.CentralSession) error {
		current, err := sess.CurrentExperiment(ctx)
		if err != nil {
			return err
		}
		rates, err = sess.MediaRates(ctx, domain.MediaRateQuery{
			Experiment: current.ID,
			Since:      s.clock.Now().Add(-hours(h)),
			Hours:      h,
		})
		return err
	})
	return rates, err
}

// Calibrations lists a unit's calibrations of one type.
func (s *Service) Calibrations(ctx context.Context, unit, calibrationType string) ([]domain.Calibration, error) {
	if unit == "" || calibrationType == "" {
		return nil, domain.ValidationError{Field: "calibration", Reason: "unit and type are required"}
	}
	var out []domain.Calibration
	err := s.withCentral(ctx, "list_calibrations", func(sess domain.CentralSession) error {
		var err error
		out, err = sess.ListCalibrations(ctx, unit, calibrationType)
		return err
	})
	return out, err
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
