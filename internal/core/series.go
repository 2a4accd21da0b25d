package core

import (
	"math"
	"sort"

	"reactorboard/pkg/domain"
)

// Round rounds v half away from zero to precision decimal places.
func Round(v float64, precision int) float64 {
	if precision < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow10(precision)
	return math.Round(v*p) / p
}

// AssembleSeries groups samples by source key into a series envelope. Values
// are rounded to precision first. Series keys are sorted ascending and each
// point list is ascending by timestamp, ties broken by sequence number.
// Series and Data are always index aligned and never nil.
func AssembleSeries(samples []domain.MetricSample, precision int) domain.SeriesEnvelope {
	rounded := make([]domain.MetricSample, len(samples))
	for i, s := range samples {
		s.Value = Round(s.Value, precision)
		rounded[i] = s
	}
	sort.SliceStable(rounded, func(i, j int) bool {
		a, b := rounded[i], rounded[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Seq < b.Seq
	})

	bySource := make(map[string][]domain.Point)
	for _, s := range rounded {
		key := s.SourceKey()
		bySource[key] = append(bySource[key], domain.Point{X: s.Timestamp, Y: s.Value})
	}
	keys := make([]string, 0, len(bySource))
	for k := range bySource {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := domain.SeriesEnvelope{
		Series: make([]string, 0, len(keys)),
		Data:   make([][]domain.Point, 0, len(keys)),
	}
	for _, k := range keys {
		env.Series = append(env.Series, k)
		env.Data = append(env.Data, bySource[k])
	}
	return env
}
