package core

import (
	"fmt"
	"math"

	"reactorboard/pkg/domain"
)

// GoldenRatioConjugate is (√5 − 1)/2 at the precision shared with the SQL
// sampling predicate. Storage dialects must use this exact literal.
const GoldenRatioConjugate = 0.61803398875

// DefaultSamplingRate is the inverse density used when a request omits one.
const DefaultSamplingRate = 100

// IncludeSample reports whether the row with sequence number n belongs to the
// 1-in-k subsample: frac(n·φ) < 1/k. The decision depends on n and k only, so
// a row once included stays included as the table grows. k must be positive.
func IncludeSample(n int64, k int) bool {
	if k <= 1 {
		return k == 1
	}
	x := float64(n) * GoldenRatioConjugate
	return x-math.Floor(x) < 1.0/float64(k)
}

// ValidateSamplingRate rejects non-positive inverse densities.
func ValidateSamplingRate(k int) error {
	if k <= 0 {
		return domain.ValidationError{Field: "sampling_rate", Reason: fmt.Sprintf("must be >= 1, got %d", k)}
	}
	return nil
}
