package core

import "reactorboard/pkg/domain"

// Inclusion sets per minimum level. INFO, NOTICE and unrecognized levels
// share one tier that always admits ERROR; DEBUG is only admitted when asked
// for. This is not a linear ordering.
var (
	debugTier   = []domain.Level{domain.LevelDebug, domain.LevelInfo, domain.LevelNotice, domain.LevelWarning, domain.LevelError}
	infoTier    = []domain.Level{domain.LevelInfo, domain.LevelNotice, domain.LevelWarning, domain.LevelError}
	warningTier = []domain.Level{domain.LevelWarning, domain.LevelError}
	errorTier   = []domain.Level{domain.LevelError}
)

// DefaultMinLevel applies when a log query names no level.
const DefaultMinLevel = domain.LevelInfo

// IncludedLevels returns the set of levels admitted for minLevel. The input is
// matched case-insensitively and unknown values fall back to the INFO tier.
func IncludedLevels(minLevel string) []domain.Level {
	level, _ := domain.ParseLevel(minLevel)
	var tier []domain.Level
	switch level {
	case domain.LevelDebug:
		tier = debugTier
	case domain.LevelWarning:
		tier = warningTier
	case domain.LevelError:
		tier = errorTier
	default:
		tier = infoTier
	}
	return append([]domain.Level(nil), tier...)
}

// IncludeLevel reports whether an event at level passes a filter at minLevel.
func IncludeLevel(level domain.Level, minLevel string) bool {
	for _, l := range IncludedLevels(minLevel) {
		if l == level {
			return true
		}
	}
	return false
}
