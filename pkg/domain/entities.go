// Package domain defines the bioreactor dashboard's core entities, error
// taxonomy and persistence ports. It has no dependencies on internal packages
// or infrastructure libraries.
package domain

import (
	"strings"
	"time"
)

// CurrentExperiment is the sentinel experiment identifier meaning "whatever
// experiment is current when the value is resolved".
const CurrentExperiment = "$experiment"

// IsCurrentExperiment reports whether id refers to the current experiment,
// either through the sentinel or by being empty.
func IsCurrentExperiment(id string) bool {
	return id == "" || id == CurrentExperiment
}

// Experiment is a named, time-bounded operator run. The current experiment is
// the one with the greatest CreatedAt; it is derived, never flagged.
type Experiment struct {
	ID           string    `json:"experiment"`
	CreatedAt    time.Time `json:"created_at"`
	Description  string    `json:"description"`
	MediaUsed    string    `json:"media_used"`
	OrganismUsed string    `json:"organism_used"`
}

// LatestExperiment is an Experiment annotated with the hours elapsed since it
// was created.
type LatestExperiment struct {
	Experiment
	DeltaHours float64 `json:"delta_hours"`
}

// MetricSample is one append-only reading produced by a unit. Seq is the
// table-wide monotonically increasing row number used for sampling.
type MetricSample struct {
	Seq        int64     `json:"seq"`
	Experiment string    `json:"experiment"`
	Unit       string    `json:"unit"`
	Channel    string    `json:"channel,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Value      float64   `json:"value"`
}

// SourceKey returns the series key of the sample: the unit, or unit-channel
// when the metric is per channel.
func (s MetricSample) SourceKey() string {
	if s.Channel == "" {
		return s.Unit
	}
	return s.Unit + "-" + s.Channel
}

// Level is a log event severity.
type Level string

// Severities, least to most severe.
const (
	LevelDebug   Level = "DEBUG"
	LevelInfo    Level = "INFO"
	LevelNotice  Level = "NOTICE"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Levels lists every recognized severity in increasing order.
var Levels = []Level{LevelDebug, LevelInfo, LevelNotice, LevelWarning, LevelError}

// ParseLevel normalizes s into a Level. The boolean is false for unrecognized
// input.
func ParseLevel(s string) (Level, bool) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Levels {
		if l == known {
			return l, true
		}
	}
	return l, false
}

// Lower returns the lower-cased severity used in topic paths.
func (l Level) Lower() string { return strings.ToLower(string(l)) }

// LogEvent is an append-only operational event.
type LogEvent struct {
	Seq        int64     `json:"seq,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Unit       string    `json:"unit"`
	Task       string    `json:"task"`
	Message    string    `json:"message"`
	Level      Level     `json:"level"`
	Source     string    `json:"source,omitempty"`
	Experiment string    `json:"experiment"`
}

// LogView is the shape returned by the recent log query.
type LogView struct {
	Timestamp time.Time `json:"timestamp"`
	IsError   bool      `json:"is_error"`
	IsWarning bool      `json:"is_warning"`
	IsNotice  bool      `json:"is_notice"`
	Unit      string    `json:"pioreactor_unit"`
	Message   string    `json:"message"`
	Task      string    `json:"task"`
}

// ViewOf projects a log event into its query view.
func ViewOf(e LogEvent) LogView {
	return LogView{
		Timestamp: e.Timestamp,
		IsError:   e.Level == LevelError,
		IsWarning: e.Level == LevelWarning,
		IsNotice:  e.Level == LevelNotice,
		Unit:      e.Unit,
		Message:   e.Message,
		Task:      e.Task,
	}
}

// DosingEvent records a volume change performed on a unit.
type DosingEvent struct {
	Experiment     string    `json:"experiment"`
	Unit           string    `json:"unit"`
	Timestamp      time.Time `json:"timestamp"`
	Event          string    `json:"event"`
	VolumeChangeML float64   `json:"volume_change_ml"`
	SourceOfEvent  string    `json:"source_of_event"`
}

// MediaRate is the recent dosing throughput of one unit in ml per hour.
type MediaRate struct {
	Unit         string  `json:"pioreactor_unit"`
	MediaRate    float64 `json:"media_rate"`
	AltMediaRate float64 `json:"alt_media_rate"`
}

// Calibration is a stored calibration record for a unit.
type Calibration struct {
	Unit      string    `json:"pioreactor_unit"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      string    `json:"data"`
}

// Point is one plotted (timestamp, value) pair.
type Point struct {
	X time.Time `json:"x"`
	Y float64   `json:"y"`
}

// SeriesEnvelope is the multi-source plotting shape: Series[i] names the
// source whose points are Data[i].
type SeriesEnvelope struct {
	Series []string  `json:"series"`
	Data   [][]Point `json:"data"`
}
