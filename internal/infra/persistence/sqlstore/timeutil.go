package sqlstore

import (
	"fmt"
	"strings"
	"time"
)

// TextTimeLayout is the fixed-width UTC layout used by engines that store
// timestamps as text. Fixed width keeps lexical and chronological order equal.
const TextTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTextTime renders t in TextTimeLayout.
func FormatTextTime(t time.Time) string {
	return t.UTC().Format(TextTimeLayout)
}

var textTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTextTime parses timestamps written by this package or by older
// writers that omitted the zone.
func ParseTextTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range textTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// dbTime scans timestamps stored either natively or as text.
type dbTime struct{ time.Time }

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
	case time.Time:
		t.Time = v.UTC()
	case string:
		parsed, err := ParseTextTime(v)
		if err != nil {
			return err
		}
		t.Time = parsed
	case []byte:
		parsed, err := ParseTextTime(string(v))
		if err != nil {
			return err
		}
		t.Time = parsed
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
	return nil
}
