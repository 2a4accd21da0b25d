package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"reactorboard/pkg/domain"
)

// TimestampLayout renders UTC second-precision ISO-8601 with a literal Z.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Payload is the message published for every recorded event.
type Payload struct {
	Message   string `json:"message"`
	Task      string `json:"task"`
	Source    string `json:"source"`
	Level     string `json:"level"`
	Timestamp string `json:"timestamp"`
}

// NewPayload builds the publish payload for an event recorded at ts.
func NewPayload(message, task string, level domain.Level, ts time.Time) Payload {
	return Payload{
		Message:   message,
		Task:      task,
		Source:    Source,
		Level:     string(level),
		Timestamp: ts.UTC().Truncate(time.Second).Format(TimestampLayout),
	}
}

// Encode marshals the payload.
func (p Payload) Encode() ([]byte, error) { return json.Marshal(p) }

// CoerceMessage turns an arbitrary message into text. Strings pass through
// trimmed, errors use their text, anything else is JSON encoded and falls
// back to its default formatting when encoding fails.
func CoerceMessage(msg any) string {
	switch v := msg.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Sprint(msg)
	}
	return string(b)
}
