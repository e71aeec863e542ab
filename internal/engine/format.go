package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// DisplayLayout renders a delivery time for people.
const DisplayLayout = "Mon, Jan 2, 2006 at 3:04 PM MST"

// FormatScheduledDate renders t in loc (UTC when nil).
func FormatScheduledDate(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DisplayLayout)
}

// FormatScheduledDate renders a stored timestamp in the engine's location.
// Unparseable input is returned unchanged.
func (e *Engine) FormatScheduledDate(value string) string {
	t, err := ParseTimestamp(value, e.location)
	if err != nil {
		return value
	}
	return FormatScheduledDate(t, e.location)
}

// ValidateScheduleDate checks a candidate time against the engine's bounds.
func (e *Engine) ValidateScheduleDate(candidate string) Validation {
	return e.validator.Validate(candidate)
}

// GetMaxScheduleDate is the furthest time a message may be scheduled for.
func (e *Engine) GetMaxScheduleDate() time.Time {
	return e.validator.MaxDate()
}

// GetMinScheduleDate is the earliest time a message may be scheduled for.
func (e *Engine) GetMinScheduleDate() time.Time {
	return e.validator.MinDate()
}

// toArgs flattens a request struct into RPC arguments using its JSON names.
func toArgs(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode arguments: %v", ErrInvalidInput, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: encode arguments: %v", ErrInvalidInput, err)
	}
	return out, nil
}
