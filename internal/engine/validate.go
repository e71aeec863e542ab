package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validation is the result of checking a candidate delivery time.
type Validation struct {
	IsValid bool   `json:"isValid"`
	Error   string `json:"error,omitempty"`
	Kind    error  `json:"-"`
}

// Validator checks candidate delivery times against configured bounds.
type Validator struct {
	Settings Settings
	Clock    func() time.Time
	// Location interprets timestamps that carry no zone. Defaults to UTC.
	Location *time.Location
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseTimestamp parses an RFC 3339 instant, or a zone-less timestamp in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: scheduled time is required", ErrInvalidInput)
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not a valid timestamp", ErrInvalidInput, value)
}

// Validate checks a candidate given as a string.
func (v *Validator) Validate(candidate string) Validation {
	t, err := ParseTimestamp(candidate, v.Location)
	if err != nil {
		return Validation{IsValid: false, Error: err.Error(), Kind: ErrInvalidInput}
	}
	return v.ValidateTime(t)
}

// ValidateTime checks a parsed candidate.
func (v *Validator) ValidateTime(candidate time.Time) Validation {
	if err := v.Check(candidate); err != nil {
		kind := ErrInvalidInput
		switch {
		case errors.Is(err, ErrTooSoon):
			kind = ErrTooSoon
		case errors.Is(err, ErrTooFar):
			kind = ErrTooFar
		}
		return Validation{IsValid: false, Error: err.Error(), Kind: kind}
	}
	return Validation{IsValid: true}
}

// Check returns nil when candidate lies within [now+min, now+max].
func (v *Validator) Check(candidate time.Time) error {
	if candidate.IsZero() {
		return fmt.Errorf("%w: scheduled time is required", ErrInvalidInput)
	}

	now := v.now()
	earliest := now.Add(v.Settings.MinScheduleLead())
	if candidate.Before(earliest) {
		if v.Settings.MinScheduleMinutes() == 0 {
			return fmt.Errorf("%w: scheduled time must be in the future", ErrTooSoon)
		}
		return fmt.Errorf("%w: must be at least %d minute(s) from now", ErrTooSoon, v.Settings.MinScheduleMinutes())
	}

	latest := now.Add(v.Settings.MaxScheduleWindow())
	if candidate.After(latest) {
		return fmt.Errorf("%w: cannot be more than %d days from now", ErrTooFar, v.Settings.MaxScheduleDays())
	}

	return nil
}

// MaxDate is the furthest permitted delivery time.
func (v *Validator) MaxDate() time.Time {
	return v.now().Add(v.Settings.MaxScheduleWindow())
}

// MinDate is the earliest permitted delivery time.
func (v *Validator) MinDate() time.Time {
	return v.now().Add(v.Settings.MinScheduleLead())
}

func (v *Validator) now() time.Time {
	if v != nil && v.Clock != nil {
		return v.Clock()
	}
	return time.Now().UTC()
}
