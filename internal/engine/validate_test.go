package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatorBoundsAcrossSettings(t *testing.T) {
	for _, days := range []int{1, 2, 7, 30, 90, 180, 364, 365} {
		for _, minutes := range []int{0, 1, 5, 60} {
			v := &Validator{
				Settings: NormalizeSettings(BootConfig{MaxScheduleDays: intPtr(days), MinScheduleMinutes: intPtr(minutes)}),
				Clock:    fixedClock(testNow),
			}

			past := v.ValidateTime(testNow.Add(-time.Second))
			require.False(t, past.IsValid, "days=%d minutes=%d", days, minutes)
			require.True(t, errors.Is(past.Kind, ErrTooSoon), "days=%d minutes=%d", days, minutes)

			far := v.ValidateTime(testNow.Add(time.Duration(days+1) * 24 * time.Hour))
			require.False(t, far.IsValid, "days=%d minutes=%d", days, minutes)
			require.True(t, errors.Is(far.Kind, ErrTooFar), "days=%d minutes=%d", days, minutes)
		}
	}
}

func TestValidatorAcceptsWithinWindow(t *testing.T) {
	v := &Validator{Settings: NormalizeSettings(BootConfig{}), Clock: fixedClock(testNow)}

	res := v.Validate(testNow.Add(48 * time.Hour).Format(time.RFC3339))
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Error)

	edge := v.ValidateTime(testNow.Add(30 * 24 * time.Hour))
	assert.True(t, edge.IsValid)
}

func TestValidatorMessages(t *testing.T) {
	v := &Validator{Settings: NormalizeSettings(BootConfig{MinScheduleMinutes: intPtr(5)}), Clock: fixedClock(testNow)}

	soon := v.ValidateTime(testNow.Add(2 * time.Minute))
	assert.Contains(t, soon.Error, "at least 5 minute(s)")

	far := v.ValidateTime(testNow.Add(40 * 24 * time.Hour))
	assert.Contains(t, far.Error, "cannot be more than 30 days")

	zeroLead := &Validator{Settings: NormalizeSettings(BootConfig{MinScheduleMinutes: intPtr(0)}), Clock: fixedClock(testNow)}
	assert.Contains(t, zeroLead.ValidateTime(testNow.Add(-time.Minute)).Error, "must be in the future")
}

func TestValidatorRejectsMalformedInput(t *testing.T) {
	v := &Validator{Settings: NormalizeSettings(BootConfig{}), Clock: fixedClock(testNow)}

	for _, input := range []string{"", "   ", "tomorrow", "2026-13-45T99:00:00Z"} {
		res := v.Validate(input)
		assert.False(t, res.IsValid, input)
		assert.True(t, errors.Is(res.Kind, ErrInvalidInput), input)
	}
}

func TestParseTimestampNaiveLayoutUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)

	got, err := ParseTimestamp("2026-03-02 09:30:00", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC), got.UTC())

	got, err = ParseTimestamp("2026-03-02T09:30:00+05:00", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 4, 30, 0, 0, time.UTC), got.UTC())
}

func TestValidatorDateBounds(t *testing.T) {
	v := &Validator{Settings: NormalizeSettings(BootConfig{MaxScheduleDays: intPtr(10)}), Clock: fixedClock(testNow)}

	assert.Equal(t, testNow.Add(10*24*time.Hour), v.MaxDate())
	assert.Equal(t, testNow.Add(time.Minute), v.MinDate())
}
