package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSettingsDefaults(t *testing.T) {
	s := NormalizeSettings(BootConfig{})

	assert.True(t, s.Enabled())
	assert.Equal(t, 30, s.MaxScheduleDays())
	assert.Equal(t, 1, s.MinScheduleMinutes())
	assert.Equal(t, 3, s.RetryAttempts())
	assert.Equal(t, time.Second, s.RetryDelay())
	assert.Equal(t, time.Minute, s.RateLimitWindow())
	assert.Equal(t, 60, s.RateLimitMax())
	assert.Equal(t, 300*time.Millisecond, s.Debounce())
	assert.Equal(t, 10*time.Second, s.SafetyTimeout())
}

func TestNormalizeSettingsClamps(t *testing.T) {
	s := NormalizeSettings(BootConfig{
		Enabled:            boolPtr(false),
		MaxScheduleDays:    intPtr(1000),
		MinScheduleMinutes: intPtr(-5),
		RetryAttempts:      intPtr(50),
		RetryDelay:         durationPtr(time.Hour),
		RateLimitWindow:    durationPtr(time.Millisecond),
		RateLimitMax:       intPtr(0),
	})

	assert.False(t, s.Enabled())
	assert.Equal(t, 365, s.MaxScheduleDays())
	assert.Equal(t, 0, s.MinScheduleMinutes())
	assert.Equal(t, 10, s.RetryAttempts())
	assert.Equal(t, time.Minute, s.RetryDelay())
	assert.Equal(t, time.Second, s.RateLimitWindow())
	assert.Equal(t, 1, s.RateLimitMax())

	low := NormalizeSettings(BootConfig{MaxScheduleDays: intPtr(0)})
	require.Equal(t, 1, low.MaxScheduleDays())
}

func TestSettingsViewReportsMilliseconds(t *testing.T) {
	view := NormalizeSettings(BootConfig{RetryDelay: durationPtr(1500 * time.Millisecond)}).View()
	assert.Equal(t, int64(1500), view.RetryDelayMs)
	assert.Equal(t, int64(60000), view.RateLimitWindowMs)
}
