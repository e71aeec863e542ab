package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	now := testNow
	limiter := &RateLimiter{Window: 60000 * time.Millisecond, Max: 60, Clock: func() time.Time { return now }}

	for i := 0; i < 60; i++ {
		require.False(t, limiter.IsLimited(), "request %d", i)
		limiter.RecordRequest()
	}
	require.True(t, limiter.IsLimited())
	require.Equal(t, 0, limiter.Remaining())

	now = now.Add(60 * time.Second)
	require.False(t, limiter.IsLimited())
	require.Equal(t, 60, limiter.Remaining())
}

func TestRateLimiterPrunesOnlyExpiredEntries(t *testing.T) {
	now := testNow
	limiter := &RateLimiter{Window: time.Minute, Max: 2, Clock: func() time.Time { return now }}

	limiter.RecordRequest()
	now = now.Add(30 * time.Second)
	limiter.RecordRequest()
	assert.True(t, limiter.IsLimited())
	assert.Equal(t, 30*time.Second, limiter.Wait())

	now = now.Add(30 * time.Second)
	assert.False(t, limiter.IsLimited())
	assert.Equal(t, 1, limiter.Remaining())
}

func TestRateLimiterRecordDoesNotEnforce(t *testing.T) {
	limiter := &RateLimiter{Window: time.Minute, Max: 1, Clock: fixedClock(testNow)}

	limiter.RecordRequest()
	limiter.RecordRequest()
	limiter.RecordRequest()
	assert.True(t, limiter.IsLimited())

	limiter.Reset()
	assert.False(t, limiter.IsLimited())
}

func TestRateLimiterNilIsOpen(t *testing.T) {
	var limiter *RateLimiter
	assert.False(t, limiter.IsLimited())
	limiter.RecordRequest()
	assert.Zero(t, limiter.Wait())
}
