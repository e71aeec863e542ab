package engine

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window counter shared by all outbound
// scheduling requests.
type RateLimiter struct {
	Window time.Duration
	Max    int
	Clock  func() time.Time

	mu       sync.Mutex
	accepted []time.Time
}

// NewRateLimiter builds a limiter from normalized settings.
func NewRateLimiter(s Settings, clock func() time.Time) *RateLimiter {
	return &RateLimiter{
		Window: s.RateLimitWindow(),
		Max:    s.RateLimitMax(),
		Clock:  clock,
	}
}

// IsLimited prunes expired entries and reports whether the window is full.
func (r *RateLimiter) IsLimited() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(r.now())
	return len(r.accepted) >= r.max()
}

// RecordRequest appends now. It never enforces the limit; callers check
// IsLimited first.
func (r *RateLimiter) RecordRequest() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.accepted = append(r.accepted, r.now())
}

// Remaining returns how many requests the current window still admits.
func (r *RateLimiter) Remaining() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(r.now())
	remaining := r.max() - len(r.accepted)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Wait returns how long until the oldest entry leaves the window, or zero
// when a request would be admitted now.
func (r *RateLimiter) Wait() time.Duration {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.prune(now)
	if len(r.accepted) < r.max() {
		return 0
	}
	return r.accepted[0].Add(r.window()).Sub(now)
}

// Reset discards all recorded requests.
func (r *RateLimiter) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accepted = nil
}

// prune drops entries at or beyond the window edge; caller holds mu.
func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.window())
	keep := 0
	for keep < len(r.accepted) && !r.accepted[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		r.accepted = append(r.accepted[:0], r.accepted[keep:]...)
	}
}

func (r *RateLimiter) window() time.Duration {
	if r.Window <= 0 {
		return DefaultRateLimitWindow
	}
	return r.Window
}

func (r *RateLimiter) max() int {
	if r.Max <= 0 {
		return DefaultRateLimitMax
	}
	return r.Max
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}
