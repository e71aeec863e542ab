package engine

import "time"

// Defaults applied when boot data omits a value.
const (
	DefaultMaxScheduleDays    = 30
	DefaultMinScheduleMinutes = 1
	DefaultRetryAttempts      = 3
	DefaultRetryDelay         = time.Second
	DefaultRateLimitWindow    = time.Minute
	DefaultRateLimitMax       = 60
	DefaultDebounce           = 300 * time.Millisecond
	DefaultSafetyTimeout      = 10 * time.Second

	maxScheduleDaysCeiling = 365
	maxRetryAttempts       = 10
	maxRetryDelay          = time.Minute
)

// BootConfig is the configuration handed over by the host at start-up.
// Pointer fields distinguish "absent" from zero.
type BootConfig struct {
	Enabled            *bool          `mapstructure:"enabled" json:"enabled,omitempty" yaml:"enabled,omitempty"`
	MaxScheduleDays    *int           `mapstructure:"max_schedule_days" json:"max_schedule_days,omitempty" yaml:"max_schedule_days,omitempty"`
	MinScheduleMinutes *int           `mapstructure:"min_schedule_minutes" json:"min_schedule_minutes,omitempty" yaml:"min_schedule_minutes,omitempty"`
	RetryAttempts      *int           `mapstructure:"retry_attempts" json:"retry_attempts,omitempty" yaml:"retry_attempts,omitempty"`
	RetryDelay         *time.Duration `mapstructure:"retry_delay" json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`
	RateLimitWindow    *time.Duration `mapstructure:"rate_limit_window" json:"rate_limit_window,omitempty" yaml:"rate_limit_window,omitempty"`
	RateLimitMax       *int           `mapstructure:"rate_limit_max" json:"rate_limit_max,omitempty" yaml:"rate_limit_max,omitempty"`
	Debounce           *time.Duration `mapstructure:"debounce" json:"debounce,omitempty" yaml:"debounce,omitempty"`
	SafetyTimeout      *time.Duration `mapstructure:"safety_timeout" json:"safety_timeout,omitempty" yaml:"safety_timeout,omitempty"`
}

// Settings is the normalized, read-only engine configuration.
type Settings struct {
	enabled            bool
	maxScheduleDays    int
	minScheduleMinutes int
	retryAttempts      int
	retryDelay         time.Duration
	rateLimitWindow    time.Duration
	rateLimitMax       int
	debounce           time.Duration
	safetyTimeout      time.Duration
}

// NormalizeSettings clamps boot data into valid ranges.
func NormalizeSettings(boot BootConfig) Settings {
	s := Settings{
		enabled:            true,
		maxScheduleDays:    DefaultMaxScheduleDays,
		minScheduleMinutes: DefaultMinScheduleMinutes,
		retryAttempts:      DefaultRetryAttempts,
		retryDelay:         DefaultRetryDelay,
		rateLimitWindow:    DefaultRateLimitWindow,
		rateLimitMax:       DefaultRateLimitMax,
		debounce:           DefaultDebounce,
		safetyTimeout:      DefaultSafetyTimeout,
	}

	if boot.Enabled != nil {
		s.enabled = *boot.Enabled
	}
	if boot.MaxScheduleDays != nil {
		s.maxScheduleDays = clampInt(*boot.MaxScheduleDays, 1, maxScheduleDaysCeiling)
	}
	if boot.MinScheduleMinutes != nil {
		s.minScheduleMinutes = clampInt(*boot.MinScheduleMinutes, 0, s.maxScheduleDays*24*60)
	}
	if boot.RetryAttempts != nil {
		s.retryAttempts = clampInt(*boot.RetryAttempts, 1, maxRetryAttempts)
	}
	if boot.RetryDelay != nil {
		s.retryDelay = clampDuration(*boot.RetryDelay, 0, maxRetryDelay)
	}
	if boot.RateLimitWindow != nil {
		s.rateLimitWindow = max(*boot.RateLimitWindow, time.Second)
	}
	if boot.RateLimitMax != nil {
		s.rateLimitMax = max(*boot.RateLimitMax, 1)
	}
	if boot.Debounce != nil && *boot.Debounce >= 0 {
		s.debounce = *boot.Debounce
	}
	if boot.SafetyTimeout != nil && *boot.SafetyTimeout > 0 {
		s.safetyTimeout = *boot.SafetyTimeout
	}

	return s
}

func (s Settings) Enabled() bool                  { return s.enabled }
func (s Settings) MaxScheduleDays() int           { return s.maxScheduleDays }
func (s Settings) MinScheduleMinutes() int        { return s.minScheduleMinutes }
func (s Settings) RetryAttempts() int             { return s.retryAttempts }
func (s Settings) RetryDelay() time.Duration      { return s.retryDelay }
func (s Settings) RateLimitWindow() time.Duration { return s.rateLimitWindow }
func (s Settings) RateLimitMax() int              { return s.rateLimitMax }
func (s Settings) Debounce() time.Duration        { return s.debounce }
func (s Settings) SafetyTimeout() time.Duration   { return s.safetyTimeout }

// MaxScheduleWindow is the furthest a delivery may be deferred.
func (s Settings) MaxScheduleWindow() time.Duration {
	return time.Duration(s.maxScheduleDays) * 24 * time.Hour
}

// MinScheduleLead is the minimum distance between now and a delivery.
func (s Settings) MinScheduleLead() time.Duration {
	return time.Duration(s.minScheduleMinutes) * time.Minute
}

// SettingsView is a serializable snapshot used by debug accessors.
type SettingsView struct {
	Enabled            bool   `json:"enabled" yaml:"enabled"`
	MaxScheduleDays    int    `json:"max_schedule_days" yaml:"max_schedule_days"`
	MinScheduleMinutes int    `json:"min_schedule_minutes" yaml:"min_schedule_minutes"`
	RetryAttempts      int    `json:"retry_attempts" yaml:"retry_attempts"`
	RetryDelayMs       int64  `json:"retry_delay_ms" yaml:"retry_delay_ms"`
	RateLimitWindowMs  int64  `json:"rate_limit_window_ms" yaml:"rate_limit_window_ms"`
	RateLimitMax       int    `json:"rate_limit_max" yaml:"rate_limit_max"`
	DebounceMs         int64  `json:"debounce_ms" yaml:"debounce_ms"`
	SafetyTimeout      string `json:"safety_timeout" yaml:"safety_timeout"`
}

// View returns a serializable snapshot of the settings.
func (s Settings) View() SettingsView {
	return SettingsView{
		Enabled:            s.enabled,
		MaxScheduleDays:    s.maxScheduleDays,
		MinScheduleMinutes: s.minScheduleMinutes,
		RetryAttempts:      s.retryAttempts,
		RetryDelayMs:       s.retryDelay.Milliseconds(),
		RateLimitWindowMs:  s.rateLimitWindow.Milliseconds(),
		RateLimitMax:       s.rateLimitMax,
		DebounceMs:         s.debounce.Milliseconds(),
		SafetyTimeout:      s.safetyTimeout.String(),
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
