package config

import (
	"time"

	"github.com/mailsched/mailsched/internal/engine"
)

// Config represents the complete application configuration, layered as:
// Layer 1: embedded defaults (defaults.yaml)
// Layer 2: user overrides ($XDG_CONFIG_HOME/mailsched/config.yaml, ./config/mailsched.yaml)
// Layer 3: environment variables and runtime overrides
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// AdminToken enables POST /admin/signal when set.
	AdminToken string `mapstructure:"admin_token"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// RelayConfig points at the JMAP relay that holds submissions until their
// HOLDUNTIL time.
type RelayConfig struct {
	URL     string            `mapstructure:"url"`
	Token   string            `mapstructure:"token"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Users   []RelayCredential `mapstructure:"users"`
}

// RelayCredential is a per-user relay token.
type RelayCredential struct {
	User  string `mapstructure:"user"`
	Token string `mapstructure:"token"`
}

// Tokens returns the per-user tokens keyed by user.
func (r RelayConfig) Tokens() map[string]string {
	out := make(map[string]string, len(r.Users))
	for _, c := range r.Users {
		if c.User != "" && c.Token != "" {
			out[c.User] = c.Token
		}
	}
	return out
}

// SchedulerConfig carries the engine boot data plus backend limits.
type SchedulerConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxScheduleDays    int           `mapstructure:"max_schedule_days"`
	MinScheduleMinutes int           `mapstructure:"min_schedule_minutes"`
	RetryAttempts      int           `mapstructure:"retry_attempts"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	RateLimitWindow    time.Duration `mapstructure:"rate_limit_window"`
	RateLimitMax       int           `mapstructure:"rate_limit_max"`
	Debounce           time.Duration `mapstructure:"debounce"`
	SafetyTimeout      time.Duration `mapstructure:"safety_timeout"`

	MaxRecipients       int           `mapstructure:"max_recipients"`
	MaxAttachments      int           `mapstructure:"max_attachments"`
	MaxAttachmentSizeMB int           `mapstructure:"max_attachment_size_mb"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`

	// Timezone interprets scheduled_at values that carry no offset.
	Timezone string `mapstructure:"timezone"`
}

// BootConfig converts the scheduler section into engine boot data. Zero
// durations and counts are left unset so the engine defaults apply.
func (s SchedulerConfig) BootConfig() engine.BootConfig {
	boot := engine.BootConfig{
		Enabled:            &s.Enabled,
		MaxScheduleDays:    &s.MaxScheduleDays,
		MinScheduleMinutes: &s.MinScheduleMinutes,
	}
	if s.RetryAttempts > 0 {
		boot.RetryAttempts = &s.RetryAttempts
	}
	if s.RetryDelay > 0 {
		boot.RetryDelay = &s.RetryDelay
	}
	if s.RateLimitWindow > 0 {
		boot.RateLimitWindow = &s.RateLimitWindow
	}
	if s.RateLimitMax > 0 {
		boot.RateLimitMax = &s.RateLimitMax
	}
	if s.Debounce > 0 {
		boot.Debounce = &s.Debounce
	}
	if s.SafetyTimeout > 0 {
		boot.SafetyTimeout = &s.SafetyTimeout
	}
	return boot
}

// Location resolves Timezone, falling back to UTC.
func (s SchedulerConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// BackendConfig tells CLI commands which scheduler backend to call.
type BackendConfig struct {
	// URL of a running "mailsched serve"; empty means in-process.
	URL     string        `mapstructure:"url"`
	User    string        `mapstructure:"user"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles:
// - SIMPLE: Console output only, minimal configuration (CLI tools)
// - STRUCTURED: Structured sinks, correlation IDs (API services)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}
