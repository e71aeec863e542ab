package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate reports every setting that would make mailsched misbehave at
// runtime. Engine tuning values are clamped later and are not checked here.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port %d is out of range", c.Server.Port)
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		add("metrics.port %d is out of range", c.Metrics.Port)
	}
	if c.Metrics.Enabled && c.Metrics.Port != 0 && c.Metrics.Port == c.Server.Port {
		add("metrics.port and server.port are both %d", c.Server.Port)
	}

	if c.Scheduler.MaxScheduleDays <= 0 {
		add("scheduler.max_schedule_days must be positive")
	}
	if c.Scheduler.MinScheduleMinutes < 0 {
		add("scheduler.min_schedule_minutes must not be negative")
	}
	if c.Scheduler.PollInterval < time.Second {
		add("scheduler.poll_interval %s is below 1s", c.Scheduler.PollInterval)
	}
	if tz := c.Scheduler.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone %q: %v", tz, err)
		}
	}

	for i, u := range c.Relay.Users {
		if strings.TrimSpace(u.User) == "" || strings.TrimSpace(u.Token) == "" {
			add("relay.users[%d] needs both user and token", i)
		}
	}
	for key, raw := range map[string]string{"relay.url": c.Relay.URL, "backend.url": c.Backend.URL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("%s %q must be an http(s) URL", key, raw)
		}
	}

	return errors.Join(errs...)
}
