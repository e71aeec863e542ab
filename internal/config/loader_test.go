package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points discovery at empty directories so a developer's own config
// never leaks into the tests.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	SetConfigFile("")
	t.Cleanup(func() { SetConfigFile("") })
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify server defaults
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
		assert.Empty(t, cfg.Server.AdminToken)

		// Verify store defaults
		assert.Equal(t, "libsql", cfg.Store.Driver)
		expectedStorePath := filepath.Join(gfconfig.GetAppDataDir("mailsched"), "mailsched.db")
		assert.Equal(t, expectedStorePath, cfg.Store.Path)
		assert.Equal(t, "", cfg.Store.URL)

		// Verify scheduler defaults
		assert.True(t, cfg.Scheduler.Enabled)
		assert.Equal(t, 30, cfg.Scheduler.MaxScheduleDays)
		assert.Equal(t, 1, cfg.Scheduler.MinScheduleMinutes)
		assert.Equal(t, 3, cfg.Scheduler.RetryAttempts)
		assert.Equal(t, time.Second, cfg.Scheduler.RetryDelay)
		assert.Equal(t, time.Minute, cfg.Scheduler.RateLimitWindow)
		assert.Equal(t, 300*time.Millisecond, cfg.Scheduler.Debounce)
		assert.Equal(t, 10*time.Second, cfg.Scheduler.SafetyTimeout)
		assert.Equal(t, 500, cfg.Scheduler.MaxRecipients)
		assert.Equal(t, 5*time.Minute, cfg.Scheduler.PollInterval)

		// Verify relay defaults
		assert.Equal(t, 30*time.Second, cfg.Relay.Timeout)
		assert.Empty(t, cfg.Relay.Users)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "SIMPLE", cfg.Logging.Profile)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)
		assert.True(t, cfg.Health.Enabled)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)

		// Verify non-overridden values remain default
		assert.Equal(t, "SIMPLE", cfg.Logging.Profile)
		assert.Equal(t, 9090, cfg.Metrics.Port)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("MAILSCHED_PORT", "3000")
		t.Setenv("MAILSCHED_LOG_LEVEL", "warn")
		t.Setenv("MAILSCHED_METRICS_ENABLED", "false")
		t.Setenv("MAILSCHED_MAX_SCHEDULE_DAYS", "7")
		t.Setenv("MAILSCHED_RELAY_URL", "https://relay.example.com")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, 7, cfg.Scheduler.MaxScheduleDays)
		assert.Equal(t, "https://relay.example.com", cfg.Relay.URL)
	})

	t.Run("RelayUsersFromEnv", func(t *testing.T) {
		isolate(t)
		t.Setenv("MAILSCHED_RELAY_USERS_0_USER", "ada@example.com")
		t.Setenv("MAILSCHED_RELAY_USERS_0_TOKEN", "tok-ada")
		t.Setenv("MAILSCHED_RELAY_USERS_1_USER", "bob@example.com")
		t.Setenv("MAILSCHED_RELAY_USERS_1_TOKEN", "tok-bob")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, map[string]string{
			"ada@example.com": "tok-ada",
			"bob@example.com": "tok-bob",
		}, cfg.Relay.Tokens())
	})

	t.Run("ConfigFile", func(t *testing.T) {
		isolate(t)
		path := filepath.Join(t.TempDir(), "mailsched.yaml")
		require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  timezone: Europe/Berlin\n  poll_interval: 1m\n"), 0o600))
		SetConfigFile(path)

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, "Europe/Berlin", cfg.Scheduler.Timezone)
		assert.Equal(t, time.Minute, cfg.Scheduler.PollInterval)
		assert.Equal(t, 30, cfg.Scheduler.MaxScheduleDays)
	})

	t.Run("MissingConfigFile", func(t *testing.T) {
		isolate(t)
		SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))

		_, err := Load(ctx)
		require.Error(t, err)
	})

	// Test config precedence: runtime > env > defaults
	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		t.Setenv("MAILSCHED_PORT", "4000")

		overrides := map[string]any{
			"server": map[string]any{
				"port": 5000,
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, 5000, cfg.Server.Port)
	})
}

func TestGetConfig(t *testing.T) {
	isolate(t)

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	retrieved := GetConfig()
	require.NotNil(t, retrieved)
	assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
	assert.Equal(t, cfg.Logging.Level, retrieved.Logging.Level)
}

func TestEnvSpecs(t *testing.T) {
	isolate(t)
	_, err := Load(context.Background())
	require.NoError(t, err)

	envVarNames := make(map[string]bool)
	for _, spec := range getEnvSpecs() {
		envVarNames[spec.Name] = true
	}

	assert.True(t, envVarNames["MAILSCHED_LOG_LEVEL"], "LOG_LEVEL env var must be mapped")
	assert.True(t, envVarNames["MAILSCHED_PORT"], "PORT env var must be mapped")
	assert.True(t, envVarNames["MAILSCHED_HOST"], "HOST env var must be mapped")
	assert.True(t, envVarNames["MAILSCHED_DB_PATH"], "DB_PATH env var must be mapped")
	assert.True(t, envVarNames["MAILSCHED_RELAY_TOKEN"], "RELAY_TOKEN env var must be mapped")
}

func TestDurationParsing(t *testing.T) {
	isolate(t)
	t.Setenv("MAILSCHED_READ_TIMEOUT", "45s")
	t.Setenv("MAILSCHED_SHUTDOWN_TIMEOUT", "5m")
	t.Setenv("MAILSCHED_SAFETY_TIMEOUT", "2s")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.SafetyTimeout)
}

func TestSchedulerBootConfig(t *testing.T) {
	sc := SchedulerConfig{Enabled: true, MaxScheduleDays: 14, MinScheduleMinutes: 5}

	boot := sc.BootConfig()
	require.NotNil(t, boot.Enabled)
	assert.True(t, *boot.Enabled)
	assert.Equal(t, 14, *boot.MaxScheduleDays)
	assert.Equal(t, 5, *boot.MinScheduleMinutes)
	assert.Nil(t, boot.RetryAttempts)
	assert.Nil(t, boot.SafetyTimeout)
}

func TestSchedulerLocation(t *testing.T) {
	assert.Equal(t, time.UTC, SchedulerConfig{}.Location())
	assert.Equal(t, time.UTC, SchedulerConfig{Timezone: "Not/AZone"}.Location())
	assert.Equal(t, "Europe/Berlin", SchedulerConfig{Timezone: "Europe/Berlin"}.Location().String())
}

func TestValidate(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.Server.Port = 70000
	bad.Scheduler.MaxScheduleDays = 0
	bad.Scheduler.PollInterval = 0
	bad.Relay.Users = []RelayCredential{{User: "ada@example.com"}}
	bad.Backend.URL = "localhost:8080"

	err = bad.Validate()
	require.Error(t, err)
	for _, want := range []string{"server.port", "max_schedule_days", "poll_interval", "relay.users[0]", "backend.url"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  max_schedule_days: -1\n"), 0o600))
	SetConfigFile(path)

	_, err := Load(context.Background())
	assert.ErrorContains(t, err, "max_schedule_days")
}
