// Package config provides centralized configuration management for mailsched.
// It implements the three-layer config pattern:
// Layer 1: embedded defaults
// Layer 2: user overrides (discovered via app identity)
// Layer 3: environment variables and runtime overrides
package config

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/mailsched/mailsched/internal/appid"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var (
	// appConfig holds the current application configuration
	appConfig   *Config
	configMu    sync.RWMutex
	appIdentity *appidentity.Identity
	configFile  string
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// SetConfigFile pins the user config file, replacing discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// Load loads configuration using the three-layer pattern. Later layers win;
// runtime overrides are applied last.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	if appIdentity == nil {
		identity, err := appid.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load app identity: %w", err)
		}
		appIdentity = identity
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultsYAML)); err != nil {
		return nil, fmt.Errorf("failed to read embedded defaults: %w", err)
	}

	for _, path := range userConfigFiles() {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to merge config %s: %w", path, err)
		}
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if err := applyRelayUserEnvOverrides(envPrefix(), envOverrides); err != nil {
		return nil, err
	}

	allOverrides := []map[string]any{envOverrides}
	allOverrides = append(allOverrides, runtimeOverrides...)
	for _, layer := range allOverrides {
		if len(layer) == 0 {
			continue
		}
		if err := v.MergeConfigMap(layer); err != nil {
			return nil, fmt.Errorf("failed to apply overrides: %w", err)
		}
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	setConfig(cfg)

	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// userConfigFiles lists the existing user config files, lowest precedence
// first. An explicit file replaces discovery and must exist.
func userConfigFiles() []string {
	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()
	if explicit != "" {
		return []string{explicit}
	}

	var files []string
	for _, path := range getUserConfigPaths() {
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			files = append(files, path)
		}
	}
	return files
}

// getUserConfigPaths returns the list of user config file paths to check
// Uses gofulmen/config for XDG-compliant path discovery
func getUserConfigPaths() []string {
	configName, binaryName := appNamesForPaths()

	var legacyNames []string
	if binaryName != configName {
		legacyNames = append(legacyNames, binaryName)
	}

	paths := gfconfig.GetAppConfigPaths(configName, legacyNames...)
	return append(paths, filepath.Join("config", configName+".yaml"))
}

func envPrefix() string {
	prefix := appid.EnvPrefix
	if appIdentity != nil && appIdentity.EnvPrefix != "" {
		prefix = appIdentity.EnvPrefix
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := envPrefix()

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},
		{Name: prefix + "ADMIN_TOKEN", Path: []string{"server", "admin_token"}, Type: EnvString},

		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// Relay config
		{Name: prefix + "RELAY_URL", Path: []string{"relay", "url"}, Type: EnvString},
		{Name: prefix + "RELAY_TOKEN", Path: []string{"relay", "token"}, Type: EnvString},
		{Name: prefix + "RELAY_TIMEOUT", Path: []string{"relay", "timeout"}, Type: EnvString},

		// Scheduler boot data
		{Name: prefix + "ENABLED", Path: []string{"scheduler", "enabled"}, Type: EnvBool},
		{Name: prefix + "MAX_SCHEDULE_DAYS", Path: []string{"scheduler", "max_schedule_days"}, Type: EnvInt},
		{Name: prefix + "MIN_SCHEDULE_MINUTES", Path: []string{"scheduler", "min_schedule_minutes"}, Type: EnvInt},
		{Name: prefix + "RETRY_ATTEMPTS", Path: []string{"scheduler", "retry_attempts"}, Type: EnvInt},
		{Name: prefix + "RETRY_DELAY", Path: []string{"scheduler", "retry_delay"}, Type: EnvString},
		{Name: prefix + "RATE_LIMIT_WINDOW", Path: []string{"scheduler", "rate_limit_window"}, Type: EnvString},
		{Name: prefix + "RATE_LIMIT_MAX", Path: []string{"scheduler", "rate_limit_max"}, Type: EnvInt},
		{Name: prefix + "SAFETY_TIMEOUT", Path: []string{"scheduler", "safety_timeout"}, Type: EnvString},
		{Name: prefix + "MAX_RECIPIENTS", Path: []string{"scheduler", "max_recipients"}, Type: EnvInt},
		{Name: prefix + "POLL_INTERVAL", Path: []string{"scheduler", "poll_interval"}, Type: EnvString},
		{Name: prefix + "TIMEZONE", Path: []string{"scheduler", "timezone"}, Type: EnvString},

		// Backend used by CLI commands
		{Name: prefix + "BACKEND_URL", Path: []string{"backend", "url"}, Type: EnvString},
		{Name: prefix + "USER", Path: []string{"backend", "user"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},
	}
}

// applyRelayUserEnvOverrides reads {PREFIX}RELAY_USERS_<n>_USER and
// {PREFIX}RELAY_USERS_<n>_TOKEN pairs into relay.users.
func applyRelayUserEnvOverrides(prefix string, envOverrides map[string]any) error {
	usersPrefix := prefix + "RELAY_USERS_"

	for _, item := range os.Environ() {
		key, value, ok := strings.Cut(item, "=")
		if !ok || !strings.HasPrefix(key, usersPrefix) {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		rawIdx, field, ok := strings.Cut(key[len(usersPrefix):], "_")
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(rawIdx)
		if err != nil || idx < 0 {
			return fmt.Errorf("invalid relay user index in %s", key)
		}
		field = strings.ToLower(field)
		if field != "user" && field != "token" {
			continue
		}

		relay := ensureMap(envOverrides, "relay")
		users := ensureSlice(relay, "users", idx+1)
		ensureSliceMap(users, idx)[field] = value
	}
	return nil
}

// appNamesForPaths returns the config name and binary name from app identity,
// falling back to "mailsched" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	configName = appid.BinaryName
	binaryName = appid.BinaryName
	if appIdentity == nil {
		return configName, binaryName
	}

	if strings.TrimSpace(appIdentity.ConfigName) != "" {
		configName = appIdentity.ConfigName
	}
	if strings.TrimSpace(appIdentity.BinaryName) != "" {
		binaryName = appIdentity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	configName, _ := appNamesForPaths()
	return gfconfig.GetAppDataDir(configName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return map[string]any{}
	}
	if existing, ok := parent[key]; ok {
		if typed, ok := existing.(map[string]any); ok {
			return typed
		}
	}
	next := map[string]any{}
	parent[key] = next
	return next
}

func ensureSlice(parent map[string]any, key string, length int) []any {
	var existing []any
	if raw, ok := parent[key]; ok {
		existing, _ = raw.([]any)
	}
	for len(existing) < length {
		existing = append(existing, map[string]any{})
	}
	parent[key] = existing
	return existing
}

func ensureSliceMap(slice []any, idx int) map[string]any {
	if idx < 0 || idx >= len(slice) {
		return map[string]any{}
	}
	if typed, ok := slice[idx].(map[string]any); ok {
		return typed
	}
	m := map[string]any{}
	slice[idx] = m
	return m
}
