// Package config provides centralized configuration management for ArenaWatch.
// Settings are layered with viper: built-in defaults, the config file,
// environment variables and runtime overrides, then decoded into Config with
// mapstructure.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/arenawatch/arenawatch/internal/core"
)

const (
	// AppName is the binary and config directory name.
	AppName = "arenawatch"

	// EnvPrefix prefixes every environment variable override.
	EnvPrefix = "ARENAWATCH_"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
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

// SetDefaults registers default configuration values on v.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.admin_token", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "SIMPLE")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)

	// Debug defaults
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)

	// Refresh scheduling defaults
	v.SetDefault("refresh.enabled", true)
	v.SetDefault("refresh.intervals", map[string]any{
		"entities": "60s",
		"metrics":  "30s",
		"history":  "120s",
	})

	// Fetch gate defaults
	v.SetDefault("fetch.bulk_interval", "10s")
	v.SetDefault("fetch.single_interval", "10s")
	v.SetDefault("fetch.probe_timeout", "5s")
	v.SetDefault("fetch.challenge_timeout", "8s")
	v.SetDefault("fetch.persist_gates", true)

	// Aggregator defaults
	v.SetDefault("aggregate.min_spacing", "30s")
	v.SetDefault("aggregate.widened_spacing", "90s")
	v.SetDefault("aggregate.failure_threshold", 2)
	v.SetDefault("aggregate.flush_window", "500ms")
	v.SetDefault("aggregate.history_limit", 50)
	v.SetDefault("aggregate.concurrency", 16)

	// Remote client defaults
	v.SetDefault("remote.base_url", "http://localhost:3000/api/players")
	v.SetDefault("remote.requests_per_second", 20.0)
	v.SetDefault("remote.burst", 5)

	v.SetDefault("entities", []any{})
	v.SetDefault("entities_file", "")
}

// Load decodes configuration from the process-wide viper instance.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	return LoadFrom(ctx, viper.GetViper(), runtimeOverrides...)
}

// LoadFrom decodes configuration from v, applying environment overrides and
// then runtime overrides on top of v's settings.
func LoadFrom(ctx context.Context, v *viper.Viper, runtimeOverrides ...map[string]any) (*Config, error) {
	if v == nil {
		v = viper.New()
		SetDefaults(v)
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	layered := viper.New()
	if err := layered.MergeConfigMap(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to merge base config: %w", err)
	}
	allOverrides := []map[string]any{envOverrides}
	allOverrides = append(allOverrides, runtimeOverrides...)
	for _, overrides := range allOverrides {
		if len(overrides) == 0 {
			continue
		}
		if err := layered.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("failed to merge config overrides: %w", err)
		}
	}

	// Unmarshal into typed config struct
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(layered.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = defaultStorePath()
	}

	if path := strings.TrimSpace(cfg.EntitiesFile); path != "" {
		entities, err := LoadEntitiesFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Entities = append(cfg.Entities, entities...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Store the loaded config
	setConfig(cfg)

	return cfg, nil
}

// Validate checks the entity roster and scheduling values.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Entities))
	for i, entity := range c.Entities {
		id := strings.TrimSpace(entity.ID)
		if id == "" {
			return fmt.Errorf("entities[%d]: id is required", i)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("entities[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
		c.Entities[i].ID = id
	}

	for topic, interval := range c.Refresh.Intervals {
		if interval <= 0 {
			return fmt.Errorf("refresh.intervals.%s must be positive", topic)
		}
	}
	if c.Aggregate.FailureThreshold < 0 {
		return errors.New("aggregate.failure_threshold must not be negative")
	}
	if c.Remote.RequestsPerSecond < 0 {
		return errors.New("remote.requests_per_second must not be negative")
	}
	return nil
}

type entitiesFile struct {
	Entities []core.EntityConfig `yaml:"entities"`
}

// LoadEntitiesFile reads an entity roster from a YAML file of the form
// `entities: [{id, name, url, challenge_url}]`.
func LoadEntitiesFile(path string) ([]core.EntityConfig, error) {
	// #nosec G304 -- roster path is operator supplied
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entities file: %w", err)
	}

	var file entitiesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse entities file %s: %w", path, err)
	}
	return file.Entities, nil
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

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := EnvPrefix

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

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// Refresh and fetch config
		{Name: prefix + "REFRESH_ENABLED", Path: []string{"refresh", "enabled"}, Type: EnvBool},
		{Name: prefix + "FETCH_BULK_INTERVAL", Path: []string{"fetch", "bulk_interval"}, Type: EnvString},
		{Name: prefix + "FETCH_SINGLE_INTERVAL", Path: []string{"fetch", "single_interval"}, Type: EnvString},
		{Name: prefix + "FETCH_PERSIST_GATES", Path: []string{"fetch", "persist_gates"}, Type: EnvBool},

		// Remote client config
		{Name: prefix + "REMOTE_BASE_URL", Path: []string{"remote", "base_url"}, Type: EnvString},
		{Name: prefix + "REMOTE_RPS", Path: []string{"remote", "requests_per_second"}, Type: EnvString},

		// Entity roster
		{Name: prefix + "ENTITIES_FILE", Path: []string{"entities_file"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},

		// Debug config
		{Name: prefix + "DEBUG_ENABLED", Path: []string{"debug", "enabled"}, Type: EnvBool},
		{Name: prefix + "DEBUG_PPROF_ENABLED", Path: []string{"debug", "pprof_enabled"}, Type: EnvBool},
	}
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}

// defaultStorePath is an unexported alias for internal use.
func defaultStorePath() string {
	return DefaultStorePath()
}
