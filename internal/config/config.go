package config

import (
	"time"

	"github.com/arenawatch/arenawatch/internal/core"
)

// Config represents the complete application configuration.
// Values are layered: built-in defaults, the config file, environment
// variables ({PREFIX}{NAME}) and runtime overrides.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Debug     DebugConfig     `mapstructure:"debug"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Aggregate AggregateConfig `mapstructure:"aggregate"`
	Remote    RemoteConfig    `mapstructure:"remote"`

	Entities     []core.EntityConfig `mapstructure:"entities"`
	EntitiesFile string              `mapstructure:"entities_file"`
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

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
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

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	// Enabled controls whether debug mode is active
	Enabled bool `mapstructure:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// RefreshConfig controls the topic scheduler.
type RefreshConfig struct {
	// Enabled starts the scheduler with timers armed.
	Enabled bool `mapstructure:"enabled"`

	// Intervals holds the base interval per topic.
	Intervals map[string]time.Duration `mapstructure:"intervals"`
}

// FetchConfig controls the per-entity gate and call deadlines.
type FetchConfig struct {
	BulkInterval     time.Duration `mapstructure:"bulk_interval"`
	SingleInterval   time.Duration `mapstructure:"single_interval"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	ChallengeTimeout time.Duration `mapstructure:"challenge_timeout"`

	// PersistGates keeps gate state in the store so limits survive restarts.
	PersistGates bool `mapstructure:"persist_gates"`
}

// AggregateConfig controls fetch cycles and score batching.
type AggregateConfig struct {
	MinSpacing       time.Duration `mapstructure:"min_spacing"`
	WidenedSpacing   time.Duration `mapstructure:"widened_spacing"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	FlushWindow      time.Duration `mapstructure:"flush_window"`
	HistoryLimit     int           `mapstructure:"history_limit"`
	Concurrency      int           `mapstructure:"concurrency"`
}

// RemoteConfig configures the HTTP client used to reach entities.
type RemoteConfig struct {
	// BaseURL is used for entities without their own URL.
	BaseURL string `mapstructure:"base_url"`

	// RequestsPerSecond paces all outbound requests. Zero disables pacing.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}
