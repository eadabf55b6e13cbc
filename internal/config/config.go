// Package config loads the engine configuration from a YAML file with
// environment variable overrides for secrets and deploy-time settings.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lumenpress/courier/internal/quiethours"
)

// Config holds all configuration for the delivery engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Transport  TransportConfig  `yaml:"transport"`
	QuietHours QuietHoursConfig `yaml:"quiet_hours"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Digest     DigestConfig     `yaml:"digest"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds the optional Redis connection for distributed locking
// and transport rate limiting. When URL is empty the scheduler falls back to
// PostgreSQL advisory locks and the dispatcher skips Redis rate limiting.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// TransportConfig holds settings for the external email transport.
type TransportConfig struct {
	// Kind selects the adapter: "ses" or "simulated".
	Kind           string `yaml:"kind"`
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`

	// Provider-facing rate limits respected by the dispatcher's batching.
	RequestsPerSecond int `yaml:"requests_per_second"`
	RequestsPerMinute int `yaml:"requests_per_minute"`
	DailyLimit        int `yaml:"daily_limit"`
}

// Timeout returns the per-call transport timeout as a duration.
func (c TransportConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// QuietHoursConfig holds the do-not-disturb window settings. Window is a
// pointer so an explicit start_hour/end_hour of 0 survives loading; only an
// absent window falls back to the 22-8 default.
type QuietHoursConfig struct {
	Enabled         bool               `yaml:"enabled"`
	Window          *quiethours.Window `yaml:"window"`
	DefaultTimezone string             `yaml:"default_timezone"`
}

// SchedulerConfig holds scheduler tick settings.
type SchedulerConfig struct {
	TickSeconds int `yaml:"tick_seconds"`
	ClaimLimit  int `yaml:"claim_limit"`
}

// Tick returns the scheduler tick interval as a duration.
func (c SchedulerConfig) Tick() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// DispatcherConfig holds fan-out and retry settings.
type DispatcherConfig struct {
	BatchSize          int `yaml:"batch_size"`
	Concurrency        int `yaml:"concurrency"`
	MaxAttempts        int `yaml:"max_attempts"`
	BackoffBaseSeconds int `yaml:"backoff_base_seconds"`
	BackoffCapMinutes  int `yaml:"backoff_cap_minutes"`
}

// BackoffBase returns the first retry delay as a duration.
func (c DispatcherConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

// BackoffCap returns the maximum retry delay as a duration.
func (c DispatcherConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMinutes) * time.Minute
}

// DigestConfig holds the recurring weekly-digest rule.
type DigestConfig struct {
	Enabled         bool   `yaml:"enabled"`
	FeedURL         string `yaml:"feed_url"`
	Weekday         int    `yaml:"weekday"` // 0=Sunday
	Hour            *int   `yaml:"hour"`    // 24h, in the default timezone; nil means 09:00
	TopN            int    `yaml:"top_n"`
	WindowDays      int    `yaml:"window_days"`
	Topic           string `yaml:"topic"`
	SubjectTemplate string `yaml:"subject_template"`
	FromName        string `yaml:"from_name"`
	FromEmail       string `yaml:"from_email"`
}

// SendHour returns the configured send hour, 9 when unset. An explicit
// hour: 0 config means midnight.
func (c DigestConfig) SendHour() int {
	if c.Hour == nil {
		return 9
	}
	return *c.Hour
}

// AnalyticsConfig holds aggregator settings.
type AnalyticsConfig struct {
	// CaptureIntervalMinutes drives scheduled snapshot capture for campaigns
	// in flight. 0 disables scheduled capture (on-demand only).
	CaptureIntervalMinutes int `yaml:"capture_interval_minutes"`
	// DegradedMode forces the synthetic-data fallback, useful for demos and
	// for operating without a database.
	DegradedMode bool `yaml:"degraded_mode"`
}

// Load reads and parses the configuration file, applying defaults. A missing
// file is not an error: the engine runs on defaults plus env overrides.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5
	}
	if c.Transport.Kind == "" {
		c.Transport.Kind = "simulated"
	}
	if c.Transport.Region == "" {
		c.Transport.Region = "us-east-1"
	}
	if c.Transport.TimeoutSeconds == 0 {
		c.Transport.TimeoutSeconds = 10
	}
	if c.Transport.RequestsPerSecond == 0 {
		c.Transport.RequestsPerSecond = 50
	}
	if c.Transport.RequestsPerMinute == 0 {
		c.Transport.RequestsPerMinute = 3000
	}
	if c.Transport.DailyLimit == 0 {
		c.Transport.DailyLimit = 1000000
	}
	if c.QuietHours.DefaultTimezone == "" {
		c.QuietHours.DefaultTimezone = "UTC"
	}
	if c.QuietHours.Window == nil {
		c.QuietHours.Window = &quiethours.Window{StartHour: 22, EndHour: 8}
	}
	if c.Scheduler.TickSeconds == 0 {
		c.Scheduler.TickSeconds = 60
	}
	if c.Scheduler.ClaimLimit == 0 {
		c.Scheduler.ClaimLimit = 10
	}
	if c.Dispatcher.BatchSize == 0 {
		c.Dispatcher.BatchSize = 100
	}
	if c.Dispatcher.Concurrency == 0 {
		c.Dispatcher.Concurrency = 10
	}
	if c.Dispatcher.MaxAttempts == 0 {
		c.Dispatcher.MaxAttempts = 5
	}
	if c.Dispatcher.BackoffBaseSeconds == 0 {
		c.Dispatcher.BackoffBaseSeconds = 30
	}
	if c.Dispatcher.BackoffCapMinutes == 0 {
		c.Dispatcher.BackoffCapMinutes = 60
	}
	if c.Digest.TopN == 0 {
		c.Digest.TopN = 5
	}
	if c.Digest.WindowDays == 0 {
		c.Digest.WindowDays = 7
	}
	if c.Digest.SubjectTemplate == "" {
		c.Digest.SubjectTemplate = "Weekly digest: {{ top_title }}"
	}
	if c.Analytics.CaptureIntervalMinutes == 0 {
		c.Analytics.CaptureIntervalMinutes = 15
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first, so secrets can live in .env
// locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
		cfg.Redis.Enabled = true
	}
	if kind := os.Getenv("TRANSPORT_KIND"); kind != "" {
		cfg.Transport.Kind = kind
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		cfg.Transport.AccessKey = key
	}
	if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" {
		cfg.Transport.SecretKey = secret
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.Transport.Region = region
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if degraded := os.Getenv("ANALYTICS_DEGRADED_MODE"); degraded != "" {
		cfg.Analytics.DegradedMode = degraded == "1" || degraded == "true"
	}

	return cfg, nil
}
