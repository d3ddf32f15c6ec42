// Package config provides configuration management for layout-api and
// layout-agent.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for both services. Each command reads
// the sections it needs.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Bulk         BulkConfig         `mapstructure:"bulk"`
	Agent        AgentConfig        `mapstructure:"agent"`
	Templates    TemplatesConfig    `mapstructure:"templates"`
	RateLimiter  RateLimiterConfig  `mapstructure:"rate_limiter"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds the layout-api PostgreSQL settings. An empty URL
// selects the in-memory store.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// RedisConfig holds the Redis connection used by the redis queue store.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig holds offline queue settings.
type QueueConfig struct {
	// Store is "file" or "redis"
	Store              string        `mapstructure:"store"`
	FilePath           string        `mapstructure:"file_path"`
	RedisKey           string        `mapstructure:"redis_key"`
	MaxRetries         int           `mapstructure:"max_retries"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	CompletedRetention time.Duration `mapstructure:"completed_retention"`
}

// RetryConfig holds the direct submission backoff policy.
type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// ConnectivityConfig holds the layout-api health probe settings.
type ConnectivityConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

// BulkConfig holds bulk coordinator settings.
type BulkConfig struct {
	HistorySize int `mapstructure:"history_size"`
	Concurrency int `mapstructure:"concurrency"`
}

// AgentConfig holds the agent's upstream settings.
type AgentConfig struct {
	APIURL         string        `mapstructure:"api_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TemplatesConfig points at the built-in template catalog.
type TemplatesConfig struct {
	Path string `mapstructure:"path"`
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/layoutsync/")
	}

	v.SetEnvPrefix("LAYOUTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// a missing file is fine; defaults and env still apply
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.request_timeout", "15s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.store", "file")
	v.SetDefault("queue.file_path", "layoutsync-queue.json")
	v.SetDefault("queue.redis_key", "layoutsync:queue")
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.poll_interval", "5s")
	v.SetDefault("queue.completed_retention", "10s")

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_delay", "1s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("connectivity.probe_interval", "5s")
	v.SetDefault("connectivity.probe_timeout", "2s")

	v.SetDefault("bulk.history_size", 50)
	v.SetDefault("bulk.concurrency", 8)

	v.SetDefault("agent.api_url", "http://localhost:8080")
	v.SetDefault("agent.request_timeout", "10s")

	v.SetDefault("templates.path", "")

	v.SetDefault("rate_limiter.enabled", true)
	v.SetDefault("rate_limiter.requests_per_second", 500.0)
	v.SetDefault("rate_limiter.burst_size", 100)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Queue.Store {
	case "file":
		if c.Queue.FilePath == "" {
			return fmt.Errorf("queue file path is required for the file store")
		}
	case "redis":
		if c.Queue.RedisKey == "" {
			return fmt.Errorf("queue redis key is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown queue store %q", c.Queue.Store)
	}
	if c.Queue.MaxRetries < 1 {
		return fmt.Errorf("queue max retries must be at least 1")
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue poll interval must be positive")
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max retries must not be negative")
	}
	if c.Retry.InitialDelay <= 0 || c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry initial delay must be positive and multiplier at least 1")
	}

	if c.Connectivity.ProbeInterval <= 0 || c.Connectivity.ProbeTimeout <= 0 {
		return fmt.Errorf("connectivity probe interval and timeout must be positive")
	}

	if c.Bulk.HistorySize <= 0 {
		return fmt.Errorf("bulk history size must be positive")
	}

	if c.RateLimiter.Enabled {
		if c.RateLimiter.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate limiter requests per second must be positive")
		}
		if c.RateLimiter.BurstSize <= 0 {
			return fmt.Errorf("rate limiter burst size must be positive")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
	}

	return nil
}
