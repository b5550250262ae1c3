package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Auth        AuthConfig      `toml:"auth"`
	Upstream    UpstreamConfig  `toml:"upstream"`
	Signature   SignatureConfig `toml:"signature"`
	Realtime    RealtimeConfig  `toml:"realtime"`
	Webhook     WebhookConfig   `toml:"webhook"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// AuthConfig controls API session tokens issued after cookie import
type AuthConfig struct {
	SessionTTL time.Duration `toml:"session_ttl"` // API session token lifetime (default: 24h)
}

// UpstreamConfig controls the Google Voice API client
type UpstreamConfig struct {
	RequestTimeout time.Duration `toml:"request_timeout"` // Upstream calls can be slow; generous but bounded
	AuthUser       string        `toml:"auth_user"`       // X-Goog-AuthUser account index (default: "0")
	RateLimit      time.Duration `toml:"rate_limit"`      // Minimum spacing between upstream requests per user
}

// SignatureConfig controls the WAA signing sandbox
type SignatureConfig struct {
	Enabled        bool          `toml:"enabled"`          // Disable to always use the fallback signature
	Headless       bool          `toml:"headless"`         // Run Chrome headless
	NoSandbox      bool          `toml:"no_sandbox"`       // Pass --no-sandbox (required in containers)
	BundleTTL      time.Duration `toml:"bundle_ttl"`       // Signature bundle freshness window
	ScriptWaitTime time.Duration `toml:"script_wait_time"` // Wait after interpreter script load
	RequestTimeout time.Duration `toml:"request_timeout"`  // Timeout for bundle fetch and evaluation
}

// RealtimeConfig controls the long-poll channel client
type RealtimeConfig struct {
	MaxConsecutiveFailures int           `toml:"max_consecutive_failures"` // Poll failures before the client stops
	BackoffUnit            time.Duration `toml:"backoff_unit"`             // Sleep = failures * unit
	BackoffCap             time.Duration `toml:"backoff_cap"`              // Upper bound on backoff sleep
}

// WebhookConfig controls the delivery engine
type WebhookConfig struct {
	QueueSize         int           `toml:"queue_size"`          // Delivery queue capacity
	DeliveryTimeout   time.Duration `toml:"delivery_timeout"`    // Per-POST timeout
	DefaultMaxRetries int           `toml:"default_max_retries"` // Default per-subscription retry budget
	DefaultRetryDelay time.Duration `toml:"default_retry_delay"` // Default per-subscription retry delay
	FailureThreshold  int           `toml:"failure_threshold"`   // failure_count at which a subscription is disabled
	HistoryDailyCap   int           `toml:"history_daily_cap"`   // Max delivery records retained per day bucket
}

type WebSocketConfig struct {
	ThrottleInterval string `toml:"throttle_interval"` // Optional broadcast throttle (e.g. "100ms", empty = off)
}

// SchedulerConfig controls background maintenance jobs
type SchedulerConfig struct {
	Enabled              bool   `toml:"enabled"`
	SessionSweepSchedule string `toml:"session_sweep_schedule"` // Cron schedule for expired session sweep
	HistoryPruneSchedule string `toml:"history_prune_schedule"` // Cron schedule for delivery history pruning
}

// NewDefaultConfig returns a config populated with production defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "production",
		Server: ServerConfig{
			Port: 8000,
			Host: "0.0.0.0",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/gvoice.db",
				ResetOnStartup: false,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
		Auth: AuthConfig{
			SessionTTL: 24 * time.Hour,
		},
		Upstream: UpstreamConfig{
			RequestTimeout: 120 * time.Second,
			AuthUser:       "0",
			RateLimit:      200 * time.Millisecond,
		},
		Signature: SignatureConfig{
			Enabled:        true,
			Headless:       true,
			NoSandbox:      true,
			BundleTTL:      1 * time.Hour,
			ScriptWaitTime: 2 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		Realtime: RealtimeConfig{
			MaxConsecutiveFailures: 10,
			BackoffUnit:            2 * time.Second,
			BackoffCap:             30 * time.Second,
		},
		Webhook: WebhookConfig{
			QueueSize:         256,
			DeliveryTimeout:   30 * time.Second,
			DefaultMaxRetries: 3,
			DefaultRetryDelay: 60 * time.Second,
			FailureThreshold:  5,
			HistoryDailyCap:   1000,
		},
		WebSocket: WebSocketConfig{
			ThrottleInterval: "",
		},
		Scheduler: SchedulerConfig{
			Enabled:              true,
			SessionSweepSchedule: "0 * * * *", // hourly
			HistoryPruneSchedule: "30 3 * * *",
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files. Later files override
// earlier files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("GVOICE_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("GVOICE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("GVOICE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if path := os.Getenv("GVOICE_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if level := os.Getenv("GVOICE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if ttl := os.Getenv("GVOICE_SESSION_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Auth.SessionTTL = d
		}
	}
	if timeout := os.Getenv("GVOICE_UPSTREAM_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Upstream.RequestTimeout = d
		}
	}
	if enabled := os.Getenv("GVOICE_SIGNATURE_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Signature.Enabled = b
		}
	}
}

// IsDevelopment returns true when running with a development environment config
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
