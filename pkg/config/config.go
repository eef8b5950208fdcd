package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		Users          []struct {
			Username string `yaml:"username"`
			Password string `yaml:"password"`
			Role     string `yaml:"role"`
		} `yaml:"users"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
	} `yaml:"rate_limiting"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Connectivity struct {
		ProbeAddress  string        `yaml:"probe_address"`
		ProbeInterval time.Duration `yaml:"probe_interval"`
		ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	} `yaml:"connectivity"`

	Streams struct {
		StaggerDelay       time.Duration `yaml:"stagger_delay"`
		InitTaskDelay      time.Duration `yaml:"init_task_delay"`
		MaxAutoRetries     int           `yaml:"max_auto_retries"`
		NetworkRetryDelay  time.Duration `yaml:"network_retry_delay"`
		ServerRetryDelay   time.Duration `yaml:"server_retry_delay"`
		DefaultRetryDelay  time.Duration `yaml:"default_retry_delay"`
		StageTimeoutLow    time.Duration `yaml:"stage_timeout_low"`
		StageTimeout       time.Duration `yaml:"stage_timeout"`
		FailureThreshold   int           `yaml:"failure_threshold"`
		TroubleshootPolicy string        `yaml:"troubleshoot_policy"` // "once" or "every"
		CapabilityCacheTTL time.Duration `yaml:"capability_cache_ttl"`

		// Optional overrides for tier-derived limits; 0 keeps the derived
		// value.
		LiveSessionsOverride    int `yaml:"live_sessions_override"`
		InitConcurrencyOverride int `yaml:"init_concurrency_override"`
	} `yaml:"streams"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis.address must not be empty when redis is enabled")
	}
	if c.Streams.MaxAutoRetries < 0 {
		return fmt.Errorf("streams.max_auto_retries must be >= 0")
	}
	if c.Streams.StaggerDelay < 0 {
		return fmt.Errorf("streams.stagger_delay must be >= 0")
	}
	if c.Streams.StageTimeout <= 0 || c.Streams.StageTimeoutLow <= 0 {
		return fmt.Errorf("streams.stage_timeout and streams.stage_timeout_low must be > 0")
	}
	if c.Streams.FailureThreshold <= 0 {
		return fmt.Errorf("streams.failure_threshold must be > 0")
	}
	switch c.Streams.TroubleshootPolicy {
	case "once", "every":
	default:
		return fmt.Errorf("streams.troubleshoot_policy must be %q or %q", "once", "every")
	}
	return nil
}

// Load reads configuration from a YAML file over defaults.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 50
	cfg.RateLimiting.Burst = 100
	cfg.RateLimiting.MaxConcurrent = 0

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Connectivity.ProbeAddress = "1.1.1.1:443"
	cfg.Connectivity.ProbeInterval = 10 * time.Second
	cfg.Connectivity.ProbeTimeout = 3 * time.Second

	cfg.Streams.StaggerDelay = 250 * time.Millisecond
	cfg.Streams.InitTaskDelay = 300 * time.Millisecond
	cfg.Streams.MaxAutoRetries = 3
	cfg.Streams.NetworkRetryDelay = 3 * time.Second
	cfg.Streams.ServerRetryDelay = 5 * time.Second
	cfg.Streams.DefaultRetryDelay = 3 * time.Second
	cfg.Streams.StageTimeoutLow = 15 * time.Second
	cfg.Streams.StageTimeout = 10 * time.Second
	cfg.Streams.FailureThreshold = 3
	cfg.Streams.TroubleshootPolicy = "every"
	cfg.Streams.CapabilityCacheTTL = 5 * time.Minute

	return cfg
}
