package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Streams.MaxAutoRetries != 3 {
		t.Errorf("expected 3 auto retries by default, got %d", cfg.Streams.MaxAutoRetries)
	}
	if cfg.Streams.ServerRetryDelay != 5*time.Second {
		t.Errorf("expected 5s server retry delay, got %v", cfg.Streams.ServerRetryDelay)
	}
	if cfg.Streams.StageTimeoutLow <= cfg.Streams.StageTimeout {
		t.Error("low-tier stage budget must exceed the default budget")
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("expected default address, got %s", cfg.Server.Address)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  address: ":9999"
streams:
  stagger_delay: 500ms
  max_auto_retries: 5
  troubleshoot_policy: once
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Errorf("expected overridden address, got %s", cfg.Server.Address)
	}
	if cfg.Streams.StaggerDelay != 500*time.Millisecond {
		t.Errorf("expected 500ms stagger, got %v", cfg.Streams.StaggerDelay)
	}
	if cfg.Streams.MaxAutoRetries != 5 {
		t.Errorf("expected 5 retries, got %d", cfg.Streams.MaxAutoRetries)
	}
	// Untouched keys keep defaults.
	if cfg.Streams.NetworkRetryDelay != 3*time.Second {
		t.Errorf("expected default network retry delay, got %v", cfg.Streams.NetworkRetryDelay)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty address", func(c *Config) { c.Server.Address = "" }},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"rate limit without rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.RequestsPerSecond = 0
		}},
		{"negative stagger", func(c *Config) { c.Streams.StaggerDelay = -time.Second }},
		{"zero stage timeout", func(c *Config) { c.Streams.StageTimeout = 0 }},
		{"bad troubleshoot policy", func(c *Config) { c.Streams.TroubleshootPolicy = "sometimes" }},
		{"redis enabled without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
