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
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty api address", func(c *Config) { c.API.Address = "" }},
		{"zero read timeout", func(c *Config) { c.API.ReadTimeout = 0 }},
		{"empty signal url", func(c *Config) { c.Signal.URL = "" }},
		{"zero ack timeout", func(c *Config) { c.Signal.AckTimeout = 0 }},
		{"empty backend url", func(c *Config) { c.Backend.BaseURL = "" }},
		{"zero ring timeout", func(c *Config) { c.Call.RingTimeout = 0 }},
		{"zero log size", func(c *Config) { c.Call.LogSize = 0 }},
		{"inverted port range", func(c *Config) {
			c.Media.PortRange.Min = 20000
			c.Media.PortRange.Max = 10000
		}},
		{"half-set port range", func(c *Config) {
			c.Media.PortRange.Min = 10000
			c.Media.PortRange.Max = 0
		}},
		{"redis enabled without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
		{"rate limiting enabled without rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.RequestsPerSecond = 0
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

func TestValidate_DisabledSectionsAllowZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Redis.Enabled = false
	cfg.Redis.Address = ""
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled sections should not be validated, got: %v", err)
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults, got: %v", err)
	}
	if cfg.Call.RingTimeout != 30*time.Second {
		t.Errorf("RingTimeout = %v, want 30s", cfg.Call.RingTimeout)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
api:
  address: ":9999"
call:
  ring_timeout: 45s
signal:
  url: "ws://signal.internal:8081/ws"
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.API.Address != ":9999" {
		t.Errorf("API.Address = %q, want :9999", cfg.API.Address)
	}
	if cfg.Call.RingTimeout != 45*time.Second {
		t.Errorf("RingTimeout = %v, want 45s", cfg.Call.RingTimeout)
	}
	if cfg.Signal.URL != "ws://signal.internal:8081/ws" {
		t.Errorf("Signal.URL = %q", cfg.Signal.URL)
	}
	// Untouched sections keep their defaults.
	if cfg.Backend.RequestTimeout != 10*time.Second {
		t.Errorf("Backend.RequestTimeout = %v, want default 10s", cfg.Backend.RequestTimeout)
	}
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	t.Setenv("EMBERCALL_SIGNAL_URL", "ws://env-signal:1234/ws")
	t.Setenv("EMBERCALL_AUTH_TOKEN", "env-token")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Signal.URL != "ws://env-signal:1234/ws" {
		t.Errorf("Signal.URL = %q, want env override", cfg.Signal.URL)
	}
	if cfg.Auth.Token != "env-token" {
		t.Errorf("Auth.Token = %q, want env override", cfg.Auth.Token)
	}
}

func TestLoad_InvalidYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("api: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}
