package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	API struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AuthToken       string        `yaml:"auth_token"`
	} `yaml:"api"`

	Signal struct {
		URL               string        `yaml:"url"`
		PingInterval      time.Duration `yaml:"ping_interval"`
		PongTimeout       time.Duration `yaml:"pong_timeout"`
		AckTimeout        time.Duration `yaml:"ack_timeout"`
		ReconnectAttempts int           `yaml:"reconnect_attempts"`
		ReconnectBackoff  time.Duration `yaml:"reconnect_backoff"`
	} `yaml:"signal"`

	Backend struct {
		BaseURL        string        `yaml:"base_url"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"backend"`

	Call struct {
		RingTimeout    time.Duration `yaml:"ring_timeout"`
		TerminalLinger time.Duration `yaml:"terminal_linger"`
		LogSize        int           `yaml:"log_size"`
	} `yaml:"call"`

	Media struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"media"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		Token string `yaml:"token"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.API.Address == "" {
		return fmt.Errorf("api.address must not be empty")
	}
	if c.API.ReadTimeout <= 0 {
		return fmt.Errorf("api.read_timeout must be > 0")
	}
	if c.API.WriteTimeout <= 0 {
		return fmt.Errorf("api.write_timeout must be > 0")
	}

	if c.Signal.URL == "" {
		return fmt.Errorf("signal.url must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= 0 {
		return fmt.Errorf("signal.pong_timeout must be > 0")
	}
	if c.Signal.AckTimeout <= 0 {
		return fmt.Errorf("signal.ack_timeout must be > 0")
	}
	if c.Signal.ReconnectAttempts < 0 {
		return fmt.Errorf("signal.reconnect_attempts must be >= 0")
	}
	if c.Signal.ReconnectBackoff <= 0 {
		return fmt.Errorf("signal.reconnect_backoff must be > 0")
	}

	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url must not be empty")
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("backend.request_timeout must be > 0")
	}

	if c.Call.RingTimeout <= 0 {
		return fmt.Errorf("call.ring_timeout must be > 0")
	}
	if c.Call.TerminalLinger < 0 {
		return fmt.Errorf("call.terminal_linger must be >= 0")
	}
	if c.Call.LogSize <= 0 {
		return fmt.Errorf("call.log_size must be > 0")
	}

	if c.Media.PortRange.Min > 0 || c.Media.PortRange.Max > 0 {
		if c.Media.PortRange.Min == 0 || c.Media.PortRange.Max == 0 {
			return fmt.Errorf("media.port_range.min and max must both be set when one is set")
		}
		if c.Media.PortRange.Min >= c.Media.PortRange.Max {
			return fmt.Errorf("media.port_range.min must be < max")
		}
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.API.Address = ":8090"
	cfg.API.ReadTimeout = 15 * time.Second
	cfg.API.WriteTimeout = 15 * time.Second
	cfg.API.ShutdownTimeout = 10 * time.Second

	cfg.Signal.URL = "ws://localhost:8081/ws"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.AckTimeout = 10 * time.Second
	cfg.Signal.ReconnectAttempts = 5
	cfg.Signal.ReconnectBackoff = 2 * time.Second

	cfg.Backend.BaseURL = "http://localhost:8080"
	cfg.Backend.RequestTimeout = 10 * time.Second

	cfg.Call.RingTimeout = 30 * time.Second
	cfg.Call.TerminalLinger = 2 * time.Second
	cfg.Call.LogSize = 100

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9091

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 20
	cfg.RateLimiting.Burst = 40

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("EMBERCALL_API_ADDRESS"); addr != "" {
		c.API.Address = addr
	}
	if url := os.Getenv("EMBERCALL_SIGNAL_URL"); url != "" {
		c.Signal.URL = url
	}
	if url := os.Getenv("EMBERCALL_BACKEND_URL"); url != "" {
		c.Backend.BaseURL = url
	}
	if level := os.Getenv("EMBERCALL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if token := os.Getenv("EMBERCALL_AUTH_TOKEN"); token != "" {
		c.Auth.Token = token
	}
	if token := os.Getenv("EMBERCALL_API_AUTH_TOKEN"); token != "" {
		c.API.AuthToken = token
	}
	if addr := os.Getenv("EMBERCALL_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
}
