package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"voxrelay/pkg/validation"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Upstream struct {
		URL          string        `yaml:"url"`
		ClientID     string        `yaml:"client_id"`
		Token        string        `yaml:"token"`
		DialTimeout  time.Duration `yaml:"dial_timeout"`
		AuthTimeout  time.Duration `yaml:"auth_timeout"`
		PingInterval time.Duration `yaml:"ping_interval"`

		Reconnect struct {
			BaseDelay   time.Duration `yaml:"base_delay"`
			MaxDelay    time.Duration `yaml:"max_delay"`
			MaxAttempts int           `yaml:"max_attempts"`
		} `yaml:"reconnect"`
	} `yaml:"upstream"`

	Pipeline struct {
		StageTimeout      time.Duration `yaml:"stage_timeout"`
		QueueSize         int           `yaml:"queue_size"`
		WorkerIdleTimeout time.Duration `yaml:"worker_idle_timeout"`

		Transcription struct {
			Enabled   bool          `yaml:"enabled"`
			Provider  string        `yaml:"provider"`
			Language  string        `yaml:"language"`
			Endpoint  string        `yaml:"endpoint"`
			MinWindow time.Duration `yaml:"min_window"`
		} `yaml:"transcription"`

		Translation struct {
			Enabled        bool          `yaml:"enabled"`
			Provider       string        `yaml:"provider"`
			SourceLanguage string        `yaml:"source_language"`
			TargetLanguage string        `yaml:"target_language"`
			Endpoint       string        `yaml:"endpoint"`
			CacheTTL       time.Duration `yaml:"cache_ttl"`
		} `yaml:"translation"`

		Emotion struct {
			Enabled  bool   `yaml:"enabled"`
			Provider string `yaml:"provider"`
			Source   string `yaml:"source"`
			Endpoint string `yaml:"endpoint"`
		} `yaml:"emotion"`
	} `yaml:"pipeline"`

	Gateway struct {
		HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
		SendQueueSize        int           `yaml:"send_queue_size"`
		MaxSessions          int           `yaml:"max_sessions"`
		MaxMessageSizeBytes  int64         `yaml:"max_message_size_bytes"`
		ConnectionsPerMinute int           `yaml:"connections_per_minute"`
	} `yaml:"gateway"`

	History struct {
		Limit   int           `yaml:"limit"`
		TTL     time.Duration `yaml:"ttl"`
		Archive struct {
			Enabled       bool          `yaml:"enabled"`
			Directory     string        `yaml:"directory"`
			Interval      time.Duration `yaml:"interval"`
			RetentionDays int           `yaml:"retention_days"`
		} `yaml:"archive"`
	} `yaml:"history"`

	Monitoring struct {
		MetricsEnabled bool          `yaml:"metrics_enabled"`
		HealthInterval time.Duration `yaml:"health_interval"`
	} `yaml:"monitoring"`

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
		Enabled   bool          `yaml:"enabled"`
		JWTSecret string        `yaml:"jwt_secret"`
		APISecret string        `yaml:"api_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Upstream
	if err := validation.ValidateWebSocketURL(c.Upstream.URL); err != nil {
		return fmt.Errorf("upstream.url: %w", err)
	}
	if c.Upstream.DialTimeout <= 0 {
		return fmt.Errorf("upstream.dial_timeout must be > 0")
	}
	if c.Upstream.AuthTimeout <= 0 {
		return fmt.Errorf("upstream.auth_timeout must be > 0")
	}
	if c.Upstream.PingInterval <= 0 {
		return fmt.Errorf("upstream.ping_interval must be > 0")
	}
	if c.Upstream.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("upstream.reconnect.base_delay must be > 0")
	}
	if c.Upstream.Reconnect.MaxDelay < c.Upstream.Reconnect.BaseDelay {
		return fmt.Errorf("upstream.reconnect.max_delay must be >= base_delay")
	}
	if c.Upstream.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("upstream.reconnect.max_attempts must be >= 1")
	}

	// Pipeline
	if c.Pipeline.StageTimeout <= 0 {
		return fmt.Errorf("pipeline.stage_timeout must be > 0")
	}
	if c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("pipeline.queue_size must be > 0")
	}
	if c.Pipeline.WorkerIdleTimeout <= 0 {
		return fmt.Errorf("pipeline.worker_idle_timeout must be > 0")
	}
	if err := validateProvider("pipeline.transcription", c.Pipeline.Transcription.Enabled,
		c.Pipeline.Transcription.Provider, c.Pipeline.Transcription.Endpoint); err != nil {
		return err
	}
	if err := validateProvider("pipeline.translation", c.Pipeline.Translation.Enabled,
		c.Pipeline.Translation.Provider, c.Pipeline.Translation.Endpoint); err != nil {
		return err
	}
	if err := validateProvider("pipeline.emotion", c.Pipeline.Emotion.Enabled,
		c.Pipeline.Emotion.Provider, c.Pipeline.Emotion.Endpoint); err != nil {
		return err
	}
	if c.Pipeline.Transcription.Enabled {
		if err := validation.ValidateLanguage(c.Pipeline.Transcription.Language); err != nil {
			return fmt.Errorf("pipeline.transcription.language: %w", err)
		}
	}
	if c.Pipeline.Translation.Enabled {
		if err := validation.ValidateLanguage(c.Pipeline.Translation.SourceLanguage); err != nil {
			return fmt.Errorf("pipeline.translation.source_language: %w", err)
		}
		if err := validation.ValidateLanguage(c.Pipeline.Translation.TargetLanguage); err != nil {
			return fmt.Errorf("pipeline.translation.target_language: %w", err)
		}
	}
	if c.Pipeline.Emotion.Enabled {
		if src := c.Pipeline.Emotion.Source; src != "audio" && src != "text" {
			return fmt.Errorf("pipeline.emotion.source must be audio or text, got %q", src)
		}
	}

	// Gateway
	if c.Gateway.HeartbeatInterval <= 0 {
		return fmt.Errorf("gateway.heartbeat_interval must be > 0")
	}
	if c.Gateway.SendQueueSize <= 0 {
		return fmt.Errorf("gateway.send_queue_size must be > 0")
	}
	if c.Gateway.MaxSessions <= 0 {
		return fmt.Errorf("gateway.max_sessions must be > 0")
	}
	if c.Gateway.MaxMessageSizeBytes <= 0 {
		return fmt.Errorf("gateway.max_message_size_bytes must be > 0")
	}
	if c.Gateway.ConnectionsPerMinute <= 0 {
		return fmt.Errorf("gateway.connections_per_minute must be > 0")
	}

	// History
	if c.History.Limit <= 0 {
		return fmt.Errorf("history.limit must be > 0")
	}
	if c.History.TTL <= 0 {
		return fmt.Errorf("history.ttl must be > 0")
	}
	if c.History.Archive.Enabled {
		if c.History.Archive.Directory == "" {
			return fmt.Errorf("history.archive.directory must not be empty when archiving is enabled")
		}
		if c.History.Archive.Interval <= 0 {
			return fmt.Errorf("history.archive.interval must be > 0")
		}
		if c.History.Archive.RetentionDays <= 0 {
			return fmt.Errorf("history.archive.retention_days must be > 0")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
		}
		if c.Auth.APISecret == "" {
			return fmt.Errorf("auth.api_secret must not be empty when auth.enabled=true")
		}
		if c.Auth.TokenTTL <= 0 {
			return fmt.Errorf("auth.token_ttl must be > 0 when auth.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if err := validation.ValidateHTTPURL(c.Tracing.JaegerURL); err != nil {
			return fmt.Errorf("tracing.jaeger_url: %w", err)
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
		}
	}

	return nil
}

func validateProvider(section string, enabled bool, provider, endpoint string) error {
	if !enabled {
		return nil
	}
	switch provider {
	case "mock":
		return nil
	case "remote":
		if err := validation.ValidateHTTPURL(endpoint); err != nil {
			return fmt.Errorf("%s.endpoint: %w", section, err)
		}
		return nil
	default:
		return fmt.Errorf("%s.provider must be mock or remote, got %q", section, provider)
	}
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

	cfg.Server.Address = ":8085"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second

	cfg.Upstream.URL = "ws://localhost:4443/ws"
	cfg.Upstream.DialTimeout = 10 * time.Second
	cfg.Upstream.AuthTimeout = 10 * time.Second
	cfg.Upstream.PingInterval = 30 * time.Second
	cfg.Upstream.Reconnect.BaseDelay = 2 * time.Second
	cfg.Upstream.Reconnect.MaxDelay = 30 * time.Second
	cfg.Upstream.Reconnect.MaxAttempts = 10

	cfg.Pipeline.StageTimeout = 5 * time.Second
	cfg.Pipeline.QueueSize = 32
	cfg.Pipeline.WorkerIdleTimeout = 2 * time.Minute
	cfg.Pipeline.Transcription.Enabled = true
	cfg.Pipeline.Transcription.Provider = "mock"
	cfg.Pipeline.Transcription.Language = "ko"
	cfg.Pipeline.Transcription.MinWindow = time.Second
	cfg.Pipeline.Translation.Enabled = true
	cfg.Pipeline.Translation.Provider = "mock"
	cfg.Pipeline.Translation.SourceLanguage = "ko"
	cfg.Pipeline.Translation.TargetLanguage = "en"
	cfg.Pipeline.Translation.CacheTTL = 5 * time.Minute
	cfg.Pipeline.Emotion.Enabled = true
	cfg.Pipeline.Emotion.Provider = "mock"
	cfg.Pipeline.Emotion.Source = "audio"

	cfg.Gateway.HeartbeatInterval = 30 * time.Second
	cfg.Gateway.SendQueueSize = 64
	cfg.Gateway.MaxSessions = 1000
	cfg.Gateway.MaxMessageSizeBytes = 4 * 1024
	cfg.Gateway.ConnectionsPerMinute = 60

	cfg.History.Limit = 100
	cfg.History.TTL = time.Hour
	cfg.History.Archive.Enabled = false
	cfg.History.Archive.Directory = "data/archive"
	cfg.History.Archive.Interval = time.Hour
	cfg.History.Archive.RetentionDays = 7

	cfg.Monitoring.MetricsEnabled = true
	cfg.Monitoring.HealthInterval = 15 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.Enabled = false
	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.APISecret = ""
	cfg.Auth.TokenTTL = time.Hour

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 50
	cfg.RateLimiting.Burst = 100

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "voxrelay"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 0.1

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("VOXRELAY_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if url := os.Getenv("VOXRELAY_UPSTREAM_URL"); url != "" {
		c.Upstream.URL = url
	}
	if token := os.Getenv("VOXRELAY_UPSTREAM_TOKEN"); token != "" {
		c.Upstream.Token = token
	}
	if id := os.Getenv("VOXRELAY_CLIENT_ID"); id != "" {
		c.Upstream.ClientID = id
	}
	if level := os.Getenv("VOXRELAY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("VOXRELAY_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if secret := os.Getenv("VOXRELAY_API_SECRET"); secret != "" {
		c.Auth.APISecret = secret
	}
	if addr := os.Getenv("VOXRELAY_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if v := os.Getenv("VOXRELAY_TRANSCRIPTION_ENABLED"); v != "" {
		c.Pipeline.Transcription.Enabled = parseBool(v, c.Pipeline.Transcription.Enabled)
	}
	if v := os.Getenv("VOXRELAY_TRANSLATION_ENABLED"); v != "" {
		c.Pipeline.Translation.Enabled = parseBool(v, c.Pipeline.Translation.Enabled)
	}
	if v := os.Getenv("VOXRELAY_EMOTION_ENABLED"); v != "" {
		c.Pipeline.Emotion.Enabled = parseBool(v, c.Pipeline.Emotion.Enabled)
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
