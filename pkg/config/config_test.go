package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig() should validate, got: %v", err)
	}
	if cfg.Upstream.Reconnect.BaseDelay != 2*time.Second {
		t.Errorf("reconnect base delay = %v, want 2s", cfg.Upstream.Reconnect.BaseDelay)
	}
	if cfg.Upstream.Reconnect.MaxDelay != 30*time.Second {
		t.Errorf("reconnect max delay = %v, want 30s", cfg.Upstream.Reconnect.MaxDelay)
	}
	if cfg.Upstream.Reconnect.MaxAttempts != 10 {
		t.Errorf("reconnect max attempts = %d, want 10", cfg.Upstream.Reconnect.MaxAttempts)
	}
	if cfg.Upstream.PingInterval != 30*time.Second {
		t.Errorf("ping interval = %v, want 30s", cfg.Upstream.PingInterval)
	}
	if cfg.Pipeline.Translation.SourceLanguage != "ko" || cfg.Pipeline.Translation.TargetLanguage != "en" {
		t.Errorf("translation pair = %s->%s, want ko->en",
			cfg.Pipeline.Translation.SourceLanguage, cfg.Pipeline.Translation.TargetLanguage)
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"empty upstream url", func(c *Config) { c.Upstream.URL = "" }},
		{"non-websocket upstream url", func(c *Config) { c.Upstream.URL = "http://localhost:4443/ws" }},
		{"zero ping interval", func(c *Config) { c.Upstream.PingInterval = 0 }},
		{"zero base delay", func(c *Config) { c.Upstream.Reconnect.BaseDelay = 0 }},
		{"max delay below base", func(c *Config) {
			c.Upstream.Reconnect.BaseDelay = 10 * time.Second
			c.Upstream.Reconnect.MaxDelay = time.Second
		}},
		{"zero max attempts", func(c *Config) { c.Upstream.Reconnect.MaxAttempts = 0 }},
		{"zero stage timeout", func(c *Config) { c.Pipeline.StageTimeout = 0 }},
		{"bad emotion source", func(c *Config) { c.Pipeline.Emotion.Source = "video" }},
		{"bad provider", func(c *Config) { c.Pipeline.Transcription.Provider = "cloud" }},
		{"remote provider without endpoint", func(c *Config) {
			c.Pipeline.Translation.Provider = "remote"
			c.Pipeline.Translation.Endpoint = ""
		}},
		{"remote provider with schemeless endpoint", func(c *Config) {
			c.Pipeline.Transcription.Provider = "remote"
			c.Pipeline.Transcription.Endpoint = "localhost:9000/asr"
		}},
		{"empty transcription language", func(c *Config) { c.Pipeline.Transcription.Language = "" }},
		{"malformed translation language", func(c *Config) { c.Pipeline.Translation.TargetLanguage = "English" }},
		{"zero heartbeat interval", func(c *Config) { c.Gateway.HeartbeatInterval = 0 }},
		{"zero send queue", func(c *Config) { c.Gateway.SendQueueSize = 0 }},
		{"zero history limit", func(c *Config) { c.History.Limit = 0 }},
		{"archive enabled without directory", func(c *Config) {
			c.History.Archive.Enabled = true
			c.History.Archive.Directory = ""
		}},
		{"archive enabled with zero interval", func(c *Config) {
			c.History.Archive.Enabled = true
			c.History.Archive.Interval = 0
		}},
		{"redis enabled without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
		{"auth enabled without api secret", func(c *Config) {
			c.Auth.Enabled = true
			c.Auth.APISecret = ""
		}},
		{"rate limiting enabled with zero rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.RequestsPerSecond = 0
		}},
		{"tracing enabled without jaeger url", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.JaegerURL = ""
		}},
		{"tracing sample rate out of range", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.JaegerURL = "http://localhost:14268/api/traces"
			c.Tracing.SampleRate = 1.5
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() should fail for %s", tt.name)
			}
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Address != ":8085" {
		t.Errorf("address = %s, want default :8085", cfg.Server.Address)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
upstream:
  url: ws://sfu.internal:4443/ws
  ping_interval: 15s
  reconnect:
    base_delay: 1s
    max_delay: 10s
    max_attempts: 5
pipeline:
  emotion:
    source: text
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Upstream.URL != "ws://sfu.internal:4443/ws" {
		t.Errorf("upstream url = %s", cfg.Upstream.URL)
	}
	if cfg.Upstream.PingInterval != 15*time.Second {
		t.Errorf("ping interval = %v, want 15s", cfg.Upstream.PingInterval)
	}
	if cfg.Upstream.Reconnect.MaxAttempts != 5 {
		t.Errorf("max attempts = %d, want 5", cfg.Upstream.Reconnect.MaxAttempts)
	}
	if cfg.Pipeline.Emotion.Source != "text" {
		t.Errorf("emotion source = %s, want text", cfg.Pipeline.Emotion.Source)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s, want debug", cfg.Logging.Level)
	}
	// Untouched sections keep defaults
	if cfg.Gateway.HeartbeatInterval != 30*time.Second {
		t.Errorf("heartbeat = %v, want default 30s", cfg.Gateway.HeartbeatInterval)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOXRELAY_UPSTREAM_URL", "ws://override:9999/ws")
	t.Setenv("VOXRELAY_LOG_LEVEL", "warn")
	t.Setenv("VOXRELAY_TRANSLATION_ENABLED", "false")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Upstream.URL != "ws://override:9999/ws" {
		t.Errorf("upstream url = %s, env override lost", cfg.Upstream.URL)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %s, env override lost", cfg.Logging.Level)
	}
	if cfg.Pipeline.Translation.Enabled {
		t.Error("translation should be disabled via env override")
	}
}
