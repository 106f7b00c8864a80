package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"lurecage/internal/schema"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Honeypot.Address != ":2222" {
		t.Errorf("honeypot address = %q", cfg.Honeypot.Address)
	}
	if cfg.API.Address != ":8080" {
		t.Errorf("api address = %q", cfg.API.Address)
	}
	if cfg.Alert.MinLevel != schema.ThreatHigh {
		t.Errorf("alert min level = %s", cfg.Alert.MinLevel)
	}
	if cfg.Alert.Cooldown != 5*time.Minute {
		t.Errorf("alert cooldown = %s", cfg.Alert.Cooldown)
	}
	if cfg.Trainer.Interval != time.Hour {
		t.Errorf("trainer interval = %s", cfg.Trainer.Interval)
	}
	if cfg.ClickHouse.Enabled || cfg.Archive.Enabled || cfg.Kafka.Enabled || cfg.Redis.Enabled {
		t.Error("optional backends enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("LURECAGE_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Honeypot.Address != ":2222" {
		t.Errorf("address = %q, want default", cfg.Honeypot.Address)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
honeypot:
  address: ":2223"
  accept_attempt: 2
bands:
  medium: 0.5
  high: 0.7
  critical: 0.9
alert:
  min_level: CRITICAL
  cooldown: 10m
trainer:
  interval: 30m
  min_samples: 50
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LURECAGE_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Honeypot.Address != ":2223" || cfg.Honeypot.AcceptAttempt != 2 {
		t.Errorf("honeypot = %+v", cfg.Honeypot)
	}
	if cfg.Bands.High != 0.7 {
		t.Errorf("bands.high = %v", cfg.Bands.High)
	}
	if cfg.Alert.MinLevel != schema.ThreatCritical || cfg.Alert.Cooldown != 10*time.Minute {
		t.Errorf("alert = %+v", cfg.Alert)
	}
	if cfg.Trainer.Interval != 30*time.Minute || cfg.Trainer.MinSamples != 50 {
		t.Errorf("trainer = %+v", cfg.Trainer)
	}
	// Untouched sections keep their defaults.
	if cfg.API.Address != ":8080" {
		t.Errorf("api address = %q", cfg.API.Address)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("honeypot: ["), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LURECAGE_CONFIG_PATH", path)

	if _, err := Load(); err == nil {
		t.Error("Load() accepted malformed YAML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LURECAGE_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("LURECAGE_SSH_ADDRESS", ":2224")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-100")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Honeypot.Address != ":2224" {
		t.Errorf("ssh address = %q", cfg.Honeypot.Address)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.BotToken != "123:abc" {
		t.Errorf("telegram = %+v", cfg.Channels.Telegram)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b2:9092" {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("env-overridden config invalid: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty honeypot address", func(c *Config) { c.Honeypot.Address = "" }},
		{"zero line length", func(c *Config) { c.Honeypot.MaxLineLength = 0 }},
		{"inverted bands", func(c *Config) { c.Bands.Medium = 0.9 }},
		{"zero trainer interval", func(c *Config) { c.Trainer.Interval = 0 }},
		{"negative cooldown", func(c *Config) { c.Alert.Cooldown = -time.Second }},
		{"telegram without token", func(c *Config) { c.Channels.Telegram.Enabled = true }},
		{"slack without url", func(c *Config) { c.Channels.Slack.Enabled = true }},
		{"kafka without brokers", func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Brokers = nil
		}},
		{"archive without bucket", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.Bucket = ""
		}},
		{"nameless webhook", func(c *Config) {
			c.Channels.Webhooks = []WebhookConfig{{URL: "http://x"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted invalid config")
			}
		})
	}
}
