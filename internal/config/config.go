// Package config handles configuration loading for lurecage.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"lurecage/internal/alert"
	"lurecage/internal/anomaly"
	"lurecage/internal/api"
	"lurecage/internal/broadcast"
	"lurecage/internal/emulator"
	"lurecage/internal/schema"
	"lurecage/internal/store"
)

// Config holds the complete application configuration.
type Config struct {
	Honeypot   emulator.Config           `yaml:"honeypot"`
	Store      store.Config              `yaml:"store"`
	ClickHouse store.ClickHouseConfig    `yaml:"clickhouse"`
	Archive    store.S3ArchiveConfig     `yaml:"archive"`
	Bands      schema.Bands              `yaml:"bands"`
	Trainer    anomaly.TrainerConfig     `yaml:"trainer"`
	Alert      alert.Config              `yaml:"alert"`
	Delivery   alert.DeliveryConfig      `yaml:"delivery"`
	Redis      alert.RedisCooldownConfig `yaml:"redis"`
	Kafka      broadcast.KafkaConfig     `yaml:"kafka"`
	API        api.Config                `yaml:"api"`
	Channels   ChannelsConfig            `yaml:"channels"`
	Logging    LoggingConfig             `yaml:"logging"`
}

// ChannelsConfig holds notification channel credentials. Secrets are
// normally supplied through the environment, not the file.
type ChannelsConfig struct {
	Telegram TelegramConfig  `yaml:"telegram"`
	Slack    SlackConfig     `yaml:"slack"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// SlackConfig holds Slack incoming-webhook settings.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

// WebhookConfig holds one generic webhook target.
type WebhookConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Honeypot:   emulator.DefaultConfig(),
		Store:      store.DefaultConfig(),
		ClickHouse: store.DefaultClickHouseConfig(),
		Archive:    store.DefaultS3ArchiveConfig(),
		Bands:      schema.DefaultBands(),
		Trainer:    anomaly.DefaultTrainerConfig(),
		Alert:      alert.DefaultConfig(),
		Delivery:   alert.DefaultDeliveryConfig(),
		Redis:      alert.DefaultRedisCooldownConfig(),
		Kafka:      broadcast.DefaultKafkaConfig(),
		API:        api.DefaultConfig(),
		Channels: ChannelsConfig{
			Slack: SlackConfig{Username: "lurecage"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a file or returns defaults. The path
// comes from LURECAGE_CONFIG_PATH, falling back to configs/config.yaml;
// a missing file is not an error.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("LURECAGE_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Secrets
// belong here rather than in the file.
func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("LURECAGE_SSH_ADDRESS"); addr != "" {
		c.Honeypot.Address = addr
	}
	if addr := os.Getenv("LURECAGE_API_ADDRESS"); addr != "" {
		c.API.Address = addr
	}
	if level := os.Getenv("LURECAGE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		c.Channels.Telegram.BotToken = token
		c.Channels.Telegram.Enabled = true
	}
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		c.Channels.Telegram.ChatID = chatID
	}
	if url := os.Getenv("SLACK_WEBHOOK_URL"); url != "" {
		c.Channels.Slack.WebhookURL = url
		c.Channels.Slack.Enabled = true
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.ClickHouse.Hosts = splitAndTrim(host, ",")
		c.ClickHouse.Enabled = true
	}
	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.ClickHouse.Password = pass
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
		c.Redis.Enabled = true
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		c.Redis.Password = pass
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitAndTrim(brokers, ",")
		c.Kafka.Enabled = true
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		c.Archive.AccessKeyID = key
	}
	if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" {
		c.Archive.SecretAccessKey = secret
	}
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.Honeypot.Address == "" {
		return fmt.Errorf("honeypot address must not be empty")
	}
	if c.Honeypot.MaxLineLength <= 0 {
		return fmt.Errorf("honeypot max_line_length must be positive")
	}
	if c.API.Address == "" {
		return fmt.Errorf("api address must not be empty")
	}
	if err := c.Bands.Validate(); err != nil {
		return err
	}
	if c.Trainer.Interval <= 0 {
		return fmt.Errorf("trainer interval must be positive")
	}
	if c.Alert.Cooldown < 0 {
		return fmt.Errorf("alert cooldown must not be negative")
	}
	if c.Archive.Enabled {
		if err := c.Archive.Validate(); err != nil {
			return err
		}
	}
	if c.Kafka.Enabled {
		if err := c.Kafka.Validate(); err != nil {
			return err
		}
	}
	if c.Channels.Telegram.Enabled && (c.Channels.Telegram.BotToken == "" || c.Channels.Telegram.ChatID == "") {
		return fmt.Errorf("telegram channel enabled without bot_token and chat_id")
	}
	if c.Channels.Slack.Enabled && c.Channels.Slack.WebhookURL == "" {
		return fmt.Errorf("slack channel enabled without webhook_url")
	}
	for _, wh := range c.Channels.Webhooks {
		if wh.Name == "" || wh.URL == "" {
			return fmt.Errorf("webhook channel needs both name and url")
		}
	}
	return nil
}

// splitAndTrim splits a string by separator and trims whitespace from
// each part, dropping empties.
func splitAndTrim(s, sep string) []string {
	var parts []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
