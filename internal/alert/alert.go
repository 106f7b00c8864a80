// Package alert turns high-severity exchanges into notifications on
// external channels. Delivery is asynchronous and failure-contained:
// nothing here can slow down or break command capture.
package alert

import (
	"context"
	"time"

	"github.com/google/uuid"

	"lurecage/internal/schema"
)

// Alert is one qualifying exchange prepared for notification.
type Alert struct {
	ID         uuid.UUID          `json:"id"`
	SessionID  uuid.UUID          `json:"session_id"`
	SourceAddr string             `json:"source_addr"`
	Command    string             `json:"command"`
	Score      float64            `json:"score"`
	Level      schema.ThreatLevel `json:"level"`
	Timestamp  time.Time          `json:"timestamp"`
}

// NotificationChannel is implemented by each delivery target.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, alert *Alert) error
}

// Config holds dispatcher behavior settings.
type Config struct {
	// MinLevel is the lowest threat level that triggers an alert.
	MinLevel schema.ThreatLevel `yaml:"min_level"`

	// Cooldown suppresses repeat alerts for the same source and level.
	Cooldown time.Duration `yaml:"cooldown"`

	// QueueSize bounds the number of alerts waiting for delivery.
	QueueSize int `yaml:"queue_size"`
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		MinLevel:  schema.ThreatHigh,
		Cooldown:  5 * time.Minute,
		QueueSize: 128,
	}
}
