package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus represents the delivery state of a notification.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliverySent       DeliveryStatus = "sent"
	DeliveryRetrying   DeliveryStatus = "retrying"
	DeliveryDeadLetter DeliveryStatus = "dead_letter"
)

// DeliveryRecord tracks one alert's delivery to one channel.
type DeliveryRecord struct {
	ID          uuid.UUID      `json:"id"`
	AlertID     uuid.UUID      `json:"alert_id"`
	ChannelName string         `json:"channel_name"`
	Status      DeliveryStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	LastAttempt time.Time      `json:"last_attempt"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
}

// DeliveryConfig configures retry behavior.
type DeliveryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
	RetryTimeout   time.Duration `yaml:"retry_timeout"`
}

// DefaultDeliveryConfig returns sensible delivery defaults.
func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		RetryTimeout:   10 * time.Second,
	}
}

// Delivery sends alerts to channels with exponential backoff. Alerts
// whose retries are exhausted land in the dead-letter list; the data
// itself is still in the store.
type Delivery struct {
	config   DeliveryConfig
	channels []NotificationChannel

	mu         sync.RWMutex
	deadLetter []*DeliveryRecord
	sent       uint64
	failed     uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewDelivery creates a delivery engine over the given channels.
func NewDelivery(cfg DeliveryConfig, channels []NotificationChannel) *Delivery {
	return &Delivery{
		config:   cfg,
		channels: channels,
		stopCh:   make(chan struct{}),
	}
}

// Dispatch sends an alert to every channel concurrently.
func (d *Delivery) Dispatch(ctx context.Context, alert *Alert) {
	for _, ch := range d.channels {
		record := &DeliveryRecord{
			ID:          uuid.New(),
			AlertID:     alert.ID,
			ChannelName: ch.Name(),
			Status:      DeliveryPending,
			CreatedAt:   time.Now(),
		}

		d.wg.Add(1)
		go d.deliverWithRetry(ctx, ch, alert, record)
	}
}

func (d *Delivery) deliverWithRetry(ctx context.Context, ch NotificationChannel, alert *Alert, record *DeliveryRecord) {
	defer d.wg.Done()

	backoff := d.config.InitialBackoff
	maxRetries := d.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		record.Attempts = attempt
		record.LastAttempt = time.Now()
		if attempt > 1 {
			record.Status = DeliveryRetrying
		}

		attemptCtx, cancel := context.WithTimeout(ctx, d.config.RetryTimeout)
		err := ch.Send(attemptCtx, alert)
		cancel()

		if err == nil {
			now := time.Now()
			record.Status = DeliverySent
			record.DeliveredAt = &now

			d.mu.Lock()
			d.sent++
			d.mu.Unlock()

			slog.Debug("alert delivered",
				"channel", ch.Name(),
				"alert_id", alert.ID,
				"attempts", attempt,
			)
			return
		}

		record.LastError = err.Error()

		slog.Warn("alert delivery failed",
			"channel", ch.Name(),
			"alert_id", alert.ID,
			"attempt", attempt,
			"max_retries", maxRetries,
			"error", err,
		)

		// Don't sleep after the last attempt.
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				d.moveToDeadLetter(record, "context cancelled")
				return
			case <-d.stopCh:
				d.moveToDeadLetter(record, "delivery stopped")
				return
			case <-time.After(backoff):
			}

			backoff = time.Duration(float64(backoff) * d.config.BackoffFactor)
			if backoff > d.config.MaxBackoff {
				backoff = d.config.MaxBackoff
			}
		}
	}

	d.moveToDeadLetter(record, record.LastError)
}

func (d *Delivery) moveToDeadLetter(record *DeliveryRecord, reason string) {
	d.mu.Lock()
	record.Status = DeliveryDeadLetter
	record.LastError = reason
	d.deadLetter = append(d.deadLetter, record)
	d.failed++
	d.mu.Unlock()

	slog.Error("alert moved to dead letter queue",
		"alert_id", record.AlertID,
		"channel", record.ChannelName,
		"attempts", record.Attempts,
		"reason", reason,
	)
}

// DeadLetterQueue returns all failed delivery records.
func (d *Delivery) DeadLetterQueue() []*DeliveryRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]*DeliveryRecord, len(d.deadLetter))
	copy(result, d.deadLetter)
	return result
}

// DeliveryMetrics holds delivery counters.
type DeliveryMetrics struct {
	Sent       uint64 `json:"sent"`
	DeadLetter uint64 `json:"dead_letter"`
}

// Metrics returns delivery counters.
func (d *Delivery) Metrics() DeliveryMetrics {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return DeliveryMetrics{
		Sent:       d.sent,
		DeadLetter: d.failed,
	}
}

// Stop aborts backoff waits and waits for in-flight deliveries.
func (d *Delivery) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}
