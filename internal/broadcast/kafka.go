package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds settings for mirroring events to a Kafka topic.
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	QueueSize    int           `yaml:"queue_size"`
}

// DefaultKafkaConfig returns the default Kafka mirror configuration.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Enabled:      false,
		Brokers:      []string{"localhost:9092"},
		Topic:        "lurecage.events",
		BatchSize:    100,
		BatchTimeout: time.Second,
		WriteTimeout: 10 * time.Second,
		MaxAttempts:  3,
		QueueSize:    1024,
	}
}

// Validate checks if the configuration is valid.
func (c *KafkaConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka: at least one broker is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("kafka: topic is required")
	}
	return nil
}

// KafkaMirror subscribes to the broadcaster and forwards every event
// to a Kafka topic as JSON, keyed by source address so all activity
// from one source lands in one partition. Mirror failures never reach
// the capture path.
type KafkaMirror struct {
	writer *kafka.Writer
	cfg    KafkaConfig
	sub    *Subscription
	bc     *Broadcaster

	wg     sync.WaitGroup
	closed atomic.Bool

	mirrored atomic.Uint64
	failed   atomic.Uint64
}

// NewKafkaMirror creates the mirror and starts forwarding.
func NewKafkaMirror(cfg KafkaConfig, bc *Broadcaster) (*KafkaMirror, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Error(fmt.Sprintf(msg, args...), "component", "kafka-mirror")
		}),
	}

	m := &KafkaMirror{
		writer: writer,
		cfg:    cfg,
		sub:    bc.Subscribe(cfg.QueueSize),
		bc:     bc,
	}

	m.wg.Add(1)
	go m.run()

	slog.Info("kafka mirror started",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
	)
	return m, nil
}

func (m *KafkaMirror) run() {
	defer m.wg.Done()

	for ev := range m.sub.C {
		value, err := json.Marshal(ev)
		if err != nil {
			m.failed.Add(1)
			slog.Error("kafka mirror marshal failed", "error", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
		err = m.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(ev.SourceAddr),
			Value: value,
			Time:  ev.Timestamp,
		})
		cancel()

		if err != nil {
			m.failed.Add(1)
			slog.Warn("kafka mirror write failed",
				"kind", ev.Kind,
				"session_id", ev.SessionID,
				"error", err,
			)
			continue
		}
		m.mirrored.Add(1)
	}
}

// Close detaches from the broadcaster, drains, and closes the writer.
func (m *KafkaMirror) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	m.bc.Unsubscribe(m.sub)
	m.wg.Wait()

	slog.Info("kafka mirror stopped",
		"mirrored", m.mirrored.Load(),
		"failed", m.failed.Load(),
	)
	return m.writer.Close()
}

// KafkaMirrorMetrics holds mirror counters.
type KafkaMirrorMetrics struct {
	Mirrored uint64 `json:"mirrored"`
	Failed   uint64 `json:"failed"`
	Dropped  uint64 `json:"dropped"`
}

// Metrics returns mirror counters.
func (m *KafkaMirror) Metrics() KafkaMirrorMetrics {
	return KafkaMirrorMetrics{
		Mirrored: m.mirrored.Load(),
		Failed:   m.failed.Load(),
		Dropped:  m.sub.Dropped(),
	}
}
