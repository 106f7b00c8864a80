package store

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"lurecage/internal/schema"
)

// ClickHouseConfig holds the configuration for the ClickHouse exchange
// log connection.
type ClickHouseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Hosts           []string      `yaml:"hosts"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`

	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// DefaultClickHouseConfig returns the default ClickHouse configuration.
func DefaultClickHouseConfig() ClickHouseConfig {
	return ClickHouseConfig{
		Enabled:         false,
		Hosts:           []string{"localhost:9000"},
		Database:        "lurecage",
		Username:        "default",
		Password:        "",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		DialTimeout:     10 * time.Second,
		BatchSize:       500,
		FlushInterval:   5 * time.Second,
		MaxRetries:      3,
		RetryDelay:      time.Second,
	}
}

const exchangesDDL = `
CREATE TABLE IF NOT EXISTS exchanges (
	session_id    UUID,
	source_addr   String,
	timestamp     DateTime64(3, 'UTC'),
	command       String,
	response      String,
	score         Float64,
	level         LowCardinality(String),
	model_version UInt64,
	keywords      Array(String),
	truncated     UInt8
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(timestamp)
ORDER BY (timestamp, session_id)
`

// loggedExchange is an exchange annotated with its session identity for
// flat persistence.
type loggedExchange struct {
	sessionID  uuid.UUID
	sourceAddr string
	exchange   schema.Exchange
}

// flushQueueSize bounds how many full batches can wait for the
// background flusher before new batches are dropped.
const flushQueueSize = 4

// ExchangeLog writes every recorded exchange to ClickHouse in batches.
// It is strictly write-behind: a slow or down database never blocks the
// capture path. Full batches go to a background flusher over a bounded
// queue; when the queue backs up, batches are dropped and counted.
type ExchangeLog struct {
	conn driver.Conn
	cfg  ClickHouseConfig

	mu     sync.Mutex
	buffer []loggedExchange
	closed bool

	flushCh chan []loggedExchange
	done    chan struct{}
	wg      sync.WaitGroup

	totalWritten atomic.Uint64
	totalFailed  atomic.Uint64
	totalDropped atomic.Uint64
}

// NewExchangeLog connects to ClickHouse, ensures the exchanges table
// exists, and starts the flush timer.
func NewExchangeLog(cfg ClickHouseConfig) (*ExchangeLog, error) {
	opts := &clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionZSTD,
		},
		DialTimeout:     cfg.DialTimeout,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
	if cfg.TLSEnabled {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("exchange_log: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("exchange_log: ping: %w", err)
	}
	if err := conn.Exec(ctx, exchangesDDL); err != nil {
		return nil, fmt.Errorf("exchange_log: ensure table: %w", err)
	}

	l := &ExchangeLog{
		conn:    conn,
		cfg:     cfg,
		buffer:  make([]loggedExchange, 0, cfg.BatchSize),
		flushCh: make(chan []loggedExchange, flushQueueSize),
		done:    make(chan struct{}),
	}
	l.wg.Add(1)
	go l.runFlusher()

	slog.Info("exchange log connected",
		"hosts", strings.Join(cfg.Hosts, ","),
		"database", cfg.Database,
	)

	return l, nil
}

// Write buffers one exchange for batch insertion. It never touches the
// database itself; a full buffer is detached and handed to the flusher.
func (l *ExchangeLog) Write(sessionID uuid.UUID, sourceAddr string, ex schema.Exchange) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLogClosed
	}

	l.buffer = append(l.buffer, loggedExchange{
		sessionID:  sessionID,
		sourceAddr: sourceAddr,
		exchange:   ex,
	})

	var batch []loggedExchange
	if len(l.buffer) >= l.cfg.BatchSize {
		batch = l.buffer
		l.buffer = make([]loggedExchange, 0, l.cfg.BatchSize)
	}
	l.mu.Unlock()

	if batch != nil {
		l.enqueue(batch)
	}
	return nil
}

// enqueue hands a detached batch to the flusher without blocking. A
// full queue means ClickHouse cannot keep up; the batch is dropped and
// counted rather than stalling the caller.
func (l *ExchangeLog) enqueue(batch []loggedExchange) {
	select {
	case l.flushCh <- batch:
	default:
		l.totalDropped.Add(uint64(len(batch)))
		slog.Warn("exchange log backlogged, dropping batch",
			"count", len(batch),
		)
	}
}

// runFlusher owns all inserts: queued full batches plus an interval
// sweep of whatever is sitting in the buffer.
func (l *ExchangeLog) runFlusher() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case batch := <-l.flushCh:
			l.flushBatch(batch)

		case <-ticker.C:
			l.mu.Lock()
			var batch []loggedExchange
			if len(l.buffer) > 0 {
				batch = l.buffer
				l.buffer = make([]loggedExchange, 0, l.cfg.BatchSize)
			}
			l.mu.Unlock()
			if batch != nil {
				l.flushBatch(batch)
			}

		case <-l.done:
			return
		}
	}
}

// flushBatch inserts one detached batch with retries. Runs only on the
// flusher goroutine or during shutdown, never on the write path.
func (l *ExchangeLog) flushBatch(rows []loggedExchange) {
	var lastErr error
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(l.cfg.RetryDelay * time.Duration(attempt))
		}

		if err := l.insertBatch(rows); err != nil {
			lastErr = err
			slog.Warn("exchange batch insert failed, retrying",
				"attempt", attempt+1,
				"max_retries", l.cfg.MaxRetries,
				"error", err,
			)
			continue
		}

		l.totalWritten.Add(uint64(len(rows)))
		return
	}

	l.totalFailed.Add(uint64(len(rows)))
	slog.Error("exchange batch dropped after retries",
		"count", len(rows),
		"error", lastErr,
	)
}

func (l *ExchangeLog) insertBatch(rows []loggedExchange) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	batch, err := l.conn.PrepareBatch(ctx, `
		INSERT INTO exchanges (
			session_id, source_addr, timestamp,
			command, response, score, level,
			model_version, keywords, truncated
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, row := range rows {
		ex := row.exchange
		truncated := uint8(0)
		if ex.Truncated {
			truncated = 1
		}
		err := batch.Append(
			row.sessionID,
			row.sourceAddr,
			ex.Timestamp,
			ex.Command,
			ex.Response,
			ex.Score,
			string(ex.Level),
			ex.ModelVersion,
			ex.Keywords,
			truncated,
		)
		if err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	slog.Debug("exchange batch inserted", "count", len(rows))
	return nil
}

// Flush synchronously inserts whatever is buffered. Shutdown only.
func (l *ExchangeLog) Flush() error {
	l.mu.Lock()
	batch := l.buffer
	l.buffer = make([]loggedExchange, 0, l.cfg.BatchSize)
	l.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := l.insertBatch(batch); err != nil {
		l.totalFailed.Add(uint64(len(batch)))
		return fmt.Errorf("exchange_log: flush: %w", err)
	}
	l.totalWritten.Add(uint64(len(batch)))
	return nil
}

// Close stops the flusher, drains anything still queued, flushes the
// buffer, and closes the connection.
func (l *ExchangeLog) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	l.wg.Wait()

	var err error
	for {
		select {
		case batch := <-l.flushCh:
			if ierr := l.insertBatch(batch); ierr != nil {
				l.totalFailed.Add(uint64(len(batch)))
				if err == nil {
					err = ierr
				}
			} else {
				l.totalWritten.Add(uint64(len(batch)))
			}
			continue
		default:
		}
		break
	}

	if ferr := l.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	if cerr := l.conn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// ExchangeLogMetrics holds exchange log counters.
type ExchangeLogMetrics struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
	Pending int    `json:"pending"`
}

// Metrics returns exchange log counters.
func (l *ExchangeLog) Metrics() ExchangeLogMetrics {
	l.mu.Lock()
	pending := len(l.buffer)
	l.mu.Unlock()
	return ExchangeLogMetrics{
		Written: l.totalWritten.Load(),
		Failed:  l.totalFailed.Load(),
		Dropped: l.totalDropped.Load(),
		Pending: pending,
	}
}
