package store

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"lurecage/internal/schema"
)

// newUnflushedExchangeLog builds a log whose flusher is not running, so
// writes that touched the database would hang or panic. RetryDelay is
// huge for the same reason.
func newUnflushedExchangeLog(cfg ClickHouseConfig) *ExchangeLog {
	return &ExchangeLog{
		cfg:     cfg,
		buffer:  make([]loggedExchange, 0, cfg.BatchSize),
		flushCh: make(chan []loggedExchange, flushQueueSize),
		done:    make(chan struct{}),
	}
}

func loggedTestExchange(command string) schema.Exchange {
	return schema.Exchange{
		Command:   command,
		Response:  "ok",
		Timestamp: time.Now().UTC(),
		Level:     schema.ThreatLow,
	}
}

func TestExchangeLogWriteNeverBlocks(t *testing.T) {
	cfg := DefaultClickHouseConfig()
	cfg.BatchSize = 2
	cfg.RetryDelay = time.Hour
	l := newUnflushedExchangeLog(cfg)

	sessionID := uuid.New()
	start := time.Now()
	for i := 0; i < cfg.BatchSize*(flushQueueSize+3); i++ {
		if err := l.Write(sessionID, "203.0.113.7:50412", loggedTestExchange("uname -a")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("writes took %v, write path is blocking", elapsed)
	}
}

func TestExchangeLogDropsWhenBacklogged(t *testing.T) {
	cfg := DefaultClickHouseConfig()
	cfg.BatchSize = 2
	l := newUnflushedExchangeLog(cfg)

	sessionID := uuid.New()
	overflow := 3
	for i := 0; i < cfg.BatchSize*(flushQueueSize+overflow); i++ {
		if err := l.Write(sessionID, "203.0.113.7:50412", loggedTestExchange("id")); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	m := l.Metrics()
	wantDropped := uint64(cfg.BatchSize * overflow)
	if m.Dropped != wantDropped {
		t.Errorf("Dropped = %d, want %d", m.Dropped, wantDropped)
	}
	if m.Pending != 0 {
		t.Errorf("Pending = %d, want 0", m.Pending)
	}
	if len(l.flushCh) != flushQueueSize {
		t.Errorf("queued batches = %d, want %d", len(l.flushCh), flushQueueSize)
	}
}

func TestExchangeLogWriteAfterClosed(t *testing.T) {
	cfg := DefaultClickHouseConfig()
	l := newUnflushedExchangeLog(cfg)

	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	err := l.Write(uuid.New(), "203.0.113.7:50412", loggedTestExchange("pwd"))
	if err != ErrLogClosed {
		t.Errorf("Write() error = %v, want ErrLogClosed", err)
	}
}
