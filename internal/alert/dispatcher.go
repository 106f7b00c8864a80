package alert

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"lurecage/internal/broadcast"
	"lurecage/internal/schema"
)

// Dispatcher watches the event stream and turns qualifying exchanges
// into alerts. It filters by threat level, suppresses repeats per
// (source IP, level) inside the cooldown window, and hands survivors
// to the delivery engine.
type Dispatcher struct {
	cfg      Config
	cooldown CooldownStore
	delivery *Delivery

	bc  *broadcast.Broadcaster
	sub *broadcast.Subscription

	wg     sync.WaitGroup
	closed atomic.Bool

	dispatched atomic.Uint64
	suppressed atomic.Uint64
	belowLevel atomic.Uint64
}

// NewDispatcher creates a dispatcher and starts consuming events.
func NewDispatcher(cfg Config, cooldown CooldownStore, delivery *Delivery, bc *broadcast.Broadcaster) *Dispatcher {
	d := &Dispatcher{
		cfg:      cfg,
		cooldown: cooldown,
		delivery: delivery,
		bc:       bc,
		sub:      bc.Subscribe(cfg.QueueSize),
	}

	d.wg.Add(1)
	go d.run()

	slog.Info("alert dispatcher started",
		"min_level", cfg.MinLevel,
		"cooldown", cfg.Cooldown,
	)
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for ev := range d.sub.C {
		d.handle(ev)
	}
}

func (d *Dispatcher) handle(ev schema.Event) {
	if ev.Kind != schema.EventExchangeAppended || ev.Exchange == nil {
		return
	}
	ex := ev.Exchange

	if ex.Level.Rank() < d.cfg.MinLevel.Rank() {
		d.belowLevel.Add(1)
		return
	}

	key := dedupKey(ev.SourceAddr, ex.Level)
	ctx := context.Background()
	won, err := d.cooldown.Acquire(ctx, key, d.cfg.Cooldown)
	if err != nil {
		// A broken cooldown store must not silence alerts. Fail open.
		slog.Warn("cooldown check failed, alerting anyway",
			"key", key,
			"error", err,
		)
		won = true
	}
	if !won {
		d.suppressed.Add(1)
		slog.Debug("alert suppressed by cooldown",
			"source_addr", ev.SourceAddr,
			"level", ex.Level,
		)
		return
	}

	alert := &Alert{
		ID:         uuid.New(),
		SessionID:  ev.SessionID,
		SourceAddr: ev.SourceAddr,
		Command:    ex.Command,
		Score:      ex.Score,
		Level:      ex.Level,
		Timestamp:  ex.Timestamp,
	}

	d.dispatched.Add(1)
	slog.Info("alert dispatched",
		"alert_id", alert.ID,
		"source_addr", alert.SourceAddr,
		"level", alert.Level,
		"score", alert.Score,
	)
	d.delivery.Dispatch(ctx, alert)
}

// dedupKey joins source IP and level. The port is stripped so separate
// connections from one attacker share a window.
func dedupKey(sourceAddr string, level schema.ThreatLevel) string {
	host, _, err := net.SplitHostPort(sourceAddr)
	if err != nil {
		host = sourceAddr
	}
	return host + "|" + string(level)
}

// DispatcherMetrics holds dispatcher counters.
type DispatcherMetrics struct {
	Dispatched uint64 `json:"dispatched"`
	Suppressed uint64 `json:"suppressed"`
	BelowLevel uint64 `json:"below_level"`
	Dropped    uint64 `json:"dropped"`
}

// Metrics returns dispatcher counters.
func (d *Dispatcher) Metrics() DispatcherMetrics {
	return DispatcherMetrics{
		Dispatched: d.dispatched.Load(),
		Suppressed: d.suppressed.Load(),
		BelowLevel: d.belowLevel.Load(),
		Dropped:    d.sub.Dropped(),
	}
}

// Close detaches from the broadcaster and drains pending events.
func (d *Dispatcher) Close() {
	if d.closed.Swap(true) {
		return
	}
	d.bc.Unsubscribe(d.sub)
	d.wg.Wait()
}
