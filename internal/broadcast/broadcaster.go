// Package broadcast fans store events out to live subscribers. The
// publish path never blocks: a subscriber that falls behind loses its
// oldest queued events, not the producer's time.
package broadcast

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"lurecage/internal/schema"
)

// DefaultQueueSize is the per-subscriber queue bound used when a
// subscriber does not request its own.
const DefaultQueueSize = 256

// Subscription is one subscriber's view of the event stream. Events
// arrive on C. When the subscriber cannot keep up, the oldest queued
// events are dropped and counted.
type Subscription struct {
	C  <-chan schema.Event
	ch chan schema.Event
	id uint64

	dropped atomic.Uint64
}

// Dropped returns how many events were discarded because this
// subscriber's queue was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Broadcaster distributes events to all current subscribers.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	published    atomic.Uint64
	totalDropped atomic.Uint64
}

// New creates a broadcaster with no subscribers.
func New() *Broadcaster {
	return &Broadcaster{
		subs: make(map[uint64]*Subscription),
	}
}

// Subscribe registers a new subscriber with the given queue bound.
// queueSize <= 0 uses DefaultQueueSize. Subscribers receive only
// events published after they subscribe; there is no replay.
func (b *Broadcaster) Subscribe(queueSize int) *Subscription {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ch := make(chan schema.Event, queueSize)
	sub := &Subscription{C: ch, ch: ch, id: b.nextID}
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub.id] = sub

	slog.Debug("subscriber attached",
		"subscriber_id", sub.id,
		"queue_size", queueSize,
		"subscribers", len(b.subs),
	)
	return sub
}

// Unsubscribe detaches a subscriber and closes its channel. Safe to
// call more than once.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)

	slog.Debug("subscriber detached",
		"subscriber_id", sub.id,
		"dropped", sub.dropped.Load(),
		"subscribers", len(b.subs),
	)
}

// Publish offers the event to every subscriber. A full subscriber
// queue sheds its oldest event to admit the new one.
func (b *Broadcaster) Publish(ev schema.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for _, sub := range b.subs {
		for {
			select {
			case sub.ch <- ev:
			default:
				// Queue full: shed the oldest and retry. Another
				// reader may race the drain, hence the loop.
				select {
				case <-sub.ch:
					sub.dropped.Add(1)
					b.totalDropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

// Close detaches all subscribers and rejects further publishes.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Metrics holds broadcaster counters.
type Metrics struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// Metrics returns current broadcaster counters.
func (b *Broadcaster) Metrics() Metrics {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Metrics{
		Subscribers: n,
		Published:   b.published.Load(),
		Dropped:     b.totalDropped.Load(),
	}
}
