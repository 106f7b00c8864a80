// Package store holds captured sessions in memory and is the single
// source of truth for everything downstream: queries, stats, trainer
// input, and the event fan-out.
package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lurecage/internal/schema"
)

// EventSink receives one event per store mutation. Publish must not
// block; the broadcaster satisfies this.
type EventSink interface {
	Publish(schema.Event)
}

// Archiver persists an evicted session before it is forgotten.
type Archiver interface {
	Archive(ctx context.Context, session *schema.Session) error
}

// Config holds the configuration for the session store.
type Config struct {
	// MaxSessions bounds the number of retained sessions. Zero means
	// unbounded.
	MaxSessions int `yaml:"max_sessions"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		MaxSessions: 1000,
	}
}

// entry pairs a session with its own mutex so appends to one session
// never contend with appends to another.
type entry struct {
	mu      sync.Mutex
	session *schema.Session
}

// Store is an in-memory session store with optional bounded retention.
type Store struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[uuid.UUID]*entry
	order    []uuid.UUID

	sink     EventSink
	archiver Archiver

	// Aggregate counters, maintained on the append path.
	statsMu      sync.Mutex
	levelCounts  map[schema.ThreatLevel]uint64
	scoreSum     float64
	exchanges    uint64
	lastActivity time.Time

	evicted atomic.Uint64
}

// New creates a session store. sink and archiver may be nil.
func New(cfg Config, sink EventSink, archiver Archiver) *Store {
	return &Store{
		cfg:      cfg,
		sessions: make(map[uuid.UUID]*entry),
		sink:     sink,
		archiver: archiver,
		levelCounts: map[schema.ThreatLevel]uint64{
			schema.ThreatLow:      0,
			schema.ThreatMedium:   0,
			schema.ThreatHigh:     0,
			schema.ThreatCritical: 0,
		},
	}
}

// CreateSession admits a new session for the given source address. When
// the store is at capacity the oldest closed session is evicted first;
// if every retained session is still active the bound is exceeded
// rather than refusing the connection.
func (s *Store) CreateSession(sourceAddr string) *schema.Session {
	sess := &schema.Session{
		ID:         uuid.New(),
		SourceAddr: sourceAddr,
		StartedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	if s.cfg.MaxSessions > 0 && len(s.sessions) >= s.cfg.MaxSessions {
		s.evictOldestClosedLocked()
	}
	s.sessions[sess.ID] = &entry{session: sess}
	s.order = append(s.order, sess.ID)
	s.mu.Unlock()

	s.publish(schema.Event{
		Kind:       schema.EventSessionOpened,
		SessionID:  sess.ID,
		SourceAddr: sess.SourceAddr,
		Timestamp:  sess.StartedAt,
	})

	return sess.Clone()
}

// evictOldestClosedLocked removes the oldest closed session. Caller
// must hold s.mu.
func (s *Store) evictOldestClosedLocked() {
	for i, id := range s.order {
		ent, ok := s.sessions[id]
		if !ok {
			continue
		}
		ent.mu.Lock()
		closed := ent.session.Closed()
		var victim *schema.Session
		if closed {
			victim = ent.session.Clone()
		}
		ent.mu.Unlock()
		if !closed {
			continue
		}

		delete(s.sessions, id)
		s.order = append(s.order[:i], s.order[i+1:]...)
		s.evicted.Add(1)

		slog.Info("session evicted",
			"session_id", id,
			"source_addr", victim.SourceAddr,
			"exchanges", len(victim.Exchanges),
		)

		if s.archiver != nil {
			go func(sess *schema.Session) {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := s.archiver.Archive(ctx, sess); err != nil {
					slog.Error("session archive failed",
						"session_id", sess.ID,
						"error", err,
					)
				}
			}(victim)
		}
		return
	}

	slog.Warn("store at capacity with no closed session, admitting over bound",
		"max_sessions", s.cfg.MaxSessions,
	)
}

// AppendExchange appends a fully scored exchange to a session. The
// exchange becomes visible to readers and subscribers only after the
// append completes.
func (s *Store) AppendExchange(id uuid.UUID, ex schema.Exchange) error {
	s.mu.RLock()
	ent, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return WrapNotFound("AppendExchange", id.String())
	}

	ent.mu.Lock()
	if ent.session.Closed() {
		ent.mu.Unlock()
		return ErrSessionClosed
	}
	ent.session.Exchanges = append(ent.session.Exchanges, ex)
	sourceAddr := ent.session.SourceAddr
	ent.mu.Unlock()

	s.statsMu.Lock()
	s.levelCounts[ex.Level]++
	s.scoreSum += ex.Score
	s.exchanges++
	if ex.Timestamp.After(s.lastActivity) {
		s.lastActivity = ex.Timestamp
	}
	s.statsMu.Unlock()

	exCopy := ex
	s.publish(schema.Event{
		Kind:       schema.EventExchangeAppended,
		SessionID:  id,
		SourceAddr: sourceAddr,
		Timestamp:  ex.Timestamp,
		Exchange:   &exCopy,
	})

	return nil
}

// CloseSession finalizes a session. Closing an already closed session
// is a no-op so disconnect paths can close unconditionally.
func (s *Store) CloseSession(id uuid.UUID) error {
	s.mu.RLock()
	ent, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return WrapNotFound("CloseSession", id.String())
	}

	ent.mu.Lock()
	if ent.session.Closed() {
		ent.mu.Unlock()
		return nil
	}
	now := time.Now().UTC()
	ent.session.EndedAt = &now
	sourceAddr := ent.session.SourceAddr
	ent.mu.Unlock()

	s.publish(schema.Event{
		Kind:       schema.EventSessionClosed,
		SessionID:  id,
		SourceAddr: sourceAddr,
		Timestamp:  now,
	})

	return nil
}

// GetSession returns a deep copy of the session.
func (s *Store) GetSession(id uuid.UUID) (*schema.Session, error) {
	s.mu.RLock()
	ent, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, WrapNotFound("GetSession", id.String())
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.session.Clone(), nil
}

// ListSessions returns deep copies of all retained sessions in
// creation order.
func (s *Store) ListSessions() []*schema.Session {
	s.mu.RLock()
	ids := make([]uuid.UUID, len(s.order))
	copy(ids, s.order)
	entries := make([]*entry, 0, len(ids))
	for _, id := range ids {
		if ent, ok := s.sessions[id]; ok {
			entries = append(entries, ent)
		}
	}
	s.mu.RUnlock()

	out := make([]*schema.Session, 0, len(entries))
	for _, ent := range entries {
		ent.mu.Lock()
		out = append(out, ent.session.Clone())
		ent.mu.Unlock()
	}
	return out
}

// Stats is a point-in-time aggregate over the store. Counts are
// eventually consistent with in-flight appends but never include a
// partially built exchange.
type Stats struct {
	TotalSessions  int                           `json:"total_sessions"`
	ActiveSessions int                           `json:"active_sessions"`
	TotalExchanges uint64                        `json:"total_exchanges"`
	LevelCounts    map[schema.ThreatLevel]uint64 `json:"level_counts"`
	MeanScore      float64                       `json:"mean_score"`
	LastActivity   time.Time                     `json:"last_activity,omitzero"`
	Evicted        uint64                        `json:"evicted"`
}

// Stats returns aggregate statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	total := len(s.sessions)
	active := 0
	for _, ent := range s.sessions {
		ent.mu.Lock()
		if !ent.session.Closed() {
			active++
		}
		ent.mu.Unlock()
	}
	s.mu.RUnlock()

	s.statsMu.Lock()
	counts := make(map[schema.ThreatLevel]uint64, len(s.levelCounts))
	for k, v := range s.levelCounts {
		counts[k] = v
	}
	mean := 0.0
	if s.exchanges > 0 {
		mean = s.scoreSum / float64(s.exchanges)
	}
	st := Stats{
		TotalSessions:  total,
		ActiveSessions: active,
		TotalExchanges: s.exchanges,
		LevelCounts:    counts,
		MeanScore:      mean,
		LastActivity:   s.lastActivity,
		Evicted:        s.evicted.Load(),
	}
	s.statsMu.Unlock()

	return st
}

// TrainingVectors returns the feature vectors of all exchanges recorded
// after the given time. A zero time returns everything retained.
func (s *Store) TrainingVectors(since time.Time) []schema.FeatureVector {
	sessions := s.ListSessions()

	var vectors []schema.FeatureVector
	for _, sess := range sessions {
		for _, ex := range sess.Exchanges {
			if ex.Timestamp.After(since) {
				vectors = append(vectors, ex.Features)
			}
		}
	}
	return vectors
}

func (s *Store) publish(ev schema.Event) {
	if s.sink != nil {
		s.sink.Publish(ev)
	}
}
