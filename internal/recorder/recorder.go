// Package recorder turns captured commands into scored, stored
// exchanges. It sits between the SSH emulator and the rest of the
// pipeline so the emulator never touches the store or the model
// directly.
package recorder

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lurecage/internal/anomaly"
	"lurecage/internal/emulator"
	"lurecage/internal/feature"
	"lurecage/internal/schema"
	"lurecage/internal/store"
)

// ExchangeWriter receives every recorded exchange for durable logging.
// *store.ExchangeLog satisfies it; a nil writer disables the hook.
type ExchangeWriter interface {
	Write(sessionID uuid.UUID, sourceAddr string, ex schema.Exchange) error
}

// Recorder implements emulator.Recorder on top of the session store and
// the anomaly scorer.
type Recorder struct {
	store  *store.Store
	scorer *anomaly.Scorer
	log    ExchangeWriter

	mu    sync.Mutex
	addrs map[uuid.UUID]string

	recorded atomic.Uint64
}

// New builds a Recorder. log may be nil.
func New(st *store.Store, scorer *anomaly.Scorer, log ExchangeWriter) *Recorder {
	return &Recorder{
		store:  st,
		scorer: scorer,
		log:    log,
		addrs:  make(map[uuid.UUID]string),
	}
}

var _ emulator.Recorder = (*Recorder)(nil)

// Open creates a store session for a new connection and returns its ID.
func (r *Recorder) Open(sourceAddr string) (uuid.UUID, error) {
	sess := r.store.CreateSession(sourceAddr)
	r.mu.Lock()
	r.addrs[sess.ID] = sourceAddr
	r.mu.Unlock()
	return sess.ID, nil
}

// Record scores one command and appends the resulting exchange to the
// session. The returned exchange carries the level the emulator uses to
// shape its reply.
func (r *Recorder) Record(sessionID uuid.UUID, command string, truncated bool) (schema.Exchange, error) {
	vec := feature.Extract(command)
	score, version := r.scorer.Score(vec)

	ex := schema.Exchange{
		Command:      command,
		Response:     emulator.Respond(command),
		Timestamp:    time.Now().UTC(),
		Features:     vec,
		Score:        score,
		Level:        r.scorer.Classify(score),
		ModelVersion: version,
		Keywords:     feature.Keywords(command),
		Truncated:    truncated,
	}

	if err := r.store.AppendExchange(sessionID, ex); err != nil {
		return schema.Exchange{}, err
	}
	r.recorded.Add(1)

	if r.log != nil {
		r.mu.Lock()
		addr := r.addrs[sessionID]
		r.mu.Unlock()
		if err := r.log.Write(sessionID, addr, ex); err != nil {
			// The exchange is already in the store; a failed log write
			// must not surface to the attacker-facing shell.
			slog.Warn("exchange log write failed",
				"session_id", sessionID,
				"error", err,
			)
		}
	}

	return ex, nil
}

// Close finalizes the session.
func (r *Recorder) Close(sessionID uuid.UUID) error {
	r.mu.Lock()
	delete(r.addrs, sessionID)
	r.mu.Unlock()
	return r.store.CloseSession(sessionID)
}

// Recorded returns the number of exchanges appended so far.
func (r *Recorder) Recorded() uint64 {
	return r.recorded.Load()
}
