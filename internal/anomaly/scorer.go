package anomaly

import (
	"sync/atomic"
	"time"

	"lurecage/internal/schema"
)

// Scorer evaluates feature vectors against the active model snapshot.
// The model reference is swapped atomically by the trainer; a scoring
// call that acquired a snapshot completes entirely on that snapshot.
//
// With no trained model the Scorer returns score 0 and model version 0,
// which band-maps to LOW. It never substitutes a fabricated score.
type Scorer struct {
	active atomic.Pointer[Model]
	bands  schema.Bands
}

// NewScorer creates a scorer with no active model.
func NewScorer(bands schema.Bands) *Scorer {
	return &Scorer{bands: bands}
}

// Score evaluates a vector against the current snapshot, returning the
// anomaly score in [0,1] and the version of the model that produced it.
func (s *Scorer) Score(vec schema.FeatureVector) (float64, uint64) {
	m := s.active.Load()
	if m == nil {
		return 0, 0
	}
	return m.Score(vec), m.Version
}

// Classify maps a score to its threat level using the configured bands.
func (s *Scorer) Classify(score float64) schema.ThreatLevel {
	return s.bands.Level(score)
}

// Bands returns the configured threshold bands.
func (s *Scorer) Bands() schema.Bands {
	return s.bands
}

// Swap publishes a new model snapshot. In-flight Score calls keep the
// snapshot they already loaded.
func (s *Scorer) Swap(m *Model) {
	s.active.Store(m)
}

// ModelInfo describes the active model for status surfaces.
type ModelInfo struct {
	Trained     bool      `json:"trained"`
	Version     uint64    `json:"version"`
	TrainedAt   time.Time `json:"trained_at,omitzero"`
	SampleCount int       `json:"sample_count"`
}

// Info reports the active model, or Trained=false when none exists.
func (s *Scorer) Info() ModelInfo {
	m := s.active.Load()
	if m == nil {
		return ModelInfo{}
	}
	return ModelInfo{
		Trained:     true,
		Version:     m.Version,
		TrainedAt:   m.TrainedAt,
		SampleCount: m.SampleCount,
	}
}
