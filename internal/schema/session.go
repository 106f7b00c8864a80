// Package schema defines the canonical data model for lurecage.
// Every captured interaction is normalized to these structures before
// storage, alerting, and fan-out.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// VectorDim is the fixed dimensionality of command feature vectors.
const VectorDim = 14

// FeatureVector is a fixed-size numeric representation of a command.
type FeatureVector [VectorDim]float64

// ThreatLevel is the discretized severity bucket derived from an
// anomaly score.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "LOW"
	ThreatMedium   ThreatLevel = "MEDIUM"
	ThreatHigh     ThreatLevel = "HIGH"
	ThreatCritical ThreatLevel = "CRITICAL"
)

// Rank returns the ordering of a threat level (LOW < MEDIUM < HIGH < CRITICAL).
// Unknown levels rank below LOW.
func (t ThreatLevel) Rank() int {
	switch t {
	case ThreatLow:
		return 0
	case ThreatMedium:
		return 1
	case ThreatHigh:
		return 2
	case ThreatCritical:
		return 3
	}
	return -1
}

// IsValid checks if the threat level is a valid value.
func (t ThreatLevel) IsValid() bool {
	return t.Rank() >= 0
}

// ParseThreatLevel parses a threat level string, returning LOW for
// anything unrecognized.
func ParseThreatLevel(s string) ThreatLevel {
	t := ThreatLevel(s)
	if t.IsValid() {
		return t
	}
	return ThreatLow
}

// Exchange is one command/response pair within a session. An Exchange is
// complete when constructed: all fields, including the anomaly score and
// threat level, are computed before it becomes visible anywhere.
type Exchange struct {
	Command      string        `json:"command"`
	Response     string        `json:"response"`
	Timestamp    time.Time     `json:"timestamp"`
	Features     FeatureVector `json:"features"`
	Score        float64       `json:"score"`
	Level        ThreatLevel   `json:"level"`
	ModelVersion uint64        `json:"model_version"`
	Keywords     []string      `json:"keywords,omitempty"`
	Truncated    bool          `json:"truncated,omitempty"`
}

// Session is the full captured interaction of one inbound connection.
// Exchanges are ordered by non-decreasing timestamp.
type Session struct {
	ID         uuid.UUID  `json:"id"`
	SourceAddr string     `json:"source_addr"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Exchanges  []Exchange `json:"exchanges"`
}

// Closed reports whether the session has been finalized.
func (s *Session) Closed() bool {
	return s.EndedAt != nil
}

// Clone returns a deep copy safe to hand to readers while the original
// may still be appended to.
func (s *Session) Clone() *Session {
	cp := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	cp.Exchanges = make([]Exchange, len(s.Exchanges))
	copy(cp.Exchanges, s.Exchanges)
	return &cp
}

// EventKind identifies a store mutation published to live subscribers.
type EventKind string

const (
	EventSessionOpened    EventKind = "session_opened"
	EventExchangeAppended EventKind = "exchange_appended"
	EventSessionClosed    EventKind = "session_closed"
)

// Event is a store mutation event offered to every fan-out subscriber.
// Exchange is set only for EventExchangeAppended.
type Event struct {
	Kind       EventKind `json:"kind"`
	SessionID  uuid.UUID `json:"session_id"`
	SourceAddr string    `json:"source_addr"`
	Timestamp  time.Time `json:"timestamp"`
	Exchange   *Exchange `json:"exchange,omitempty"`
}
