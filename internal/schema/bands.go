package schema

import "fmt"

// Bands maps anomaly scores onto threat levels via three ascending
// thresholds. The bands are [0,Medium)=LOW, [Medium,High)=MEDIUM,
// [High,Critical)=HIGH, [Critical,1]=CRITICAL, so any valid Bands value
// covers [0,1] with no gaps and is monotonic by construction.
type Bands struct {
	Medium   float64 `yaml:"medium" json:"medium"`
	High     float64 `yaml:"high" json:"high"`
	Critical float64 `yaml:"critical" json:"critical"`
}

// DefaultBands returns the default score thresholds.
func DefaultBands() Bands {
	return Bands{Medium: 0.4, High: 0.6, Critical: 0.8}
}

// Validate checks that the thresholds are strictly ascending within (0,1].
func (b Bands) Validate() error {
	if b.Medium <= 0 || b.Medium >= b.High {
		return fmt.Errorf("bands: medium threshold %v must satisfy 0 < medium < high", b.Medium)
	}
	if b.High >= b.Critical {
		return fmt.Errorf("bands: high threshold %v must satisfy medium < high < critical", b.High)
	}
	if b.Critical > 1 {
		return fmt.Errorf("bands: critical threshold %v must not exceed 1", b.Critical)
	}
	return nil
}

// Level maps a score in [0,1] to its threat level. Scores outside the
// range are clamped.
func (b Bands) Level(score float64) ThreatLevel {
	switch {
	case score >= b.Critical:
		return ThreatCritical
	case score >= b.High:
		return ThreatHigh
	case score >= b.Medium:
		return ThreatMedium
	default:
		return ThreatLow
	}
}
