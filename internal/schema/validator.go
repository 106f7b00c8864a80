package schema

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// AnalyzeRequest is the ad hoc scoring request accepted by the query
// interface. It runs the extractor and scorer without creating a session.
type AnalyzeRequest struct {
	Command string `json:"command" validate:"required,min=1,max=65536"`
}

// AnalyzeResult is the response to an AnalyzeRequest. ModelTrained is
// false when no model has been published yet; the score is then the
// documented default of 0, never a fabricated value.
type AnalyzeResult struct {
	Command      string        `json:"command"`
	Features     FeatureVector `json:"features"`
	Score        float64       `json:"score"`
	Level        ThreatLevel   `json:"level"`
	Keywords     []string      `json:"keywords,omitempty"`
	ModelTrained bool          `json:"model_trained"`
	ModelVersion uint64        `json:"model_version"`
	AnalyzedAt   time.Time     `json:"analyzed_at"`
}

// Validator validates externally supplied requests against the schema.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a request validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// ValidateAnalyze validates an analyze request.
func (v *Validator) ValidateAnalyze(req *AnalyzeRequest) error {
	if req == nil {
		return fmt.Errorf("analyze request is nil")
	}
	if err := v.validate.Struct(req); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return fmt.Errorf("invalid field %q: failed %q constraint", errs[0].Field(), errs[0].Tag())
		}
		return err
	}
	return nil
}
