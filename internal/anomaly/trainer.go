package anomaly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lurecage/internal/schema"
)

// VectorSource supplies accumulated training vectors. Implemented by
// the session store.
type VectorSource interface {
	TrainingVectors(since time.Time) []schema.FeatureVector
}

// TrainerConfig controls the retraining cycle.
type TrainerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	MinSamples int           `yaml:"min_samples"`
	Window     time.Duration `yaml:"window"` // 0 = everything since the previous run
	Forest     ForestConfig  `yaml:"forest"`
}

// DefaultTrainerConfig returns the default retraining parameters.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Interval:   time.Hour,
		MinSamples: 10,
		Forest:     DefaultForestConfig(),
	}
}

// Trainer periodically refits a model from accumulated vectors and
// publishes it through the Scorer. A failed run leaves the previous
// model active.
type Trainer struct {
	cfg    TrainerConfig
	scorer *Scorer
	source VectorSource

	version   uint64
	lastTrain time.Time
	runs      int
	failures  int
}

// NewTrainer creates a trainer feeding the given scorer.
func NewTrainer(cfg TrainerConfig, scorer *Scorer, source VectorSource) *Trainer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTrainerConfig().Interval
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultTrainerConfig().MinSamples
	}
	return &Trainer{cfg: cfg, scorer: scorer, source: source}
}

// Run retrains on the configured interval until the context is
// cancelled. A run in progress completes before Run returns.
func (t *Trainer) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	slog.Info("trainer started",
		"interval", t.cfg.Interval,
		"min_samples", t.cfg.MinSamples,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("trainer stopped", "runs", t.runs, "failures", t.failures)
			return
		case <-ticker.C:
			if err := t.TrainOnce(); err != nil {
				if errors.Is(err, ErrInsufficientSamples) {
					slog.Debug("retraining skipped", "reason", err)
				} else {
					slog.Error("retraining failed", "error", err)
				}
			}
		}
	}
}

// TrainOnce collects vectors accumulated since the previous successful
// run (or within the rolling window), fits a new model, and atomically
// swaps it in. Errors never disturb the active model.
func (t *Trainer) TrainOnce() error {
	t.runs++

	since := t.lastTrain
	if t.cfg.Window > 0 {
		since = time.Now().Add(-t.cfg.Window)
	}

	vectors := t.source.TrainingVectors(since)
	if len(vectors) < t.cfg.MinSamples {
		t.failures++
		return fmt.Errorf("%w: got %d, need %d", ErrInsufficientSamples, len(vectors), t.cfg.MinSamples)
	}

	model, err := Fit(t.cfg.Forest, vectors, t.version+1)
	if err != nil {
		t.failures++
		return err
	}

	t.version = model.Version
	t.lastTrain = model.TrainedAt
	t.scorer.Swap(model)

	slog.Info("model published",
		"version", model.Version,
		"samples", model.SampleCount,
		"trees", len(model.trees),
	)
	return nil
}
