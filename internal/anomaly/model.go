// Package anomaly provides isolation-based anomaly scoring over command
// feature vectors, with periodic retraining and atomic hot-swap of the
// active model.
package anomaly

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"lurecage/internal/schema"
)

// ErrInsufficientSamples is returned when a training run has fewer
// vectors than the configured minimum.
var ErrInsufficientSamples = errors.New("insufficient training samples")

// ForestConfig controls how isolation forests are fitted.
type ForestConfig struct {
	Trees     int   `yaml:"trees"`
	Subsample int   `yaml:"subsample"`
	Seed      int64 `yaml:"seed"`
}

// DefaultForestConfig returns the default forest parameters.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:     100,
		Subsample: 256,
		Seed:      42,
	}
}

// Model is an immutable trained isolation forest snapshot. Version
// numbers increase monotonically across retraining cycles; version 0 is
// reserved for "no model".
type Model struct {
	Version     uint64    `json:"version"`
	TrainedAt   time.Time `json:"trained_at"`
	SampleCount int       `json:"sample_count"`

	trees     []*treeNode
	pathNorm  float64 // c(subsample), the average path normalization term
	subsample int
}

// treeNode is one node of an isolation tree. Leaves have nil children
// and carry the number of samples that reached them.
type treeNode struct {
	splitDim int
	splitVal float64
	left     *treeNode
	right    *treeNode
	size     int
}

func (n *treeNode) leaf() bool { return n.left == nil }

// Fit trains a new model on the given vectors. Training is
// deterministic for a given (config, vectors, version) triple: the RNG
// is seeded from the configured seed and the version.
func Fit(cfg ForestConfig, vectors []schema.FeatureVector, version uint64) (*Model, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("fit: %w: got 0", ErrInsufficientSamples)
	}
	trees := cfg.Trees
	if trees <= 0 {
		trees = DefaultForestConfig().Trees
	}
	sub := cfg.Subsample
	if sub <= 0 {
		sub = DefaultForestConfig().Subsample
	}
	if sub > len(vectors) {
		sub = len(vectors)
	}

	rng := rand.New(rand.NewSource(cfg.Seed + int64(version)))
	maxDepth := int(math.Ceil(math.Log2(float64(sub)))) + 1

	m := &Model{
		Version:     version,
		TrainedAt:   time.Now().UTC(),
		SampleCount: len(vectors),
		trees:       make([]*treeNode, 0, trees),
		pathNorm:    avgPathLength(sub),
		subsample:   sub,
	}

	for i := 0; i < trees; i++ {
		sample := make([]schema.FeatureVector, 0, sub)
		for _, idx := range rng.Perm(len(vectors))[:sub] {
			sample = append(sample, vectors[idx])
		}
		m.trees = append(m.trees, buildTree(sample, 0, maxDepth, rng))
	}

	return m, nil
}

// buildTree recursively isolates the sample with random axis-aligned splits.
func buildTree(sample []schema.FeatureVector, depth, maxDepth int, rng *rand.Rand) *treeNode {
	if len(sample) <= 1 || depth >= maxDepth {
		return &treeNode{size: len(sample)}
	}

	// Pick a random dimension that still has spread; give up after a
	// bounded number of draws when the sample has collapsed to a point.
	var dim int
	var lo, hi float64
	found := false
	for attempt := 0; attempt < schema.VectorDim; attempt++ {
		dim = rng.Intn(schema.VectorDim)
		lo, hi = sample[0][dim], sample[0][dim]
		for _, v := range sample[1:] {
			if v[dim] < lo {
				lo = v[dim]
			}
			if v[dim] > hi {
				hi = v[dim]
			}
		}
		if hi > lo {
			found = true
			break
		}
	}
	if !found {
		return &treeNode{size: len(sample)}
	}

	split := lo + rng.Float64()*(hi-lo)

	var left, right []schema.FeatureVector
	for _, v := range sample {
		if v[dim] < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &treeNode{size: len(sample)}
	}

	return &treeNode{
		splitDim: dim,
		splitVal: split,
		left:     buildTree(left, depth+1, maxDepth, rng),
		right:    buildTree(right, depth+1, maxDepth, rng),
	}
}

// Score returns the anomaly score of a vector in [0,1]; higher means
// more easily isolated from the training population.
func (m *Model) Score(vec schema.FeatureVector) float64 {
	if len(m.trees) == 0 || m.pathNorm == 0 {
		return 0
	}
	var total float64
	for _, root := range m.trees {
		total += pathLength(root, vec, 0)
	}
	avg := total / float64(len(m.trees))
	score := math.Pow(2, -avg/m.pathNorm)
	return math.Max(0, math.Min(1, score))
}

func pathLength(n *treeNode, vec schema.FeatureVector, depth int) float64 {
	if n.leaf() {
		return float64(depth) + avgPathLength(n.size)
	}
	if vec[n.splitDim] < n.splitVal {
		return pathLength(n.left, vec, depth+1)
	}
	return pathLength(n.right, vec, depth+1)
}

const eulerGamma = 0.5772156649015329

// avgPathLength is c(n), the expected path length of an unsuccessful
// search in a binary search tree over n points.
func avgPathLength(n int) float64 {
	switch {
	case n > 2:
		f := float64(n)
		return 2*(math.Log(f-1)+eulerGamma) - 2*(f-1)/f
	case n == 2:
		return 1
	default:
		return 0
	}
}
