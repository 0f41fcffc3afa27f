// Package metric computes similarity scores between embeddings.
package metric

import (
	"math"

	"github.com/hupe1980/catid/distance"
)

// CosineWithNorms returns dot(a, b) / (normA * normB), clamped to [-1, 1].
// Callers pass precomputed norms and have already validated both inputs;
// a zero norm yields NaN.
func CosineWithNorms(a, b []float32, normA, normB float64) float64 {
	sim := distance.Dot(a, b) / (normA * normB)

	// Rounding can push identical vectors a hair past 1.
	return math.Max(-1, math.Min(1, sim))
}
