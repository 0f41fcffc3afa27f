package testutil

import (
	"math"
	"math/rand"
	"sync"

	"github.com/hupe1980/catid/embedding"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)), // nolint gosec
		seed: seed,
	}
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// UnitVector generates a single L2-normalized random vector.
// Gaussian components give a uniform direction on the hypersphere.
func (r *RNG) UnitVector(dimensions int) embedding.Embedding {
	r.mu.Lock()
	defer r.mu.Unlock()

	vec := make(embedding.Embedding, dimensions)
	var norm float64
	for j := range vec {
		v := r.rand.NormFloat64()
		vec[j] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		vec[0], norm = 1, 1
	}

	inv := 1.0 / math.Sqrt(norm)
	for j := range vec {
		vec[j] = float32(float64(vec[j]) * inv)
	}
	return vec
}

// UnitVectors generates num L2-normalized random vectors.
func (r *RNG) UnitVectors(num, dimensions int) []embedding.Embedding {
	vectors := make([]embedding.Embedding, num)
	for i := range vectors {
		vectors[i] = r.UnitVector(dimensions)
	}
	return vectors
}

// Axis returns the unit vector along axis i.
func Axis(dimensions, i int) embedding.Embedding {
	vec := make(embedding.Embedding, dimensions)
	vec[i] = 1
	return vec
}

// AtCosine returns the unit vector cos*base + sin*ortho. base and ortho must be
// orthogonal unit vectors; the result then has cosine similarity cos to base.
func AtCosine(base, ortho embedding.Embedding, cos float64) embedding.Embedding {
	sin := math.Sqrt(1 - cos*cos)
	vec := make(embedding.Embedding, len(base))
	for i := range vec {
		vec[i] = float32(cos*float64(base[i]) + sin*float64(ortho[i]))
	}
	return vec
}

// Scaled returns v multiplied by s.
func Scaled(v embedding.Embedding, s float32) embedding.Embedding {
	out := make(embedding.Embedding, len(v))
	for i := range v {
		out[i] = v[i] * s
	}
	return out
}
