package testutil

import (
	"math"
	"testing"

	"github.com/hupe1980/catid/distance"
	"github.com/hupe1980/catid/metric"
	"github.com/stretchr/testify/assert"
)

func TestUnitVectors(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.UnitVectors(8, 32)

	assert.Equal(t, 8, len(v))
	assert.Equal(t, 32, len(v[0]))

	for _, vec := range v {
		var sum float64
		for _, x := range vec {
			sum += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
	}
}

func TestRNGDeterministic(t *testing.T) {
	a := NewRNG(7).UnitVector(16)
	b := NewRNG(7).UnitVector(16)
	assert.Equal(t, a, b)
}

func TestAtCosine(t *testing.T) {
	base := Axis(8, 0)
	ortho := Axis(8, 1)

	for _, c := range []float64{0.95, 0.8, 0.5, 0} {
		v := AtCosine(base, ortho, c)
		sim := metric.CosineWithNorms(base, v, distance.Norm(base), distance.Norm(v))
		assert.InDelta(t, c, sim, 1e-6)
	}
}
