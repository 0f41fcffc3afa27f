package distance

import "math"

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// SquaredNorm returns the dot product of v with itself.
func SquaredNorm(v []float32) float64 {
	return Dot(v, v)
}

// Norm returns the L2 norm (magnitude) of v.
func Norm(v []float32) float64 {
	return math.Sqrt(SquaredNorm(v))
}
