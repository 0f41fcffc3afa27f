// Package distance provides the vector kernels used by similarity matching.
//
// Kernels operate on float32 vectors but accumulate in float64, so results are
// reproducible regardless of vector length and summation order does not drift
// between calls on the same inputs.
//
// # Usage
//
//	dot := distance.Dot(a, b)
//	norm := distance.Norm(v)
package distance
