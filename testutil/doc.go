// Package testutil provides test fixtures for catid.
//
// This package is intended for use in tests only. It generates seeded random
// embeddings and builds vectors with an exact, known cosine similarity to a
// reference so matcher thresholds can be exercised precisely.
//
//	rng := testutil.NewRNG(42)
//	ref := testutil.Axis(512, 0)
//	q := testutil.AtCosine(ref, testutil.Axis(512, 1), 0.95)
package testutil
