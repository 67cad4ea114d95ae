// Package vecmath provides the small amount of dense-vector arithmetic the
// recommendation engine needs.
package vecmath

import (
	"math"

	"golang.org/x/exp/constraints"
)

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// Mismatched lengths, empty vectors and zero-magnitude vectors all yield 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return Clamp(sim, -1, 1)
}

// Norm returns the L2 norm of v.
func Norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Normalize scales v in place to unit length. Zero vectors are left unchanged.
func Normalize(v []float64) {
	n := Norm(v)
	if n == 0 {
		return
	}
	for i := range v {
		v[i] /= n
	}
}

// ToFloat32 converts v for storage backends that only accept float32 vectors.
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// Clamp bounds v to [lo, hi].
func Clamp[T constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
