package tensor

import (
	"math"
	"math/rand/v2"
)

// NormEpsilon is the norm below which a vector is treated as zero.
const NormEpsilon = 1e-8

// CosineSimilarity returns a·b / (|a||b|), or 0 when either norm is below
// NormEpsilon or the lengths differ.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	na, nb := norm(a), norm(b)
	if na < NormEpsilon || nb < NormEpsilon {
		return 0
	}
	return dot(a, b) / (na * nb)
}

// EuclideanDistance returns |a - b|. Vectors must have equal length.
func EuclideanDistance(a, b []float32) float32 {
	var s float64
	for i := range a {
		d := float64(a[i] - b[i])
		s += d * d
	}
	return float32(math.Sqrt(s))
}

// MeanOf averages equally sized vectors. It returns nil for no input.
func MeanOf(vectors ...[]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float32, len(vectors[0]))
	for _, v := range vectors {
		for i := range out {
			out[i] += v[i]
		}
	}
	inv := 1 / float32(len(vectors))
	for i := range out {
		out[i] *= inv
	}
	return out
}

// NewRand returns a deterministic generator for the given seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func dot(a, b []float32) float32 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return float32(s)
}

func norm(xs []float32) float32 {
	var s float64
	for _, v := range xs {
		s += float64(v) * float64(v)
	}
	return float32(math.Sqrt(s))
}
