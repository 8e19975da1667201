package embedding

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrDimensionMismatch = errors.New("embedding: dimension mismatch")
	ErrEmptyVector       = errors.New("embedding: empty vector")
	ErrZeroVector        = errors.New("embedding: zero-magnitude vector")
)

// CosineSimilarity computes dot(a,b) / (|a|·|b|), clamped to [-1, 1].
// It returns ErrZeroVector if either vector has zero magnitude.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, ErrEmptyVector
	}
	var d, na2, nb2 float64
	for i := range a {
		va, vb := float64(a[i]), float64(b[i])
		d += va * vb
		na2 += va * va
		nb2 += vb * vb
	}
	if na2 == 0 || nb2 == 0 {
		return 0, ErrZeroVector
	}
	// sqrt(x*x) == x in IEEE arithmetic, so identical vectors score exactly 1.
	return clamp(d / math.Sqrt(na2*nb2)), nil
}

// Centroid returns the element-wise mean of a and b.
func Centroid(a, b []float32) ([]float32, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = (a[i] + b[i]) / 2
	}
	return out, nil
}

// Neighbor is a Nearest result.
type Neighbor struct {
	Word       string
	Similarity float64
}

// Nearest scans every vocabulary entry not in exclude and returns the one
// with the highest cosine similarity to target. The first entry in load
// order wins ties. It reports false when target is empty, has zero
// magnitude or the wrong dimension, or when nothing is left to compare.
func (s *Store) Nearest(target []float32, exclude ...string) (Neighbor, bool) {
	if len(target) == 0 || len(target) != s.dim {
		return Neighbor{}, false
	}
	tn := norm(target)
	if tn == 0 {
		return Neighbor{}, false
	}

	skip := make(map[int]struct{}, len(exclude))
	for _, w := range exclude {
		if i, ok := s.index[w]; ok {
			skip[i] = struct{}{}
		}
	}

	best := -1
	bestSim := math.Inf(-1)
	for i, v := range s.vectors {
		if _, ok := skip[i]; ok {
			continue
		}
		if s.norms[i] == 0 {
			continue
		}
		sim := dot(target, v) / (tn * s.norms[i])
		if sim > bestSim {
			best, bestSim = i, sim
		}
	}
	if best < 0 {
		return Neighbor{}, false
	}
	return Neighbor{Word: s.words[best], Similarity: clamp(bestSim)}, true
}

func clamp(x float64) float64 {
	switch {
	case x > 1:
		return 1
	case x < -1:
		return -1
	}
	return x
}
