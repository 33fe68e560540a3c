// Package vector provides the similarity primitives behind semantic search:
// cosine similarity over float32 vectors and exact top-k ranking of scored
// candidates.
package vector

import (
	"math"
	"sort"
)

// CosineSimilarity returns the cosine of the angle between a and b,
// dot(a,b) / (|a|·|b|), in [-1, 1] for nonzero vectors.
//
// If either vector has zero magnitude the result is 0. The caller is
// responsible for matching dimensions; when they disagree the dot product
// covers only the shorter length, while each magnitude covers its whole
// vector.
func CosineSimilarity(a, b []float32) float32 {
	magA := magnitude(a)
	magB := magnitude(b)

	if magA == 0 || magB == 0 {
		return 0
	}

	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot float32
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}

	return dot / (magA * magB)
}

// magnitude returns the euclidean length of v in 32-bit float.
func magnitude(v []float32) float32 {
	var sum float32
	for _, e := range v {
		sum += e * e
	}

	return float32(math.Sqrt(float64(sum)))
}

// Candidate pairs a key with its embedding vector.
type Candidate[K any] struct {
	Key    K
	Vector []float32
}

// Scored is a ranked search result.
type Scored[K any] struct {
	Key   K
	Score float32
}

// Search scores every candidate against query by cosine similarity and
// returns the topK best, sorted by descending score. Ties keep input
// order, so results are deterministic. topK = 0 yields an empty slice;
// topK beyond the candidate count yields all candidates.
func Search[K any](query []float32, candidates []Candidate[K], topK int) []Scored[K] {
	scores := make([]Scored[K], 0, len(candidates))
	for _, c := range candidates {
		scores = append(scores, Scored[K]{Key: c.Key, Score: CosineSimilarity(query, c.Vector)})
	}

	// Stable sort keeps input order for equal scores.
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})

	if topK < 0 {
		topK = 0
	}

	if topK < len(scores) {
		scores = scores[:topK]
	}

	return scores
}
