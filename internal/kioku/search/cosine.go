// Package search answers nearest-neighbour queries over message embeddings
// by cosine similarity.
package search

import (
	"math"
	"sort"
)

// Cosine returns the cosine similarity of a and b. By convention it is 0
// when either vector is all zeros, and also when the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Distance is the cosine distance 1 - Cosine(a, b). A zero vector is at
// distance 1 from everything.
func Distance(a, b []float32) float64 {
	return 1 - Cosine(a, b)
}

// Hit is one index match.
type Hit struct {
	MessageID int64
	Score     float64
}

// ranker accumulates candidates and keeps those scoring above threshold.
// Candidates must be offered in storage order so that ties keep it.
type ranker struct {
	threshold float64
	hits      []Hit
}

func (r *ranker) offer(id int64, score float64) {
	if score > r.threshold {
		r.hits = append(r.hits, Hit{MessageID: id, Score: score})
	}
}

// top returns at most limit hits by descending score.
func (r *ranker) top(limit int) []Hit {
	sort.SliceStable(r.hits, func(i, j int) bool { return r.hits[i].Score > r.hits[j].Score })
	if len(r.hits) > limit {
		r.hits = r.hits[:limit]
	}
	return r.hits
}
