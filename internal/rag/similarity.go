// Package rag retrieves scored exemplar essays to ground the evaluation
// prompt. It ranks the corpus by cosine similarity over stored embeddings
// and falls back to exact topic matching when vectors are unavailable.
package rag

import (
	"fmt"
	"math"
	"sort"

	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
)

// CosineSimilarity returns the cosine of the angle between two vectors in
// [-1, 1]. Vectors of different dimensions are an error; a zero-magnitude
// vector yields 0 rather than NaN.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("cosine: dimension mismatch %d != %d: %w", len(a), len(b), domain.ErrInvalidArgument)
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}

// RankBySimilarity scores each exemplar against the query vector and
// returns the top k at or above minSimilarity, best first. Exemplars with
// missing or mismatched embeddings are skipped, not fatal.
func RankBySimilarity(query []float32, exemplars []domain.Exemplar, k int, minSimilarity float64) []domain.Exemplar {
	ranked := make([]domain.Exemplar, 0, len(exemplars))
	for _, e := range exemplars {
		if len(e.Embedding) == 0 {
			continue
		}
		sim, err := CosineSimilarity(query, e.Embedding)
		if err != nil || sim < minSimilarity {
			continue
		}
		e.Similarity = sim
		ranked = append(ranked, e)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Similarity > ranked[j].Similarity })
	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}
