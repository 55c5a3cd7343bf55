package vectorstore

import (
	"slices"

	"nfrag/internal/domain"
)

// Storage persists vectors and supports similarity search.
type Storage = domain.VectorStore

// Dot is the cosine similarity of two L2-normalised vectors.
func Dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// TopK sorts results by descending score, keeping insertion order on ties,
// and truncates to k.
func TopK(results []domain.SearchResult, k int) []domain.SearchResult {
	slices.SortStableFunc(results, func(a, b domain.SearchResult) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if k < len(results) {
		results = results[:k]
	}
	return results
}
