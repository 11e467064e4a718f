package service

import (
	"math"

	"github.com/tessera-labs/tessera/internal/domain"
)

// maxMarginalRelevance greedily selects up to k hits from the pool, balancing
// similarity to the query against similarity to the hits already selected:
//
//	score(c) = lambda*sim(c,q) - (1-lambda)*max sim(c,s) over selected s
//
// Selection starts from the most query-similar candidate. lambda 1 reproduces
// the plain similarity ranking, lambda 0 maximizes diversity. Score ties go
// to the lower chunk id. A pool smaller than k is returned whole, ranked by
// the same rule. Returned hits keep their retrieval scores.
func maxMarginalRelevance(query []float32, pool []domain.Hit, k int, lambda float64) []domain.Hit {
	if k <= 0 || len(pool) == 0 {
		return []domain.Hit{}
	}
	if k > len(pool) {
		k = len(pool)
	}

	relevance := make([]float64, len(pool))
	for i, hit := range pool {
		relevance[i] = domain.Cosine(query, hit.Entry.Embedding)
	}

	picked := make([]bool, len(pool))
	selected := make([]domain.Hit, 0, k)

	first := -1
	for i := range pool {
		if first == -1 || relevance[i] > relevance[first] ||
			(relevance[i] == relevance[first] && pool[i].Entry.ChunkID < pool[first].Entry.ChunkID) {
			first = i
		}
	}
	picked[first] = true
	selected = append(selected, pool[first])

	for len(selected) < k {
		best := -1
		bestScore := 0.0
		for i, hit := range pool {
			if picked[i] {
				continue
			}
			penalty := math.Inf(-1)
			for _, chosen := range selected {
				if sim := domain.Cosine(hit.Entry.Embedding, chosen.Entry.Embedding); sim > penalty {
					penalty = sim
				}
			}
			score := lambda*relevance[i] - (1-lambda)*penalty
			if best == -1 || score > bestScore ||
				(score == bestScore && hit.Entry.ChunkID < pool[best].Entry.ChunkID) {
				best = i
				bestScore = score
			}
		}
		picked[best] = true
		selected = append(selected, pool[best])
	}

	return selected
}
