package matcher

import (
	"fmt"
	"slices"

	"github.com/hupe1980/catid/distance"
	"github.com/hupe1980/catid/embedding"
)

// CatScore summarizes how a query compares with one cat's references.
type CatScore struct {
	CatUID string
	Max    float64
	Mean   float64
	Refs   int
}

// Explain scores query against every matchable cat in bank, best first. Ties
// keep bank order. Mean is diagnostic only; decisions use Max.
func Explain(query embedding.Embedding, bank Bank) ([]CatScore, error) {
	if err := query.Validate(0); err != nil {
		return nil, err
	}
	qNorm := distance.Norm(query)

	scores := make([]CatScore, 0, len(bank))
	for _, entry := range bank {
		if len(entry.Embeddings) == 0 {
			continue
		}
		cs := CatScore{CatUID: entry.CatUID, Refs: len(entry.Embeddings)}
		var sum float64
		for i, ref := range entry.Embeddings {
			sim, err := similarity(query, qNorm, ref)
			if err != nil {
				return nil, fmt.Errorf("cat %s: %w", entry.CatUID, err)
			}
			if i == 0 || sim > cs.Max {
				cs.Max = sim
			}
			sum += sim
		}
		cs.Mean = sum / float64(len(entry.Embeddings))
		scores = append(scores, cs)
	}

	slices.SortStableFunc(scores, func(a, b CatScore) int {
		switch {
		case a.Max > b.Max:
			return -1
		case a.Max < b.Max:
			return 1
		default:
			return 0
		}
	})
	return scores, nil
}
