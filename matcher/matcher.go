package matcher

import (
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/catid/distance"
	"github.com/hupe1980/catid/embedding"
	"github.com/hupe1980/catid/metric"
)

// DefaultThreshold is the minimum similarity accepted as a match.
const DefaultThreshold = 0.8

// ErrInvalidThreshold is returned for thresholds outside [-1, 1].
var ErrInvalidThreshold = errors.New("threshold must be within [-1, 1]")

// Result is the outcome of one identification.
type Result struct {
	// CatUID is the best candidate when Matched, empty otherwise.
	CatUID string
	// Score is the best candidate's similarity, reported even when rejected.
	Score float64
	// Matched reports whether Score reached the threshold.
	Matched bool
}

// Matcher identifies embeddings against a bank using a fixed threshold.
type Matcher struct {
	threshold float64
}

// New creates a Matcher with the given threshold.
func New(threshold float64) (*Matcher, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	return &Matcher{threshold: threshold}, nil
}

// ValidateThreshold checks that t is a usable cosine threshold.
func ValidateThreshold(t float64) error {
	if math.IsNaN(t) || t < -1 || t > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, t)
	}
	return nil
}

// Threshold returns the configured threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Identify runs Identify with the matcher's threshold.
func (m *Matcher) Identify(query embedding.Embedding, bank Bank) (Result, error) {
	return Identify(query, bank, m.threshold)
}

// Explain runs Explain against bank.
func (m *Matcher) Explain(query embedding.Embedding, bank Bank) ([]CatScore, error) {
	return Explain(query, bank)
}

// Identify returns the best-scoring cat of bank for query. Cats without
// references are skipped. An empty bank yields an unmatched zero score.
func Identify(query embedding.Embedding, bank Bank, threshold float64) (Result, error) {
	if err := query.Validate(0); err != nil {
		return Result{}, err
	}
	qNorm := distance.Norm(query)

	best := math.Inf(-1)
	bestUID := ""
	for _, entry := range bank {
		if len(entry.Embeddings) == 0 {
			continue
		}
		score, err := maxSimilarity(query, qNorm, entry.Embeddings)
		if err != nil {
			return Result{}, fmt.Errorf("cat %s: %w", entry.CatUID, err)
		}
		if score > best {
			best = score
			bestUID = entry.CatUID
		}
	}

	if bestUID == "" {
		return Result{}, nil
	}
	if best >= threshold {
		return Result{CatUID: bestUID, Score: best, Matched: true}, nil
	}
	return Result{Score: best}, nil
}

func maxSimilarity(query embedding.Embedding, qNorm float64, refs []embedding.Embedding) (float64, error) {
	best := math.Inf(-1)
	for _, ref := range refs {
		sim, err := similarity(query, qNorm, ref)
		if err != nil {
			return 0, err
		}
		if sim > best {
			best = sim
		}
	}
	return best, nil
}

func similarity(query embedding.Embedding, qNorm float64, ref embedding.Embedding) (float64, error) {
	if err := ref.Validate(len(query)); err != nil {
		return 0, err
	}
	return metric.CosineWithNorms(query, ref, qNorm, distance.Norm(ref)), nil
}
