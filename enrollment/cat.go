package enrollment

import (
	"slices"

	"github.com/hupe1980/catid/embedding"
)

// Reference is one stored embedding of a cat.
type Reference struct {
	Locator   string
	Embedding embedding.Embedding
	Hash      string
}

// Cat is an enrolled cat. Embeddings holds only references that could be
// loaded; the vectors are shared with the store and must not be modified.
type Cat struct {
	UID            string
	Name           string
	Embeddings     []Reference
	TrainingImages []string
	Profile        string
}

// Matchable reports whether the cat has at least one reference.
func (c Cat) Matchable() bool { return len(c.Embeddings) > 0 }

// Vectors returns the reference vectors in order.
func (c Cat) Vectors() []embedding.Embedding {
	out := make([]embedding.Embedding, len(c.Embeddings))
	for i, r := range c.Embeddings {
		out[i] = r.Embedding
	}
	return out
}

func (c Cat) clone() Cat {
	c.Embeddings = slices.Clone(c.Embeddings)
	c.TrainingImages = slices.Clone(c.TrainingImages)
	return c
}
