// Package codec centralizes the encodings used by the enrollment store.
//
// Two formats matter:
//   - the per-scope metadata document, encoded with a Codec (JSON by default);
//   - reference embeddings, each stored as a NumPy .npy blob so enrollments
//     written by existing tooling remain readable and vice versa.
//
// Codec selection is a compatibility boundary: every Codec must produce and
// accept plain JSON, since the metadata document is shared with other tools.
package codec

import "fmt"

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
//
// Configuration refers to codecs by name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json", "":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// MustMarshal is a helper for tests.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
