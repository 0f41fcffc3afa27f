package embedding

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"slices"
)

// DefaultDimension is the output size of the reference embedding model.
const DefaultDimension = 512

// Embedding is a fixed-length feature vector describing visual identity.
type Embedding []float32

var (
	// ErrInvalid is the root of every embedding input error.
	ErrInvalid = errors.New("invalid embedding")

	// ErrEmpty is returned for a zero-length embedding.
	ErrEmpty = fmt.Errorf("%w: empty vector", ErrInvalid)

	// ErrZeroMagnitude is returned for a vector whose L2 norm is zero.
	ErrZeroMagnitude = fmt.Errorf("%w: zero magnitude", ErrInvalid)

	// ErrNotFinite is returned when a component is NaN or Inf.
	ErrNotFinite = fmt.Errorf("%w: non-finite component", ErrInvalid)
)

// ErrDimensionMismatch indicates an embedding whose length differs from the
// configured dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Is reports ErrDimensionMismatch as an ErrInvalid input error.
func (e *ErrDimensionMismatch) Is(target error) bool { return target == ErrInvalid }

// Validate checks e against dim. A dim of 0 skips the length check.
func (e Embedding) Validate(dim int) error {
	if len(e) == 0 {
		return ErrEmpty
	}
	if dim > 0 && len(e) != dim {
		return &ErrDimensionMismatch{Expected: dim, Actual: len(e)}
	}
	var sum float64
	for _, x := range e {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrNotFinite
		}
		sum += f * f
	}
	if sum == 0 {
		return ErrZeroMagnitude
	}
	return nil
}

// Dim returns the dimensionality of e.
func (e Embedding) Dim() int { return len(e) }

// Clone returns a copy of e that shares no memory with it.
func (e Embedding) Clone() Embedding { return slices.Clone(e) }

// Bytes returns the little-endian IEEE-754 encoding of e.
func (e Embedding) Bytes() []byte {
	buf := make([]byte, 4*len(e))
	for i, x := range e {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// Hash returns the hex SHA-256 of e's little-endian bytes. Two embeddings with
// identical components always hash equal.
func (e Embedding) Hash() string {
	sum := sha256.Sum256(e.Bytes())
	return hex.EncodeToString(sum[:])
}

// Equal reports whether a and b hold identical components.
func Equal(a, b Embedding) bool { return slices.Equal(a, b) }
