// Package embedding defines the fixed-length feature vector produced by the
// external embedding model and the validation every stored or compared vector
// must pass.
//
// The engine treats an embedding as opaque apart from three checks: all
// embeddings share one dimensionality, none has zero magnitude, and none holds
// NaN or Inf. A failed check is an input error (errors.Is(err, ErrInvalid)) and
// callers are expected to skip the offending item rather than abort.
//
// Hash gives the content address used to deduplicate repeated registrations.
package embedding
