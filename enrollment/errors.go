package enrollment

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a scope has no document, a cat is absent,
	// or no scope holds a matchable cat.
	ErrNotFound = errors.New("enrollment: not found")

	// ErrInvalidArgument is returned for malformed user, device or cat ids.
	ErrInvalidArgument = errors.New("enrollment: invalid argument")
)

// StoreIOError reports a failed read or write of enrollment storage. The
// previously committed state is left intact.
type StoreIOError struct {
	Op   string // load, decode, write, commit, lock
	Path string
	Err  error
}

func (e *StoreIOError) Error() string {
	return fmt.Sprintf("enrollment: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreIOError) Unwrap() error { return e.Err }

func ioError(op, path string, err error) error {
	return &StoreIOError{Op: op, Path: path, Err: err}
}
