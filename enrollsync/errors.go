package enrollsync

import (
	"errors"
	"fmt"
)

// ErrRemoteFetch matches every RemoteFetchError and listing failure.
var ErrRemoteFetch = errors.New("remote fetch failed")

// RemoteFetchError reports an object that could not be downloaded.
type RemoteFetchError struct {
	Key string
	Err error
}

func (e *RemoteFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *RemoteFetchError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRemoteFetch) hold.
func (e *RemoteFetchError) Is(target error) bool { return target == ErrRemoteFetch }
