package catid

import (
	"errors"
	"fmt"

	"github.com/hupe1980/catid/embedding"
	"github.com/hupe1980/catid/enrollment"
	"github.com/hupe1980/catid/enrollsync"
	"github.com/hupe1980/catid/matcher"
)

var (
	// ErrInput is returned for unusable input: bad ids, embeddings of the
	// wrong length, zero or non-finite vectors, undecodable images.
	ErrInput = errors.New("invalid input")

	// ErrNotFound is returned when a user, device or cat has no enrollment.
	ErrNotFound = errors.New("not found")

	// ErrStoreIO is returned when the enrollment store could not be read or
	// written. Committed data is left intact.
	ErrStoreIO = errors.New("enrollment store i/o failed")

	// ErrRemoteFetch is returned when remote storage could not be listed or
	// read.
	ErrRemoteFetch = errors.New("remote fetch failed")

	// ErrInvalidConfig is returned by Open and Config.Validate.
	ErrInvalidConfig = errors.New("invalid configuration")
)

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, enrollment.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var ioErr *enrollment.StoreIOError
	if errors.As(err, &ioErr) {
		return fmt.Errorf("%w: %w", ErrStoreIO, err)
	}
	if errors.Is(err, enrollsync.ErrRemoteFetch) {
		return fmt.Errorf("%w: %w", ErrRemoteFetch, err)
	}
	if errors.Is(err, embedding.ErrInvalid) ||
		errors.Is(err, enrollment.ErrInvalidArgument) ||
		errors.Is(err, matcher.ErrInvalidThreshold) {
		return fmt.Errorf("%w: %w", ErrInput, err)
	}

	return err
}
