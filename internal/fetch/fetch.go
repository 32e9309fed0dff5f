package fetch

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the source does not exist at its location.
	ErrNotFound = errors.New("source not found")

	// ErrRangeNotSupported means the backend cannot serve partial reads.
	// The caller is expected to fall back to a single full-object read;
	// this error is never retried.
	ErrRangeNotSupported = errors.New("range requests not supported")

	// ErrTransient marks a transport failure worth retrying (timeout,
	// connection reset, 5xx). Backends wrap it so the retry layer can
	// recognize it with errors.Is.
	ErrTransient = errors.New("transient transport failure")
)

// Fetcher is the transport capability for one byte-addressable source.
// It performs no caching; RangeCache sits on top of it.
type Fetcher interface {
	// ReadRange returns exactly length bytes starting at offset.
	ReadRange(ctx context.Context, offset, length int64) ([]byte, error)

	// Size returns the total logical length of the source. Backends
	// probe once and cache the answer for their own lifetime.
	Size(ctx context.Context) (int64, error)
}

// AllReader is implemented by backends that can read the entire object
// in one request, used for the one-time fallback when ranges are not
// supported.
type AllReader interface {
	ReadAll(ctx context.Context) ([]byte, error)
}

func checkRange(offset, length int64) error {
	if offset < 0 {
		return fmt.Errorf("negative offset %d", offset)
	}
	if length <= 0 {
		return fmt.Errorf("non-positive length %d", length)
	}
	return nil
}
