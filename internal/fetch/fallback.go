package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Fallback downgrades a source to a single full-object read the first
// time the backend reports ErrRangeNotSupported. After that all reads
// are served from the buffered object and no further network requests
// are made.
type Fallback struct {
	inner Fetcher

	mu       sync.Mutex
	full     []byte
	buffered bool
}

func WithFallback(inner Fetcher) *Fallback {
	return &Fallback{inner: inner}
}

func (f *Fallback) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	if err := checkRange(offset, length); err != nil {
		return nil, err
	}

	f.mu.Lock()
	buffered := f.buffered
	f.mu.Unlock()

	if !buffered {
		data, err := f.inner.ReadRange(ctx, offset, length)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrRangeNotSupported) {
			return nil, err
		}
		if err := f.buffer(ctx); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if offset+length > int64(len(f.full)) {
		return nil, fmt.Errorf("range [%d, %d) beyond object size %d", offset, offset+length, len(f.full))
	}
	out := make([]byte, length)
	copy(out, f.full[offset:offset+length])
	return out, nil
}

func (f *Fallback) Size(ctx context.Context) (int64, error) {
	f.mu.Lock()
	if f.buffered {
		size := int64(len(f.full))
		f.mu.Unlock()
		return size, nil
	}
	f.mu.Unlock()
	return f.inner.Size(ctx)
}

func (f *Fallback) buffer(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buffered {
		return nil
	}
	all, ok := f.inner.(AllReader)
	if !ok {
		return fmt.Errorf("source does not support ranges and cannot be read whole: %w", ErrRangeNotSupported)
	}
	data, err := all.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("full-object fallback: %w", err)
	}
	f.full = data
	f.buffered = true
	return nil
}
