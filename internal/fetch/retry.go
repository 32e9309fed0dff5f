package fetch

import (
	"context"
	"errors"
	"time"
)

// Retry wraps a fetcher with bounded retries for transient transport
// failures. ErrRangeNotSupported and ErrNotFound pass through untouched.
type Retry struct {
	inner      Fetcher
	maxRetries int
	backoff    time.Duration
}

func WithRetry(inner Fetcher, maxRetries int, backoff time.Duration) *Retry {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &Retry{inner: inner, maxRetries: maxRetries, backoff: backoff}
}

func (r *Retry) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	var data []byte
	err := r.attempt(ctx, func() error {
		var innerErr error
		data, innerErr = r.inner.ReadRange(ctx, offset, length)
		return innerErr
	})
	return data, err
}

func (r *Retry) Size(ctx context.Context) (int64, error) {
	var size int64
	err := r.attempt(ctx, func() error {
		var innerErr error
		size, innerErr = r.inner.Size(ctx)
		return innerErr
	})
	return size, err
}

func (r *Retry) ReadAll(ctx context.Context) ([]byte, error) {
	all, ok := r.inner.(AllReader)
	if !ok {
		return nil, errors.New("inner fetcher cannot read full object")
	}
	var data []byte
	err := r.attempt(ctx, func() error {
		var innerErr error
		data, innerErr = all.ReadAll(ctx)
		return innerErr
	})
	return data, err
}

func (r *Retry) attempt(ctx context.Context, op func() error) error {
	wait := r.backoff
	var err error
	for try := 0; ; try++ {
		err = op()
		if err == nil || !errors.Is(err, ErrTransient) || try >= r.maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}
