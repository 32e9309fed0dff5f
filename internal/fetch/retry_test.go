package fetch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type flakyFetcher struct {
	failures int
	calls    int
	err      error
	data     []byte
}

func (f *flakyFetcher) ReadRange(_ context.Context, _, _ int64) ([]byte, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return f.data, nil
}

func (f *flakyFetcher) Size(context.Context) (int64, error) {
	return int64(len(f.data)), nil
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	inner := &flakyFetcher{
		failures: 2,
		err:      fmt.Errorf("connection reset: %w", ErrTransient),
		data:     []byte("payload"),
	}
	fetcher := WithRetry(inner, 3, time.Millisecond)

	data, err := fetcher.ReadRange(context.Background(), 0, 7)
	if err != nil {
		t.Fatalf("ReadRange() error = %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("ReadRange() = %q", data)
	}
	if inner.calls != 3 {
		t.Fatalf("calls = %d, want 3", inner.calls)
	}
}

func TestRetryGivesUpAfterBudget(t *testing.T) {
	inner := &flakyFetcher{
		failures: 10,
		err:      fmt.Errorf("timeout: %w", ErrTransient),
	}
	fetcher := WithRetry(inner, 2, time.Millisecond)

	if _, err := fetcher.ReadRange(context.Background(), 0, 1); !errors.Is(err, ErrTransient) {
		t.Fatalf("ReadRange() error = %v, want ErrTransient", err)
	}
	if inner.calls != 3 {
		t.Fatalf("calls = %d, want 3 (1 + 2 retries)", inner.calls)
	}
}

func TestRetryDoesNotRetryRangeNotSupported(t *testing.T) {
	inner := &flakyFetcher{
		failures: 10,
		err:      fmt.Errorf("no partial content: %w", ErrRangeNotSupported),
	}
	fetcher := WithRetry(inner, 3, time.Millisecond)

	if _, err := fetcher.ReadRange(context.Background(), 0, 1); !errors.Is(err, ErrRangeNotSupported) {
		t.Fatalf("ReadRange() error = %v, want ErrRangeNotSupported", err)
	}
	if inner.calls != 1 {
		t.Fatalf("calls = %d, want 1", inner.calls)
	}
}
