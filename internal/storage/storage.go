package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/XiangpengHao/parquet-viewer/internal/cache"
	"github.com/XiangpengHao/parquet-viewer/internal/fetch"
	"github.com/XiangpengHao/parquet-viewer/internal/metrics"
	"github.com/XiangpengHao/parquet-viewer/internal/observability"
)

// Adapter is the storage capability the query engine reads through: an
// io.ReaderAt plus a total size, bound to one registered table. Every
// read goes through the range cache and falls through to the fetcher on
// miss; this is the only place engine I/O touches the network.
type Adapter struct {
	sourceID  string
	backend   string
	size      int64
	cache     *cache.Cache
	fetcher   fetch.Fetcher
	collector *metrics.Collector

	// ctx carries the session context into io.ReaderAt calls, which
	// have no context parameter of their own.
	ctx context.Context
}

// NewAdapter probes the source size once and binds the composed
// cache/fetcher/collector stack to it.
func NewAdapter(ctx context.Context, sourceID, backend string, fetcher fetch.Fetcher, rangeCache *cache.Cache, collector *metrics.Collector) (*Adapter, error) {
	size, err := fetcher.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("probe size of %q: %w", sourceID, err)
	}
	if size <= 0 {
		return nil, fmt.Errorf("source %q has size %d", sourceID, size)
	}
	if collector != nil {
		collector.SetTotalSize(sourceID, size)
	}
	return &Adapter{
		sourceID:  sourceID,
		backend:   backend,
		size:      size,
		cache:     rangeCache,
		fetcher:   fetcher,
		collector: collector,
		ctx:       ctx,
	}, nil
}

// WithContext rebinds the adapter to a per-query context so engine
// reads issued during that query are cancelled with it.
func (a *Adapter) WithContext(ctx context.Context) *Adapter {
	clone := *a
	clone.ctx = ctx
	return &clone
}

func (a *Adapter) SourceID() string { return a.sourceID }

func (a *Adapter) Size() int64 { return a.size }

// ReadAt implements io.ReaderAt over the cached range layer.
func (a *Adapter) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= a.size {
		return 0, io.EOF
	}
	length := int64(len(p))
	if length == 0 {
		return 0, nil
	}
	eof := false
	if off+length > a.size {
		length = a.size - off
		eof = true
	}

	data, stats, err := a.cache.GetOrFetch(a.ctx, a.sourceID, off, length, a.fetcher.ReadRange)
	if err != nil {
		return 0, fmt.Errorf("read %q range [%d, %d): %w", a.sourceID, off, off+length, err)
	}
	if a.collector != nil {
		a.collector.Record(a.sourceID, length, stats.TransferredBytes, stats.HitBytes, stats.Fetches)
	}
	observability.ObserveRangeRead(a.backend, length, stats.TransferredBytes, stats.HitBytes, stats.Fetches)

	n := copy(p, data)
	if eof {
		return n, io.EOF
	}
	return n, nil
}
