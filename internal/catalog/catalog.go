package catalog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/XiangpengHao/parquet-viewer/internal/cache"
	"github.com/XiangpengHao/parquet-viewer/internal/fetch"
	"github.com/XiangpengHao/parquet-viewer/internal/metrics"
	"github.com/XiangpengHao/parquet-viewer/internal/observability"
	"github.com/XiangpengHao/parquet-viewer/internal/source"
	"github.com/XiangpengHao/parquet-viewer/internal/storage"
)

var (
	ErrDuplicateName = errors.New("catalog: table name already bound to a different source")
	ErrNotFound      = errors.New("catalog: table not found")
	ErrInvalidFooter = errors.New("catalog: not a valid parquet file trailer")
)

const footerTrailerSize = 8 // 4-byte footer length + "PAR1" magic

// Config carries the backend settings a catalog needs to build fetchers
// for newly registered sources.
type Config struct {
	S3           fetch.S3Config
	HTTPTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Table binds one SQL table name to a registered parquet source: its
// descriptor, its storage adapter, and the footer metadata parsed once
// at registration.
type Table struct {
	Name       string
	Descriptor source.Descriptor
	Adapter    *storage.Adapter
	File       *parquet.File
	Summary    MetadataSummary
}

// Catalog tracks the session's registered sources. Exactly one table
// exists per distinct descriptor; registering the same descriptor again
// reuses the entry without touching the network.
type Catalog struct {
	cfg       Config
	cache     *cache.Cache
	collector *metrics.Collector

	mu         sync.Mutex
	byName     map[string]*Table
	byLocation map[string]*Table
	blobs      map[string][]byte
}

func New(cfg Config, rangeCache *cache.Cache, collector *metrics.Collector) *Catalog {
	return &Catalog{
		cfg:        cfg,
		cache:      rangeCache,
		collector:  collector,
		byName:     map[string]*Table{},
		byLocation: map[string]*Table{},
		blobs:      map[string][]byte{},
	}
}

// Register binds name to the source behind desc, discovering its footer
// metadata with two range reads: the fixed-size trailer, then exactly
// the footer. The full file is never read to learn the schema.
// Registering an identical (descriptor, name) pair is idempotent.
func (c *Catalog) Register(ctx context.Context, desc source.Descriptor, name string) (*Table, error) {
	if name == "" {
		name = desc.TableName()
	}

	c.mu.Lock()
	if existing, ok := c.byLocation[desc.Location]; ok {
		c.mu.Unlock()
		if existing.Name != name {
			return nil, fmt.Errorf("source %q is already registered as table %q", desc.Location, existing.Name)
		}
		return existing, nil
	}
	if bound, ok := c.byName[name]; ok && !bound.Descriptor.Equal(desc) {
		c.mu.Unlock()
		return nil, fmt.Errorf("table %q: %w", name, ErrDuplicateName)
	}
	c.mu.Unlock()

	fetcher, err := c.newFetcher(desc)
	if err != nil {
		return nil, err
	}

	adapter, err := storage.NewAdapter(ctx, desc.Location, string(desc.Kind), fetcher, c.cache, c.collector)
	if err != nil {
		c.closeFetcher(fetcher)
		return nil, err
	}

	file, footerSize, err := openParquet(adapter)
	if err != nil {
		c.closeFetcher(fetcher)
		c.cache.Drop(desc.Location)
		c.collector.Reset(desc.Location)
		return nil, err
	}

	table := &Table{
		Name:       name,
		Descriptor: desc,
		Adapter:    adapter,
		File:       file,
		Summary:    summarize(file, adapter.Size(), footerSize),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Lost a race to a concurrent registration of the same source.
	if existing, ok := c.byLocation[desc.Location]; ok {
		c.closeFetcher(fetcher)
		return existing, nil
	}
	if bound, ok := c.byName[name]; ok && !bound.Descriptor.Equal(desc) {
		c.closeFetcher(fetcher)
		return nil, fmt.Errorf("table %q: %w", name, ErrDuplicateName)
	}
	c.byName[name] = table
	c.byLocation[desc.Location] = table
	observability.SetRegisteredSources(len(c.byName))
	return table, nil
}

// RegisterBlob registers an in-memory parquet buffer, e.g. a file
// dropped into the UI. Uploading the same file name again replaces the
// previous contents instead of serving the stale registration.
func (c *Catalog) RegisterBlob(ctx context.Context, fileName string, data []byte) (*Table, error) {
	desc := source.ForBlob(fileName, int64(len(data)))

	c.mu.Lock()
	existing := c.byLocation[desc.Location]
	c.mu.Unlock()
	if existing != nil {
		if err := c.Unregister(existing.Name); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	c.mu.Lock()
	c.blobs[desc.Location] = data
	c.mu.Unlock()
	return c.Register(ctx, desc, desc.TableName())
}

// Lookup resolves a table by name.
func (c *Catalog) Lookup(name string) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	table, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("table %q: %w", name, ErrNotFound)
	}
	return table, nil
}

// List returns the registered tables in name order.
func (c *Catalog) List() []*Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	tables := make([]*Table, 0, len(c.byName))
	for _, table := range c.byName {
		tables = append(tables, table)
	}
	return tables
}

// Unregister removes the binding and drops the cached spans and usage
// counters for the source, since the file may be replaced at the same
// location between sessions.
func (c *Catalog) Unregister(name string) error {
	c.mu.Lock()
	table, ok := c.byName[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("table %q: %w", name, ErrNotFound)
	}
	delete(c.byName, name)
	delete(c.byLocation, table.Descriptor.Location)
	delete(c.blobs, table.Descriptor.Location)
	observability.SetRegisteredSources(len(c.byName))
	c.mu.Unlock()

	c.cache.Drop(table.Descriptor.Location)
	c.collector.Reset(table.Descriptor.Location)
	return nil
}

func (c *Catalog) newFetcher(desc source.Descriptor) (fetch.Fetcher, error) {
	switch desc.Kind {
	case source.KindBlob:
		c.mu.Lock()
		data, ok := c.blobs[desc.Location]
		c.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("blob %q has no buffered data", desc.Location)
		}
		return fetch.NewBlob(data), nil
	case source.KindFile:
		return fetch.OpenFile(desc.Location)
	case source.KindHTTP:
		inner := fetch.WithRetry(fetch.NewHTTP(desc.Location, c.cfg.HTTPTimeout), c.cfg.MaxRetries, c.cfg.RetryBackoff)
		return fetch.WithFallback(inner), nil
	case source.KindS3:
		s3, err := fetch.NewS3(c.cfg.S3, desc.Bucket, desc.Key)
		if err != nil {
			return nil, err
		}
		return fetch.WithRetry(s3, c.cfg.MaxRetries, c.cfg.RetryBackoff), nil
	default:
		return nil, fmt.Errorf("unsupported source kind %q", desc.Kind)
	}
}

func (c *Catalog) closeFetcher(fetcher fetch.Fetcher) {
	if closer, ok := fetcher.(io.Closer); ok {
		_ = closer.Close()
	}
}

// openParquet validates the trailer, learns the footer length from the
// last 8 bytes, and parses the footer through the adapter. parquet-go
// reads only the byte ranges it needs; the page index and bloom filters
// stay on the remote until a query wants them.
func openParquet(adapter *storage.Adapter) (*parquet.File, int64, error) {
	size := adapter.Size()
	if size < footerTrailerSize {
		return nil, 0, fmt.Errorf("object of %d bytes is too small: %w", size, ErrInvalidFooter)
	}

	trailer := make([]byte, footerTrailerSize)
	if _, err := adapter.ReadAt(trailer, size-footerTrailerSize); err != nil && err != io.EOF {
		return nil, 0, fmt.Errorf("read trailer: %w", err)
	}
	if string(trailer[4:]) != "PAR1" {
		return nil, 0, fmt.Errorf("trailing magic %q: %w", trailer[4:], ErrInvalidFooter)
	}
	footerLen := int64(binary.LittleEndian.Uint32(trailer[:4]))
	if footerLen <= 0 || footerLen > size-footerTrailerSize {
		return nil, 0, fmt.Errorf("footer length %d out of bounds for %d-byte object: %w", footerLen, size, ErrInvalidFooter)
	}

	file, err := parquet.OpenFile(adapter, size,
		parquet.SkipPageIndex(true),
		parquet.SkipBloomFilters(true),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("parse footer: %w (%w)", err, ErrInvalidFooter)
	}
	return file, footerLen + footerTrailerSize, nil
}
