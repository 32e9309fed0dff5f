package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/XiangpengHao/parquet-viewer/internal/cache"
	"github.com/XiangpengHao/parquet-viewer/internal/fetch"
	"github.com/XiangpengHao/parquet-viewer/internal/metrics"
)

func newTestAdapter(t *testing.T, data []byte) (*Adapter, *metrics.Collector) {
	t.Helper()
	rangeCache, err := cache.New(1<<20, 0)
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}
	collector := metrics.NewCollector()
	adapter, err := NewAdapter(context.Background(), "blob://test", "blob", fetch.NewBlob(data), rangeCache, collector)
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	return adapter, collector
}

func TestAdapterReadAt(t *testing.T) {
	data := []byte("0123456789abcdef")
	adapter, _ := newTestAdapter(t, data)

	buf := make([]byte, 6)
	n, err := adapter.ReadAt(buf, 4)
	if err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	if n != 6 || !bytes.Equal(buf, data[4:10]) {
		t.Fatalf("ReadAt() = %d, %q", n, buf)
	}
	if adapter.Size() != int64(len(data)) {
		t.Fatalf("Size() = %d", adapter.Size())
	}
}

func TestAdapterReadAtEOF(t *testing.T) {
	data := []byte("0123456789")
	adapter, _ := newTestAdapter(t, data)

	buf := make([]byte, 8)
	n, err := adapter.ReadAt(buf, 6)
	if err != io.EOF {
		t.Fatalf("ReadAt() error = %v, want io.EOF", err)
	}
	if n != 4 || !bytes.Equal(buf[:n], data[6:]) {
		t.Fatalf("ReadAt() = %d, %q", n, buf[:n])
	}

	if _, err := adapter.ReadAt(buf, int64(len(data))); err != io.EOF {
		t.Fatalf("ReadAt() past end error = %v, want io.EOF", err)
	}
}

func TestAdapterRecordsMetrics(t *testing.T) {
	data := make([]byte, 1024)
	adapter, collector := newTestAdapter(t, data)

	buf := make([]byte, 256)
	if _, err := adapter.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	// Second read of the same range is a pure cache hit.
	if _, err := adapter.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}

	snap := collector.Snapshot("blob://test")
	if snap.TotalSize != 1024 {
		t.Fatalf("TotalSize = %d", snap.TotalSize)
	}
	if snap.RequestedBytes != 512 {
		t.Fatalf("RequestedBytes = %d", snap.RequestedBytes)
	}
	if snap.TransferredBytes != 256 {
		t.Fatalf("TransferredBytes = %d", snap.TransferredBytes)
	}
	if snap.CacheHitBytes != 256 {
		t.Fatalf("CacheHitBytes = %d", snap.CacheHitBytes)
	}
}
