package metrics

import (
	"sync"
)

// Snapshot is the usage view surfaced to the UI as
// "this query read X KB of Y MB".
type Snapshot struct {
	TotalSize        int64 `json:"total_size"`
	RequestedBytes   int64 `json:"requested_bytes"`
	TransferredBytes int64 `json:"transferred_bytes"`
	CacheHitBytes    int64 `json:"cache_hit_bytes"`
	RequestCount     int64 `json:"request_count"`
}

type sourceCounters struct {
	totalSize        int64
	requestedBytes   int64
	transferredBytes int64
	cacheHitBytes    int64
	requestCount     int64
}

// Collector keeps purely additive per-source counters. Counters reset
// only when the source's table is unregistered.
type Collector struct {
	mu      sync.Mutex
	sources map[string]*sourceCounters
}

func NewCollector() *Collector {
	return &Collector{sources: map[string]*sourceCounters{}}
}

// SetTotalSize records the logical size of the source, learned once at
// registration.
func (c *Collector) SetTotalSize(sourceID string, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters(sourceID).totalSize = size
}

// Record adds one storage read: how many bytes the engine asked for,
// how many actually crossed the wire, and how many were served from
// cache.
func (c *Collector) Record(sourceID string, requested, transferred, cacheHit int64, fetches int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	counters := c.counters(sourceID)
	counters.requestedBytes += requested
	counters.transferredBytes += transferred
	counters.cacheHitBytes += cacheHit
	counters.requestCount += int64(fetches)
}

func (c *Collector) Snapshot(sourceID string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	counters, ok := c.sources[sourceID]
	if !ok {
		return Snapshot{}
	}
	return Snapshot{
		TotalSize:        counters.totalSize,
		RequestedBytes:   counters.requestedBytes,
		TransferredBytes: counters.transferredBytes,
		CacheHitBytes:    counters.cacheHitBytes,
		RequestCount:     counters.requestCount,
	}
}

// Reset drops the counters for a source when its table is unregistered.
func (c *Collector) Reset(sourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sources, sourceID)
}

func (c *Collector) counters(sourceID string) *sourceCounters {
	counters, ok := c.sources[sourceID]
	if !ok {
		counters = &sourceCounters{}
		c.sources[sourceID] = counters
	}
	return counters
}
