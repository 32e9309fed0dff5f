package cache

import (
	"container/list"
	"context"
	"fmt"
	"sort"
	"sync"
)

// FetchFunc reads [offset, offset+length) from the underlying transport.
type FetchFunc func(ctx context.Context, offset, length int64) ([]byte, error)

// Stats describes what a single GetOrFetch cost on the wire.
type Stats struct {
	TransferredBytes int64
	HitBytes         int64
	Fetches          int
}

type span struct {
	start int64
	end   int64
}

func (s span) length() int64 { return s.end - s.start }

func (s span) overlaps(other span) bool {
	return s.start < other.end && other.start < s.end
}

type entry struct {
	sourceID string
	span     span
	data     []byte
	elem     *list.Element
}

type pendingFetch struct {
	span span
	done chan struct{}
	err  error
}

type sourceState struct {
	generation int
	entries    []*entry // sorted by start, non-overlapping
	pending    []*pendingFetch
}

// Cache holds previously fetched byte spans per source. Spans for one
// source never overlap: inserts coalesce with overlapping and adjacent
// neighbours first. Eviction is strict LRU over total cached bytes and
// never touches a span backing an in-flight fetch.
//
// The cache is shared by every registered table in a session; one mutex
// guards all mutation since callers run on arbitrary goroutines.
type Cache struct {
	mu         sync.Mutex
	maxBytes   int64
	slackBytes int64
	totalBytes int64
	sources    map[string]*sourceState
	lru        *list.List // front = most recently used, holds *entry
}

// New validates the policy constants up front; a bad capacity is fatal
// at startup, not at first use.
func New(maxBytes, slackBytes int64) (*Cache, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("cache max bytes must be positive, got %d", maxBytes)
	}
	if slackBytes < 0 {
		return nil, fmt.Errorf("cache slack bytes must be non-negative, got %d", slackBytes)
	}
	return &Cache{
		maxBytes:   maxBytes,
		slackBytes: slackBytes,
		sources:    map[string]*sourceState{},
		lru:        list.New(),
	}, nil
}

// GetOrFetch returns the bytes of [offset, offset+length) for sourceID,
// reading only the uncovered sub-ranges through fetch. Uncovered
// sub-ranges within slackBytes of each other are merged into one
// request. Concurrent calls overlapping an in-flight fetch wait for it
// instead of issuing a duplicate.
func (c *Cache) GetOrFetch(ctx context.Context, sourceID string, offset, length int64, fetch FetchFunc) ([]byte, Stats, error) {
	if length <= 0 {
		return nil, Stats{}, fmt.Errorf("non-positive length %d", length)
	}
	want := span{start: offset, end: offset + length}
	var stats Stats

	c.mu.Lock()
	for {
		state := c.source(sourceID)

		uncovered := state.uncoveredWithin(want)
		if len(uncovered) == 0 {
			out := make([]byte, length)
			state.spliceInto(want, out, c.lru)
			c.mu.Unlock()
			stats.HitBytes = length
			return out, stats, nil
		}

		if waitFor := state.pendingOverlapping(uncovered); waitFor != nil {
			c.mu.Unlock()
			select {
			case <-waitFor.done:
			case <-ctx.Done():
				return nil, stats, ctx.Err()
			}
			if waitFor.err != nil {
				return nil, stats, waitFor.err
			}
			c.mu.Lock()
			continue
		}

		// Capture the covered parts now; the entries may be evicted
		// while the fetch is in flight.
		out := make([]byte, length)
		state.spliceInto(want, out, c.lru)

		generation := state.generation
		merged := mergeWithSlack(uncovered, c.slackBytes)
		pendings := make([]*pendingFetch, len(merged))
		for i, m := range merged {
			pendings[i] = &pendingFetch{span: m, done: make(chan struct{})}
			state.pending = append(state.pending, pendings[i])
		}
		c.mu.Unlock()

		results := make([][]byte, len(merged))
		var fetchErr error
		for i, m := range merged {
			data, err := fetch(ctx, m.start, m.length())
			if err != nil {
				fetchErr = err
				break
			}
			if int64(len(data)) != m.length() {
				fetchErr = fmt.Errorf("short fetch: got %d bytes for range [%d, %d)", len(data), m.start, m.end)
				break
			}
			results[i] = data
			stats.TransferredBytes += m.length()
			stats.Fetches++
		}

		c.mu.Lock()
		state = c.source(sourceID)
		if fetchErr == nil && state.generation == generation {
			for i, m := range merged {
				c.insert(sourceID, state, m, results[i])
			}
		}
		for _, p := range pendings {
			p.err = fetchErr
			close(p.done)
		}
		state.removePending(pendings)
		c.evict()
		c.mu.Unlock()

		if fetchErr != nil {
			return nil, stats, fetchErr
		}

		for i, m := range merged {
			if !m.overlaps(want) {
				continue
			}
			from := max64(want.start, m.start)
			to := min64(want.end, m.end)
			copy(out[from-want.start:to-want.start], results[i][from-m.start:to-m.start])
		}
		stats.HitBytes = length - stats.TransferredBytes
		if stats.HitBytes < 0 {
			stats.HitBytes = 0
		}
		return out, stats, nil
	}
}

// Drop removes every cached span for a source. In-flight fetches for
// the source still complete for their waiters but their bytes are not
// inserted, since the object may change at the same location.
func (c *Cache) Drop(sourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.sources[sourceID]
	if !ok {
		return
	}
	for _, e := range state.entries {
		c.totalBytes -= e.span.length()
		c.lru.Remove(e.elem)
	}
	state.entries = nil
	state.generation++
	if len(state.pending) == 0 {
		delete(c.sources, sourceID)
	}
}

// CachedBytes reports the total bytes currently held.
func (c *Cache) CachedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalBytes
}

func (c *Cache) source(id string) *sourceState {
	state, ok := c.sources[id]
	if !ok {
		state = &sourceState{}
		c.sources[id] = state
	}
	return state
}

// insert coalesces the new span with every overlapping or adjacent
// entry, replacing them with a single merged entry at the LRU front.
func (c *Cache) insert(sourceID string, state *sourceState, sp span, data []byte) {
	merged := &entry{sourceID: sourceID, span: sp, data: data}

	keep := state.entries[:0]
	for _, e := range state.entries {
		if e.span.end < merged.span.start || e.span.start > merged.span.end {
			keep = append(keep, e)
			continue
		}
		merged = coalesce(merged, e)
		c.totalBytes -= e.span.length()
		c.lru.Remove(e.elem)
	}
	state.entries = keep

	merged.elem = c.lru.PushFront(merged)
	c.totalBytes += merged.span.length()
	state.entries = append(state.entries, merged)
	sort.Slice(state.entries, func(i, j int) bool {
		return state.entries[i].span.start < state.entries[j].span.start
	})
}

// coalesce merges two overlapping or adjacent entries into one buffer.
func coalesce(a, b *entry) *entry {
	sp := span{start: min64(a.span.start, b.span.start), end: max64(a.span.end, b.span.end)}
	data := make([]byte, sp.length())
	copy(data[b.span.start-sp.start:], b.data)
	copy(data[a.span.start-sp.start:], a.data)
	return &entry{sourceID: a.sourceID, span: sp, data: data}
}

func (c *Cache) evict() {
	for c.totalBytes > c.maxBytes {
		evicted := false
		for elem := c.lru.Back(); elem != nil; elem = elem.Prev() {
			e := elem.Value.(*entry)
			if state := c.sources[e.sourceID]; state != nil && state.pinned(e.span) {
				continue
			}
			c.removeEntry(e)
			evicted = true
			break
		}
		if !evicted {
			return
		}
	}
}

func (c *Cache) removeEntry(e *entry) {
	c.lru.Remove(e.elem)
	c.totalBytes -= e.span.length()
	state := c.sources[e.sourceID]
	if state == nil {
		return
	}
	for i, candidate := range state.entries {
		if candidate == e {
			state.entries = append(state.entries[:i], state.entries[i+1:]...)
			break
		}
	}
}

func (s *sourceState) pinned(sp span) bool {
	for _, p := range s.pending {
		if p.span.overlaps(sp) {
			return true
		}
	}
	return false
}

func (s *sourceState) pendingOverlapping(spans []span) *pendingFetch {
	for _, p := range s.pending {
		for _, sp := range spans {
			if p.span.overlaps(sp) {
				return p
			}
		}
	}
	return nil
}

func (s *sourceState) removePending(done []*pendingFetch) {
	keep := s.pending[:0]
	for _, p := range s.pending {
		finished := false
		for _, d := range done {
			if p == d {
				finished = true
				break
			}
		}
		if !finished {
			keep = append(keep, p)
		}
	}
	s.pending = keep
}

// uncoveredWithin returns the sub-ranges of want not covered by any
// entry, in ascending order.
func (s *sourceState) uncoveredWithin(want span) []span {
	var gaps []span
	cursor := want.start
	for _, e := range s.entries {
		if e.span.end <= cursor {
			continue
		}
		if e.span.start >= want.end {
			break
		}
		if e.span.start > cursor {
			gaps = append(gaps, span{start: cursor, end: e.span.start})
		}
		if e.span.end > cursor {
			cursor = e.span.end
		}
		if cursor >= want.end {
			break
		}
	}
	if cursor < want.end {
		gaps = append(gaps, span{start: cursor, end: want.end})
	}
	return gaps
}

// spliceInto copies the covered parts of want into out and marks the
// touched entries recently used.
func (s *sourceState) spliceInto(want span, out []byte, lru *list.List) {
	for _, e := range s.entries {
		if !e.span.overlaps(want) {
			continue
		}
		from := max64(want.start, e.span.start)
		to := min64(want.end, e.span.end)
		copy(out[from-want.start:to-want.start], e.data[from-e.span.start:to-e.span.start])
		lru.MoveToFront(e.elem)
	}
}

// mergeWithSlack merges ascending disjoint spans whose gap is at most
// slack bytes, trading a few extra downloaded bytes for fewer round
// trips.
func mergeWithSlack(spans []span, slack int64) []span {
	if len(spans) == 0 {
		return nil
	}
	merged := []span{spans[0]}
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start-last.end <= slack {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}
	return merged
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
