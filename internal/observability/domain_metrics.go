package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	rangeRequestedBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parquetviewer_range_requested_bytes_total",
			Help: "Total bytes the query engine asked the storage layer for.",
		},
		[]string{"backend"},
	)
	rangeTransferredBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parquetviewer_range_transferred_bytes_total",
			Help: "Total bytes actually fetched over the wire after cache and coalescing.",
		},
		[]string{"backend"},
	)
	rangeCacheHitBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parquetviewer_range_cache_hit_bytes_total",
			Help: "Total bytes served from the range cache.",
		},
		[]string{"backend"},
	)
	rangeFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parquetviewer_range_fetches_total",
			Help: "Total transport fetches issued after merging nearby ranges.",
		},
		[]string{"backend"},
	)
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parquetviewer_queries_total",
			Help: "Total queries by terminal state.",
		},
		[]string{"state"},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parquetviewer_query_duration_seconds",
			Help:    "Wall-clock query latency from submission to terminal state.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
	sourcesRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "parquetviewer_sources_registered",
			Help: "Current count of registered sources.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		rangeRequestedBytesTotal,
		rangeTransferredBytesTotal,
		rangeCacheHitBytesTotal,
		rangeFetchesTotal,
		queriesTotal,
		queryDurationSeconds,
		sourcesRegistered,
	)
}

func ObserveRangeRead(backend string, requested, transferred, cacheHit int64, fetches int) {
	rangeRequestedBytesTotal.WithLabelValues(backend).Add(float64(requested))
	if transferred > 0 {
		rangeTransferredBytesTotal.WithLabelValues(backend).Add(float64(transferred))
	}
	if cacheHit > 0 {
		rangeCacheHitBytesTotal.WithLabelValues(backend).Add(float64(cacheHit))
	}
	if fetches > 0 {
		rangeFetchesTotal.WithLabelValues(backend).Add(float64(fetches))
	}
}

func ObserveQueryDone(state string, elapsed time.Duration) {
	queriesTotal.WithLabelValues(state).Inc()
	queryDurationSeconds.Observe(elapsed.Seconds())
}

func SetRegisteredSources(count int) {
	if count < 0 {
		count = 0
	}
	sourcesRegistered.Set(float64(count))
}
