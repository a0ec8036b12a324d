// Package telemetry exposes the service's Prometheus metrics. All
// collectors register on the default registry and are served by the
// HTTP server's /metrics endpoint.
package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragon_queries_total",
		Help: "Queries served, split by whether the index was already resident.",
	}, []string{"cache"}) // cache=hit|miss

	metricQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ragon_query_duration_seconds",
		Help:    "End-to-end query latency, including a cold index load when one happens.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms -> ~20s
	})

	metricLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ragon_index_load_duration_seconds",
		Help:    "Time to open or build an index into the cache.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms -> ~40s
	})

	metricShardQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ragon_shard_queries_total",
		Help: "Per-shard sub-queries of multi-shard calls, by outcome.",
	}, []string{"status"}) // status=ok|timeout|failed

	metricResident = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ragon_cache_resident_indices",
		Help: "Indexes currently resident in the cache.",
	}, func() float64 {
		if fn, ok := residentCount.Load().(func() int); ok {
			return float64(fn())
		}
		return 0
	})

	residentCount atomic.Value // func() int
)

// ObserveQuery records one query against the query endpoint.
func ObserveQuery(fromCache bool, d time.Duration) {
	label := "miss"
	if fromCache {
		label = "hit"
	}
	metricQueries.WithLabelValues(label).Inc()
	metricQueryDuration.Observe(d.Seconds())
}

// ObserveLoad records an index load or build.
func ObserveLoad(d time.Duration) {
	metricLoadDuration.Observe(d.Seconds())
}

// ObserveShardQuery records the outcome of one per-shard sub-query.
func ObserveShardQuery(status string) {
	metricShardQueries.WithLabelValues(status).Inc()
}

// SetResidentCount installs the callback the resident-indices gauge
// polls at scrape time. Replaces any previous callback.
func SetResidentCount(count func() int) {
	residentCount.Store(count)
}
