package edgecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks edge cache hits by layer.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_cache_hits_total",
			Help: "Total number of edge cache hits",
		},
		[]string{"layer"}, // "redis", "memory"
	)

	// CacheMisses tracks edge cache misses by layer.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_cache_misses_total",
			Help: "Total number of edge cache misses",
		},
		[]string{"layer"},
	)

	// CacheErrors tracks edge cache operation errors.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_cache_errors_total",
			Help: "Total number of edge cache operation errors",
		},
		[]string{"operation"}, // "match", "put"
	)

	// CacheStoredBytes tracks body bytes written to the edge cache.
	CacheStoredBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_cache_stored_bytes_total",
			Help: "Total response body bytes written to the edge cache",
		},
		[]string{"layer"},
	)
)
