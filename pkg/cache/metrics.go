package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks store matches by backend
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_hits_total",
			Help: "Total number of cache store hits",
		},
		[]string{"backend"}, // "memory", "redis", "leveldb"
	)

	// CacheMisses tracks store misses by backend
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_misses_total",
			Help: "Total number of cache store misses",
		},
		[]string{"backend"},
	)

	// CachePuts tracks entries written by backend
	CachePuts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_puts_total",
			Help: "Total number of entries written to cache stores",
		},
		[]string{"backend"},
	)

	// StoresDeleted tracks stores removed by backend
	StoresDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_stores_deleted_total",
			Help: "Total number of cache stores deleted",
		},
		[]string{"backend"},
	)

	// CacheErrors tracks backend operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"backend", "operation"}, // "open", "match", "put", "delete", "keys"
	)
)
