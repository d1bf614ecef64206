package interceptor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome names the terminal state a request reached.
type Outcome string

const (
	// OutcomeBypass: unsupported method or scheme, passed straight to the network.
	OutcomeBypass Outcome = "bypass"

	// OutcomeHit: fresh cache hit, no network call made.
	OutcomeHit Outcome = "hit"

	// OutcomeNetwork: network response served and written to the store.
	OutcomeNetwork Outcome = "network"

	// OutcomeUncached: network response served but not cacheable
	// (status other than 200, or not a basic response).
	OutcomeUncached Outcome = "uncached"

	// OutcomeStale: network failed, the retained stale entry was served.
	OutcomeStale Outcome = "stale"

	// OutcomeOffline: network failed with nothing cached, offline page served.
	OutcomeOffline Outcome = "offline"

	// OutcomeUnavailable: network failed and the offline page is not in the store.
	OutcomeUnavailable Outcome = "unavailable"
)

// Prometheus metrics for intercepted requests.
var (
	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_fetch_total",
		Help: "Total intercepted requests by outcome",
	}, []string{"outcome"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "offline_fetch_duration_seconds",
		Help:    "Intercepted request duration in seconds by outcome",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"outcome"})

	cacheWriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_fetch_cache_write_errors_total",
		Help: "Total failed writes of network responses into the current store",
	})
)
