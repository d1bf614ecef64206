// Package metrics exposes the Prometheus registry used by the offline cache.
// All metrics are defined in their respective packages (cache, network,
// interceptor, lifecycle) to maintain modularity and avoid circular
// dependencies.
//
// This package provides the scrape handler and a reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the offline cache.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves all registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Store Metrics (pkg/cache):
//   - offline_cache_hits_total{backend} (Counter): Store matches by backend (memory, redis, leveldb)
//   - offline_cache_misses_total{backend} (Counter): Store misses by backend
//   - offline_cache_puts_total{backend} (Counter): Entries written by backend
//   - offline_cache_stores_deleted_total{backend} (Counter): Stores deleted by backend
//   - offline_cache_errors_total{backend, operation} (Counter): Backend errors by operation
//
// Network Metrics (pkg/network):
//   - offline_network_requests_total{method, status} (Counter): Origin requests by method and HTTP status
//   - offline_network_request_duration_seconds{method} (Histogram): Origin request duration
//   - offline_network_errors_total{class} (Counter): Failed origin requests by class
//   - offline_network_retries_total{error_class} (Counter): Retry attempts by error class
//   - offline_network_retry_backoff_seconds{error_class} (Histogram): Backoff duration
//   - offline_network_retry_exhausted_total{error_class} (Counter): Requests that exhausted retries
//
// Interceptor Metrics (pkg/interceptor):
//   - offline_fetch_total{outcome} (Counter): Intercepted requests by outcome
//   - offline_fetch_duration_seconds{outcome} (Histogram): Decision duration by outcome
//   - offline_fetch_cache_write_errors_total (Counter): Failed writes of network responses
//
// Lifecycle Metrics (pkg/lifecycle):
//   - offline_install_total{result} (Counter): Install attempts by result
//   - offline_install_duration_seconds (Histogram): Precache duration
//   - offline_activations_total (Counter): Completed activations
//   - offline_legacy_stores_deleted_total (Counter): Legacy stores removed
//   - offline_legacy_store_errors_total (Counter): Legacy stores that could not be removed
//   - offline_messages_total{action, result} (Counter): Control messages by result
//   - offline_active (Gauge): 1 while the controller is active
//
// Example Prometheus Queries:
//
//   # Served-from-cache ratio
//   sum(rate(offline_fetch_total{outcome=~"hit|stale|offline"}[5m])) /
//   sum(rate(offline_fetch_total[5m]))
//
//   # Users seeing the offline page
//   rate(offline_fetch_total{outcome="offline"}[5m])
//
//   # Failed installs
//   increase(offline_install_total{result="failure"}[1h]) > 0
//
//   # P95 origin latency
//   histogram_quantile(0.95, rate(offline_network_request_duration_seconds_bucket[5m]))
