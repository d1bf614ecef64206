package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	installTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_install_total",
		Help: "Total number of install attempts by result",
	}, []string{"result"}) // "success", "failure"

	installDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "offline_install_duration_seconds",
		Help:    "Duration of precache installs",
		Buckets: prometheus.DefBuckets,
	})

	activationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_activations_total",
		Help: "Total number of completed activations",
	})

	legacyStoresDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_legacy_stores_deleted_total",
		Help: "Total number of legacy stores removed during activation",
	})

	legacyStoreErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_legacy_store_errors_total",
		Help: "Total number of legacy stores that could not be removed",
	})

	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_messages_total",
		Help: "Total number of control messages by action and result",
	}, []string{"action", "result"}) // "scheduled", "ignored", "stored", "skipped", "failed"

	// Active is 1 while a controller in this process is active, else 0.
	Active = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "offline_active",
		Help: "Whether the offline cache controller is active (1) or not (0)",
	})
)
