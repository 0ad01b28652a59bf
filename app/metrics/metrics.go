package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FilesDispatchedTotal counts spool files handed to the dispatcher.
	FilesDispatchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collector_spool_files_dispatched_total",
			Help: "Total number of spool files dispatched to processors.",
		},
	)

	// DeliveriesTotal counts per-processor outcomes: delivered, failed or deferred.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_spool_deliveries_total",
			Help: "Total number of per-processor delivery attempts by result.",
		},
		[]string{"processor", "result"},
	)

	// FlushEnabled is 1 while a processor's flush flag is on.
	FlushEnabled = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "collector_spool_flush_enabled",
			Help: "Whether delivery is enabled for a processor. 1 if enabled, 0 otherwise.",
		},
		[]string{"processor"},
	)

	// LockAttemptsTotal counts named-lock acquisition attempts by result.
	LockAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_lock_attempts_total",
			Help: "Total number of named lock acquisition attempts by result.",
		},
		[]string{"lock", "result"},
	)
)

// SetFlushEnabled records the flush flag of a processor.
func SetFlushEnabled(processor string, enabled bool) {
	value := 0.0
	if enabled {
		value = 1
	}
	FlushEnabled.WithLabelValues(processor).Set(value)
}
