// Package metrics registers the Prometheus collectors shared across the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	// PublishAttempts counts publish attempts by terminal status.
	PublishAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uiconfig_publish_attempts_total",
			Help: "Total number of publish attempts by status",
		},
		[]string{"status", "config_type"},
	)

	// PublishDuration observes the duration of the publish critical section.
	PublishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "uiconfig_publish_duration_seconds",
			Help:    "Duration of the publish critical section in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		},
	)

	// LockWait observes how long publish attempts waited on the scope lock.
	LockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "uiconfig_publish_lock_wait_seconds",
			Help:    "Time spent acquiring the per-scope publish lock in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10),
		},
	)

	// AlertDeliveries counts channel delivery outcomes.
	AlertDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uiconfig_alert_deliveries_total",
			Help: "Total number of alert channel deliveries by channel and result",
		},
		[]string{"channel", "result"},
	)
)

// Register registers all collectors on the default registry.
func Register(logger *zap.Logger) {
	for _, collector := range []prometheus.Collector{PublishAttempts, PublishDuration, LockWait, AlertDeliveries} {
		if err := prometheus.Register(collector); err != nil {
			logger.Error("register prometheus collector", zap.Error(err))
		}
	}
}
