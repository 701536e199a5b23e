package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_ticks_total",
		Help: "Control loop ticks by outcome",
	}, []string{"outcome"})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_tick_duration_seconds",
		Help:    "Time spent in one control loop tick",
		Buckets: prometheus.DefBuckets,
	})

	alertsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_alerts_dispatched_total",
		Help: "Alerts dispatched to subscribers",
	}, []string{"resource", "kind"})

	alertsSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_alerts_suppressed_total",
		Help: "Alerts collapsed by the cooldown window",
	}, []string{"resource", "kind"})

	callbackFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_callback_failures_total",
		Help: "Alert callbacks that failed, panicked or timed out",
	}, []string{"reason"})

	storeRecordsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_store_records",
		Help: "Live records in the encrypted store",
	})

	decryptFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_decrypt_failures_total",
		Help: "Records that could not be decrypted",
	})

	backupOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_backup_operations_total",
		Help: "Backup operations by type and status",
	}, []string{"operation", "status"})

	backupArchivesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_backup_archives",
		Help: "Archives currently retained",
	})

	resourceGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sentinel_resource_percent",
		Help: "Latest sampled utilization",
	}, []string{"resource"})

	healthScoreGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_health_score",
		Help: "Health score computed at the end of the last tick",
	})
)
