package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lifecycle metrics
var (
	ActionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_actions_created_total",
		Help: "Total number of moderation actions created",
	}, []string{"kind"})

	ActionsExpiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_actions_expired_total",
		Help: "Total number of moderation actions expired on schedule",
	}, []string{"kind"})

	ActionsCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_actions_cancelled_total",
		Help: "Total number of moderation actions cancelled manually",
	}, []string{"kind"})

	ActionsSupersededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_actions_superseded_total",
		Help: "Total number of moderation actions replaced by a newer one of the same kind",
	}, []string{"kind"})

	ActionsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_actions_failed_total",
		Help: "Total number of moderation actions that could not be enforced",
	}, []string{"kind", "op"})

	StaleEntriesDiscardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_scheduler_stale_entries_discarded_total",
		Help: "Total number of scheduler entries discarded after revision revalidation",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "warden_tick_duration_seconds",
		Help:    "Duration of expiry loop ticks in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})
)

// Platform metrics
var (
	PlatformRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_platform_requests_total",
		Help: "Total number of platform enforcement calls",
	}, []string{"op", "outcome"})

	PlatformRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_platform_retries_total",
		Help: "Total number of platform call retries",
	}, []string{"op"})

	PlatformRateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_platform_rate_limit_waits_total",
		Help: "Total number of requests delayed by the local rate limiter",
	})
)

// Gauges updated periodically by the collector
var (
	SchedulerEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_scheduler_entries",
		Help: "Number of entries in the expiry queue, including stale ones",
	})

	StoredActionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_stored_actions_total",
		Help: "Total number of action records in the store",
	})

	FailedActionsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warden_failed_actions_pending",
		Help: "Number of actions currently in the Failed status",
	})
)

// Notification metrics
var (
	NotifyDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_notify_deliveries_total",
		Help: "Total number of transition event deliveries",
	}, []string{"sink", "outcome"})
)
