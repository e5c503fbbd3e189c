// Package metrics provides Prometheus metrics for the price tracker.
// Scrape these at /metrics for dashboards and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardpulse_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cardpulse_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardpulse_cache_hits_total",
			Help: "Cache hits by tier",
		},
		[]string{"tier"}, // "memory" or "redis"
	)

	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardpulse_cache_misses_total",
			Help: "Cache misses across all tiers",
		},
	)

	CacheErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardpulse_cache_errors_total",
			Help: "Cache tier errors treated as misses",
		},
		[]string{"tier", "op"},
	)

	CoalescedRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardpulse_coalesced_requests_total",
			Help: "Requests that shared an in-flight upstream fetch instead of starting their own",
		},
	)

	// Price Sync Metrics
	PriceUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardpulse_price_updates_total",
			Help: "Total number of card price snapshots updated",
		},
	)

	SyncBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cardpulse_sync_batch_duration_seconds",
			Help:    "Time taken to process a price sync batch",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	SyncErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardpulse_sync_errors_total",
			Help: "Per-card failures recorded during batch sync",
		},
	)

	StaleFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardpulse_stale_fallbacks_total",
			Help: "Reads served from an expired snapshot after an upstream failure",
		},
	)

	PriceQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cardpulse_price_queue_size",
			Help: "Number of cards waiting in the urgent refresh queue",
		},
	)

	// Upstream API Metrics
	UpstreamQuotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cardpulse_upstream_quota_remaining",
			Help: "Remaining upstream API requests for today",
		},
	)

	UpstreamQuotaLimit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cardpulse_upstream_quota_limit",
			Help: "Daily upstream API request limit",
		},
	)

	// Trending Metrics
	TrendingRecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cardpulse_trending_recompute_duration_seconds",
			Help:    "Time taken to recompute all trending scores",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	TrendingCardsScored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cardpulse_trending_cards_scored",
			Help: "Number of cards scored in the last trending recompute",
		},
	)

	// Alert Metrics
	AlertsCheckedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardpulse_alerts_checked_total",
			Help: "Total number of alert evaluations",
		},
	)

	AlertsTriggeredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardpulse_alerts_triggered_total",
			Help: "Total number of alerts that fired",
		},
	)

	NotificationsEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardpulse_notifications_enqueued_total",
			Help: "Notification records written to the delivery queue",
		},
	)
)
