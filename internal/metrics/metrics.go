package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook delivery metrics
	WebhookOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookgate_webhook_outcomes_total",
			Help: "Total number of webhook deliveries by terminal outcome",
		},
		[]string{"provider", "outcome"},
	)

	WebhookBodyBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookgate_webhook_body_bytes_total",
			Help: "Total bytes of captured webhook bodies",
		},
		[]string{"provider"},
	)

	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookgate_webhook_handler_duration_seconds",
			Help:    "Duration of downstream event handling in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// Verification metrics
	SignatureFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookgate_signature_failures_total",
			Help: "Total number of rejected signatures by reason",
		},
		[]string{"provider", "reason"},
	)

	SignatureBypasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookgate_signature_bypasses_total",
			Help: "Total number of failed signatures accepted under bypass policy",
		},
		[]string{"provider"},
	)

	// Dedup metrics
	DuplicateDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookgate_duplicate_deliveries_total",
			Help: "Total number of deliveries suppressed as duplicates",
		},
		[]string{"provider"},
	)

	DedupPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hookgate_dedup_pruned_total",
			Help: "Total number of dedup records removed by retention",
		},
	)

	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookgate_dead_letters_total",
			Help: "Total number of deliveries recorded as dead letters",
		},
		[]string{"provider", "reason"},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookgate_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"class"},
	)
)
