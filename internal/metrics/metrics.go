package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncCyclesTotal counts per-mailbox sync cycles by outcome.
	SyncCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_triage_sync_cycles_total",
			Help: "Total number of mailbox sync cycles by result",
		},
		[]string{"provider", "result"},
	)

	// SyncDuration observes how long a full mailbox sync cycle takes.
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_triage_sync_duration_seconds",
			Help:    "Duration of mailbox sync cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// MessagesWritten counts idempotent writer outcomes.
	MessagesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_triage_messages_written_total",
			Help: "Total messages processed by the writer, by outcome",
		},
		[]string{"result"},
	)

	// MessagesCategorized counts classifications by category.
	MessagesCategorized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_triage_messages_categorized_total",
			Help: "Total messages categorized, by category",
		},
		[]string{"category"},
	)

	// TokenRefreshes counts credential refresh attempts by outcome.
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_triage_token_refreshes_total",
			Help: "Total OAuth token refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	// RateLimitDeferrals counts sync cycles pushed back by provider rate
	// limiting.
	RateLimitDeferrals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_triage_rate_limit_deferrals_total",
			Help: "Total sync cycles deferred due to provider rate limits",
		},
		[]string{"provider"},
	)

	// ActiveSubscribers gauges currently connected notification subscribers.
	ActiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inbox_triage_active_subscribers",
			Help: "Number of currently connected notification subscribers",
		},
	)

	// EventsDropped counts notification events dropped because a subscriber
	// buffer was full.
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_triage_events_dropped_total",
			Help: "Total notification events dropped due to slow subscribers",
		},
	)

	// MailboxesDeactivated counts mailboxes pulled out of rotation.
	MailboxesDeactivated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_triage_mailboxes_deactivated_total",
			Help: "Total mailboxes deactivated, by reason",
		},
		[]string{"reason"},
	)
)
