package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "reconnects_total", Help: "Total reconnection attempts scheduled"})
	ConnectFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "connect_failures_total", Help: "Total failed connection attempts"})
	DroppedSends    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "dropped_sends_total", Help: "Messages dropped because the connection was not open"})

	MessagesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "messages_dispatched_total", Help: "Inbound messages dispatched to subscribers"},
		[]string{"channel"},
	)

	OffersSent = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "fare_offers_sent_total", Help: "Fare offers sent to requesters"})
	SessionsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "sessions_resolved_total", Help: "Negotiation sessions resolved by outcome"},
		[]string{"outcome"},
	)

	FeedSize = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_negotiation", Name: "feed_open_requests", Help: "Open ride requests currently visible in the feed"})

	OpsRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_negotiation", Name: "ops_requests_total", Help: "Total ops HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	OpsRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_negotiation",
			Name:      "ops_request_duration_seconds",
			Help:      "Ops HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
