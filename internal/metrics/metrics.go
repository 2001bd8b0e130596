package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomledger_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomledger_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Ledger metrics
	RoomsInitialized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomledger_rooms_initialized_total",
			Help: "Total rooms initialized",
		},
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomledger_messages_sent_total",
			Help: "Total messages appended",
		},
	)

	AddressCollisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomledger_address_collisions_total",
			Help: "Sends that lost a race on a message address",
		},
		[]string{"outcome"}, // "retried" or "exhausted"
	)

	SendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomledger_send_failures_total",
			Help: "Failed sends by reason",
		},
		[]string{"reason"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomledger_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomledger_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomledger_store_latency_seconds",
			Help:    "Record store operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		},
		[]string{"backend", "op"},
	)
)
