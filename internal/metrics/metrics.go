package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Status API metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshbot_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meshbot_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Mesh traffic metrics
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshbot_messages_received_total",
			Help: "Total inbound mesh messages",
		},
		[]string{"type"}, // "direct", "channel" or "broadcast"
	)

	MessagesIgnored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshbot_messages_ignored_total",
			Help: "Total inbound messages dropped before reasoning",
		},
		[]string{"reason"}, // "self", "not_addressed", "rate_limited", "quiet"
	)

	RepliesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshbot_replies_sent_total",
			Help: "Total replies sent",
		},
	)

	ChunksSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshbot_chunks_sent_total",
			Help: "Total reply chunks transmitted",
		},
	)

	ChunkSendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshbot_chunk_send_failures_total",
			Help: "Total chunks the transport refused",
		},
	)

	// Reasoning metrics
	ReasoningFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshbot_reasoning_failures_total",
			Help: "Total reasoning failures",
		},
		[]string{"reason"}, // "unauthorized", "rate_limited", "timeout", "other"
	)

	ReasoningDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meshbot_reasoning_duration_seconds",
			Help:    "Reasoning call duration",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30},
		},
	)

	// Network metrics
	AdvertsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshbot_adverts_recorded_total",
			Help: "Total node advertisements journaled",
		},
	)

	NodesKnown = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meshbot_nodes_known",
			Help: "Nodes currently in the registry",
		},
	)

	// Store metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meshbot_store_latency_seconds",
			Help:    "Record store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation"},
	)
)
