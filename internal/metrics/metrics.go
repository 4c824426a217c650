// Package metrics provides Prometheus instrumentation for the sentinel pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sentinel",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EventsIngestedTotal counts transaction rows read from the stream.
	EventsIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "events_ingested_total",
			Help:      "Total transaction rows read from the input stream.",
		},
	)

	// ParseFailuresTotal counts record-level parse failures by field.
	ParseFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "parse_failures_total",
			Help:      "Record-level parse failures by field (timestamp, amount).",
		},
		[]string{"field"},
	)

	// LateEventsTotal counts events older than the retention horizon.
	LateEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "late_events_total",
			Help:      "Events that arrived too late to affect any live window.",
		},
	)

	// WindowsEmittedTotal counts window aggregates handed downstream.
	WindowsEmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "windows_emitted_total",
			Help:      "Window aggregates emitted by the aggregator.",
		},
	)

	// AlertsTotal counts alerts by the rule that triggered them.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "alerts_total",
			Help:      "Alerts emitted, labeled by triggering rule.",
		},
		[]string{"rule"},
	)

	// EnrichmentsTotal counts narrative enrichment outcomes.
	EnrichmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "enrichments_total",
			Help:      "Narrative enrichment attempts by result (ok, fallback).",
		},
		[]string{"result"},
	)

	// WatchlistEntries tracks the size of the loaded reference table.
	WatchlistEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "watchlist_entries",
			Help:      "Entries in the loaded watchlist reference table.",
		},
	)

	// ActiveWebSocketClients tracks connected alert feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "active_websocket_clients",
			Help:      "Currently connected WebSocket alert feed clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EventsIngestedTotal,
		ParseFailuresTotal,
		LateEventsTotal,
		WindowsEmittedTotal,
		AlertsTotal,
		EnrichmentsTotal,
		WatchlistEntries,
		ActiveWebSocketClients,
	)
}

// Handler returns the /metrics HTTP handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware records request counts and latency for every route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}
