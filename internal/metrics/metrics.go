// Package metrics defines the Prometheus collectors exported on the metrics
// port. Collectors are package-level and registered once at init.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kubinaut_build_info",
			Help: "Build metadata; the value is always 1",
		},
		[]string{"version", "commit", "go_version"},
	)

	// Session metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kubinaut_sessions_active",
			Help: "Number of open WebSocket sessions",
		},
	)

	SessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kubinaut_sessions_total",
			Help: "Total number of sessions opened",
		},
	)

	ConnectionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubinaut_connections_rejected_total",
			Help: "WebSocket connection attempts refused before a session opened, by reason",
		},
		[]string{"reason"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubinaut_requests_total",
			Help: "Total number of session requests by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubinaut_request_duration_seconds",
			Help:    "Time from decoding a request to queueing its reply",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	PushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubinaut_pushes_total",
			Help: "Snapshots pushed to sessions without a request, by kind",
		},
		[]string{"kind"},
	)

	// Cache metrics
	CacheEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubinaut_cache_events_total",
			Help: "Watch events applied to the resource cache by kind and change type",
		},
		[]string{"kind", "change"},
	)

	CacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kubinaut_cache_entries",
			Help: "Resources currently cached by kind",
		},
		[]string{"kind"},
	)

	OrphansDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubinaut_cache_orphans_dropped_total",
			Help: "Events for unknown namespaces dropped after the grace period",
		},
		[]string{"kind"},
	)

	WatchRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubinaut_watch_restarts_total",
			Help: "Watch loop restarts by kind",
		},
		[]string{"kind"},
	)

	// Command metrics
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubinaut_commands_total",
			Help: "Executed commands by outcome (succeeded or an error kind)",
		},
		[]string{"outcome"},
	)

	CommandDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kubinaut_command_duration_seconds",
			Help:    "Command execution time in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)

func init() {
	prometheus.MustRegister(BuildInfo)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(ConnectionsRejected)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(PushesTotal)
	prometheus.MustRegister(CacheEventsTotal)
	prometheus.MustRegister(CacheEntries)
	prometheus.MustRegister(OrphansDropped)
	prometheus.MustRegister(WatchRestarts)
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(CommandDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation for a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
