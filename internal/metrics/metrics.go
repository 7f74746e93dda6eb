package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transition labels.
const (
	TransitionStarted   = "started"
	TransitionRestarted = "restarted"
	TransitionEnded     = "ended"
)

// Chunk failure stage labels.
const (
	StageSave   = "save"
	StageIngest = "ingest"
	StageProbe  = "probe"
	StageCursor = "cursor"
)

// Metrics holds Prometheus counters and gauges for the supervisor.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry             *prometheus.Registry
	pollIterationsTotal  prometheus.Counter
	pollDuration         prometheus.Histogram
	probeFailuresTotal   prometheus.Counter
	transitionsTotal     *prometheus.CounterVec
	transitionErrors     prometheus.Counter
	activeRecordings     prometheus.Gauge
	chunksProcessedTotal prometheus.Counter
	chunkFailuresTotal   *prometheus.CounterVec
	notificationFailures *prometheus.CounterVec
	requestsTotal        prometheus.Counter
	errorsTotal          prometheus.Counter
}

// New creates and registers Prometheus metrics for the supervisor.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	pollIterationsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchlist_poll_iterations_total",
		Help: "Total number of completed watchlist poll iterations",
	})
	pollDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "watchlist_poll_duration_seconds",
		Help:    "Duration of one watchlist poll iteration",
		Buckets: prometheus.DefBuckets,
	})
	probeFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchlist_probe_failures_total",
		Help: "Total number of live status probes that failed or timed out",
	})
	transitionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "watchlist_transitions_total",
		Help: "Total number of stream lifecycle transitions",
	}, []string{"transition"})
	transitionErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchlist_transition_errors_total",
		Help: "Total number of lifecycle transitions that failed",
	})
	activeRecordings := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "watchlist_active_recordings",
		Help: "Number of registered capture tasks",
	})
	chunksProcessedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchlist_chunks_processed_total",
		Help: "Total number of captured chunks processed",
	})
	chunkFailuresTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "watchlist_chunk_failures_total",
		Help: "Total number of chunk processing failures by stage",
	}, []string{"stage"})
	notificationFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "watchlist_notification_failures_total",
		Help: "Total number of failed notification deliveries by subscriber",
	}, []string{"subscriber"})
	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchlist_http_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchlist_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		pollIterationsTotal,
		pollDuration,
		probeFailuresTotal,
		transitionsTotal,
		transitionErrors,
		activeRecordings,
		chunksProcessedTotal,
		chunkFailuresTotal,
		notificationFailures,
		requestsTotal,
		errorsTotal,
	)

	return &Metrics{
		registry:             registry,
		pollIterationsTotal:  pollIterationsTotal,
		pollDuration:         pollDuration,
		probeFailuresTotal:   probeFailuresTotal,
		transitionsTotal:     transitionsTotal,
		transitionErrors:     transitionErrors,
		activeRecordings:     activeRecordings,
		chunksProcessedTotal: chunksProcessedTotal,
		chunkFailuresTotal:   chunkFailuresTotal,
		notificationFailures: notificationFailures,
		requestsTotal:        requestsTotal,
		errorsTotal:          errorsTotal,
	}
}

// ObservePoll records one completed poll iteration.
func (m *Metrics) ObservePoll(d time.Duration) {
	if m == nil {
		return
	}
	m.pollIterationsTotal.Inc()
	m.pollDuration.Observe(d.Seconds())
}

// IncProbeFailures increments the probe failure counter.
func (m *Metrics) IncProbeFailures() {
	if m == nil {
		return
	}
	m.probeFailuresTotal.Inc()
}

// IncTransition increments the transition counter for the given label.
func (m *Metrics) IncTransition(transition string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(transition).Inc()
}

// IncTransitionErrors increments the failed transition counter.
func (m *Metrics) IncTransitionErrors() {
	if m == nil {
		return
	}
	m.transitionErrors.Inc()
}

// SetActiveRecordings sets the active recordings gauge.
func (m *Metrics) SetActiveRecordings(n int) {
	if m == nil {
		return
	}
	m.activeRecordings.Set(float64(n))
}

// IncChunksProcessed increments the processed chunk counter.
func (m *Metrics) IncChunksProcessed() {
	if m == nil {
		return
	}
	m.chunksProcessedTotal.Inc()
}

// IncChunkFailures increments the chunk failure counter for a stage.
func (m *Metrics) IncChunkFailures(stage string) {
	if m == nil {
		return
	}
	m.chunkFailuresTotal.WithLabelValues(stage).Inc()
}

// IncNotificationFailures increments the delivery failure counter.
func (m *Metrics) IncNotificationFailures(subscriber string) {
	if m == nil {
		return
	}
	m.notificationFailures.WithLabelValues(subscriber).Inc()
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
