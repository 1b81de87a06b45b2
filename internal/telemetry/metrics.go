// Package telemetry owns the Prometheus metrics and OpenTelemetry tracing
// shared by the gateway, the chat pipeline and the tool registry.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reddichat"

// Metrics groups the service's collectors on a private registry. All
// methods are safe on a nil receiver so components can run unmetered.
type Metrics struct {
	registry      *prometheus.Registry
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	streams       *prometheus.CounterVec
	streamSeconds prometheus.Histogram
	activeStreams prometheus.Gauge
	toolCalls     *prometheus.CounterVec
	uploads       *prometheus.CounterVec
	purged        prometheus.Counter
}

// NewMetrics creates and registers all collectors, plus the Go runtime
// and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_streams_total",
			Help:      "Chat turns by terminal outcome (done, error, cancelled).",
		}, []string{"outcome"}),
		streamSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Wall time of a chat turn from request to terminal event.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chat_streams_active",
			Help:      "Chat turns currently in flight.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploaded files by file type and outcome.",
		}, []string{"file_type", "outcome"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachments_purged_total",
			Help:      "Orphaned attachments removed by the cleanup job.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.streams, m.streamSeconds, m.activeStreams,
		m.toolCalls, m.uploads, m.purged,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// StreamStarted marks a chat turn as in flight.
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

// StreamFinished records the terminal outcome of a chat turn.
func (m *Metrics) StreamFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
	m.streams.WithLabelValues(outcome).Inc()
	m.streamSeconds.Observe(d.Seconds())
}

// ToolCall records one tool invocation.
func (m *Metrics) ToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// Upload records one uploaded (or rejected) file.
func (m *Metrics) Upload(fileType, outcome string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(fileType, outcome).Inc()
}

// AttachmentsPurged adds n to the cleanup counter.
func (m *Metrics) AttachmentsPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.purged.Add(float64(n))
}
