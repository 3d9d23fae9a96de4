// Package metrics provides Prometheus metrics export for the chat pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exports chat metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	chatLatency  *prometheus.HistogramVec
	chatRequests *prometheus.CounterVec
	chatActive   prometheus.Gauge

	toolCalls *prometheus.CounterVec

	llmTokensUsed *prometheus.CounterVec

	streamResumes *prometheus.CounterVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60}
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.chatLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deepsearch",
			Subsystem: "chat",
			Name:      "latency_seconds",
			Help:      "Chat generation latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"status"},
	)

	e.chatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deepsearch",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of chat requests",
		},
		[]string{"status"},
	)

	e.chatActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "deepsearch",
			Subsystem: "chat",
			Name:      "active_generations",
			Help:      "Number of generations currently producing",
		},
	)

	e.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deepsearch",
			Subsystem: "chat",
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls",
		},
		[]string{"tool_name", "status"},
	)

	e.llmTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deepsearch",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"kind"},
	)

	e.streamResumes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deepsearch",
			Subsystem: "stream",
			Name:      "resumes_total",
			Help:      "Total stream resume attempts",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(
		e.chatLatency,
		e.chatRequests,
		e.chatActive,
		e.toolCalls,
		e.llmTokensUsed,
		e.streamResumes,
	)

	return e
}

// HTTPHandler returns the /metrics scrape handler.
func (e *PrometheusExporter) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// RecordChatRequest counts one finished chat generation.
func (e *PrometheusExporter) RecordChatRequest(status string, duration time.Duration) {
	e.chatRequests.WithLabelValues(status).Inc()
	e.chatLatency.WithLabelValues(status).Observe(duration.Seconds())
}

// GenerationStarted tracks an in-flight generation.
func (e *PrometheusExporter) GenerationStarted() {
	e.chatActive.Inc()
}

// GenerationFinished releases an in-flight generation.
func (e *PrometheusExporter) GenerationFinished() {
	e.chatActive.Dec()
}

// RecordToolCall counts one tool execution.
func (e *PrometheusExporter) RecordToolCall(toolName, status string) {
	e.toolCalls.WithLabelValues(toolName, status).Inc()
}

// RecordTokens counts LLM token usage.
func (e *PrometheusExporter) RecordTokens(promptTokens, completionTokens int) {
	e.llmTokensUsed.WithLabelValues("prompt").Add(float64(promptTokens))
	e.llmTokensUsed.WithLabelValues("completion").Add(float64(completionTokens))
}

// RecordResume counts a stream resume attempt. outcome is one of "live",
// "fallback" or "empty".
func (e *PrometheusExporter) RecordResume(outcome string) {
	e.streamResumes.WithLabelValues(outcome).Inc()
}
