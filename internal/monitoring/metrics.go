// Package monitoring - metrics.go exports Prometheus metrics.
//
// DESIGN: One private registry per MetricsCollector so tests and multiple
// gateways in one process never collide on global registration.
//   - requests:      inbound requests by provider, stream flag, status class
//   - upstream:      upstream latency, errors and 429s by provider
//   - stream:        time to first chunk, withheld tool-call events
//   - toon:          tokens before/after and cost saved by compression
//   - policy:        tool calls blocked by policy
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "provider_gateway"

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	requestLatency   *prometheus.HistogramVec
	upstreamErrors   *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	firstChunk       *prometheus.HistogramVec
	withheldChunks   *prometheus.CounterVec
	toolCalls        *prometheus.CounterVec
	blockedToolCalls *prometheus.CounterVec
	toonTokens       *prometheus.CounterVec
	toonCostSaved    *prometheus.CounterVec
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()
	mc := &MetricsCollector{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Inbound requests by provider, stream mode and HTTP status.",
		}, []string{"provider", "stream", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider", "stream"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upstream_errors_total",
			Help:      "Upstream failures by provider and HTTP status (0 for transport errors).",
		}, []string{"provider", "status"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upstream_rate_limited_total",
			Help:      "Upstream HTTP 429 answers by provider.",
		}, []string{"provider"}),
		firstChunk: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "stream_first_chunk_seconds",
			Help:      "Delay between upstream call and first stream event.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"provider"}),
		withheldChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stream_withheld_events_total",
			Help:      "Stream events withheld until a tool call completed.",
		}, []string{"provider"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tool_calls_total",
			Help:      "Finalized tool calls returned by upstream models.",
		}, []string{"provider"}),
		blockedToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "blocked_tool_calls_total",
			Help:      "Tool calls refused by policy.",
		}, []string{"provider", "tool"}),
		toonTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "toon_tokens_total",
			Help:      "Tool-result tokens before and after TOON compression.",
		}, []string{"provider", "phase"}),
		toonCostSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "toon_cost_saved_usd_total",
			Help:      "Estimated input cost saved by TOON compression.",
		}, []string{"provider"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		mc.requests,
		mc.requestLatency,
		mc.upstreamErrors,
		mc.rateLimited,
		mc.firstChunk,
		mc.withheldChunks,
		mc.toolCalls,
		mc.blockedToolCalls,
		mc.toonTokens,
		mc.toonCostSaved,
	)
	return mc
}

// Registry exposes the collector registry (tests gather from it).
func (mc *MetricsCollector) Registry() *prometheus.Registry { return mc.registry }

// Handler serves the /metrics endpoint.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}

// RecordRequest records one finished inbound request.
func (mc *MetricsCollector) RecordRequest(provider string, stream bool, status int, latency time.Duration) {
	if provider == "" {
		provider = "none"
	}
	s := strconv.FormatBool(stream)
	mc.requests.WithLabelValues(provider, s, strconv.Itoa(status)).Inc()
	mc.requestLatency.WithLabelValues(provider, s).Observe(latency.Seconds())
}

// RecordUpstreamError records an upstream failure. status is 0 for
// transport errors.
func (mc *MetricsCollector) RecordUpstreamError(provider string, status int) {
	mc.upstreamErrors.WithLabelValues(provider, strconv.Itoa(status)).Inc()
}

// RecordUpstreamRateLimited counts one upstream 429.
func (mc *MetricsCollector) RecordUpstreamRateLimited(provider string) {
	mc.rateLimited.WithLabelValues(provider).Inc()
}

// RecordFirstChunk records stream time to first event.
func (mc *MetricsCollector) RecordFirstChunk(provider string, d time.Duration) {
	if d <= 0 {
		return
	}
	mc.firstChunk.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordWithheld counts one withheld stream event.
func (mc *MetricsCollector) RecordWithheld(provider string) {
	mc.withheldChunks.WithLabelValues(provider).Inc()
}

// RecordToolCalls counts finalized tool calls.
func (mc *MetricsCollector) RecordToolCalls(provider string, n int) {
	if n > 0 {
		mc.toolCalls.WithLabelValues(provider).Add(float64(n))
	}
}

// RecordBlockedTool counts a policy refusal.
func (mc *MetricsCollector) RecordBlockedTool(provider, tool string) {
	mc.blockedToolCalls.WithLabelValues(provider, tool).Inc()
}

// RecordCompression records TOON accounting. Nil pointers mean the
// request had nothing to compress.
func (mc *MetricsCollector) RecordCompression(provider string, before, after *int, costSaved *float64) {
	if before != nil {
		mc.toonTokens.WithLabelValues(provider, "before").Add(float64(*before))
	}
	if after != nil {
		mc.toonTokens.WithLabelValues(provider, "after").Add(float64(*after))
	}
	if costSaved != nil && *costSaved > 0 {
		mc.toonCostSaved.WithLabelValues(provider).Add(*costSaved)
	}
}
