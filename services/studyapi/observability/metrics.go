// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the study
// service.
//
// # Description
//
// This package implements Prometheus metrics for:
//   - HTTP requests by endpoint and status
//   - AI gateway calls (latency, outcome, timeouts)
//   - Event log writes, write failures and dispatcher queue depth
//   - Log export volume
//   - Streaming chat (active streams, time to first delta)
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every Record method is safe to call on a nil *Metrics, which is how
// components run when metrics are disabled.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "writingstudy"

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	RequestsTotal *prometheus.CounterVec

	AICallDurationSeconds *prometheus.HistogramVec

	AICallsTotal *prometheus.CounterVec

	LogWritesTotal *prometheus.CounterVec

	LogQueueDepth prometheus.Gauge

	LogEntriesSkippedTotal prometheus.Counter

	ExportBytesTotal prometheus.Counter

	ActiveStreams *prometheus.GaugeVec

	TimeToFirstDeltaSeconds *prometheus.HistogramVec

	RateLimitedTotal *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide Metrics registered on the default
// Prometheus registerer. Safe to call more than once.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetrics creates and registers collectors on reg.
//
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate
// registration on the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests by endpoint and status code class",
			},
			[]string{"endpoint", "status"},
		),

		AICallDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "ai",
				Name:      "call_duration_seconds",
				Help:      "Duration of calls to the AI service",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"gateway"},
		),

		AICallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "ai",
				Name:      "calls_total",
				Help:      "AI service calls by gateway and outcome",
			},
			[]string{"gateway", "outcome"},
		),

		LogWritesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "eventlog",
				Name:      "writes_total",
				Help:      "Event log writes by result",
			},
			[]string{"result"},
		),

		LogQueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "eventlog",
				Name:      "queue_depth",
				Help:      "Event log writes scheduled but not yet completed",
			},
		),

		LogEntriesSkippedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "eventlog",
				Name:      "entries_skipped_total",
				Help:      "Malformed lines skipped while reading shards",
			},
		),

		ExportBytesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "eventlog",
				Name:      "export_bytes_total",
				Help:      "Uncompressed shard bytes written to zip exports",
			},
		),

		ActiveStreams: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "streaming",
				Name:      "active_streams",
				Help:      "Number of currently active chat streams",
			},
			[]string{"transport"},
		),

		TimeToFirstDeltaSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "streaming",
				Name:      "time_to_first_delta_seconds",
				Help:      "Time from request to first streamed delta",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"transport"},
		),

		RateLimitedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"endpoint"},
		),
	}
}

// =============================================================================
// Label Values
// =============================================================================

// Outcome labels an AI call result.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
	OutcomeCached  Outcome = "cached"
	OutcomeBypass  Outcome = "bypass"
)

// Gateway labels which gateway made an AI call.
type Gateway string

const (
	GatewaySuggestion Gateway = "suggestion"
	GatewayReflection Gateway = "reflection"
	GatewayChat       Gateway = "chat"
)

// =============================================================================
// Recording Methods
// =============================================================================

// RecordRequest counts a finished HTTP request.
func (m *Metrics) RecordRequest(endpoint string, status int) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint, statusClass(status)).Inc()
}

// RecordAICall records the duration and outcome of one AI call.
func (m *Metrics) RecordAICall(gw Gateway, outcome Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AICallsTotal.WithLabelValues(string(gw), string(outcome)).Inc()
	if outcome != OutcomeCached && outcome != OutcomeBypass {
		m.AICallDurationSeconds.WithLabelValues(string(gw)).Observe(elapsed.Seconds())
	}
}

// RecordLogWrite counts an event log write.
func (m *Metrics) RecordLogWrite(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.LogWritesTotal.WithLabelValues(result).Inc()
}

// QueueAdd adjusts the dispatcher queue depth gauge.
func (m *Metrics) QueueAdd(delta float64) {
	if m == nil {
		return
	}
	m.LogQueueDepth.Add(delta)
}

// RecordSkippedEntry counts a malformed shard line.
func (m *Metrics) RecordSkippedEntry() {
	if m == nil {
		return
	}
	m.LogEntriesSkippedTotal.Inc()
}

// RecordExportBytes counts uncompressed bytes written to an export.
func (m *Metrics) RecordExportBytes(n int64) {
	if m == nil {
		return
	}
	m.ExportBytesTotal.Add(float64(n))
}

// StreamStarted increments the active stream gauge.
func (m *Metrics) StreamStarted(transport string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(transport).Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *Metrics) StreamEnded(transport string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(transport).Dec()
}

// RecordTimeToFirstDelta observes latency to the first streamed delta.
func (m *Metrics) RecordTimeToFirstDelta(transport string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstDeltaSeconds.WithLabelValues(transport).Observe(elapsed.Seconds())
}

// RecordRateLimited counts a request rejected by the limiter.
func (m *Metrics) RecordRateLimited(endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(endpoint).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
