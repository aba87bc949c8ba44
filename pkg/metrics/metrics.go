// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-frostsigner.
//
// go-frostsigner is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for the signer: page
// requests by operation, permission decisions, prompt sessions, signing
// batches and backend latency.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all signer metrics
	Namespace = "frostsigner"

	// Label names
	LabelOperation  = "operation"
	LabelStatus     = "status"
	LabelDecision   = "decision"
	LabelOutcome    = "outcome"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// RequestsTotal counts page requests by operation and result code.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_total",
			Help:      "Total number of page requests by operation and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// RequestDuration tracks end-to-end request latency including prompts.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of page requests in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
		},
		[]string{LabelOperation},
	)

	// PermissionDecisions counts arbiter results (allow, deny, unknown).
	PermissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "permission_decisions_total",
			Help:      "Permission arbiter results by operation and decision",
		},
		[]string{LabelOperation, LabelDecision},
	)

	// PromptSessions counts prompt sessions by how they ended.
	PromptSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "prompt",
			Name:      "sessions_total",
			Help:      "Prompt sessions by outcome (approved, rejected, closed, canceled)",
		},
		[]string{LabelOutcome},
	)

	// PromptWaiters is the number of requests waiting for the prompt lock.
	PromptWaiters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "prompt",
			Name:      "waiters",
			Help:      "Requests currently queued for the prompt lock",
		},
	)

	// PromptWait tracks how long a human took to decide.
	PromptWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "prompt",
			Name:      "decision_seconds",
			Help:      "Time from prompt open to decision in seconds",
			Buckets:   []float64{.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	// BatchSize tracks the number of unique ids per backend signing call.
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "batch",
			Name:      "size",
			Help:      "Unique signing targets per backend call",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	// BackendDuration tracks threshold backend call latency.
	BackendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "backend",
			Name:      "call_duration_seconds",
			Help:      "Duration of threshold backend calls in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{LabelMethod, LabelStatus},
	)

	// PoliciesTotal is the number of persisted policies.
	PoliciesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "policies",
			Help:      "Number of persisted permission policies",
		},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// Goroutines tracks the current number of goroutines.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordRequest records a routed page request.
func RecordRequest(operation, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	RequestsTotal.WithLabelValues(operation, status).Inc()
	RequestDuration.WithLabelValues(operation).Observe(duration)
}

// RecordDecision records a permission arbiter result.
func RecordDecision(operation, decision string) {
	if !enabled.Load() {
		return
	}
	PermissionDecisions.WithLabelValues(operation, decision).Inc()
}

// RecordPrompt records the end of a prompt session.
func RecordPrompt(outcome string, waited float64) {
	if !enabled.Load() {
		return
	}
	PromptSessions.WithLabelValues(outcome).Inc()
	PromptWait.Observe(waited)
}

// AddPromptWaiters adjusts the prompt lock queue gauge.
func AddPromptWaiters(delta float64) {
	if !enabled.Load() {
		return
	}
	PromptWaiters.Add(delta)
}

// RecordBatch records the size of a flushed signing batch.
func RecordBatch(size int) {
	if !enabled.Load() {
		return
	}
	BatchSize.Observe(float64(size))
}

// RecordBackendCall records a threshold backend round trip.
func RecordBackendCall(method, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	BackendDuration.WithLabelValues(method, status).Observe(duration)
}

// SetPolicies sets the persisted policy gauge.
func SetPolicies(count int) {
	if !enabled.Load() {
		return
	}
	PoliciesTotal.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
