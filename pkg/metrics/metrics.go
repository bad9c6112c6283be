// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-tpmengine.
//
// go-tpmengine is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for go-tpmengine.
// It exposes TPM command round-trip counters and latencies, engine
// operation counters, session lifecycle gauges and the resource gauges
// published by the serve command.
package metrics

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all engine metrics
	Namespace = "tpmengine"

	// Label names
	LabelCommand    = "command"
	LabelOperation  = "operation"
	LabelStatus     = "status"
	LabelErrorType  = "error_type"
	LabelState      = "state"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Engine operation names
	OpInit       = "init"
	OpFinish     = "finish"
	OpDestroy    = "destroy"
	OpSign       = "sign"
	OpVerify     = "verify"
	OpRandom     = "random"
	OpLoadKey    = "load_key"
	OpLoadPublic = "load_public"
	OpReadPublic = "read_public"
)

var (
	// CommandsTotal counts TPM command round-trips by command and status
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "tpm",
			Name:      "commands_total",
			Help:      "Total number of TPM command round-trips by command and status",
		},
		[]string{LabelCommand, LabelStatus},
	)

	// CommandDuration tracks the latency of a single TPM round-trip in seconds
	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "tpm",
			Name:      "command_duration_seconds",
			Help:      "Duration of TPM command round-trips in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{LabelCommand},
	)

	// ResponseCodesTotal counts non-success TPM response codes by command
	ResponseCodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "tpm",
			Name:      "response_codes_total",
			Help:      "Total number of non-success TPM response codes by command and code",
		},
		[]string{LabelCommand, LabelStatusCode},
	)

	// OperationsTotal tracks engine operations by type and status.
	// Use RecordOperation to increment this counter with the appropriate labels.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of engine operations by type and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// OperationDuration tracks the duration of engine operations in seconds,
	// including session start and stop.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{LabelOperation},
	)

	// ErrorsTotal tracks errors by operation and error kind
	// (device, transport, encoding, persistence, malformed_identifier).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation and error type",
		},
		[]string{LabelOperation, LabelErrorType},
	)

	// RandomBytesTotal counts random bytes delivered to callers
	RandomBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "random_bytes_total",
			Help:      "Total number of random bytes returned by the TPM",
		},
	)

	// SessionState reports the current session context state
	// (0 = null, 1 = initialized, 2 = destroyed)
	SessionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "Current session context state (0 null, 1 initialized, 2 destroyed)",
		},
	)

	// SessionTransitionsTotal counts session transitions by target state
	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Total number of session context transitions by target state",
		},
		[]string{LabelState},
	)

	// HTTPRequestsTotal tracks HTTP requests served by the serve command
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds
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
	// Updated periodically by the resource collector.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// ServerUptime tracks the serve command uptime in seconds
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordCommand records a single TPM command round-trip.
//
// Parameters:
//   - command: The TPM command name (e.g., "Sign", "GetRandom")
//   - status: The round-trip status (use Status* constants)
//   - duration: The round-trip duration in seconds
func RecordCommand(command, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	CommandsTotal.WithLabelValues(command, status).Inc()
	CommandDuration.WithLabelValues(command).Observe(duration)
}

// RecordResponseCode records a non-success TPM response code for command
func RecordResponseCode(command string, code uint32) {
	if !enabled.Load() {
		return
	}
	ResponseCodesTotal.WithLabelValues(command, formatCode(code)).Inc()
}

// RecordOperation records an engine operation with its duration and status.
// This is the primary function for tracking operational metrics.
//
// Example:
//
//	start := time.Now()
//	sig, err := engine.Sign(digest, keyID)
//	duration := time.Since(start).Seconds()
//	if err != nil {
//	    RecordOperation(OpSign, StatusError, duration)
//	} else {
//	    RecordOperation(OpSign, StatusSuccess, duration)
//	}
func RecordOperation(operation, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordError records an error event with the operation it occurred in
func RecordError(operation, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// AddRandomBytes adds n to the random byte counter
func AddRandomBytes(n int) {
	if !enabled.Load() || n <= 0 {
		return
	}
	RandomBytesTotal.Add(float64(n))
}

// SetSessionState records a session context transition into state.
// value is the numeric state published on the gauge and name its label.
func SetSessionState(name string, value int) {
	if !enabled.Load() {
		return
	}
	SessionState.Set(float64(value))
	SessionTransitionsTotal.WithLabelValues(name).Inc()
}

// RecordHTTPRequest records an HTTP request with its duration and status
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
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}

func formatCode(code uint32) string {
	return fmt.Sprintf("0x%03x", code)
}
