package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics tracks API and engine activity for the lending daemon.
type LendingMetrics struct {
	requests     *prometheus.CounterVec
	errors       *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	throttles    *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	healthChecks *prometheus.CounterVec
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// Lending returns the lazily-initialised lending metrics registered on the
// default prometheus registry.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = NewLendingMetrics(prometheus.DefaultRegisterer)
	})
	return lendingRegistry
}

// NewLendingMetrics builds the collectors and registers them on reg. A nil
// registerer leaves them unregistered, which tests use to avoid collisions.
func NewLendingMetrics(reg prometheus.Registerer) *LendingMetrics {
	m := &LendingMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lending",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total lending API requests segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lending",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Total lending API errors segmented by operation and status code.",
		}, []string{"operation", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lending",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for lending API handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lending",
			Subsystem: "api",
			Name:      "throttles_total",
			Help:      "Count of requests rejected by rate limits or quotas.",
		}, []string{"operation", "reason"}),
		liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lending",
			Subsystem: "engine",
			Name:      "liquidations_total",
			Help:      "Liquidation attempts segmented by outcome.",
		}, []string{"outcome"}),
		healthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lending",
			Subsystem: "engine",
			Name:      "health_checks_total",
			Help:      "Loan health evaluations segmented by resulting status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.errors, m.latency, m.throttles, m.liquidations, m.healthChecks)
	}
	return m
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *LendingMetrics) Observe(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(operation, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" or "quota_exceeded".
func (m *LendingMetrics) RecordThrottle(operation, reason string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(operation, reason).Inc()
}

// RecordLiquidation counts a liquidation attempt.
func (m *LendingMetrics) RecordLiquidation(err error) {
	if m == nil {
		return
	}
	outcome := "executed"
	if err != nil {
		outcome = "rejected"
	}
	m.liquidations.WithLabelValues(outcome).Inc()
}

// RecordHealthCheck counts a health evaluation by status (safe, caution,
// danger).
func (m *LendingMetrics) RecordHealthCheck(status string) {
	if m == nil {
		return
	}
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		status = "unknown"
	}
	m.healthChecks.WithLabelValues(status).Inc()
}
