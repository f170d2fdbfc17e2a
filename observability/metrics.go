package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks engine operations as seen by the executor.
type SettlementMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	throttles  *prometheus.CounterVec
}

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics
)

// NewSettlementMetrics builds the operation collectors and registers them with
// reg. A nil reg leaves them unregistered.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	m := &SettlementMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settle",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Engine operations segmented by operation and outcome code.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "settle",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution for engine operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settle",
			Subsystem: "gateway",
			Name:      "throttles_total",
			Help:      "Requests rejected by the gateway rate limiter.",
		}, []string{"route", "reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.latency, m.throttles)
	}
	return m
}

// Settlement returns the process-wide metrics registered with the default
// Prometheus registerer.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = NewSettlementMetrics(prometheus.DefaultRegisterer)
	})
	return settlementRegistry
}

// ObserveOperation records the outcome of one engine operation. Successful
// operations carry the outcome "ok"; rejections carry their error kind.
func (m *SettlementMetrics) ObserveOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	operation = label(operation, "unknown")
	m.operations.WithLabelValues(operation, label(outcome, "ok")).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *SettlementMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(label(route, "unknown"), label(reason, "unspecified")).Inc()
}

func label(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
