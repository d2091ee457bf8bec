package restfetch

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle,
// debouncing and long-poll layers. It is safe for concurrent use; every
// Record* method is a no-op on a nil receiver so instrumentation points stay
// unconditional.
type MetricsCollector struct {
	attemptsTotal    *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec
	attemptsInFlight *prometheus.GaugeVec

	errorsTotal *prometheus.CounterVec

	staleDropsTotal *prometheus.CounterVec

	debounceCoalescedTotal *prometheus.CounterVec

	pollCyclesTotal    *prometheus.CounterVec
	pollSessionsActive prometheus.Gauge

	circuitBreakerState *prometheus.GaugeVec

	rateLimitedTotal *prometheus.CounterVec

	registerer prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	mc := &MetricsCollector{
		attemptsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restfetch_attempts_total",
				Help: "Total number of fetch attempts dispatched",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		attemptDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "restfetch_attempt_duration_seconds",
				Help:    "Duration of fetch attempts in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		attemptsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "restfetch_attempts_in_flight",
				Help: "Number of fetch attempts currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restfetch_errors_total",
				Help: "Total number of normalized errors by type",
			},
			[]string{"type", "method", "endpoint"},
		),
		staleDropsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restfetch_stale_results_dropped_total",
				Help: "Completed attempts discarded because their token was invalidated",
			},
			[]string{"kind"},
		),
		debounceCoalescedTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restfetch_debounce_coalesced_total",
				Help: "Trigger invocations collapsed by the debouncer",
			},
			[]string{"endpoint"},
		),
		pollCyclesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restfetch_poll_cycles_total",
				Help: "Long-poll request cycles issued",
			},
			[]string{"endpoint", "outcome"},
		),
		pollSessionsActive: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "restfetch_poll_sessions_active",
				Help: "Long-poll sessions currently polling",
			},
		),
		circuitBreakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "restfetch_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		rateLimitedTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "restfetch_rate_limited_total",
				Help: "Attempts denied by the client-side rate limiter",
			},
			[]string{"endpoint"},
		),
		registerer: registry,
	}

	return mc
}

// RecordAttempt records attempt count and duration.
func (mc *MetricsCollector) RecordAttempt(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	statusCodeStr := strconv.Itoa(statusCode)
	mc.attemptsTotal.WithLabelValues(method, statusCodeStr, endpoint).Inc()
	mc.attemptDuration.WithLabelValues(method, statusCodeStr, endpoint).Observe(duration.Seconds())
}

// RecordAttemptStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordAttemptStart(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.attemptsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordAttemptEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordAttemptEnd(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.attemptsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordError increments the error counter by normalized type.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}

// RecordStaleDrop counts a completed attempt whose result was discarded.
// kind is "fetch", "mutate" or "poll".
func (mc *MetricsCollector) RecordStaleDrop(kind string) {
	if mc == nil {
		return
	}

	mc.staleDropsTotal.WithLabelValues(kind).Inc()
}

// RecordDebounceCoalesced counts a trigger collapsed into a pending execution.
func (mc *MetricsCollector) RecordDebounceCoalesced(endpoint string) {
	if mc == nil {
		return
	}

	mc.debounceCoalescedTotal.WithLabelValues(endpoint).Inc()
}

// RecordPollCycle counts one long-poll cycle. outcome is "update", "empty",
// "finished" or "error".
func (mc *MetricsCollector) RecordPollCycle(endpoint, outcome string) {
	if mc == nil {
		return
	}

	mc.pollCyclesTotal.WithLabelValues(endpoint, outcome).Inc()
}

// RecordPollSessionStart increments the active poll session gauge.
func (mc *MetricsCollector) RecordPollSessionStart() {
	if mc == nil {
		return
	}

	mc.pollSessionsActive.Inc()
}

// RecordPollSessionEnd decrements the active poll session gauge.
func (mc *MetricsCollector) RecordPollSessionEnd() {
	if mc == nil {
		return
	}

	mc.pollSessionsActive.Dec()
}

// RecordCircuitBreakerState sets the gauge to the breaker state.
func (mc *MetricsCollector) RecordCircuitBreakerState(name string, state CircuitState) {
	if mc == nil {
		return
	}

	var stateValue float64
	switch state {
	case StateClosed:
		stateValue = 0
	case StateOpen:
		stateValue = 1
	case StateHalfOpen:
		stateValue = 2
	}

	mc.circuitBreakerState.WithLabelValues(name).Set(stateValue)
}

// RecordRateLimited counts an attempt denied by the rate limiter.
func (mc *MetricsCollector) RecordRateLimited(endpoint string) {
	if mc == nil {
		return
	}

	mc.rateLimitedTotal.WithLabelValues(endpoint).Inc()
}

// Registry exposes the underlying prometheus registry when the collector was
// built on one (the default); ok is false for custom registerers.
func (mc *MetricsCollector) Registry() (*prometheus.Registry, bool) {
	reg, ok := mc.registerer.(*prometheus.Registry)
	return reg, ok
}
