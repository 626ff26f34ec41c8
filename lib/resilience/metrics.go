package resilience

import (
	"context"

	"github.com/go-i2p/redispool/lib/metrics"
)

// Circuit breaker metrics for Prometheus exposition.
var (
	// BreakerState is the state of the most recently transitioned breaker.
	// 0 = closed, 1 = open, 2 = half-open
	BreakerState = metrics.NewGauge(
		"redispool_breaker_state",
		"Current state of the connection circuit breaker (0=closed, 1=open, 2=half-open)",
	)

	BreakerTrips = metrics.NewCounter(
		"redispool_breaker_trips_total",
		"Total number of times the connection circuit breaker opened",
	)

	BreakerSuccesses = metrics.NewCounter(
		"redispool_breaker_successes_total",
		"Total connection attempts that succeeded through the breaker",
	)

	BreakerFailures = metrics.NewCounter(
		"redispool_breaker_failures_total",
		"Total connection attempts that failed through the breaker",
	)

	BreakerRejections = metrics.NewCounter(
		"redispool_breaker_rejections_total",
		"Total connection attempts rejected by an open breaker",
	)
)

// MetricsCallback is a state change callback that updates the breaker
// metrics.
func MetricsCallback(from, to CircuitState) {
	BreakerState.Set(int64(to))
	if to == CircuitOpen {
		BreakerTrips.Inc()
	}
}

// MetricsCircuitBreaker is a CircuitBreaker that records its outcomes.
type MetricsCircuitBreaker struct {
	*CircuitBreaker
}

// NewMetricsCircuitBreaker creates a circuit breaker that records metrics.
func NewMetricsCircuitBreaker(name string, cfg CircuitBreakerConfig) *MetricsCircuitBreaker {
	cb := NewCircuitBreaker(name, cfg)
	cb.SetStateChangeCallback(MetricsCallback)
	return &MetricsCircuitBreaker{CircuitBreaker: cb}
}

// ExecuteWithContext runs fn through the breaker and counts the result.
func (m *MetricsCircuitBreaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) error) error {
	var ran bool
	err := m.CircuitBreaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		ran = true
		return fn(ctx)
	})

	switch {
	case !ran && err == ErrCircuitOpen:
		BreakerRejections.Inc()
	case !ran:
	case err != nil:
		BreakerFailures.Inc()
	default:
		BreakerSuccesses.Inc()
	}
	return err
}
