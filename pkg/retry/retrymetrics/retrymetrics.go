// Package retrymetrics exports retry engine events as Prometheus metrics.
package retrymetrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jzx17/bffkit/pkg/retry"
)

const namespace = "bffkit"

// Outcome label values
const (
	OutcomeSuccess      = "success"
	OutcomeNonRetryable = "non_retryable"
	OutcomeExhausted    = "exhausted"
	OutcomeTimeout      = "timeout"
)

// Handler implements retry.EventHandler on top of Prometheus collectors.
type Handler struct {
	attempts *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	delays   *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Handler, error) {
	h := &Handler{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Operation attempts made by the retry engine",
		}, []string{"operation"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "outcomes_total",
			Help:      "Final outcomes of retried operations",
		}, []string{"operation", "outcome"}),
		delays: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "delay_seconds",
			Help:      "Pauses taken between attempts",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
	}

	for _, c := range []prometheus.Collector{h.attempts, h.outcomes, h.delays} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return h, nil
}

// MustNew is like New but panics on registration errors
func MustNew(reg prometheus.Registerer) *Handler {
	h, err := New(reg)
	if err != nil {
		panic(err)
	}
	return h
}

func (h *Handler) OnRetryAttempt(_ context.Context, name string, _ retry.Attempt, delay time.Duration) {
	h.attempts.WithLabelValues(name).Inc()
	h.delays.WithLabelValues(name).Observe(delay.Seconds())
}

func (h *Handler) OnRetrySuccess(_ context.Context, name string, _ retry.Attempt) {
	h.attempts.WithLabelValues(name).Inc()
	h.outcomes.WithLabelValues(name, OutcomeSuccess).Inc()
}

func (h *Handler) OnRetryFailure(_ context.Context, name string, _ retry.Attempt) {
	h.attempts.WithLabelValues(name).Inc()
	h.outcomes.WithLabelValues(name, OutcomeNonRetryable).Inc()
}

func (h *Handler) OnMaxAttemptsReached(_ context.Context, name string, _ retry.Attempt) {
	h.attempts.WithLabelValues(name).Inc()
	h.outcomes.WithLabelValues(name, OutcomeExhausted).Inc()
}

// OnTimeout counts the outcome only; the attempts were counted as they settled
func (h *Handler) OnTimeout(_ context.Context, name string, _ *retry.TimeoutError) {
	h.outcomes.WithLabelValues(name, OutcomeTimeout).Inc()
}
