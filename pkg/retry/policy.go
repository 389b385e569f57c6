// Package retry provides retry policies and retry conditions
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/jzx17/bffkit/pkg/types"
)

// Policy describes how an operation is retried. It is a plain value: build one per
// call site and pass it by value, the engine never keeps it.
type Policy[T any] struct {
	// Retries is the number of re-attempts after the first try. Negative means 0.
	Retries int

	// Delay is the base pause between attempts. Zero or negative means no pause.
	Delay time.Duration

	// ExponentialBackoff makes the pause before retry k equal Delay*k
	// (Delay, 2*Delay, 3*Delay, ...). Otherwise every pause equals Delay.
	ExponentialBackoff bool

	// Timeout is the wall-clock budget measured from the start of the call.
	// Zero means no timeout. Once it has elapsed no further attempt starts.
	Timeout time.Duration

	// RetryOnError reports whether a failure should be retried. Nil retries every failure.
	RetryOnError RetryCondition

	// RetryOnResult reports whether a successfully returned value is nevertheless
	// unsatisfactory and should be retried. Nil accepts every value.
	RetryOnResult func(T) bool

	// Backoff, when set, replaces the schedule derived from Delay and ExponentialBackoff.
	Backoff BackoffStrategy
}

// RetryCondition is a function that determines retry conditions
type RetryCondition func(error) bool

// NewPolicy returns a policy with the given retry budget and base delay.
func NewPolicy[T any](retries int, delay time.Duration) Policy[T] {
	return Policy[T]{Retries: retries, Delay: delay}
}

// WithExponentialBackoff returns a copy of p with linear growth of the pause enabled.
func (p Policy[T]) WithExponentialBackoff() Policy[T] {
	p.ExponentialBackoff = true
	return p
}

// WithTimeout returns a copy of p with the given overall timeout.
func (p Policy[T]) WithTimeout(timeout time.Duration) Policy[T] {
	p.Timeout = timeout
	return p
}

// WithRetryOnError returns a copy of p with the given error condition.
func (p Policy[T]) WithRetryOnError(condition RetryCondition) Policy[T] {
	p.RetryOnError = condition
	return p
}

// WithRetryOnResult returns a copy of p with the given result condition.
func (p Policy[T]) WithRetryOnResult(condition func(T) bool) Policy[T] {
	p.RetryOnResult = condition
	return p
}

// WithBackoff returns a copy of p using strategy for pauses.
func (p Policy[T]) WithBackoff(strategy BackoffStrategy) Policy[T] {
	p.Backoff = strategy
	return p
}

// MaxAttempts returns the total number of attempts the policy allows.
func (p Policy[T]) MaxAttempts() int {
	return p.normalize().Retries + 1
}

// normalize clamps negative values. Malformed policies degrade, they are never rejected.
func (p Policy[T]) normalize() Policy[T] {
	if p.Retries < 0 {
		p.Retries = 0
	}
	p.Delay = nonNegative(p.Delay)
	if p.Backoff == nil {
		if p.ExponentialBackoff {
			p.Backoff = NewLinearBackoff(p.Delay, p.Delay)
		} else {
			p.Backoff = NewFixedBackoff(p.Delay)
		}
	}
	return p
}

// DelayFor returns the pause before the given 1-based retry.
func (p Policy[T]) DelayFor(retry int) time.Duration {
	return nonNegative(p.normalize().Backoff.NextDelay(retry))
}

// IsTransient is a RetryCondition for errors that are worth another attempt.
// Errors marked with types.RetryableError decide for themselves; context errors,
// invalid input, missing resources and rejected credentials are not retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var retryableErr *types.RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, types.ErrInvalidInput),
		errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrUnauthorized):
		return false
	default:
		return true
	}
}

// ErrorIs returns a condition matching errors that wrap any of targets.
func ErrorIs(targets ...error) RetryCondition {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

// Not inverts a condition.
func Not(condition RetryCondition) RetryCondition {
	return func(err error) bool {
		return !condition(err)
	}
}

// AnyOf returns a condition that holds when any of conditions holds.
func AnyOf(conditions ...RetryCondition) RetryCondition {
	return func(err error) bool {
		for _, condition := range conditions {
			if condition(err) {
				return true
			}
		}
		return false
	}
}
