// Package retry provides retry executor implementation
package retry

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jzx17/bffkit/pkg/result"
	"github.com/jzx17/bffkit/pkg/types"
)

// Executor runs operations under a Policy. It only holds immutable configuration,
// so one Executor can serve any number of concurrent, unrelated calls.
type Executor struct {
	eventHandler EventHandler
	clock        types.Clock
}

// Operation is the function type to retry
type Operation[T any] func(ctx context.Context) (T, error)

// ResultOperation is an Operation that reports expected failures as a Result
type ResultOperation[T any] func(ctx context.Context) result.Result[T]

// ExecutorOption is a configuration option for retry executor
type ExecutorOption func(*Executor)

// WithEventHandler sets the event handler
func WithEventHandler(handler EventHandler) ExecutorOption {
	return func(e *Executor) {
		e.eventHandler = handler
	}
}

// WithClock sets the clock for time operations.
// Without it the executor uses the clock stored in the call context, or real time.
func WithClock(clock types.Clock) ExecutorOption {
	return func(e *Executor) {
		e.clock = clock
	}
}

// NewExecutor creates a retry executor
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

var defaultExecutor = NewExecutor()

// Do runs op under policy with the default executor
func Do[T any](ctx context.Context, policy Policy[T], op Operation[T]) (T, error) {
	return ExecuteWithName(defaultExecutor, ctx, "default", policy, op)
}

// DoResult runs a Result-returning op under policy with the default executor
func DoResult[T any](ctx context.Context, policy Policy[T], op ResultOperation[T]) result.Result[T] {
	return ExecuteResult(defaultExecutor, ctx, "default", policy, op)
}

// Execute executes a function with retry logic
func Execute[T any](e *Executor, ctx context.Context, policy Policy[T], op Operation[T]) (T, error) {
	return ExecuteWithName(e, ctx, "default", policy, op)
}

// ExecuteWithName executes a function with retry logic (with name for metrics and events).
//
// The call ends in exactly one of these ways:
//   - op returns a value accepted by RetryOnResult: the value is returned;
//   - op fails and RetryOnError rejects the error: the error is returned unchanged;
//   - the retry budget is spent: the last error is returned unchanged, or, when the last
//     attempt returned a rejected value, that value is returned with a nil error;
//   - the timeout elapsed before an attempt could start: a *TimeoutError is returned;
//   - ctx is done before an attempt or during a pause: ctx.Err() is returned.
func ExecuteWithName[T any](e *Executor, ctx context.Context, name string, policy Policy[T], op Operation[T]) (T, error) {
	var zero T

	if e == nil {
		e = defaultExecutor
	}

	p := policy.normalize()
	clock := e.clockFor(ctx)
	events := e.events()

	var invocation string
	if e.eventHandler != nil {
		invocation = uuid.NewString()
	}

	start := clock.Now()
	var deadline time.Time
	if p.Timeout != 0 {
		deadline = start.Add(p.Timeout)
	}

	var (
		lastErr error
		pause   time.Duration
	)
	retriesLeft := p.Retries

	for number := 1; ; number++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		if !deadline.IsZero() && !clock.Now().Before(deadline) {
			timeoutErr := &TimeoutError{
				Timeout:  p.Timeout,
				Elapsed:  clock.Since(start),
				Attempts: number - 1,
				Last:     lastErr,
			}
			events.OnTimeout(ctx, name, timeoutErr)
			return zero, timeoutErr
		}

		attemptStart := clock.Now()
		value, err := op(ctx)
		attempt := Attempt{
			Invocation: invocation,
			Number:     number,
			Err:        err,
			Delay:      pause,
			Duration:   clock.Since(attemptStart),
		}

		if err == nil {
			if p.RetryOnResult == nil || !p.RetryOnResult(value) {
				attempt.Outcome = OutcomeSuccess
				events.OnRetrySuccess(ctx, name, attempt)
				return value, nil
			}
			attempt.Outcome = OutcomeRejected
			lastErr = nil
		} else {
			attempt.Outcome = OutcomeFailed
			lastErr = err
			if p.RetryOnError != nil && !p.RetryOnError(err) {
				events.OnRetryFailure(ctx, name, attempt)
				return zero, err
			}
		}

		if retriesLeft <= 0 {
			events.OnMaxAttemptsReached(ctx, name, attempt)
			if err == nil {
				return value, nil
			}
			return zero, err
		}

		pause = p.Backoff.NextDelay(p.Retries - retriesLeft + 1)
		if hint := types.GetRetryDelay(err); hint > pause {
			pause = hint
		}
		pause = nonNegative(pause)

		events.OnRetryAttempt(ctx, name, attempt, pause)

		if err := types.Sleep(ctx, clock, pause); err != nil {
			return zero, err
		}
		retriesLeft--
	}
}

// ExecuteResult runs a Result-returning operation. Failure variants count as errors,
// so RetryOnError classifies them; RetryOnResult sees the success values.
func ExecuteResult[T any](e *Executor, ctx context.Context, name string, policy Policy[T], op ResultOperation[T]) result.Result[T] {
	value, err := ExecuteWithName(e, ctx, name, policy, func(ctx context.Context) (T, error) {
		return op(ctx).Get()
	})
	return result.Of(value, err)
}

// ExecuteAsync executes a function with retry asynchronously.
// The returned channel delivers exactly one Result and is then closed.
func ExecuteAsync[T any](e *Executor, ctx context.Context, name string, policy Policy[T], op Operation[T]) <-chan result.Result[T] {
	resultChan := make(chan result.Result[T], 1)

	go func() {
		defer close(resultChan)

		value, err := ExecuteWithName(e, ctx, name, policy, op)
		resultChan <- result.Of(value, err)
	}()

	return resultChan
}

func (e *Executor) clockFor(ctx context.Context) types.Clock {
	if e.clock != nil {
		return e.clock
	}
	return types.ClockFromContext(ctx)
}

func (e *Executor) events() EventHandler {
	if e.eventHandler == nil {
		return NoopEventHandler{}
	}
	return e.eventHandler
}
