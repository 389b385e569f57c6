// Package retry drives fallible operations under a retry policy.
//
// Key Features:
//
// 1. Policy-driven retries:
//   - Retries: re-attempts after the first try (negative values clamp to 0)
//   - Delay / ExponentialBackoff: fixed pause, or Delay*k before retry k
//   - Timeout: no attempt starts once the budget is spent
//   - RetryOnError: classify failures as retryable or fatal
//   - RetryOnResult: retry values that came back but are not good enough
//
// 2. Backoff strategies:
//   - FixedBackoff: Fixed delay
//   - LinearBackoff: Delay grows by a fixed increment
//   - ExponentialBackoff: Geometric growth with a cap
//   - FullJitter / EqualJitter
//
// 3. Executor:
//   - Stateless, safe to share between goroutines
//   - Pluggable clock for tests
//   - Event notification (structured logging, Prometheus via retrymetrics)
//   - Result integration (ExecuteResult, ExecuteAsync)
//
// Basic usage example:
//
//	policy := retry.NewPolicy[*oauth2.Token](5, time.Second)
//
//	token, err := retry.Do(ctx, policy, func(ctx context.Context) (*oauth2.Token, error) {
//		return source.Token()
//	})
//
// Retrying an unsatisfactory result:
//
//	policy := retry.Policy[result.Result[string]]{
//		Retries: 5,
//		Delay:   time.Second,
//		RetryOnResult: func(r result.Result[string]) bool {
//			return errors.Is(r.Err(), types.ErrUnauthorized)
//		},
//	}
//
// When the budget runs out on RetryOnResult verdicts, the last value is returned with a
// nil error. When it runs out on failures, the last error is returned unchanged.
//
// Timeouts:
//
// The deadline is checked before every attempt, the first one included. A running
// attempt is never interrupted; the deadline only prevents the next one from starting.
// A call that hits the deadline fails with a *TimeoutError, which matches ErrTimeout
// through errors.Is and unwraps to the last attempt error.
//
// Event handling:
//
//	executor := retry.NewExecutor(
//		retry.WithEventHandler(retry.NewLogEventHandler(logger)))
//
// Thread safety:
//
// The engine keeps all per-call state on the stack of Execute. Operations wrapped in a
// retry must be safe to call more than once.
package retry
