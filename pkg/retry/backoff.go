// Package retry provides backoff algorithm implementations
package retry

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy computes the pause that precedes a retry.
// retry is 1-based: NextDelay(1) is the pause before the second attempt.
// Implementations must be stateless so one strategy can serve concurrent calls.
type BackoffStrategy interface {
	NextDelay(retry int) time.Duration
}

// BackoffFunc adapts a plain function to BackoffStrategy
type BackoffFunc func(retry int) time.Duration

// NextDelay calls f
func (f BackoffFunc) NextDelay(retry int) time.Duration {
	return f(retry)
}

// FixedBackoff implements fixed backoff strategy
type FixedBackoff struct {
	delay  time.Duration
	jitter JitterFunc
}

// NewFixedBackoff creates a fixed backoff strategy
func NewFixedBackoff(delay time.Duration, opts ...BackoffStrategyOption) *FixedBackoff {
	b := &FixedBackoff{
		delay: nonNegative(delay),
	}

	for _, opt := range opts {
		opt.applyToFixed(b)
	}

	return b
}

// NextDelay calculates the delay for the next retry
func (b *FixedBackoff) NextDelay(retry int) time.Duration {
	delay := b.delay
	if b.jitter != nil {
		delay = b.jitter(delay)
	}
	return delay
}

// LinearBackoff grows the pause by a fixed increment on every retry:
// initialDelay, initialDelay+increment, initialDelay+2*increment, ...
type LinearBackoff struct {
	initialDelay time.Duration
	increment    time.Duration
	maxDelay     time.Duration // zero means uncapped
	jitter       JitterFunc
}

// NewLinearBackoff creates a linear backoff strategy
func NewLinearBackoff(initialDelay, increment time.Duration, opts ...BackoffStrategyOption) *LinearBackoff {
	b := &LinearBackoff{
		initialDelay: nonNegative(initialDelay),
		increment:    nonNegative(increment),
	}

	for _, opt := range opts {
		opt.applyToLinear(b)
	}

	return b
}

// NextDelay calculates the delay for the next retry
func (b *LinearBackoff) NextDelay(retry int) time.Duration {
	if retry <= 0 {
		retry = 1
	}

	delay := saturatingAdd(b.initialDelay, saturatingMul(b.increment, retry-1))

	if b.maxDelay > 0 && delay > b.maxDelay {
		delay = b.maxDelay
	}

	if b.jitter != nil {
		delay = b.jitter(delay)
	}

	return delay
}

// ExponentialBackoff implements geometric backoff: initialDelay * multiplier^(retry-1)
type ExponentialBackoff struct {
	initialDelay time.Duration
	multiplier   float64
	maxDelay     time.Duration
	jitter       JitterFunc
}

// NewExponentialBackoff creates an exponential backoff strategy
func NewExponentialBackoff(initialDelay time.Duration, opts ...BackoffStrategyOption) *ExponentialBackoff {
	b := &ExponentialBackoff{
		initialDelay: nonNegative(initialDelay),
		multiplier:   2.0,
		maxDelay:     30 * time.Second,
	}

	for _, opt := range opts {
		opt.applyToExponential(b)
	}

	return b
}

// NextDelay calculates the delay for the next retry
func (b *ExponentialBackoff) NextDelay(retry int) time.Duration {
	if retry <= 0 {
		retry = 1
	}

	raw := float64(b.initialDelay) * math.Pow(b.multiplier, float64(retry-1))

	var delay time.Duration
	if raw >= float64(math.MaxInt64) {
		delay = time.Duration(math.MaxInt64)
	} else {
		delay = time.Duration(raw)
	}

	if b.maxDelay > 0 && delay > b.maxDelay {
		delay = b.maxDelay
	}

	if b.jitter != nil {
		delay = b.jitter(delay)
	}

	return delay
}

// JitterFunc jitter function type
type JitterFunc func(time.Duration) time.Duration

// FullJitter full jitter function - random within [0, delay)
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(delay)))
}

// EqualJitter equal jitter function - delay/2 + random within [0, delay/2)
func EqualJitter(delay time.Duration) time.Duration {
	if delay <= 1 {
		return delay
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)))
}

// BackoffStrategyOption backoff strategy configuration option
type BackoffStrategyOption interface {
	applyToFixed(*FixedBackoff)
	applyToLinear(*LinearBackoff)
	applyToExponential(*ExponentialBackoff)
}

type backoffStrategyOption struct {
	multiplier *float64
	maxDelay   *time.Duration
	jitter     JitterFunc
}

func (o *backoffStrategyOption) applyToFixed(b *FixedBackoff) {
	if o.jitter != nil {
		b.jitter = o.jitter
	}
}

func (o *backoffStrategyOption) applyToLinear(b *LinearBackoff) {
	if o.maxDelay != nil {
		b.maxDelay = *o.maxDelay
	}
	if o.jitter != nil {
		b.jitter = o.jitter
	}
}

func (o *backoffStrategyOption) applyToExponential(b *ExponentialBackoff) {
	if o.multiplier != nil {
		b.multiplier = *o.multiplier
	}
	if o.maxDelay != nil {
		b.maxDelay = *o.maxDelay
	}
	if o.jitter != nil {
		b.jitter = o.jitter
	}
}

// WithBackoffMultiplier sets backoff multiplier (exponential backoff only)
func WithBackoffMultiplier(multiplier float64) BackoffStrategyOption {
	return &backoffStrategyOption{multiplier: &multiplier}
}

// WithBackoffMaxDelay sets maximum delay time
func WithBackoffMaxDelay(maxDelay time.Duration) BackoffStrategyOption {
	return &backoffStrategyOption{maxDelay: &maxDelay}
}

// WithBackoffJitter sets jitter function
func WithBackoffJitter(jitter JitterFunc) BackoffStrategyOption {
	return &backoffStrategyOption{jitter: jitter}
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func saturatingMul(d time.Duration, n int) time.Duration {
	if d <= 0 || n <= 0 {
		return 0
	}
	if int64(d) > math.MaxInt64/int64(n) {
		return time.Duration(math.MaxInt64)
	}
	return d * time.Duration(n)
}

func saturatingAdd(a, b time.Duration) time.Duration {
	if a > time.Duration(math.MaxInt64)-b {
		return time.Duration(math.MaxInt64)
	}
	return a + b
}
