// Package testutils provides simplified testing utilities and helper functions
package testutils

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrFlaky is the default error returned by FlakyOperation
var ErrFlaky = errors.New("flaky operation failed")

// FlakyOperation fails a fixed number of times, then succeeds with a value.
// A negative failure count makes it fail forever. Safe for concurrent use.
type FlakyOperation[T any] struct {
	failures int64
	value    T
	err      error
	calls    atomic.Int64

	// OnCall, when set, runs at the start of every invocation
	OnCall func(call int)
}

// NewFlakyOperation creates an operation that fails `failures` times before returning value
func NewFlakyOperation[T any](failures int, value T) *FlakyOperation[T] {
	return &FlakyOperation[T]{failures: int64(failures), value: value, err: ErrFlaky}
}

// AlwaysFailing creates an operation that always returns err
func AlwaysFailing[T any](err error) *FlakyOperation[T] {
	var zero T
	op := NewFlakyOperation(-1, zero)
	op.err = err
	return op
}

// WithError changes the error returned on failing calls
func (f *FlakyOperation[T]) WithError(err error) *FlakyOperation[T] {
	f.err = err
	return f
}

// Call is the retryable function
func (f *FlakyOperation[T]) Call(ctx context.Context) (T, error) {
	call := f.calls.Add(1)
	if f.OnCall != nil {
		f.OnCall(int(call))
	}

	if f.failures < 0 || call <= f.failures {
		var zero T
		return zero, fmt.Errorf("call %d: %w", call, f.err)
	}
	return f.value, nil
}

// Calls returns the number of invocations so far
func (f *FlakyOperation[T]) Calls() int {
	return int(f.calls.Load())
}
