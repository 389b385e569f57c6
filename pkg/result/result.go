// Package result provides an explicit success-or-failure container for expected failures.
//
// A Result holds either a value or an error, never both and never neither. Callers reach
// the value only through accessors that also hand back the failure branch, so crossing a
// layer boundary forces the failure to be looked at:
//
//	r := store.Get(ctx, "avatars/42.png")
//	body, err := r.Get()
//	if err != nil {
//		return result.Wrap(r, "load avatar")
//	}
//
// Must unwraps directly and panics on failure. It is meant for tests.
package result

import (
	"errors"
	"fmt"

	"github.com/jzx17/bffkit/pkg/types"
)

// ErrEmpty is the failure carried by the zero Result.
var ErrEmpty = errors.New("result: empty result")

// Result is a success value of type T or a failure error.
type Result[T any] struct {
	value T
	err   error
	ok    bool
}

// Ok returns a successful Result holding value.
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value, ok: true}
}

// Fail returns a failed Result. A nil error is a programming mistake and panics.
func Fail[T any](err error) Result[T] {
	if err == nil {
		panic("result: Fail called with nil error")
	}
	return Result[T]{err: err}
}

// Of converts a conventional (value, error) pair into a Result.
func Of[T any](value T, err error) Result[T] {
	if err != nil {
		return Fail[T](err)
	}
	return Ok(value)
}

// IsOk reports whether r holds a value.
func (r Result[T]) IsOk() bool {
	return r.ok
}

// IsFail reports whether r holds a failure.
func (r Result[T]) IsFail() bool {
	return !r.ok
}

// Get returns the value and a nil error, or the zero value and the failure.
func (r Result[T]) Get() (T, error) {
	if !r.ok {
		var zero T
		return zero, r.Err()
	}
	return r.value, nil
}

// Err returns the failure, or nil for a successful Result.
func (r Result[T]) Err() error {
	if r.ok {
		return nil
	}
	if r.err == nil {
		return ErrEmpty
	}
	return r.err
}

// ValueOr returns the value, or fallback on failure.
func (r Result[T]) ValueOr(fallback T) T {
	if !r.ok {
		return fallback
	}
	return r.value
}

// Must returns the value and panics on failure.
func (r Result[T]) Must() T {
	if !r.ok {
		panic(fmt.Sprintf("result: Must on failure: %v", r.Err()))
	}
	return r.value
}

// String implements fmt.Stringer
func (r Result[T]) String() string {
	if !r.ok {
		return fmt.Sprintf("Fail(%v)", r.Err())
	}
	return fmt.Sprintf("Ok(%v)", r.value)
}

// Match calls onOk or onFail depending on the variant and returns what it returns.
func Match[T, R any](r Result[T], onOk func(T) R, onFail func(error) R) R {
	if !r.ok {
		return onFail(r.Err())
	}
	return onOk(r.value)
}

// Map transforms the value of a successful Result.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if !r.ok {
		return Fail[U](r.Err())
	}
	return Ok(fn(r.value))
}

// AndThen chains a Result-returning step, short-circuiting on the first failure.
func AndThen[T, U any](r Result[T], fn func(T) Result[U]) Result[U] {
	if !r.ok {
		return Fail[U](r.Err())
	}
	return fn(r.value)
}

// MapErr transforms the failure of a failed Result. fn must not return nil.
func MapErr[T any](r Result[T], fn func(error) error) Result[T] {
	if r.ok {
		return r
	}
	return Fail[T](fn(r.Err()))
}

// Wrap wraps the failure of r in a types.OperationError named after operation.
// The original error stays reachable through errors.Is and errors.As.
func Wrap[T any](r Result[T], operation string) Result[T] {
	return MapErr(r, func(err error) error {
		return types.NewOperationError(operation, err)
	})
}

// Collect turns a list of Results into a Result of a list. The first failure wins.
func Collect[T any](results ...Result[T]) Result[[]T] {
	values := make([]T, 0, len(results))
	for _, r := range results {
		if !r.ok {
			return Fail[[]T](r.Err())
		}
		values = append(values, r.value)
	}
	return Ok(values)
}
