package retry

import (
	"fmt"
	"time"

	"github.com/jzx17/bffkit/pkg/types"
)

// ErrTimeout is matched by every TimeoutError through errors.Is.
var ErrTimeout = types.ErrTimeout

// TimeoutError is returned when the policy timeout elapsed before another attempt could start.
// It unwraps to the error of the last attempt, if that attempt failed.
type TimeoutError struct {
	// Timeout is the budget the policy allowed
	Timeout time.Duration

	// Elapsed is the time spent in the call when the deadline was detected
	Elapsed time.Duration

	// Attempts is the number of attempts that were made
	Attempts int

	// Last is the error of the last attempt, nil when it returned a rejected value
	Last error
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("retry timeout after %v (%d attempts): %v", e.Timeout, e.Attempts, e.Last)
	}
	return fmt.Sprintf("retry timeout after %v (%d attempts)", e.Timeout, e.Attempts)
}

// Is reports whether target is ErrTimeout
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Unwrap returns the last attempt error
func (e *TimeoutError) Unwrap() error {
	return e.Last
}
