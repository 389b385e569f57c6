package retry

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Outcome classifies how an attempt settled
type Outcome int

const (
	// OutcomeSuccess the attempt returned an accepted value
	OutcomeSuccess Outcome = iota
	// OutcomeFailed the attempt returned an error
	OutcomeFailed
	// OutcomeRejected the attempt returned a value that RetryOnResult rejected
	OutcomeRejected
)

// String returns the string representation of the outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Attempt describes one settled invocation of the wrapped operation
type Attempt struct {
	// Invocation identifies the Execute call the attempt belongs to
	Invocation string

	// Number is the 1-based ordinal of the attempt
	Number int

	// Outcome is how the attempt settled
	Outcome Outcome

	// Err is the error returned by the attempt, if any
	Err error

	// Delay is the pause that preceded the attempt
	Delay time.Duration

	// Duration is the time spent inside the operation
	Duration time.Duration
}

// EventHandler handles retry events. Implementations must be safe for concurrent use.
type EventHandler interface {
	// OnRetryAttempt is called after a retryable outcome, before pausing for delay
	OnRetryAttempt(ctx context.Context, name string, attempt Attempt, delay time.Duration)
	// OnRetrySuccess is called when an attempt returns an accepted value
	OnRetrySuccess(ctx context.Context, name string, attempt Attempt)
	// OnRetryFailure is called when an attempt fails with a non-retryable error
	OnRetryFailure(ctx context.Context, name string, attempt Attempt)
	// OnMaxAttemptsReached is called when the retry budget is spent
	OnMaxAttemptsReached(ctx context.Context, name string, attempt Attempt)
	// OnTimeout is called when the policy timeout prevents another attempt
	OnTimeout(ctx context.Context, name string, err *TimeoutError)
}

// NoopEventHandler ignores all events
type NoopEventHandler struct{}

func (NoopEventHandler) OnRetryAttempt(context.Context, string, Attempt, time.Duration) {}
func (NoopEventHandler) OnRetrySuccess(context.Context, string, Attempt)                {}
func (NoopEventHandler) OnRetryFailure(context.Context, string, Attempt)                {}
func (NoopEventHandler) OnMaxAttemptsReached(context.Context, string, Attempt)          {}
func (NoopEventHandler) OnTimeout(context.Context, string, *TimeoutError)               {}

// MultiEventHandler fans events out to several handlers in order
type MultiEventHandler []EventHandler

func (m MultiEventHandler) OnRetryAttempt(ctx context.Context, name string, attempt Attempt, delay time.Duration) {
	for _, h := range m {
		h.OnRetryAttempt(ctx, name, attempt, delay)
	}
}

func (m MultiEventHandler) OnRetrySuccess(ctx context.Context, name string, attempt Attempt) {
	for _, h := range m {
		h.OnRetrySuccess(ctx, name, attempt)
	}
}

func (m MultiEventHandler) OnRetryFailure(ctx context.Context, name string, attempt Attempt) {
	for _, h := range m {
		h.OnRetryFailure(ctx, name, attempt)
	}
}

func (m MultiEventHandler) OnMaxAttemptsReached(ctx context.Context, name string, attempt Attempt) {
	for _, h := range m {
		h.OnMaxAttemptsReached(ctx, name, attempt)
	}
}

func (m MultiEventHandler) OnTimeout(ctx context.Context, name string, err *TimeoutError) {
	for _, h := range m {
		h.OnTimeout(ctx, name, err)
	}
}

// LogEventHandler writes retry events to a structured logger
type LogEventHandler struct {
	logger *slog.Logger
}

// NewLogEventHandler creates a log event handler. A nil logger discards everything.
func NewLogEventHandler(logger *slog.Logger) *LogEventHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LogEventHandler{logger: logger}
}

// OnRetryAttempt handles retry attempt events
func (h *LogEventHandler) OnRetryAttempt(ctx context.Context, name string, attempt Attempt, delay time.Duration) {
	h.logger.DebugContext(ctx, "retrying operation",
		attemptAttrs(name, attempt, slog.Duration("next_delay", delay))...)
}

// OnRetrySuccess handles retry success events
func (h *LogEventHandler) OnRetrySuccess(ctx context.Context, name string, attempt Attempt) {
	if attempt.Number == 1 {
		return
	}
	h.logger.InfoContext(ctx, "operation succeeded after retries", attemptAttrs(name, attempt)...)
}

// OnRetryFailure handles non-retryable failure events
func (h *LogEventHandler) OnRetryFailure(ctx context.Context, name string, attempt Attempt) {
	h.logger.WarnContext(ctx, "operation failed with non-retryable error", attemptAttrs(name, attempt)...)
}

// OnMaxAttemptsReached handles max attempts reached events
func (h *LogEventHandler) OnMaxAttemptsReached(ctx context.Context, name string, attempt Attempt) {
	h.logger.ErrorContext(ctx, "retry attempts exhausted", attemptAttrs(name, attempt)...)
}

// OnTimeout handles timeout events
func (h *LogEventHandler) OnTimeout(ctx context.Context, name string, err *TimeoutError) {
	h.logger.ErrorContext(ctx, "retry timeout elapsed",
		"operation", name,
		"attempts", err.Attempts,
		"timeout", err.Timeout,
		"elapsed", err.Elapsed,
		"error", err.Last,
	)
}

func attemptAttrs(name string, attempt Attempt, extra ...any) []any {
	attrs := []any{
		"operation", name,
		"invocation", attempt.Invocation,
		"attempt", attempt.Number,
		"outcome", attempt.Outcome.String(),
		"duration", attempt.Duration,
	}
	if attempt.Err != nil {
		attrs = append(attrs, "error", attempt.Err)
	}
	return append(attrs, extra...)
}
