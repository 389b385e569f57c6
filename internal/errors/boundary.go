// Package errors translates internal failures into the uniform problem shape used at the
// outermost boundary. Nothing below the boundary should call it: inner layers keep
// their errors intact and let callers inspect them.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sync"

	"github.com/jzx17/bffkit/pkg/types"
)

// Problem is the external error document
type Problem struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Detail    string `json:"detail,omitempty"`
}

// Error implements the error interface
func (p Problem) Error() string {
	return p.Code + ": " + p.Message
}

// JSON renders the problem as a JSON document
func (p Problem) JSON() []byte {
	// Problem only has string, int and bool fields, Marshal cannot fail.
	data, _ := json.Marshal(p)
	return data
}

// Rule binds a target error to the problem returned for it
type Rule struct {
	Target  error
	Problem Problem
}

// Translator maps errors to problems using the first matching rule
type Translator struct {
	mu       sync.RWMutex
	rules    []Rule
	fallback Problem
	detailed bool
}

// TranslatorOption configures a Translator
type TranslatorOption func(*Translator)

// WithDetail copies the original error message into Problem.Detail.
// Use it for operator tooling, never for responses sent to untrusted clients.
func WithDetail() TranslatorOption {
	return func(t *Translator) {
		t.detailed = true
	}
}

// WithRule appends a rule after the defaults
func WithRule(target error, problem Problem) TranslatorOption {
	return func(t *Translator) {
		t.rules = append(t.rules, Rule{Target: target, Problem: problem})
	}
}

// NewTranslator creates a translator with the default rule set
func NewTranslator(opts ...TranslatorOption) *Translator {
	t := &Translator{
		rules: DefaultRules(),
		fallback: Problem{
			Status:  http.StatusInternalServerError,
			Code:    "internal",
			Message: "internal error",
		},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// DefaultRules returns the rules for the shared sentinel errors
func DefaultRules() []Rule {
	return []Rule{
		{context.Canceled, Problem{Status: 499, Code: "canceled", Message: "request canceled"}},
		{types.ErrTimeout, Problem{Status: http.StatusGatewayTimeout, Code: "timeout", Message: "upstream did not answer in time", Retryable: true}},
		{context.DeadlineExceeded, Problem{Status: http.StatusGatewayTimeout, Code: "timeout", Message: "upstream did not answer in time", Retryable: true}},
		{types.ErrInvalidInput, Problem{Status: http.StatusBadRequest, Code: "invalid_input", Message: "invalid input"}},
		{types.ErrUnauthorized, Problem{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "upstream rejected credentials"}},
		{types.ErrNotFound, Problem{Status: http.StatusNotFound, Code: "not_found", Message: "resource not found"}},
		{types.ErrRateLimited, Problem{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "too many requests", Retryable: true}},
		{types.ErrUpstream, Problem{Status: http.StatusBadGateway, Code: "upstream", Message: "upstream unavailable", Retryable: true}},
	}
}

// Bind adds a rule that takes precedence over the existing ones
func (t *Translator) Bind(target error, problem Problem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules = append([]Rule{{Target: target, Problem: problem}}, t.rules...)
}

// Translate returns the problem for err. A nil error has no problem and returns false.
func (t *Translator) Translate(err error) (Problem, bool) {
	if err == nil {
		return Problem{}, false
	}

	var already Problem
	if stderrors.As(err, &already) {
		return already, true
	}

	t.mu.RLock()
	problem := t.fallback
	for _, rule := range t.rules {
		if stderrors.Is(err, rule.Target) {
			problem = rule.Problem
			break
		}
	}
	detailed := t.detailed
	t.mu.RUnlock()

	if detailed {
		problem.Detail = err.Error()
	}
	return problem, true
}

var defaultTranslator = NewTranslator()

// Translate maps err with the default translator
func Translate(err error) (Problem, bool) {
	return defaultTranslator.Translate(err)
}
