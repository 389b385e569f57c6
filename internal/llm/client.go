// Package llm sends chat completion requests to an OpenAI compatible provider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/jzx17/bffkit/internal/config"
	"github.com/jzx17/bffkit/internal/logging"
	"github.com/jzx17/bffkit/pkg/result"
	"github.com/jzx17/bffkit/pkg/retry"
	"github.com/jzx17/bffkit/pkg/types"
)

// RetryProfile is the config profile read by the CLI for completion calls
const RetryProfile = "llm"

// ChatAPI is the completion call of openai.ChatCompletionService
type ChatAPI interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Completion is the useful part of a chat completion
type Completion struct {
	Text         string
	Model        string
	FinishReason string
	TotalTokens  int64
}

// DefaultRetryConfig retries twice with a growing pause
func DefaultRetryConfig() config.RetryConfig {
	return config.RetryConfig{Retries: 2, DelayMs: 500, ExponentialBackoff: true}
}

// Client completes prompts through the retry engine
type Client struct {
	api          ChatAPI
	model        string
	systemPrompt string
	executor     *retry.Executor
	retry        config.RetryConfig
	logger       *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithChatAPI replaces the SDK client, e.g. with a fake in tests
func WithChatAPI(api ChatAPI) Option {
	return func(c *Client) {
		c.api = api
	}
}

// WithExecutor sets the retry executor
func WithExecutor(executor *retry.Executor) Option {
	return func(c *Client) {
		c.executor = executor
	}
}

// WithRetryConfig sets budget and timing of completion retries
func WithRetryConfig(rc config.RetryConfig) Option {
	return func(c *Client) {
		c.retry = rc
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for cfg. The SDK's own retries are disabled.
func New(cfg config.LLMConfig, opts ...Option) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model is required: %w", types.ErrInvalidInput)
	}

	c := &Client{
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		retry:        DefaultRetryConfig(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.api == nil {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: api key is required: %w", types.ErrInvalidInput)
		}

		clientOpts := []option.RequestOption{
			option.WithAPIKey(cfg.APIKey),
			option.WithMaxRetries(0),
		}
		if cfg.BaseURL != "" {
			clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
		}

		client := openai.NewClient(clientOpts...)
		c.api = &client.Chat.Completions
	}

	if c.executor == nil {
		c.executor = retry.NewExecutor()
	}
	c.logger = logging.OrDiscard(c.logger).With("model", c.model)

	return c, nil
}

// Complete sends prompt, preceded by the configured system prompt, and returns the first choice
func (c *Client) Complete(ctx context.Context, prompt string) result.Result[Completion] {
	if prompt == "" {
		return result.Fail[Completion](fmt.Errorf("complete: empty prompt: %w", types.ErrInvalidInput))
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if c.systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(c.systemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(c.model),
	}

	policy := config.PolicyFor[*openai.ChatCompletion](c.retry).WithRetryOnError(retry.IsTransient)
	completion, err := retry.ExecuteWithName(c.executor, ctx, "llm.complete", policy,
		func(ctx context.Context) (*openai.ChatCompletion, error) {
			completion, err := c.api.New(ctx, params)
			if err != nil {
				return nil, classify(err)
			}
			if completion == nil || len(completion.Choices) == 0 {
				return nil, fmt.Errorf("%w: completion has no choices", types.ErrUpstream)
			}
			return completion, nil
		})

	r := result.Map(result.Of(completion, err), func(completion *openai.ChatCompletion) Completion {
		choice := completion.Choices[0]
		return Completion{
			Text:         choice.Message.Content,
			Model:        completion.Model,
			FinishReason: choice.FinishReason,
			TotalTokens:  completion.Usage.TotalTokens,
		}
	})

	if out, err := r.Get(); err == nil {
		c.logger.Debug("completion received", "tokens", out.TotalTokens, "finish_reason", out.FinishReason)
	}
	return result.Wrap(r, "complete")
}

// classify maps provider failures onto the shared sentinels
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", types.ErrUpstream, err)
	}

	switch status := apiErr.StatusCode; {
	case status == http.StatusTooManyRequests:
		return types.Transient(fmt.Errorf("%w: %w", types.ErrRateLimited, err), retryAfter(apiErr.Response))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %w", types.ErrUnauthorized, err)
	case status == http.StatusRequestTimeout || status >= 500:
		return fmt.Errorf("%w: %w", types.ErrUpstream, err)
	case status >= 400:
		return fmt.Errorf("%w: %w", types.ErrInvalidInput, err)
	default:
		return fmt.Errorf("%w: %w", types.ErrUpstream, err)
	}
}

// retryAfter reads retry-after-ms first, then Retry-After in seconds
func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	if ms, err := strconv.ParseFloat(resp.Header.Get("retry-after-ms"), 64); err == nil && ms > 0 {
		return time.Duration(ms * float64(time.Millisecond))
	}
	if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}
