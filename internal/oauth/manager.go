// Package oauth manages client-credentials access tokens for outbound calls.
package oauth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/jzx17/bffkit/internal/config"
	"github.com/jzx17/bffkit/internal/logging"
	"github.com/jzx17/bffkit/pkg/result"
	"github.com/jzx17/bffkit/pkg/retry"
	"github.com/jzx17/bffkit/pkg/types"
)

const (
	// RetryProfile is the config profile that overrides DefaultPolicy
	RetryProfile = "oauth"

	operationName     = "oauth.token"
	defaultExpirySkew = 30 * time.Second
)

// DefaultPolicy retries the exchange up to 5 times, one second apart, whenever the
// endpoint rejected the credentials or failed transiently. A transient failure
// that carries a retry-after hint waits at least that long.
func DefaultPolicy() retry.Policy[result.Result[*oauth2.Token]] {
	return withRefetch(retry.NewPolicy[result.Result[*oauth2.Token]](5, time.Second))
}

func withRefetch(p retry.Policy[result.Result[*oauth2.Token]]) retry.Policy[result.Result[*oauth2.Token]] {
	return p.WithRetryOnError(retry.IsTransient).WithRetryOnResult(isUnauthorized)
}

// isUnauthorized holds rejected credentials as a value, so an exhausted budget
// still hands the failed exchange back to the caller.
func isUnauthorized(r result.Result[*oauth2.Token]) bool {
	return r.IsFail() && errors.Is(r.Err(), types.ErrUnauthorized)
}

// TokenManager caches an access token and refreshes it through the retry engine.
// Concurrent callers that find the cache stale share a single exchange.
type TokenManager struct {
	fetcher  TokenFetcher
	executor *retry.Executor
	policy   retry.Policy[result.Result[*oauth2.Token]]
	clock    types.Clock
	skew     time.Duration
	logger   *slog.Logger

	group singleflight.Group

	mu    sync.RWMutex
	token *oauth2.Token
}

// Option configures a TokenManager
type Option func(*TokenManager)

// WithExecutor sets the retry executor
func WithExecutor(executor *retry.Executor) Option {
	return func(m *TokenManager) {
		m.executor = executor
	}
}

// WithRetryConfig replaces budget and timing of the default policy.
// The refetch condition is kept.
func WithRetryConfig(rc config.RetryConfig) Option {
	return func(m *TokenManager) {
		m.policy = withRefetch(config.PolicyFor[result.Result[*oauth2.Token]](rc))
	}
}

// WithClock sets the clock used for expiry checks
func WithClock(clock types.Clock) Option {
	return func(m *TokenManager) {
		m.clock = clock
	}
}

// WithExpirySkew refreshes tokens this long before they expire
func WithExpirySkew(skew time.Duration) Option {
	return func(m *TokenManager) {
		m.skew = skew
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *TokenManager) {
		m.logger = logger
	}
}

// NewTokenManager creates a manager around fetcher
func NewTokenManager(fetcher TokenFetcher, opts ...Option) (*TokenManager, error) {
	if fetcher == nil {
		return nil, errors.New("oauth: token fetcher is required")
	}

	m := &TokenManager{
		fetcher: fetcher,
		policy:  DefaultPolicy(),
		clock:   types.NewRealClock(),
		skew:    defaultExpirySkew,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.skew < 0 {
		return nil, errors.New("oauth: expiry skew must not be negative")
	}
	m.logger = logging.OrDiscard(m.logger)
	if m.executor == nil {
		m.executor = retry.NewExecutor(retry.WithClock(m.clock))
	}

	return m, nil
}

// AccessToken returns a valid bearer token, refreshing it when needed
func (m *TokenManager) AccessToken(ctx context.Context) result.Result[string] {
	return result.Map(m.current(ctx), func(token *oauth2.Token) string {
		return token.AccessToken
	})
}

// Token implements oauth2.TokenSource
func (m *TokenManager) Token() (*oauth2.Token, error) {
	return m.current(context.Background()).Get()
}

// Invalidate drops the cached token, e.g. after a downstream 401
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()
}

// Client returns an HTTP client that authorizes requests with the managed token
func (m *TokenManager) Client(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, m)
}

func (m *TokenManager) current(ctx context.Context) result.Result[*oauth2.Token] {
	if token := m.cached(); token != nil {
		return result.Ok(token)
	}

	// The exchange runs with the context of whichever caller started it.
	value, err, shared := m.group.Do(operationName, func() (any, error) {
		if token := m.cached(); token != nil {
			return token, nil
		}
		token, err := m.refresh(ctx).Get()
		if err != nil {
			return nil, err
		}
		m.store(token)
		return token, nil
	})
	if err != nil {
		m.logger.Warn("access token refresh failed", "shared", shared, "error", err)
		return result.Fail[*oauth2.Token](types.NewOperationError(operationName, err))
	}

	return result.Ok(value.(*oauth2.Token))
}

func (m *TokenManager) refresh(ctx context.Context) result.Result[*oauth2.Token] {
	final, err := retry.ExecuteWithName(m.executor, ctx, operationName, m.policy,
		func(ctx context.Context) (result.Result[*oauth2.Token], error) {
			r := m.fetcher.FetchToken(ctx)
			// other failures go through the error path so their retry-after hint is honored
			if err := r.Err(); err != nil && !errors.Is(err, types.ErrUnauthorized) {
				return r, err
			}
			return r, nil
		})
	if err != nil {
		return result.Fail[*oauth2.Token](err)
	}
	return result.AndThen(final, func(token *oauth2.Token) result.Result[*oauth2.Token] {
		if token == nil || token.AccessToken == "" {
			return result.Fail[*oauth2.Token](types.ErrUpstream)
		}
		m.logger.Debug("access token refreshed", "expiry", token.Expiry)
		return result.Ok(token)
	})
}

func (m *TokenManager) cached() *oauth2.Token {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.token == nil {
		return nil
	}
	if !m.token.Expiry.IsZero() && !m.clock.Now().Add(m.skew).Before(m.token.Expiry) {
		return nil
	}
	return m.token
}

func (m *TokenManager) store(token *oauth2.Token) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
}
