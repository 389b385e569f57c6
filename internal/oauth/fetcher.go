package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/jzx17/bffkit/internal/config"
	"github.com/jzx17/bffkit/pkg/result"
	"github.com/jzx17/bffkit/pkg/types"
)

// TokenFetcher performs one token exchange. Failures are returned as a Result,
// never as a panic, so the manager can classify them.
type TokenFetcher interface {
	FetchToken(ctx context.Context) result.Result[*oauth2.Token]
}

// FetcherFunc adapts a function to TokenFetcher
type FetcherFunc func(ctx context.Context) result.Result[*oauth2.Token]

// FetchToken calls f
func (f FetcherFunc) FetchToken(ctx context.Context) result.Result[*oauth2.Token] {
	return f(ctx)
}

// ClientCredentialsFetcher exchanges client credentials at a token endpoint
type ClientCredentialsFetcher struct {
	config     *clientcredentials.Config
	httpClient *http.Client
}

// NewClientCredentialsFetcher builds a fetcher for cfg. httpClient may be nil.
func NewClientCredentialsFetcher(cfg config.OAuthConfig, httpClient *http.Client) (*ClientCredentialsFetcher, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("oauth token url is required: %w", types.ErrInvalidInput)
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("oauth client id is required: %w", types.ErrInvalidInput)
	}

	return &ClientCredentialsFetcher{
		config: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient: httpClient,
	}, nil
}

// FetchToken requests a new token from the endpoint
func (f *ClientCredentialsFetcher) FetchToken(ctx context.Context) result.Result[*oauth2.Token] {
	if f.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	}

	token, err := f.config.Token(ctx)
	if err != nil {
		return result.Fail[*oauth2.Token](classifyTokenError(err))
	}
	return result.Ok(token)
}

// classifyTokenError maps token endpoint failures onto the shared sentinels
func classifyTokenError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		// transport level failure
		return fmt.Errorf("%w: %w", types.ErrUpstream, err)
	}

	switch retrieveErr.ErrorCode {
	case "invalid_client", "unauthorized_client":
		return fmt.Errorf("%w: %w", types.ErrUnauthorized, err)
	case "invalid_scope", "invalid_request", "unsupported_grant_type":
		return fmt.Errorf("%w: %w", types.ErrInvalidInput, err)
	}

	if retrieveErr.Response == nil {
		return fmt.Errorf("%w: %w", types.ErrUpstream, err)
	}

	status := retrieveErr.Response.StatusCode
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %w", types.ErrUnauthorized, err)
	case status == http.StatusTooManyRequests:
		return types.Transient(fmt.Errorf("%w: %w", types.ErrRateLimited, err),
			retryAfter(retrieveErr.Response.Header.Get("Retry-After")))
	case status >= 500:
		return fmt.Errorf("%w: %w", types.ErrUpstream, err)
	default:
		return fmt.Errorf("%w: %w", types.ErrInvalidInput, err)
	}
}

func retryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
