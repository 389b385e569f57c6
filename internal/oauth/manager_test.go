package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/jzx17/bffkit/internal/config"
	"github.com/jzx17/bffkit/internal/testutils"
	"github.com/jzx17/bffkit/pkg/result"
	"github.com/jzx17/bffkit/pkg/types"
)

var _ oauth2.TokenSource = (*TokenManager)(nil)

// countingFetcher fails `failures` times with err, then hands out numbered tokens
type countingFetcher struct {
	clock    types.Clock
	failures int64
	err      error
	ttl      time.Duration
	calls    atomic.Int64
}

func (f *countingFetcher) FetchToken(context.Context) result.Result[*oauth2.Token] {
	call := f.calls.Add(1)
	if f.failures < 0 || call <= f.failures {
		return result.Fail[*oauth2.Token](fmt.Errorf("exchange %d: %w", call, f.err))
	}
	return result.Ok(&oauth2.Token{
		AccessToken: fmt.Sprintf("token-%d", call),
		TokenType:   "Bearer",
		Expiry:      f.clock.Now().Add(f.ttl),
	})
}

func newManager(t *testing.T, fetcher *countingFetcher, opts ...Option) (*TokenManager, *testutils.VirtualClock) {
	t.Helper()
	clock := testutils.NewVirtualClock(t)
	fetcher.clock = clock
	if fetcher.ttl == 0 {
		fetcher.ttl = time.Hour
	}

	m, err := NewTokenManager(fetcher, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return m, clock
}

func TestTokenManager_RetriesUnauthorized(t *testing.T) {
	fetcher := &countingFetcher{failures: 2, err: types.ErrUnauthorized}
	m, clock := newManager(t, fetcher)

	token, err := m.AccessToken(context.Background()).Get()

	require.NoError(t, err)
	assert.Equal(t, "token-3", token)
	assert.Equal(t, int64(3), fetcher.calls.Load())
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clock.Pauses())
}

func TestTokenManager_ExhaustsBudget(t *testing.T) {
	fetcher := &countingFetcher{failures: -1, err: types.ErrUnauthorized}
	m, clock := newManager(t, fetcher)

	r := m.AccessToken(context.Background())

	require.True(t, r.IsFail())
	assert.ErrorIs(t, r.Err(), types.ErrUnauthorized)
	assert.Contains(t, r.Err().Error(), "exchange 6")
	assert.Equal(t, int64(6), fetcher.calls.Load())
	assert.Len(t, clock.Pauses(), 5)
}

func TestTokenManager_PermanentFailure(t *testing.T) {
	fetcher := &countingFetcher{failures: -1, err: types.ErrInvalidInput}
	m, clock := newManager(t, fetcher)

	r := m.AccessToken(context.Background())

	assert.ErrorIs(t, r.Err(), types.ErrInvalidInput)
	assert.Equal(t, int64(1), fetcher.calls.Load())
	assert.Empty(t, clock.Pauses())
}

func TestTokenManager_RetryConfig(t *testing.T) {
	fetcher := &countingFetcher{failures: -1, err: types.ErrUpstream}
	m, clock := newManager(t, fetcher, WithRetryConfig(config.RetryConfig{Retries: 1, DelayMs: 10}))

	r := m.AccessToken(context.Background())

	assert.ErrorIs(t, r.Err(), types.ErrUpstream)
	assert.Equal(t, int64(2), fetcher.calls.Load())
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, clock.Pauses())
}

func TestTokenManager_HonorsRetryAfter(t *testing.T) {
	fetcher := &countingFetcher{failures: 1, err: types.Transient(types.ErrRateLimited, 10*time.Second)}
	m, clock := newManager(t, fetcher)

	token, err := m.AccessToken(context.Background()).Get()

	require.NoError(t, err)
	assert.Equal(t, "token-2", token)
	assert.Equal(t, int64(2), fetcher.calls.Load())
	assert.Equal(t, []time.Duration{10 * time.Second}, clock.Pauses())
}

func TestTokenManager_CachesUntilSkew(t *testing.T) {
	fetcher := &countingFetcher{ttl: time.Minute}
	m, clock := newManager(t, fetcher)
	ctx := context.Background()

	assert.Equal(t, "token-1", m.AccessToken(ctx).Must())
	assert.Equal(t, "token-1", m.AccessToken(ctx).Must())

	clock.Advance(29 * time.Second)
	assert.Equal(t, "token-1", m.AccessToken(ctx).Must())

	clock.Advance(2 * time.Second)
	assert.Equal(t, "token-2", m.AccessToken(ctx).Must())
	assert.Equal(t, int64(2), fetcher.calls.Load())
}

func TestTokenManager_Invalidate(t *testing.T) {
	fetcher := &countingFetcher{}
	m, _ := newManager(t, fetcher)

	assert.Equal(t, "token-1", m.AccessToken(context.Background()).Must())
	m.Invalidate()
	assert.Equal(t, "token-2", m.AccessToken(context.Background()).Must())
}

func TestTokenManager_ConcurrentCallersShareRefresh(t *testing.T) {
	fetcher := &countingFetcher{}
	m, _ := newManager(t, fetcher)

	var wg sync.WaitGroup
	tokens := make([]string, 16)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i] = m.AccessToken(context.Background()).ValueOr("")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), fetcher.calls.Load())
	for _, token := range tokens {
		assert.Equal(t, "token-1", token)
	}
}

func TestTokenManager_CanceledContext(t *testing.T) {
	fetcher := &countingFetcher{}
	m, _ := newManager(t, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := m.AccessToken(ctx)

	assert.ErrorIs(t, r.Err(), context.Canceled)
	assert.Zero(t, fetcher.calls.Load())
}

func TestTokenManager_TokenSourceAndClient(t *testing.T) {
	fetcher := &countingFetcher{}
	m, _ := newManager(t, fetcher)

	token, err := m.Token()
	require.NoError(t, err)
	assert.Equal(t, "token-1", token.AccessToken)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	resp, err := m.Client(context.Background()).Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestNewTokenManager_Validation(t *testing.T) {
	_, err := NewTokenManager(nil)
	assert.Error(t, err)

	_, err = NewTokenManager(&countingFetcher{}, WithExpirySkew(-time.Second))
	assert.Error(t, err)
}
