package gmail

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/teemow/pdffetch/internal/fetcherr"
	"github.com/teemow/pdffetch/internal/gmail/gmailtest"
)

var fastRetry = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
}

func newTestClient(t *testing.T, srv *gmailtest.Server, mode FetchMode) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), Options{
		HTTPClient: srv.Client(),
		Endpoint:   srv.Endpoint(),
		Mode:       mode,
		Retry:      &fastRetry,
	})
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	t.Run("requires http client", func(t *testing.T) {
		_, err := NewClient(context.Background(), Options{})
		require.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		c, err := NewClient(context.Background(), Options{HTTPClient: http.DefaultClient})
		require.NoError(t, err)
		assert.Equal(t, FetchModeFull, c.Mode())
		assert.Equal(t, time.UTC, c.loc)
		assert.Equal(t, DefaultRetryPolicy, c.retry)
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := NewClient(context.Background(), Options{HTTPClient: http.DefaultClient, Mode: "imap"})
		require.Error(t, err)
	})
}

func TestClassifyAPIError(t *testing.T) {
	withHeader := func(e *googleapi.Error, k, v string) *googleapi.Error {
		e.Header = http.Header{}
		e.Header.Set(k, v)
		return e
	}

	tests := []struct {
		name       string
		err        error
		validation bool
		rateLimit  bool
		authKind   fetcherr.AuthKind
		isAuth     bool
		retryAfter time.Duration
	}{
		{
			name:       "bad request",
			err:        &googleapi.Error{Code: 400, Message: "Invalid query"},
			validation: true,
		},
		{
			name:       "not found",
			err:        &googleapi.Error{Code: 404},
			validation: true,
		},
		{
			name:     "unauthorized",
			err:      &googleapi.Error{Code: 401},
			isAuth:   true,
			authKind: fetcherr.AuthTransient,
		},
		{
			name:       "too many requests with retry-after",
			err:        withHeader(&googleapi.Error{Code: 429}, "Retry-After", "7"),
			rateLimit:  true,
			retryAfter: 7 * time.Second,
		},
		{
			name:      "forbidden rate limit",
			err:       &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}},
			rateLimit: true,
		},
		{
			name:     "forbidden otherwise",
			err:      &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "insufficientPermissions"}}},
			isAuth:   true,
			authKind: fetcherr.AuthDenied,
		},
		{
			name:      "server error",
			err:       &googleapi.Error{Code: 503},
			rateLimit: true,
		},
		{
			name:      "network error",
			err:       &url.Error{Op: "Get", URL: "https://gmail.googleapis.com", Err: errors.New("connection reset")},
			rateLimit: true,
		},
		{
			name:     "auth error from token source",
			err:      &url.Error{Op: "Get", Err: fetcherr.NewAuthError(fetcherr.AuthTransient, "refresh failed", nil)},
			isAuth:   true,
			authKind: fetcherr.AuthTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyAPIError(tt.err)
			require.Error(t, got)
			assert.Equal(t, tt.validation, fetcherr.IsValidation(got))
			assert.Equal(t, tt.rateLimit, fetcherr.IsRateLimit(got))
			assert.Equal(t, tt.isAuth, fetcherr.IsAuth(got))
			if tt.isAuth {
				kind, _ := fetcherr.AuthKindOf(got)
				assert.Equal(t, tt.authKind, kind)
			}
			if tt.rateLimit {
				var rl *fetcherr.RateLimitError
				require.ErrorAs(t, got, &rl)
				assert.Equal(t, tt.retryAfter, rl.RetryAfter)
			}
		})
	}

	t.Run("context cancellation passes through", func(t *testing.T) {
		assert.Equal(t, context.Canceled, classifyAPIError(context.Canceled))
	})
	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, classifyAPIError(nil))
	})
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	assert.Zero(t, retryAfter(h))

	h.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, retryAfter(h))

	h.Set("Retry-After", "soon")
	assert.Zero(t, retryAfter(h))

	h.Set("Retry-After", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
	assert.Greater(t, retryAfter(h), 50*time.Minute)
}

func TestRetryAfterBackOff(t *testing.T) {
	b := &retryAfterBackOff{BackOff: &backoff.ConstantBackOff{Interval: time.Millisecond}, max: time.Second}

	assert.Equal(t, time.Millisecond, b.NextBackOff())

	b.hint = 200 * time.Millisecond
	assert.Equal(t, 200*time.Millisecond, b.NextBackOff())
	assert.Equal(t, time.Millisecond, b.NextBackOff(), "hint is consumed once")

	b.hint = time.Minute
	assert.Equal(t, time.Second, b.NextBackOff(), "hint is capped")

	stopped := &retryAfterBackOff{BackOff: &backoff.StopBackOff{}, hint: time.Second}
	assert.Equal(t, backoff.Stop, stopped.NextBackOff())
}

func TestRetryPolicyDo(t *testing.T) {
	rateLimited := &googleapi.Error{Code: 429}

	t.Run("retries rate limits until success", func(t *testing.T) {
		calls := 0
		err := fastRetry.do(context.Background(), func() error {
			calls++
			if calls < 3 {
				return rateLimited
			}
			return nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := fastRetry.do(context.Background(), func() error {
			calls++
			return rateLimited
		}, nil)
		require.Error(t, err)
		assert.True(t, fetcherr.IsRateLimit(err))
		assert.Equal(t, 4, calls)
	})

	t.Run("does not retry validation errors", func(t *testing.T) {
		calls := 0
		err := fastRetry.do(context.Background(), func() error {
			calls++
			return &googleapi.Error{Code: 400}
		}, nil)
		require.Error(t, err)
		assert.True(t, fetcherr.IsValidation(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("notifies before each retry", func(t *testing.T) {
		var waits []time.Duration
		_ = fastRetry.do(context.Background(), func() error { return rateLimited },
			func(_ error, d time.Duration) { waits = append(waits, d) })
		assert.Len(t, waits, 3)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := fastRetry.do(ctx, func() error { return rateLimited }, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
