package google

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/pdffetch/internal/fetcherr"
)

func testOAuthConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.com/o/oauth2/auth",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: DefaultOAuthScopes,
	}
}

// redirectBrowser simulates the user's browser: it follows the consent URL
// straight back to the loopback redirect with the given query parameters.
func redirectBrowser(t *testing.T, params func(state string) url.Values) func(string) error {
	return func(consentURL string) error {
		u, err := url.Parse(consentURL)
		if err != nil {
			return err
		}
		q := u.Query()
		redirect := q.Get("redirect_uri")
		values := params(q.Get("state"))
		go func() {
			resp, err := http.Get(redirect + "?" + values.Encode())
			if err != nil {
				t.Logf("callback request failed: %v", err)
				return
			}
			_ = resp.Body.Close()
		}()
		return nil
	}
}

func TestLoopbackAuthorizer_GrantsToken(t *testing.T) {
	var form url.Values
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"access_token":"access-granted","refresh_token":"refresh-granted","token_type":"Bearer","expires_in":3600,"scope":"https://www.googleapis.com/auth/gmail.readonly"}`)
	}))
	defer ts.Close()

	var consentURL string
	var prompt strings.Builder
	a := &LoopbackAuthorizer{
		Timeout: 5 * time.Second,
		Prompt:  &prompt,
		OpenBrowser: func(u string) error {
			consentURL = u
			return redirectBrowser(t, func(state string) url.Values {
				return url.Values{"state": {state}, "code": {"the-code"}}
			})(u)
		},
	}

	tok, err := a.Authorize(context.Background(), testOAuthConfig(ts.URL))
	require.NoError(t, err)
	assert.Equal(t, "access-granted", tok.AccessToken)
	assert.Equal(t, "refresh-granted", tok.RefreshToken)

	assert.Equal(t, "the-code", form.Get("code"))
	assert.NotEmpty(t, form.Get("code_verifier"), "PKCE verifier is sent with the exchange")

	u, err := url.Parse(consentURL)
	require.NoError(t, err)
	assert.Equal(t, "S256", u.Query().Get("code_challenge_method"))
	assert.Equal(t, "offline", u.Query().Get("access_type"))
	assert.True(t, strings.HasPrefix(u.Query().Get("redirect_uri"), "http://127.0.0.1:"))
	assert.Contains(t, prompt.String(), consentURL)
}

func TestLoopbackAuthorizer_Denied(t *testing.T) {
	a := &LoopbackAuthorizer{
		Timeout: 5 * time.Second,
		OpenBrowser: redirectBrowser(t, func(state string) url.Values {
			return url.Values{"state": {state}, "error": {"access_denied"}}
		}),
	}

	_, err := a.Authorize(context.Background(), testOAuthConfig("http://127.0.0.1:1/token"))
	kind, ok := fetcherr.AuthKindOf(err)
	require.True(t, ok)
	assert.Equal(t, fetcherr.AuthDenied, kind)
}

func TestLoopbackAuthorizer_Timeout(t *testing.T) {
	a := &LoopbackAuthorizer{Timeout: 50 * time.Millisecond}

	start := time.Now()
	_, err := a.Authorize(context.Background(), testOAuthConfig("http://127.0.0.1:1/token"))
	kind, ok := fetcherr.AuthKindOf(err)
	require.True(t, ok)
	assert.Equal(t, fetcherr.AuthTransient, kind)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLoopbackAuthorizer_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &LoopbackAuthorizer{Timeout: time.Minute}
	_, err := a.Authorize(ctx, testOAuthConfig("http://127.0.0.1:1/token"))
	kind, ok := fetcherr.AuthKindOf(err)
	require.True(t, ok)
	assert.Equal(t, fetcherr.AuthTransient, kind)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoopbackAuthorizer_ExchangeNetworkFailure(t *testing.T) {
	a := &LoopbackAuthorizer{
		Timeout: 5 * time.Second,
		OpenBrowser: redirectBrowser(t, func(state string) url.Values {
			return url.Values{"state": {state}, "code": {"the-code"}}
		}),
	}

	_, err := a.Authorize(context.Background(), testOAuthConfig("http://127.0.0.1:1/token"))
	kind, ok := fetcherr.AuthKindOf(err)
	require.True(t, ok)
	assert.Equal(t, fetcherr.AuthTransient, kind)
}

func TestCallbackHandler(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantResult bool
		wantCode   string
		wantKind   fetcherr.AuthKind
	}{
		{name: "code", target: "/?state=s1&code=abc", wantStatus: http.StatusOK, wantResult: true, wantCode: "abc"},
		{name: "denied", target: "/?state=s1&error=access_denied", wantStatus: http.StatusOK, wantResult: true, wantKind: fetcherr.AuthDenied},
		{name: "other error", target: "/?state=s1&error=invalid_scope", wantStatus: http.StatusOK, wantResult: true, wantKind: fetcherr.AuthConfig},
		{name: "state mismatch", target: "/?state=evil&code=abc", wantStatus: http.StatusBadRequest},
		{name: "missing code", target: "/?state=s1", wantStatus: http.StatusBadRequest},
		{name: "favicon", target: "/favicon.ico", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make(chan callbackResult, 1)
			rec := httptest.NewRecorder()
			callbackHandler("s1", results).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			select {
			case res := <-results:
				require.True(t, tt.wantResult, "unexpected resumption")
				assert.Equal(t, tt.wantCode, res.code)
				if tt.wantKind != "" {
					kind, ok := fetcherr.AuthKindOf(res.err)
					require.True(t, ok)
					assert.Equal(t, tt.wantKind, kind)
				}
			default:
				assert.False(t, tt.wantResult, "expected a resumption event")
			}
		})
	}
}

func TestCallbackHandler_OnlyFirstEventDelivered(t *testing.T) {
	results := make(chan callbackResult, 1)
	h := callbackHandler("s1", results)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/?state=s1&code=first", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/?state=s1&code=second", nil))

	res := <-results
	assert.Equal(t, "first", res.code)
	assert.Empty(t, results)
}
