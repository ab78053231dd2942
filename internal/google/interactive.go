package google

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cli/browser"
	"golang.org/x/oauth2"

	"github.com/teemow/pdffetch/internal/fetcherr"
	"github.com/teemow/pdffetch/internal/logging"
)

// DefaultAuthTimeout bounds how long the interactive flow waits for consent.
const DefaultAuthTimeout = 5 * time.Minute

// Authorizer obtains a brand-new token from the user.
type Authorizer interface {
	Authorize(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error)
}

// LoopbackAuthorizer runs the authorization-code flow for installed
// applications: it listens on a loopback port, sends the user to the consent
// page, and waits for exactly one redirect back.
type LoopbackAuthorizer struct {
	// Timeout defaults to DefaultAuthTimeout.
	Timeout time.Duration

	// OpenBrowser launches the consent URL. Nil only prints the URL.
	OpenBrowser func(url string) error

	// Prompt receives the consent URL and instructions. Nil discards them.
	Prompt io.Writer

	// ListenAddr defaults to 127.0.0.1:0.
	ListenAddr string

	Logger *slog.Logger
}

// NewLoopbackAuthorizer creates an authorizer that opens the system browser
// unless noBrowser is set.
func NewLoopbackAuthorizer(timeout time.Duration, noBrowser bool, prompt io.Writer, logger *slog.Logger) *LoopbackAuthorizer {
	a := &LoopbackAuthorizer{
		Timeout: timeout,
		Prompt:  prompt,
		Logger:  logger,
	}
	if !noBrowser {
		a.OpenBrowser = browser.OpenURL
	}
	return a
}

type callbackResult struct {
	code string
	err  error
}

// Authorize blocks until the user grants or denies access, the timeout
// elapses, or ctx is cancelled.
func (a *LoopbackAuthorizer) Authorize(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithOperation(logger, "oauth.interactive")

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultAuthTimeout
	}
	addr := a.ListenAddr
	if addr == "" {
		addr = "127.0.0.1:0"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fetcherr.NewAuthError(fetcherr.AuthTransient, "cannot start local callback listener", err)
	}

	cfg := *conf
	cfg.RedirectURL = "http://" + ln.Addr().String() + "/"

	state, err := randomState()
	if err != nil {
		_ = ln.Close()
		return nil, fetcherr.NewAuthError(fetcherr.AuthTransient, "cannot generate state", err)
	}
	verifier := oauth2.GenerateVerifier()
	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.S256ChallengeOption(verifier),
	)

	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           callbackHandler(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("callback server stopped", logging.Err(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if a.Prompt != nil {
		fmt.Fprintf(a.Prompt, "Authorize pdffetch to read your Gmail by visiting:\n\n  %s\n\nWaiting up to %s for the browser to redirect back...\n", authURL, timeout)
	}
	if a.OpenBrowser != nil {
		if err := a.OpenBrowser(authURL); err != nil {
			logger.Warn("failed to open browser, open the URL manually", logging.Err(err))
		}
	}
	logger.Info("waiting for authorization", slog.String("redirect_url", cfg.RedirectURL))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		if res.err != nil {
			return nil, res.err
		}
		tok, err := cfg.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
		if err != nil {
			return nil, classifyExchangeError(err)
		}
		logger.Info("authorization granted", slog.String("access_token", logging.SanitizeToken(tok.AccessToken)))
		return tok, nil
	case <-timer.C:
		return nil, fetcherr.NewAuthError(fetcherr.AuthTransient,
			fmt.Sprintf("timed out after %s waiting for authorization", timeout), nil)
	case <-ctx.Done():
		return nil, fetcherr.NewAuthError(fetcherr.AuthTransient, "authorization cancelled", ctx.Err())
	}
}

// callbackHandler delivers the first redirect carrying the expected state.
// Requests with a foreign state are rejected without resuming the flow.
func callbackHandler(state string, results chan<- callbackResult) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}

		var res callbackResult
		switch {
		case q.Get("error") == "access_denied":
			res.err = fetcherr.NewAuthError(fetcherr.AuthDenied, "consent was denied in the browser", nil)
		case q.Get("error") != "":
			res.err = fetcherr.NewAuthError(fetcherr.AuthConfig, "authorization server returned "+q.Get("error"), nil)
		case q.Get("code") == "":
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		default:
			res.code = q.Get("code")
		}

		select {
		case results <- res:
		default:
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if res.err != nil {
			_, _ = io.WriteString(w, "<html><body><p>Authorization was not granted. You can close this window.</p></body></html>")
			return
		}
		_, _ = io.WriteString(w, "<html><body><p>pdffetch is authorized. You can close this window.</p></body></html>")
	})
}

// classifyExchangeError separates provider rejections from network failures.
func classifyExchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "access_denied" {
			return fetcherr.NewAuthError(fetcherr.AuthDenied, "token exchange denied", err)
		}
		return fetcherr.NewAuthError(fetcherr.AuthConfig, "token exchange rejected", err)
	}
	return fetcherr.NewAuthError(fetcherr.AuthTransient, "token exchange failed", err)
}

func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
