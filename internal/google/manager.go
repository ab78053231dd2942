package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/oauth2"

	"github.com/teemow/pdffetch/internal/fetcherr"
	"github.com/teemow/pdffetch/internal/instrumentation"
	"github.com/teemow/pdffetch/internal/logging"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// CredentialsPath is the OAuth client file.
	CredentialsPath string

	// Store defaults to a FileTokenStore at DefaultTokenFile.
	Store TokenStore

	// Authorizer runs the interactive flow. Nil makes the manager
	// non-interactive: without a usable stored token it fails.
	Authorizer Authorizer

	// FS defaults to the OS filesystem.
	FS afero.Fs

	// Transport is the base transport for token and API requests.
	Transport http.RoundTripper

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Manager obtains authenticated sessions.
type Manager struct {
	credentialsPath string
	store           TokenStore
	authorizer      Authorizer
	fs              afero.Fs
	transport       http.RoundTripper
	logger          *slog.Logger
	metrics         *instrumentation.Metrics
}

// NewManager creates a credential manager.
func NewManager(opts ManagerOptions) *Manager {
	m := &Manager{
		credentialsPath: opts.CredentialsPath,
		store:           opts.Store,
		authorizer:      opts.Authorizer,
		fs:              opts.FS,
		transport:       opts.Transport,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
	}
	if m.fs == nil {
		m.fs = afero.NewOsFs()
	}
	if m.store == nil {
		m.store = NewFileTokenStore(m.fs, "")
	}
	if m.transport == nil {
		m.transport = defaultTransport()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = logging.WithOperation(m.logger, "oauth")
	return m
}

// Store returns the token store the manager persists to.
func (m *Manager) Store() TokenStore {
	return m.store
}

// ObtainSession returns a session backed by a valid credential.
//
// A stored, unexpired credential is reused. An expired one is refreshed;
// if the provider rejects the refresh token the interactive flow runs, while
// a network failure is returned as a transient AuthError. Every new or
// refreshed credential is saved.
func (m *Manager) ObtainSession(ctx context.Context) (*Session, error) {
	conf, err := LoadClientConfig(m.fs, m.credentialsPath)
	if err != nil {
		return nil, err
	}

	ctx, span := instrumentation.StartSpan(ctx, "oauth.obtain_session")
	defer span.End()

	httpCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: m.transport})

	cred, err := m.loadUsable()
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, err
	}

	if cred != nil && !cred.Valid() {
		cred, err = m.refresh(httpCtx, conf, cred)
		if err != nil {
			instrumentation.SetSpanError(span, err)
			return nil, err
		}
	}

	if cred == nil {
		cred, err = m.authorize(httpCtx, conf)
		if err != nil {
			instrumentation.SetSpanError(span, err)
			return nil, err
		}
	}

	instrumentation.SetSpanSuccess(span)
	return m.newSession(httpCtx, conf, cred), nil
}

// loadUsable returns the stored credential, or nil when there is none or it
// cannot serve the required scopes.
func (m *Manager) loadUsable() (*Credential, error) {
	cred, err := m.store.Load()
	switch {
	case errors.Is(err, ErrNoToken):
		m.logger.Debug("no stored token", logging.Path(m.store.Location()))
		return nil, nil
	case err != nil:
		// An unreadable token is replaced by a fresh authorization.
		m.logger.Warn("ignoring unreadable stored token", logging.Path(m.store.Location()), logging.Err(err))
		return nil, nil
	}
	if !coversScopes(cred.Scopes, DefaultOAuthScopes) {
		m.logger.Info("stored token lacks required scopes, re-authorizing")
		return nil, nil
	}
	if cred.Valid() {
		m.logger.Debug("reusing stored token", slog.Time("expiry", cred.Expiry))
	}
	return cred, nil
}

func (m *Manager) refresh(ctx context.Context, conf *oauth2.Config, cred *Credential) (*Credential, error) {
	if cred.RefreshToken == "" {
		m.logger.Info("stored token expired without refresh token")
		return nil, nil
	}

	expired := cred.Token
	tok, err := conf.TokenSource(ctx, &expired).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultExpired)
			m.logger.Info("refresh token rejected, re-authorizing", logging.Err(err))
			return nil, nil
		}
		m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultFailure)
		return nil, fetcherr.NewAuthError(fetcherr.AuthTransient, "token refresh failed", err)
	}
	m.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.OAuthResultSuccess)

	refreshed := &Credential{Token: *tok, Scopes: cred.Scopes}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	if err := m.store.Save(refreshed); err != nil {
		return nil, fetcherr.NewAuthError(fetcherr.AuthConfig, "cannot persist refreshed token", err)
	}
	m.logger.Info("token refreshed", slog.Time("expiry", refreshed.Expiry))
	return refreshed, nil
}

func (m *Manager) authorize(ctx context.Context, conf *oauth2.Config) (*Credential, error) {
	if m.authorizer == nil {
		m.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		return nil, fetcherr.NewAuthError(fetcherr.AuthConfig,
			"no valid token available; run `pdffetch auth` to authorize", nil)
	}

	tok, err := m.authorizer.Authorize(ctx, conf)
	if err != nil {
		m.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		if fetcherr.IsAuth(err) {
			return nil, err
		}
		return nil, fetcherr.NewAuthError(fetcherr.AuthTransient, "authorization failed", err)
	}
	m.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultSuccess)

	cred := &Credential{Token: *tok, Scopes: grantedScopes(tok, conf.Scopes)}
	if err := m.store.Save(cred); err != nil {
		return nil, fetcherr.NewAuthError(fetcherr.AuthConfig, "cannot persist token", err)
	}
	m.logger.Info("authorization complete", logging.Path(m.store.Location()))
	return cred, nil
}

func (m *Manager) newSession(ctx context.Context, conf *oauth2.Config, cred *Credential) *Session {
	src := &persistingTokenSource{
		base:    oauth2.ReuseTokenSource(&cred.Token, conf.TokenSource(ctx, &cred.Token)),
		store:   m.store,
		current: *cred,
		logger:  m.logger,
		metrics: m.metrics,
	}
	return &Session{
		client: newHTTPClient(src, m.transport),
		source: src,
	}
}

// Session is an authenticated handle for Gmail API calls. It owns the
// credential for the duration of a run.
type Session struct {
	client *http.Client
	source *persistingTokenSource
}

// HTTPClient returns the authorized client. Token refresh failures surface
// from its requests as a transient AuthError.
func (s *Session) HTTPClient() *http.Client {
	return s.client
}

// Credential returns the credential currently in use, including any
// refresh performed since the session was created.
func (s *Session) Credential() Credential {
	return s.source.credential()
}

// persistingTokenSource saves every token it hands out that differs from the
// last one saved, and reports refresh failures as AuthError.
type persistingTokenSource struct {
	mu      sync.Mutex
	base    oauth2.TokenSource
	store   TokenStore
	current Credential
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tok, err := p.base.Token()
	if err != nil {
		p.metrics.RecordOAuthTokenRefresh(context.Background(), instrumentation.OAuthResultFailure)
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, fetcherr.NewAuthError(fetcherr.AuthConfig, "stored token was revoked; run `pdffetch auth`", err)
		}
		return nil, fetcherr.NewAuthError(fetcherr.AuthTransient, "token refresh failed", err)
	}

	if tok.AccessToken != p.current.AccessToken {
		p.metrics.RecordOAuthTokenRefresh(context.Background(), instrumentation.OAuthResultSuccess)
		next := Credential{Token: *tok, Scopes: p.current.Scopes}
		if next.RefreshToken == "" {
			next.RefreshToken = p.current.RefreshToken
		}
		if err := p.store.Save(&next); err != nil {
			// The run can continue with the in-memory token.
			p.logger.Warn("failed to persist refreshed token", logging.Err(err))
		} else {
			p.logger.Debug("persisted refreshed token", slog.Time("expiry", next.Expiry))
		}
		p.current = next
	}
	return tok, nil
}

func (p *persistingTokenSource) credential() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Status describes the stored credential without contacting the provider.
type Status struct {
	Location    string
	Present     bool
	Valid       bool
	Refreshable bool
	Expiry      time.Time
	Scopes      []string
}

// Status reports what is stored.
func (m *Manager) Status() (Status, error) {
	st := Status{Location: m.store.Location()}
	cred, err := m.store.Load()
	if errors.Is(err, ErrNoToken) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("failed to load token: %w", err)
	}
	st.Present = true
	st.Valid = cred.Valid()
	st.Refreshable = cred.RefreshToken != ""
	st.Expiry = cred.Expiry
	st.Scopes = cred.Scopes
	return st, nil
}

// Revoke forgets the stored credential locally.
func (m *Manager) Revoke() error {
	return m.store.Clear()
}
