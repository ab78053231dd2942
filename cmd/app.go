package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/teemow/pdffetch/internal/config"
	"github.com/teemow/pdffetch/internal/gmail"
	"github.com/teemow/pdffetch/internal/google"
	"github.com/teemow/pdffetch/internal/history"
	"github.com/teemow/pdffetch/internal/instrumentation"
	"github.com/teemow/pdffetch/internal/logging"
	"github.com/teemow/pdffetch/internal/run"
)

// app holds what every command builds from the resolved configuration.
type app struct {
	cfg      *config.Config
	loc      *time.Location
	fs       afero.Fs
	logger   *slog.Logger
	provider *instrumentation.Provider
	closeLog func() error
	history  *history.Store
}

// newApp resolves configuration for cmd and sets up logging and
// instrumentation. The caller must Close the app.
func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	v := config.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.Setup(logging.Options{
		Verbose: cfg.Verbose,
		LogFile: cfg.LogFile,
		Console: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		_ = closeLog()
		return nil, fmt.Errorf("failed to create instrumentation provider: %w", err)
	}

	return &app{
		cfg:      cfg,
		loc:      loc,
		fs:       afero.NewOsFs(),
		logger:   logger,
		provider: provider,
		closeLog: closeLog,
	}, nil
}

// Close flushes telemetry and closes the history store and log file.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := a.provider.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close history: %w", err))
		}
	}
	if err := a.closeLog(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close log file: %w", err))
	}
	return errors.Join(errs...)
}

func (a *app) metrics() *instrumentation.Metrics {
	return a.provider.Metrics()
}

func (a *app) tokenStore() (google.TokenStore, error) {
	if a.cfg.TokenStore == config.TokenStoreKeyring {
		return google.OpenKeyringTokenStore(filepath.Join(config.DataDir(), "keyring"))
	}
	return google.NewFileTokenStore(a.fs, a.cfg.TokenFile), nil
}

// credentialManager builds the credential manager. With a nil prompt the
// manager never starts the interactive consent flow.
func (a *app) credentialManager(prompt io.Writer) (*google.Manager, error) {
	store, err := a.tokenStore()
	if err != nil {
		return nil, err
	}
	opts := google.ManagerOptions{
		CredentialsPath: a.cfg.Credentials,
		Store:           store,
		FS:              a.fs,
		Logger:          a.logger,
		Metrics:         a.metrics(),
	}
	if prompt != nil {
		opts.Authorizer = google.NewLoopbackAuthorizer(a.cfg.AuthTimeout, a.cfg.NoBrowser, prompt, a.logger)
	}
	return google.NewManager(opts), nil
}

// openHistory opens the history store unless it is disabled.
func (a *app) openHistory() (*history.Store, error) {
	if a.history != nil || a.cfg.HistoryDB == "" {
		return a.history, nil
	}
	store, err := history.Open(a.cfg.HistoryDB, a.logger)
	if err != nil {
		return nil, err
	}
	a.history = store
	return store, nil
}

// newRunner builds a runner authenticating through auth. Runs are
// recorded in the history store when one is configured; a store that
// cannot be opened only costs the history.
func (a *app) newRunner(auth run.Authenticator) (*run.Runner, error) {
	opts := run.Options{
		Auth: auth,
		NewMailbox: run.GmailMailbox(gmail.Options{
			Mode:     gmail.FetchMode(a.cfg.FetchMode),
			Location: a.loc,
			Logger:   a.logger,
			Metrics:  a.metrics(),
		}),
		FS:        a.fs,
		FetchMode: gmail.FetchMode(a.cfg.FetchMode),
		Logger:    a.logger,
		Metrics:   a.metrics(),
	}

	store, err := a.openHistory()
	if err != nil {
		a.logger.Warn("run history disabled", logging.Err(err))
	} else if store != nil {
		opts.Recorder = store
	}
	return run.NewRunner(opts)
}
