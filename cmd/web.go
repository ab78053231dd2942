package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cli/browser"
	"github.com/spf13/cobra"

	"github.com/teemow/pdffetch/internal/config"
	"github.com/teemow/pdffetch/internal/logging"
	"github.com/teemow/pdffetch/internal/web"
)

func newWebCmd() *cobra.Command {
	var open bool

	cmd := &cobra.Command{
		Use:   "web",
		Short: "Start the local web UI",
		Long: `Start a local web UI for picking a date range, following the progress of
a fetch and downloading the saved PDFs.

The server listens on 127.0.0.1:5000 by default. Only one fetch runs at a
time; further requests queue behind it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runWeb(ctx, cmd, open)
		},
	}

	f := cmd.Flags()
	f.String("web-addr", config.DefaultWebAddr, "Address to listen on")
	f.BoolVar(&open, "open", false, "Open the UI in a browser once listening")
	f.StringP("query", "q", config.DefaultQuery, "Default Gmail search filter")
	f.IntP("max-results", "m", config.DefaultMaxResults, "Default maximum number of emails")
	f.StringP("download-dir", "d", config.DefaultDownloadDir, "Default directory to save PDFs into")
	f.String("fetch-mode", config.FetchModeFull, "How message bodies are retrieved: full or raw")
	f.Bool("no-browser", false, "Print the consent URL instead of opening a browser")
	f.Duration("auth-timeout", config.DefaultAuthTimeout, "How long to wait for browser consent")

	return cmd
}

func runWeb(ctx context.Context, cmd *cobra.Command, open bool) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	auth, err := a.credentialManager(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	runner, err := a.newRunner(auth)
	if err != nil {
		return err
	}

	opts := web.Options{
		Fetcher:            runner,
		FS:                 a.fs,
		Location:           a.loc,
		DefaultDownloadDir: a.cfg.DownloadDir,
		DefaultQuery:       a.cfg.Query,
		DefaultMaxResults:  a.cfg.MaxResults,
		MetricsHandler:     a.provider.Handler(),
		Metrics:            a.metrics(),
		Logger:             a.logger,
		Version:            version,
	}
	if a.history != nil {
		opts.History = a.history
	}

	srv, err := web.NewServer(opts)
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe(a.cfg.WebAddr)
	}()

	url := "http://" + a.cfg.WebAddr
	fmt.Fprintf(cmd.ErrOrStderr(), "pdffetch web UI listening on %s\n", url)
	if open {
		if err := browser.OpenURL(url); err != nil {
			a.logger.Warn("failed to open browser", logging.Err(err))
		}
	}

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("web server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), web.DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("error during web server shutdown: %w", err)
	}
	return nil
}
