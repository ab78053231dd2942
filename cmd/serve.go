package cmd

import (
	"context"
	"fmt"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/teemow/pdffetch/internal/config"
	"github.com/teemow/pdffetch/internal/tools/pdf_tools"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		Long: `Start an MCP server on stdin/stdout exposing the gmail_fetch_pdfs tool
(and gmail_pdf_history when run history is enabled).

Authorize once with 'pdffetch auth' before connecting a client; the consent
flow prints to stderr so it never corrupts the protocol stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}

	f := cmd.Flags()
	f.StringP("query", "q", config.DefaultQuery, "Default Gmail search filter")
	f.IntP("max-results", "m", config.DefaultMaxResults, "Default maximum number of emails")
	f.StringP("download-dir", "d", config.DefaultDownloadDir, "Default directory to save PDFs into")
	f.String("fetch-mode", config.FetchModeFull, "How message bodies are retrieved: full or raw")
	f.Bool("no-browser", false, "Print the consent URL instead of opening a browser")
	f.Duration("auth-timeout", config.DefaultAuthTimeout, "How long to wait for browser consent")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
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

	mcpSrv := mcpserver.NewMCPServer("pdffetch", version,
		mcpserver.WithToolCapabilities(true),
	)

	cfg := pdf_tools.Config{
		Fetcher:            runner,
		Location:           a.loc,
		DefaultDownloadDir: a.cfg.DownloadDir,
		DefaultQuery:       a.cfg.Query,
		DefaultMaxResults:  a.cfg.MaxResults,
		Metrics:            a.metrics(),
		Logger:             a.logger,
	}
	if a.history != nil {
		cfg.History = a.history
	}
	if err := pdf_tools.RegisterPDFTools(mcpSrv, cfg); err != nil {
		return fmt.Errorf("failed to register PDF tools: %w", err)
	}

	a.logger.Info("starting MCP server on stdio")
	if err := mcpserver.ServeStdio(mcpSrv); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
