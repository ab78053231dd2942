package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teemow/pdffetch/internal/config"
	"github.com/teemow/pdffetch/internal/gmail"
	"github.com/teemow/pdffetch/internal/report"
	"github.com/teemow/pdffetch/internal/run"
)

func newFetchCmd() *cobra.Command {
	var startDate, endDate string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download PDF attachments from emails in a date range",
		Long: `Search Gmail for emails received between --start-date and --end-date
(both inclusive) and save every PDF attachment into the download directory.

Files are named YYYYMMDD_HHMMSS_{sender}_{original}.pdf and never overwrite
existing files. The run completes even when single attachments fail; those
are listed in the summary.`,
		Example: `  pdffetch -s 2024-01-01 -e 2024-01-31
  pdffetch fetch -s 2024-01-01 -e 2024-03-31 -q "from:billing@example.com" -d ./invoices`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runFetch(ctx, cmd, startDate, endDate)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&startDate, "start-date", "s", "", "First day to include (YYYY-MM-DD)")
	f.StringVarP(&endDate, "end-date", "e", "", "Last day to include (YYYY-MM-DD)")
	f.StringP("query", "q", config.DefaultQuery, "Additional Gmail search filter")
	f.IntP("max-results", "m", config.DefaultMaxResults, "Maximum number of emails to examine")
	f.StringP("download-dir", "d", config.DefaultDownloadDir, "Directory to save PDFs into")
	f.String("fetch-mode", config.FetchModeFull, "How message bodies are retrieved: full or raw")
	f.Bool("no-browser", false, "Print the consent URL instead of opening a browser")
	f.Duration("auth-timeout", config.DefaultAuthTimeout, "How long to wait for browser consent")
	f.String("format", config.FormatText, "Summary format: text, json or yaml")
	_ = cmd.MarkFlagRequired("start-date")
	_ = cmd.MarkFlagRequired("end-date")

	return cmd
}

func runFetch(ctx context.Context, cmd *cobra.Command, startDate, endDate string) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	criteria, err := gmail.NewSearchCriteria(startDate, endDate, a.cfg.Query, a.cfg.MaxResults, a.loc)
	if err != nil {
		return err
	}

	auth, err := a.credentialManager(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	runner, err := a.newRunner(auth)
	if err != nil {
		return err
	}

	req := run.Request{Criteria: criteria, DownloadDir: a.cfg.DownloadDir}
	if a.cfg.Verbose {
		req.Observer = progressPrinter(cmd.ErrOrStderr())
	}

	summary, err := runner.Run(ctx, req)
	if summary != nil {
		if rerr := report.Summary(cmd.OutOrStdout(), a.cfg.Format, summary); rerr != nil {
			a.logger.Error("failed to render summary", "error", rerr)
		}
	}
	return err
}

// progressPrinter reports state changes and per-message progress on w.
func progressPrinter(w io.Writer) run.Observer {
	return run.ObserverFunc(func(e run.Event) {
		switch {
		case e.Err != nil:
			fmt.Fprintf(w, "%s: %v\n", e.State, e.Err)
		case e.Outcome != nil:
			if e.Outcome.Filename != "" {
				fmt.Fprintf(w, "  saved %s\n", e.Outcome.Filename)
			}
		case e.Current > 0:
			fmt.Fprintf(w, "[%d/%d] processing message\n", e.Current, e.Max)
		case e.State.Terminal():
			fmt.Fprintf(w, "%s\n", e.State)
		default:
			fmt.Fprintf(w, "%s...\n", e.State)
		}
	})
}
