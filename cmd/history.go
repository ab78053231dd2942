package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/pdffetch/internal/config"
	"github.com/teemow/pdffetch/internal/report"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit     int
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent fetch runs",
		Long: `List the most recent runs recorded in the history database.

With --prune-older-than, runs that started before the given age are removed
instead. Downloaded files are never touched.`,
		Example: `  pdffetch history --limit 5
  pdffetch history --format json
  pdffetch history --prune-older-than 2160h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			store, err := a.openHistory()
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("run history is disabled (empty --history-db)")
			}

			if olderThan > 0 {
				n, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d run(s).\n", n)
				return nil
			}

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return report.History(cmd.OutOrStdout(), a.cfg.Format, runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().DurationVar(&olderThan, "prune-older-than", 0, "Remove runs older than this age")
	cmd.Flags().String("format", config.FormatText, "Output format: text, json or yaml")

	return cmd
}
