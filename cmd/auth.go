package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/pdffetch/internal/config"
	"github.com/teemow/pdffetch/internal/google"
)

func newAuthCmd() *cobra.Command {
	var statusOnly, revoke bool

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize Gmail access and show the stored token",
		Long: `Obtain a Gmail token through the browser consent flow, or refresh the
stored one, and persist it for later runs.

With --status the stored token is only inspected. With --revoke it is removed
locally; access can be withdrawn at https://myaccount.google.com/permissions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runAuth(ctx, cmd, statusOnly, revoke)
		},
	}

	cmd.Flags().BoolVar(&statusOnly, "status", false, "Only show the stored token")
	cmd.Flags().BoolVar(&revoke, "revoke", false, "Remove the stored token")
	cmd.Flags().Bool("no-browser", false, "Print the consent URL instead of opening a browser")
	cmd.Flags().Duration("auth-timeout", config.DefaultAuthTimeout, "How long to wait for browser consent")

	return cmd
}

func runAuth(ctx context.Context, cmd *cobra.Command, statusOnly, revoke bool) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	manager, err := a.credentialManager(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	switch {
	case revoke:
		if err := manager.Revoke(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Stored token removed.")
		return nil
	case !statusOnly:
		if _, err := manager.ObtainSession(ctx); err != nil {
			return err
		}
	}

	st, err := manager.Status()
	if err != nil {
		return err
	}
	printAuthStatus(out, st)
	return nil
}

func printAuthStatus(w io.Writer, st google.Status) {
	fmt.Fprintf(w, "Token store: %s\n", st.Location)
	if !st.Present {
		fmt.Fprintln(w, "Status:      no token stored (run 'pdffetch auth')")
		return
	}
	state := "valid"
	if !st.Valid {
		state = "expired"
	}
	fmt.Fprintf(w, "Status:      %s\n", state)
	if !st.Expiry.IsZero() {
		fmt.Fprintf(w, "Expires:     %s\n", st.Expiry.Local().Format(time.RFC1123))
	}
	fmt.Fprintf(w, "Refreshable: %t\n", st.Refreshable)
	if len(st.Scopes) > 0 {
		fmt.Fprintf(w, "Scopes:      %s\n", strings.Join(st.Scopes, " "))
	}
}
