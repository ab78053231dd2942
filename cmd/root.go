package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teemow/pdffetch/internal/config"
)

// rootCmd represents the base command for the pdffetch application
var rootCmd = &cobra.Command{
	Use:   "pdffetch",
	Short: "Downloads PDF attachments from Gmail",
	Long: `pdffetch searches your Gmail mailbox for emails received in a date range
and saves their PDF attachments into a local directory.

It can run as:
  - A standalone CLI tool (default)
  - A local web UI
  - An MCP (Model Context Protocol) server for AI assistants`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "pdffetch version %s\n" .Version}}`)

	// Without a subcommand, fetch is run.
	os.Args = withDefaultCommand(os.Args, "fetch")

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// withDefaultCommand inserts def when args name no subcommand, so
// "pdffetch -s 2024-01-01 -e 2024-01-31" behaves like "pdffetch fetch ...".
func withDefaultCommand(args []string, def string) []string {
	if len(args) == 1 {
		return append(args, def)
	}
	first := args[1]
	if !strings.HasPrefix(first, "-") {
		return args
	}
	switch first {
	case "-h", "--help", "--version":
		return args
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0], def)
	return append(out, args[1:]...)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to a YAML config file")
	pf.BoolP("verbose", "v", false, "Enable verbose logging")
	pf.String("log-file", config.DefaultLogFile, "Log file receiving every significant event (empty disables)")
	pf.StringP("credentials", "c", config.DefaultCredentials, "Path to the OAuth client credentials JSON")
	pf.String("token-file", "", "Path of the stored token (default: user cache dir)")
	pf.String("token-store", config.TokenStoreFile, "Token storage: file or keyring")
	pf.String("history-db", config.DefaultHistoryDB(), "Run history database (empty disables)")
	pf.String("timezone", "", "IANA time zone for date boundaries and filenames (default: local)")

	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newWebCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
}
