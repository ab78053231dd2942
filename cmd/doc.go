// Package cmd implements the command-line interface for pdffetch.
//
// This package provides the following commands:
//   - fetch: Download PDF attachments of emails received in a date range
//   - auth: Obtain or refresh the Gmail token and show its status
//   - web: Serve the local web UI
//   - serve: Start the MCP server on stdio
//   - history: List recent runs
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for the MCP tools
//
// The fetch command is the default command when no subcommand is specified.
package cmd
