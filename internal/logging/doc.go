// Package logging provides structured logging utilities for pdffetch.
//
// Every component logs through log/slog. This package owns the handler setup
// (console plus an optional log file), consistent attribute names, and the
// helpers that keep personal data out of log lines.
//
// # Usage Patterns
//
// Build the process logger once in the command layer:
//
//	logger, closeLog, err := logging.Setup(logging.Options{
//	    Verbose: verbose,
//	    LogFile: "pdf_fetcher.log",
//	})
//	defer closeLog()
//
// Attach standard attributes per component:
//
//	logger := logging.WithOperation(logger, "gmail.extract")
//	logger.Info("attachment saved",
//	    logging.MessageID(ref.ID),
//	    logging.Filename(name))
//
// # Security Considerations
//
//   - Sender addresses are reduced to a hash or a domain
//   - Tokens are never logged directly
package logging
