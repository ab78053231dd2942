package logging

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// MigrateLogger adapts an slog.Logger to the logger interface expected by
// golang-migrate (Printf and Verbose).
type MigrateLogger struct {
	logger  *slog.Logger
	verbose bool
}

// NewMigrateLogger creates a MigrateLogger wrapping the given slog.Logger.
// If logger is nil, slog.Default() is used.
func NewMigrateLogger(logger *slog.Logger, verbose bool) *MigrateLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &MigrateLogger{logger: logger, verbose: verbose}
}

// Printf logs a migration message at debug level.
func (a *MigrateLogger) Printf(format string, v ...interface{}) {
	a.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), Operation("history.migrate"))
}

// Verbose reports whether migrate should emit per-step messages.
func (a *MigrateLogger) Verbose() bool {
	return a.verbose
}

// BackoffNotifier returns a notify function for cenkalti/backoff that logs
// each retry at debug level.
func BackoffNotifier(logger *slog.Logger, operation string) func(error, time.Duration) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(err error, wait time.Duration) {
		logger.Debug("retrying after error",
			Operation(operation),
			slog.Duration("wait", wait),
			Err(err))
	}
}
