// Package fetcherr defines the error taxonomy shared by every stage of a
// fetch run.
//
// Errors are classified by type, not by sentinel value, so callers use
// errors.As to decide whether a failure aborts the run or is recorded and
// skipped:
//
//   - AuthError: credential problems. Always fatal for the run.
//   - ValidationError: bad input or a query the provider rejected. Fatal at
//     run level, recorded at item level.
//   - RateLimitError: the provider asked us to slow down. Retried, then
//     recorded.
//   - FilesystemError: a single file could not be written. Recorded.
package fetcherr

import (
	"errors"
	"fmt"
	"time"
)

// AuthKind distinguishes why authentication failed.
type AuthKind string

const (
	// AuthConfig means the client credentials or token storage are unusable.
	AuthConfig AuthKind = "config"
	// AuthDenied means the user refused consent.
	AuthDenied AuthKind = "denied"
	// AuthTransient means a network failure during exchange or refresh.
	AuthTransient AuthKind = "transient"
)

// AuthError reports a failure to obtain or refresh a credential.
type AuthError struct {
	Kind AuthKind
	Msg  string
	Err  error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("authentication failed (%s): %s", e.Kind, e.Msg)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the operation later may succeed.
func (e *AuthError) Retryable() bool { return e.Kind == AuthTransient }

// NewAuthError creates an AuthError of the given kind.
func NewAuthError(kind AuthKind, msg string, err error) *AuthError {
	return &AuthError{Kind: kind, Msg: msg, Err: err}
}

// ValidationError reports input the program or the provider refused.
type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ValidationError) Error() string {
	msg := e.Msg
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "invalid input: " + msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, msg string, err error) *ValidationError {
	return &ValidationError{Field: field, Msg: msg, Err: err}
}

// RateLimitError reports a throttled or temporarily unavailable provider.
// RetryAfter is zero when the provider gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	msg := "rate limited by provider"
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// FilesystemError reports a failed filesystem operation on Path.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// IsAuth reports whether err is or wraps an AuthError.
func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsRateLimit reports whether err is or wraps a RateLimitError.
func IsRateLimit(err error) bool {
	var target *RateLimitError
	return errors.As(err, &target)
}

// IsFilesystem reports whether err is or wraps a FilesystemError.
func IsFilesystem(err error) bool {
	var target *FilesystemError
	return errors.As(err, &target)
}

// AuthKindOf returns the kind of the first AuthError in err's chain.
func AuthKindOf(err error) (AuthKind, bool) {
	var target *AuthError
	if errors.As(err, &target) {
		return target.Kind, true
	}
	return "", false
}

// IsFatal reports whether err must abort a run rather than being recorded.
func IsFatal(err error) bool {
	return IsAuth(err) || IsValidation(err)
}
