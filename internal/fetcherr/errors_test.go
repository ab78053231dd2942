package fetcherr

import (
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthError(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewAuthError(AuthTransient, "token refresh failed", cause)

	assert.Equal(t, "authentication failed (transient): token refresh failed: connection reset", err.Error())
	assert.True(t, err.Retryable())
	assert.ErrorIs(t, err, cause)

	denied := NewAuthError(AuthDenied, "consent refused", nil)
	assert.False(t, denied.Retryable())
	assert.Equal(t, "authentication failed (denied): consent refused", denied.Error())
}

func TestAuthKindOf_ThroughURLError(t *testing.T) {
	// net/http wraps transport errors in *url.Error.
	wrapped := &url.Error{Op: "Get", URL: "https://gmail.googleapis.com", Err: NewAuthError(AuthTransient, "refresh", nil)}
	err := fmt.Errorf("failed to list messages: %w", wrapped)

	kind, ok := AuthKindOf(err)
	require.True(t, ok)
	assert.Equal(t, AuthTransient, kind)
	assert.True(t, IsFatal(err))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		auth       bool
		validation bool
		rateLimit  bool
		filesystem bool
		fatal      bool
	}{
		{name: "auth", err: NewAuthError(AuthConfig, "missing", nil), auth: true, fatal: true},
		{name: "validation", err: NewValidationError("query", "rejected", nil), validation: true, fatal: true},
		{name: "rate limit", err: &RateLimitError{RetryAfter: time.Second}, rateLimit: true},
		{name: "filesystem", err: &FilesystemError{Op: "write", Path: "/tmp/x", Err: errors.New("disk full")}, filesystem: true},
		{name: "wrapped rate limit", err: fmt.Errorf("get: %w", &RateLimitError{}), rateLimit: true},
		{name: "plain", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.auth, IsAuth(tt.err))
			assert.Equal(t, tt.validation, IsValidation(tt.err))
			assert.Equal(t, tt.rateLimit, IsRateLimit(tt.err))
			assert.Equal(t, tt.filesystem, IsFilesystem(tt.err))
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "invalid input: start_date: must be YYYY-MM-DD", NewValidationError("start_date", "must be YYYY-MM-DD", nil).Error())
	assert.Equal(t, "rate limited by provider (retry after 2s)", (&RateLimitError{RetryAfter: 2 * time.Second}).Error())
	assert.Equal(t, "filesystem create /d/a.pdf: permission denied",
		(&FilesystemError{Op: "create", Path: "/d/a.pdf", Err: errors.New("permission denied")}).Error())
}
