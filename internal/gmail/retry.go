package gmail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/googleapi"

	"github.com/teemow/pdffetch/internal/fetcherr"
)

// RetryPolicy bounds how API calls are retried on rate limits.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64
	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration
	// MaxInterval caps each delay, including provider Retry-After hints.
	MaxInterval time.Duration
}

// DefaultRetryPolicy retries three times starting at one second.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: time.Second,
	MaxInterval:     30 * time.Second,
}

// rateLimitReasons are the 403 reasons Gmail uses for throttling.
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"backendError":          true,
}

// do runs op, retrying only while it fails with a RateLimitError. The
// returned error is already classified.
func (p RetryPolicy) do(ctx context.Context, op func() error, notify backoff.Notify) error {
	expo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		expo.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		expo.MaxInterval = p.MaxInterval
	}
	expo.MaxElapsedTime = 0

	hinted := &retryAfterBackOff{BackOff: expo, max: p.MaxInterval}
	policy := backoff.WithContext(backoff.WithMaxRetries(hinted, p.MaxRetries), ctx)

	return backoff.RetryNotify(func() error {
		err := classifyAPIError(op())
		if err == nil {
			return nil
		}
		var rl *fetcherr.RateLimitError
		if !errors.As(err, &rl) {
			return backoff.Permanent(err)
		}
		hinted.hint = rl.RetryAfter
		return err
	}, policy, notify)
}

// retryAfterBackOff stretches the next delay to the provider's
// Retry-After hint when one was given.
type retryAfterBackOff struct {
	backoff.BackOff
	hint time.Duration
	max  time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	hint := b.hint
	b.hint = 0
	if b.max > 0 && hint > b.max {
		hint = b.max
	}
	if hint > next {
		return hint
	}
	return next
}

// classifyAPIError maps a Gmail API or transport error onto the fetcherr
// taxonomy. Errors that are already classified pass through unchanged.
func classifyAPIError(err error) error {
	if err == nil {
		return nil
	}
	if fetcherr.IsAuth(err) || fetcherr.IsValidation(err) || fetcherr.IsRateLimit(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError:
			return &fetcherr.RateLimitError{RetryAfter: retryAfter(gerr.Header), Err: err}
		case gerr.Code == http.StatusForbidden && hasRateLimitReason(gerr):
			return &fetcherr.RateLimitError{RetryAfter: retryAfter(gerr.Header), Err: err}
		case gerr.Code == http.StatusUnauthorized:
			return fetcherr.NewAuthError(fetcherr.AuthTransient, "credential rejected by Gmail", err)
		case gerr.Code == http.StatusForbidden:
			return fetcherr.NewAuthError(fetcherr.AuthDenied, "access to the mailbox was denied", err)
		case gerr.Code == http.StatusBadRequest:
			return fetcherr.NewValidationError("query", gerr.Message, err)
		case gerr.Code == http.StatusNotFound:
			return fetcherr.NewValidationError("id", "not found", err)
		}
		return fmt.Errorf("gmail API error %d: %w", gerr.Code, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &fetcherr.RateLimitError{Err: err}
	}
	return err
}

func hasRateLimitReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if rateLimitReasons[item.Reason] {
			return true
		}
	}
	return false
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
