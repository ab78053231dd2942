package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/teemow/pdffetch/internal/instrumentation"
	"github.com/teemow/pdffetch/internal/logging"
)

// userID addresses the authenticated mailbox.
const userID = "me"

// Options configures a Client.
type Options struct {
	// HTTPClient carries the OAuth2 credential. Required.
	HTTPClient *http.Client
	// Endpoint overrides the API base URL (tests).
	Endpoint string
	// Mode selects how Extract retrieves message bodies (default full).
	Mode FetchMode
	// Location is used for received timestamps (default UTC).
	Location *time.Location
	// Retry bounds retries on rate limits (default DefaultRetryPolicy).
	Retry   *RetryPolicy
	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Client is a Gmail client scoped to the authenticated user's mailbox.
type Client struct {
	svc     *gmail.UsersService
	mode    FetchMode
	loc     *time.Location
	retry   RetryPolicy
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewClient creates a Gmail client that authenticates through
// opts.HTTPClient.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.HTTPClient == nil {
		return nil, fmt.Errorf("gmail client requires an authenticated HTTP client")
	}
	clientOpts := []option.ClientOption{option.WithHTTPClient(opts.HTTPClient)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	srv, err := gmail.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}

	c := &Client{
		svc:     srv.Users,
		mode:    opts.Mode,
		loc:     opts.Location,
		retry:   DefaultRetryPolicy,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if c.mode == "" {
		c.mode = FetchModeFull
	}
	if c.mode != FetchModeFull && c.mode != FetchModeRaw {
		return nil, fmt.Errorf("unknown fetch mode %q", c.mode)
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	if opts.Retry != nil {
		c.retry = *opts.Retry
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Mode returns the fetch mode used by Extract.
func (c *Client) Mode() FetchMode {
	return c.mode
}

// call runs one API operation with tracing, metrics and the retry policy.
func (c *Client) call(ctx context.Context, operation string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceGmail, operation, attrs...)
	defer span.End()

	start := time.Now()
	err := c.retry.do(ctx, func() error { return fn(ctx) },
		logging.BackoffNotifier(c.logger, "gmail."+operation))

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGmail, operation, status, time.Since(start))
	return err
}

func (c *Client) listMessages(ctx context.Context, query, pageToken string, pageSize int64) (*gmail.ListMessagesResponse, error) {
	var res *gmail.ListMessagesResponse
	err := c.call(ctx, instrumentation.OperationListMessages, func(ctx context.Context) error {
		call := c.svc.Messages.List(userID).Q(query).MaxResults(pageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		var err error
		res, err = call.Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) getMessage(ctx context.Context, id, format string, headers ...string) (*gmail.Message, error) {
	var msg *gmail.Message
	err := c.call(ctx, instrumentation.OperationGetMessage, func(ctx context.Context) error {
		call := c.svc.Messages.Get(userID, id).Format(format).Context(ctx)
		if len(headers) > 0 {
			call = call.MetadataHeaders(headers...)
		}
		var err error
		msg, err = call.Do()
		return err
	}, instrumentation.MessageID(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return msg, nil
}

func (c *Client) getAttachment(ctx context.Context, messageID, attachmentID string) (*gmail.MessagePartBody, error) {
	var body *gmail.MessagePartBody
	err := c.call(ctx, instrumentation.OperationGetAttachment, func(ctx context.Context) error {
		var err error
		body, err = c.svc.Messages.Attachments.Get(userID, messageID, attachmentID).Context(ctx).Do()
		return err
	}, instrumentation.MessageID(messageID))
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	return body, nil
}
