// Package run sequences one fetch run: authenticate, locate messages,
// extract their PDF attachments and write them to disk.
package run

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/pdffetch/internal/download"
	"github.com/teemow/pdffetch/internal/fetcherr"
	"github.com/teemow/pdffetch/internal/gmail"
	"github.com/teemow/pdffetch/internal/google"
	"github.com/teemow/pdffetch/internal/instrumentation"
	"github.com/teemow/pdffetch/internal/logging"
)

// Authenticator yields an authenticated session for a run.
type Authenticator interface {
	ObtainSession(ctx context.Context) (*google.Session, error)
}

// Mailbox is the message source of a run.
type Mailbox interface {
	FindMessages(ctx context.Context, criteria gmail.SearchCriteria) iter.Seq2[gmail.MessageRef, error]
	Extract(ctx context.Context, ref gmail.MessageRef) ([]gmail.AttachmentRecord, error)
}

// MailboxFactory builds a Mailbox on top of an authorized HTTP client.
type MailboxFactory func(ctx context.Context, httpClient *http.Client) (Mailbox, error)

// GmailMailbox returns a factory creating Gmail clients with opts. The
// HTTP client of opts is replaced by the session's.
func GmailMailbox(opts gmail.Options) MailboxFactory {
	return func(ctx context.Context, httpClient *http.Client) (Mailbox, error) {
		opts.HTTPClient = httpClient
		return gmail.NewClient(ctx, opts)
	}
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, s *Summary) error
}

// Event is delivered to observers on every transition and progress step.
type Event struct {
	RunID   string
	State   State
	Current int
	Max     int
	Outcome *download.Outcome
	Err     error
}

// Observer receives run events synchronously.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }

// Request describes one run.
type Request struct {
	Criteria    gmail.SearchCriteria
	DownloadDir string
	// Observer is optional.
	Observer Observer
}

// Options configures a Runner.
type Options struct {
	Auth       Authenticator
	NewMailbox MailboxFactory
	// FS defaults to the OS filesystem.
	FS        afero.Fs
	FetchMode gmail.FetchMode
	Recorder  Recorder
	Logger    *slog.Logger
	Metrics   *instrumentation.Metrics
}

// Runner executes runs. A Runner is safe for sequential reuse.
type Runner struct {
	auth       Authenticator
	newMailbox MailboxFactory
	fs         afero.Fs
	fetchMode  gmail.FetchMode
	recorder   Recorder
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
	now        func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Auth == nil {
		return nil, errors.New("runner requires an authenticator")
	}
	if opts.NewMailbox == nil {
		return nil, errors.New("runner requires a mailbox factory")
	}
	r := &Runner{
		auth:       opts.Auth,
		newMailbox: opts.NewMailbox,
		fs:         opts.FS,
		fetchMode:  opts.FetchMode,
		recorder:   opts.Recorder,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        time.Now,
	}
	if r.fs == nil {
		r.fs = afero.NewOsFs()
	}
	if r.fetchMode == "" {
		r.fetchMode = gmail.FetchModeFull
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// execution carries the mutable state of one run.
type execution struct {
	req      Request
	summary  *Summary
	logger   *slog.Logger
	observer Observer
}

func (e *execution) transition(state State) {
	e.summary.State = state
	e.logger.Info("run state changed", logging.State(string(state)))
	e.emit(Event{State: state})
}

func (e *execution) emit(ev Event) {
	if e.observer == nil {
		return
	}
	ev.RunID = e.summary.RunID
	if ev.State == "" {
		ev.State = e.summary.State
	}
	e.observer.Observe(ev)
}

// Run executes req and returns its summary. On a fatal error the summary
// is returned alongside the error in state Failed.
func (r *Runner) Run(ctx context.Context, req Request) (*Summary, error) {
	runID := uuid.NewString()
	exec := &execution{
		req:      req,
		summary:  newSummary(runID, req, string(r.fetchMode), r.now()),
		logger:   logging.WithRun(r.logger, runID),
		observer: req.Observer,
	}

	ctx, span := instrumentation.StartRunSpan(ctx, runID,
		attribute.String("pdffetch.fetch_mode", string(r.fetchMode)))
	defer span.End()
	if traceID := instrumentation.GetTraceID(ctx); traceID != "" {
		exec.logger = exec.logger.With(slog.String("trace_id", traceID))
	}

	r.metrics.IncrementActiveRuns(ctx)
	defer r.metrics.DecrementActiveRuns(ctx)

	exec.logger.Info("run started",
		slog.String("start_date", exec.summary.StartDate),
		slog.String("end_date", exec.summary.EndDate),
		slog.String("query", req.Criteria.Query),
		slog.Int("max_results", req.Criteria.MaxResults),
		logging.Path(req.DownloadDir))

	err := r.execute(ctx, exec)

	sum := exec.summary
	sum.FinishedAt = r.now()
	result := instrumentation.RunResultDone
	if err != nil {
		result = instrumentation.RunResultFailed
		sum.Error = err.Error()
		instrumentation.SetSpanError(span, err)
		exec.logger.Error("run failed",
			logging.State(string(sum.State)),
			logging.Duration(sum.Duration()),
			logging.Err(err))
		exec.summary.State = StateFailed
		exec.emit(Event{State: StateFailed, Err: err})
	} else {
		instrumentation.SetSpanSuccess(span)
		exec.transition(StateDone)
	}
	r.metrics.RecordRun(ctx, result, string(r.fetchMode), sum.Duration())

	if r.recorder != nil {
		if rerr := r.recorder.Record(context.WithoutCancel(ctx), sum); rerr != nil {
			exec.logger.Warn("failed to record run history", logging.Err(rerr))
		}
	}
	return sum, err
}

func (r *Runner) execute(ctx context.Context, exec *execution) error {
	req := exec.req
	if err := req.Criteria.Validate(); err != nil {
		return err
	}
	if req.DownloadDir == "" {
		return fetcherr.NewValidationError("download_dir", "must not be empty", nil)
	}

	exec.transition(StateAuthenticating)
	session, err := r.auth.ObtainSession(ctx)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	mailbox, err := r.newMailbox(ctx, session.HTTPClient())
	if err != nil {
		return fmt.Errorf("failed to create mailbox client: %w", err)
	}

	writer := download.NewWriter(r.fs, req.DownloadDir, req.Criteria.Location, exec.logger)

	exec.transition(StateSearching)
	current := 0
	for ref, err := range mailbox.FindMessages(ctx, req.Criteria) {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			if ferr := r.searchError(exec, err); ferr != nil {
				return ferr
			}
			continue
		}

		if current == 0 {
			exec.transition(StateProcessing)
		}
		current++
		exec.emit(Event{Current: current, Max: req.Criteria.MaxResults})

		if err := r.processMessage(ctx, exec, mailbox, writer, ref); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	exec.transition(StateSummarizing)
	s := exec.summary
	exec.logger.Info("run summary",
		slog.Int("messages_examined", s.MessagesExamined),
		slog.Int("attachments_found", s.AttachmentsFound),
		slog.Int("files_written", s.FilesWritten),
		slog.Int("skipped", s.Skipped),
		slog.Int("failed", s.Failed),
		slog.Int("message_errors", len(s.MessageErrors)),
		slog.Int64("bytes_written", s.BytesWritten))
	return nil
}

// searchError records a locator error, or returns it when it must end the
// run.
func (r *Runner) searchError(exec *execution, err error) error {
	var merr *gmail.MessageError
	switch {
	case fetcherr.IsAuth(err):
		return fmt.Errorf("search failed: %w", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.As(err, &merr):
		exec.summary.addMessageError(merr.MessageID, merr.Err)
		exec.logger.Warn("failed to read message metadata",
			logging.MessageID(merr.MessageID),
			logging.Err(merr.Err))
		return nil
	case fetcherr.IsValidation(err):
		return fmt.Errorf("search failed: %w", err)
	default:
		exec.summary.addMessageError("", err)
		exec.logger.Error("search ended early", logging.Err(err))
		return nil
	}
}

func (r *Runner) processMessage(ctx context.Context, exec *execution, mailbox Mailbox, writer *download.Writer, ref gmail.MessageRef) error {
	ctx, span := instrumentation.StartSpan(ctx, "pdffetch.message", instrumentation.MessageID(ref.ID))
	defer span.End()

	logger := exec.logger.With(logging.MessageID(ref.ID))
	logger.Debug("processing message",
		logging.SenderDomain(ref.Sender),
		logging.UserHash(ref.Sender),
		slog.Time("received", ref.Received))

	exec.summary.MessagesExamined++
	records, err := mailbox.Extract(ctx, ref)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		if fetcherr.IsAuth(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		r.metrics.RecordMessageExamined(ctx, instrumentation.StatusError)
		exec.summary.addMessageError(ref.ID, err)
		logger.Error("failed to fetch message", logging.Err(err))
		return nil
	}
	r.metrics.RecordMessageExamined(ctx, instrumentation.StatusSuccess)

	if len(records) == 0 {
		logger.Debug("no PDF attachments")
	}
	for _, rec := range records {
		if fetcherr.IsAuth(rec.Err) {
			return rec.Err
		}
		out := writer.Write(rec)
		exec.summary.addOutcome(out)
		exec.summary.AttachmentsFound++
		r.metrics.RecordAttachment(ctx, string(out.Status), ref.Sender, out.Size)
		instrumentation.AddSpanEvent(span, "attachment",
			attribute.String(instrumentation.SpanAttrFilename, out.Filename),
			attribute.String(instrumentation.SpanAttrOutcome, string(out.Status)))
		exec.emit(Event{Outcome: &out})
	}
	instrumentation.SetSpanSuccess(span)
	return nil
}
