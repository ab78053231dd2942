package run

import (
	"time"

	"github.com/teemow/pdffetch/internal/download"
	"github.com/teemow/pdffetch/internal/gmail"
)

// State is a step of the run state machine.
type State string

const (
	StatePending        State = "pending"
	StateAuthenticating State = "authenticating"
	StateSearching      State = "searching"
	StateProcessing     State = "processing"
	StateSummarizing    State = "summarizing"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// MessageFailure is a message that could not be located or fetched.
// MessageID is empty for failures of the search itself.
type MessageFailure struct {
	MessageID string `json:"message_id,omitempty" yaml:"message_id,omitempty"`
	Reason    string `json:"reason" yaml:"reason"`
}

// Summary is the record of one run. A failed run carries the partial
// counts gathered before the failure.
type Summary struct {
	RunID       string    `json:"run_id" yaml:"run_id"`
	StartDate   string    `json:"start_date" yaml:"start_date"`
	EndDate     string    `json:"end_date" yaml:"end_date"`
	Query       string    `json:"query" yaml:"query"`
	MaxResults  int       `json:"max_results" yaml:"max_results"`
	DownloadDir string    `json:"download_dir" yaml:"download_dir"`
	FetchMode   string    `json:"fetch_mode" yaml:"fetch_mode"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time `json:"finished_at" yaml:"finished_at"`
	State       State     `json:"state" yaml:"state"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`

	MessagesExamined int   `json:"messages_examined" yaml:"messages_examined"`
	AttachmentsFound int   `json:"attachments_found" yaml:"attachments_found"`
	FilesWritten     int   `json:"files_written" yaml:"files_written"`
	Skipped          int   `json:"skipped" yaml:"skipped"`
	Failed           int   `json:"failed" yaml:"failed"`
	BytesWritten     int64 `json:"bytes_written" yaml:"bytes_written"`

	Outcomes      []download.Outcome `json:"outcomes" yaml:"outcomes"`
	MessageErrors []MessageFailure   `json:"message_errors,omitempty" yaml:"message_errors,omitempty"`
}

func newSummary(runID string, req Request, fetchMode string, now time.Time) *Summary {
	c := req.Criteria
	return &Summary{
		RunID:       runID,
		StartDate:   formatDate(c.Start),
		EndDate:     formatDate(c.End),
		Query:       c.Query,
		MaxResults:  c.MaxResults,
		DownloadDir: req.DownloadDir,
		FetchMode:   fetchMode,
		StartedAt:   now,
		State:       StatePending,
		Outcomes:    []download.Outcome{},
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(gmail.DateLayout)
}

// Duration is the wall time of the run.
func (s *Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Written returns the outcomes that produced a file.
func (s *Summary) Written() []download.Outcome {
	var out []download.Outcome
	for _, o := range s.Outcomes {
		if o.Status == download.StatusWritten {
			out = append(out, o)
		}
	}
	return out
}

func (s *Summary) addOutcome(o download.Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Status {
	case download.StatusWritten:
		s.FilesWritten++
		s.BytesWritten += o.Size
	case download.StatusSkipped:
		s.Skipped++
	case download.StatusFailed:
		s.Failed++
	}
}

func (s *Summary) addMessageError(id string, err error) {
	s.MessageErrors = append(s.MessageErrors, MessageFailure{MessageID: id, Reason: err.Error()})
}
