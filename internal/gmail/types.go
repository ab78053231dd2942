package gmail

import (
	"fmt"
	"time"
)

// MaxAttachmentSize is the maximum attachment size in bytes (25MB)
const MaxAttachmentSize = 25 * 1024 * 1024

// FetchMode selects how message bodies are retrieved.
type FetchMode string

const (
	// FetchModeFull reads the parsed message tree and downloads attachment
	// bodies by id.
	FetchModeFull FetchMode = "full"
	// FetchModeRaw reads the RFC 822 source once and parses it locally.
	FetchModeRaw FetchMode = "raw"
)

// MessageRef identifies a located message.
type MessageRef struct {
	ID       string    `json:"id"`
	ThreadID string    `json:"thread_id,omitempty"`
	Sender   string    `json:"sender"`
	Subject  string    `json:"subject,omitempty"`
	Received time.Time `json:"received"`
}

// AttachmentRecord is one PDF candidate part of a message.
//
// A record with a non-empty SkipReason was recognized by filename but
// declared a specific non-PDF content type. A record with Err could not be
// decoded or fetched. Otherwise Data holds the decoded payload.
type AttachmentRecord struct {
	Message    MessageRef
	PartID     string
	Filename   string
	MimeType   string
	Data       []byte
	SkipReason string
	Err        error
}

// Size returns the decoded payload size in bytes.
func (r AttachmentRecord) Size() int64 {
	return int64(len(r.Data))
}

// MessageError reports a failure tied to a single message. Processing of
// other messages can continue.
type MessageError struct {
	MessageID string
	Err       error
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("message %s: %v", e.MessageID, e.Err)
}

func (e *MessageError) Unwrap() error { return e.Err }
