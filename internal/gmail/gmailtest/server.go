// Package gmailtest provides an in-process fake of the Gmail API endpoints
// used by pdffetch.
package gmailtest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	gmail "google.golang.org/api/gmail/v1"
)

// Operations accepted by Fail.
const (
	OpList       = "list"
	OpGet        = "get"
	OpAttachment = "attachment"
)

// Attachment is a part attached to a fake message.
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
	// Inline puts the data in the part body instead of behind an
	// attachment id.
	Inline bool
	// Corrupt serves an undecodable body.
	Corrupt bool
}

// Message is a fake mailbox entry.
type Message struct {
	ID          string
	ThreadID    string
	From        string
	Subject     string
	Received    time.Time
	Body        string
	Attachments []Attachment
	// NoInternalDate leaves internalDate unset so clients fall back to the
	// Date header.
	NoInternalDate bool
}

type failure struct {
	status     int
	reason     string
	retryAfter string
}

// Server is a fake Gmail API server.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	messages []Message
	queries  []string
	requests map[string]int
	failures map[string][]failure
	pageSize int
}

// NewServer starts a fake Gmail server that is closed with the test.
func NewServer(t testing.TB, messages ...Message) *Server {
	t.Helper()
	s := &Server{
		messages: messages,
		requests: make(map[string]int),
		failures: make(map[string][]failure),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages", s.handleList)
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", s.handleGet)
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}/attachments/{att}", s.handleAttachment)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Endpoint is the base URL to pass as the client endpoint.
func (s *Server) Endpoint() string {
	return s.URL + "/"
}

// Add appends messages to the mailbox.
func (s *Server) Add(messages ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, messages...)
}

// SetPageSize caps list pages below the client's requested size.
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// Fail makes the next len(statuses) requests of op fail with the given
// HTTP statuses.
func (s *Server) Fail(op string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range statuses {
		s.failures[op] = append(s.failures[op], failure{status: st})
	}
}

// FailWithReason queues one failure carrying a Google error reason and an
// optional Retry-After header.
func (s *Server) FailWithReason(op string, status int, reason, retryAfter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], failure{status: status, reason: reason, retryAfter: retryAfter})
}

// Queries returns the search expressions received so far.
func (s *Server) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// Requests returns how many requests op has received.
func (s *Server) Requests(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[op]
}

// begin counts a request and reports whether a queued failure was served.
func (s *Server) begin(w http.ResponseWriter, op string) bool {
	s.mu.Lock()
	s.requests[op]++
	var f *failure
	if queue := s.failures[op]; len(queue) > 0 {
		f = &queue[0]
		s.failures[op] = queue[1:]
	}
	s.mu.Unlock()

	if f == nil {
		return false
	}
	if f.retryAfter != "" {
		w.Header().Set("Retry-After", f.retryAfter)
	}
	writeError(w, f.status, f.reason)
	return true
}

func (s *Server) find(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.begin(w, OpList) {
		return
	}
	q := r.URL.Query()

	s.mu.Lock()
	s.queries = append(s.queries, q.Get("q"))
	all := append([]Message(nil), s.messages...)
	serverPage := s.pageSize
	s.mu.Unlock()

	size := 100
	if v, err := strconv.Atoi(q.Get("maxResults")); err == nil && v > 0 {
		size = v
	}
	if serverPage > 0 && serverPage < size {
		size = serverPage
	}
	offset := 0
	if v, err := strconv.Atoi(q.Get("pageToken")); err == nil {
		offset = v
	}

	res := &gmail.ListMessagesResponse{}
	end := min(offset+size, len(all))
	for _, m := range all[min(offset, len(all)):end] {
		res.Messages = append(res.Messages, &gmail.Message{Id: m.ID, ThreadId: threadID(m)})
	}
	if end < len(all) {
		res.NextPageToken = strconv.Itoa(end)
	}
	res.ResultSizeEstimate = int64(len(all))
	writeJSON(w, res)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if s.begin(w, OpGet) {
		return
	}
	m, ok := s.find(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "notFound")
		return
	}

	msg := &gmail.Message{Id: m.ID, ThreadId: threadID(m)}
	if !m.NoInternalDate {
		msg.InternalDate = m.Received.UnixMilli()
	}

	switch r.URL.Query().Get("format") {
	case "metadata":
		msg.Payload = &gmail.MessagePart{Headers: headers(m)}
	case "raw":
		raw, err := RawMessage(m)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "backendError")
			return
		}
		msg.Raw = base64.URLEncoding.EncodeToString(raw)
	default:
		msg.Payload = payload(m)
	}
	writeJSON(w, msg)
}

func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	if s.begin(w, OpAttachment) {
		return
	}
	m, ok := s.find(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "notFound")
		return
	}
	idx, err := strconv.Atoi(r.PathValue("att"))
	if err != nil || idx < 0 || idx >= len(m.Attachments) {
		writeError(w, http.StatusNotFound, "notFound")
		return
	}
	a := m.Attachments[idx]
	writeJSON(w, &gmail.MessagePartBody{
		AttachmentId: r.PathValue("att"),
		Size:         int64(len(a.Data)),
		Data:         encodeBody(a),
	})
}

func threadID(m Message) string {
	if m.ThreadID != "" {
		return m.ThreadID
	}
	return "t-" + m.ID
}

func headers(m Message) []*gmail.MessagePartHeader {
	return []*gmail.MessagePartHeader{
		{Name: "From", Value: m.From},
		{Name: "Subject", Value: m.Subject},
		{Name: "Date", Value: m.Received.Format(time.RFC1123Z)},
	}
}

// payload builds the parsed tree Gmail returns for format=full: a mixed
// container holding an alternative text container and the attachments.
func payload(m Message) *gmail.MessagePart {
	root := &gmail.MessagePart{
		PartId:   "",
		MimeType: "multipart/mixed",
		Headers:  headers(m),
		Body:     &gmail.MessagePartBody{},
		Parts: []*gmail.MessagePart{{
			PartId:   "0",
			MimeType: "multipart/alternative",
			Body:     &gmail.MessagePartBody{},
			Parts: []*gmail.MessagePart{{
				PartId:   "0.0",
				MimeType: "text/plain",
				Body: &gmail.MessagePartBody{
					Data: base64.URLEncoding.EncodeToString([]byte(m.Body)),
					Size: int64(len(m.Body)),
				},
			}},
		}},
	}
	for i, a := range m.Attachments {
		body := &gmail.MessagePartBody{Size: int64(len(a.Data))}
		if a.Inline {
			body.Data = encodeBody(a)
		} else {
			body.AttachmentId = strconv.Itoa(i)
		}
		root.Parts = append(root.Parts, &gmail.MessagePart{
			PartId:   strconv.Itoa(i + 1),
			MimeType: a.MimeType,
			Filename: a.Filename,
			Body:     body,
		})
	}
	return root
}

func encodeBody(a Attachment) string {
	if a.Corrupt {
		return "%%% not base64 %%%"
	}
	return base64.URLEncoding.EncodeToString(a.Data)
}

// RawMessage renders m as an RFC 822 message.
func RawMessage(m Message) ([]byte, error) {
	var h mail.Header
	h.SetDate(m.Received)
	h.Set("From", m.From)
	h.SetSubject(m.Subject)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	var th mail.InlineHeader
	th.Set("Content-Type", "text/plain; charset=utf-8")
	pw, err := tw.CreatePart(th)
	if err != nil {
		return nil, err
	}
	if _, err := pw.Write([]byte(m.Body)); err != nil {
		return nil, err
	}
	if err := pw.Close(); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	for _, a := range m.Attachments {
		var ah mail.AttachmentHeader
		if a.MimeType != "" {
			ah.Set("Content-Type", a.MimeType)
		}
		ah.SetFilename(a.Filename)
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, err
		}
		if _, err := aw.Write(a.Data); err != nil {
			return nil, err
		}
		if err := aw.Close(); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	if reason == "" {
		reason = http.StatusText(status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":%q,"errors":[{"reason":%q,"message":%q}]}}`,
		status, http.StatusText(status), reason, http.StatusText(status))
}
