package gmail

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/teemow/pdffetch/internal/fetcherr"
	"github.com/teemow/pdffetch/internal/logging"
)

const (
	// DefaultQuery limits the search to messages carrying attachments.
	DefaultQuery = "has:attachment"

	// DateLayout is the accepted date format for search bounds.
	DateLayout = "2006-01-02"

	// maxPageSize is the largest page Gmail returns for messages.list.
	maxPageSize = 100
)

// metadataHeaders are the headers requested to build a MessageRef.
var metadataHeaders = []string{"From", "Subject", "Date"}

// SearchCriteria selects messages received between Start and End, both
// inclusive calendar days in Location.
type SearchCriteria struct {
	Start      time.Time
	End        time.Time
	Query      string
	MaxResults int
	Location   *time.Location
}

// NewSearchCriteria parses YYYY-MM-DD bounds in loc and validates them.
func NewSearchCriteria(start, end, query string, maxResults int, loc *time.Location) (SearchCriteria, error) {
	if loc == nil {
		loc = time.UTC
	}
	s, err := time.ParseInLocation(DateLayout, strings.TrimSpace(start), loc)
	if err != nil {
		return SearchCriteria{}, fetcherr.NewValidationError("start_date", "expected YYYY-MM-DD", err)
	}
	e, err := time.ParseInLocation(DateLayout, strings.TrimSpace(end), loc)
	if err != nil {
		return SearchCriteria{}, fetcherr.NewValidationError("end_date", "expected YYYY-MM-DD", err)
	}
	c := SearchCriteria{
		Start:      s,
		End:        e,
		Query:      strings.TrimSpace(query),
		MaxResults: maxResults,
		Location:   loc,
	}
	if err := c.Validate(); err != nil {
		return SearchCriteria{}, err
	}
	return c, nil
}

// Validate checks the bounds and the result cap.
func (c SearchCriteria) Validate() error {
	if c.Start.IsZero() || c.End.IsZero() {
		return fetcherr.NewValidationError("date_range", "start and end dates are required", nil)
	}
	if c.End.Before(c.Start) {
		return fetcherr.NewValidationError("date_range", "end date is before start date", nil)
	}
	if c.MaxResults <= 0 {
		return fetcherr.NewValidationError("max_results", "must be positive", nil)
	}
	return nil
}

func (c SearchCriteria) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// Window returns the half-open interval [from, until) covered by the
// criteria: midnight of Start up to midnight after End.
func (c SearchCriteria) Window() (from, until time.Time) {
	loc := c.location()
	s := c.Start.In(loc)
	e := c.End.In(loc)
	from = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
	until = time.Date(e.Year(), e.Month(), e.Day()+1, 0, 0, 0, 0, loc)
	return from, until
}

// Contains reports whether t falls inside the criteria window.
func (c SearchCriteria) Contains(t time.Time) bool {
	from, until := c.Window()
	return !t.Before(from) && t.Before(until)
}

// ProviderQuery renders the Gmail search expression. The epoch bounds are
// widened by one second on the lower side; Contains enforces the exact
// window on the results.
func (c SearchCriteria) ProviderQuery() string {
	fragment := c.Query
	if fragment == "" {
		fragment = DefaultQuery
	}
	from, until := c.Window()
	return fmt.Sprintf("%s after:%d before:%d", fragment, from.Unix()-1, until.Unix())
}

// FindMessages yields a MessageRef for every message matching criteria, in
// the order Gmail lists them.
//
// A failure to fetch one message's metadata yields a *MessageError and the
// sequence continues. A failure to list a page yields the error and ends
// the sequence.
func (c *Client) FindMessages(ctx context.Context, criteria SearchCriteria) iter.Seq2[MessageRef, error] {
	return func(yield func(MessageRef, error) bool) {
		if err := criteria.Validate(); err != nil {
			yield(MessageRef{}, err)
			return
		}

		query := criteria.ProviderQuery()
		c.logger.Debug("searching messages", logging.Operation("gmail.search"), "query", query)

		listed := 0
		pageToken := ""
		for {
			pageSize := min(maxPageSize, criteria.MaxResults-listed)
			res, err := c.listMessages(ctx, query, pageToken, int64(pageSize))
			if err != nil {
				yield(MessageRef{}, fmt.Errorf("failed to list messages: %w", err))
				return
			}

			for _, m := range res.Messages {
				if listed >= criteria.MaxResults {
					return
				}
				listed++

				if err := ctx.Err(); err != nil {
					yield(MessageRef{}, err)
					return
				}

				ref, err := c.messageRef(ctx, m.Id)
				if err != nil {
					if !yield(MessageRef{ID: m.Id, ThreadID: m.ThreadId}, &MessageError{MessageID: m.Id, Err: err}) {
						return
					}
					continue
				}
				if !criteria.Contains(ref.Received) {
					c.logger.Debug("message outside date range",
						logging.MessageID(ref.ID),
						"received", ref.Received)
					continue
				}
				if !yield(ref, nil) {
					return
				}
			}

			if res.NextPageToken == "" || listed >= criteria.MaxResults {
				return
			}
			pageToken = res.NextPageToken
		}
	}
}

// messageRef fetches the metadata needed to describe message id.
func (c *Client) messageRef(ctx context.Context, id string) (MessageRef, error) {
	msg, err := c.getMessage(ctx, id, "metadata", metadataHeaders...)
	if err != nil {
		return MessageRef{}, err
	}

	var h mail.Header
	if msg.Payload != nil {
		for _, hdr := range msg.Payload.Headers {
			h.Add(hdr.Name, hdr.Value)
		}
	}

	ref := MessageRef{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Sender:   senderAddress(h),
		Subject:  subject(h),
	}
	if ref.ID == "" {
		ref.ID = id
	}

	switch {
	case msg.InternalDate > 0:
		ref.Received = time.UnixMilli(msg.InternalDate).In(c.loc)
	default:
		date, err := h.Date()
		if err != nil {
			return MessageRef{}, fmt.Errorf("message %s has no usable received time: %w", id, err)
		}
		if date.IsZero() {
			return MessageRef{}, fmt.Errorf("message %s has no received time", id)
		}
		ref.Received = date.In(c.loc)
	}
	return ref, nil
}

// senderAddress returns the first From address, or the raw header when it
// does not parse.
func senderAddress(h mail.Header) string {
	addrs, err := h.AddressList("From")
	if err == nil && len(addrs) > 0 {
		return addrs[0].Address
	}
	return strings.TrimSpace(h.Get("From"))
}

func subject(h mail.Header) string {
	s, err := h.Subject()
	if err != nil {
		return h.Get("Subject")
	}
	return s
}
