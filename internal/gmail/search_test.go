package gmail

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/pdffetch/internal/fetcherr"
	"github.com/teemow/pdffetch/internal/gmail/gmailtest"
)

func mustCriteria(t *testing.T, start, end, query string, maxResults int) SearchCriteria {
	t.Helper()
	c, err := NewSearchCriteria(start, end, query, maxResults, time.UTC)
	require.NoError(t, err)
	return c
}

func collect(t *testing.T, c *Client, criteria SearchCriteria) ([]MessageRef, []error) {
	t.Helper()
	var refs []MessageRef
	var errs []error
	for ref, err := range c.FindMessages(context.Background(), criteria) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		refs = append(refs, ref)
	}
	return refs, errs
}

func TestNewSearchCriteria(t *testing.T) {
	tests := []struct {
		name    string
		start   string
		end     string
		max     int
		wantErr string
	}{
		{name: "valid range", start: "2024-01-01", end: "2024-01-31", max: 100},
		{name: "single day", start: "2024-01-15", end: "2024-01-15", max: 1},
		{name: "bad start", start: "01/01/2024", end: "2024-01-31", max: 10, wantErr: "start_date"},
		{name: "bad end", start: "2024-01-01", end: "2024-13-01", max: 10, wantErr: "end_date"},
		{name: "end before start", start: "2024-02-01", end: "2024-01-31", max: 10, wantErr: "date_range"},
		{name: "zero max results", start: "2024-01-01", end: "2024-01-31", max: 0, wantErr: "max_results"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSearchCriteria(tt.start, tt.end, "", tt.max, nil)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *fetcherr.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantErr, verr.Field)
		})
	}
}

func TestSearchCriteriaProviderQuery(t *testing.T) {
	c := mustCriteria(t, "2024-01-01", "2024-01-31", "from:bank@example.com", 100)
	assert.Equal(t, "from:bank@example.com after:1704067199 before:1706745600", c.ProviderQuery())

	c.Query = ""
	assert.Equal(t, "has:attachment after:1704067199 before:1706745600", c.ProviderQuery())
}

func TestSearchCriteriaWindowInLocation(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	c, err := NewSearchCriteria("2024-01-01", "2024-01-01", "", 10, berlin)
	require.NoError(t, err)

	from, until := c.Window()
	assert.Equal(t, time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC), from.UTC())
	assert.Equal(t, 24*time.Hour, until.Sub(from))

	assert.True(t, c.Contains(time.Date(2023, 12, 31, 23, 30, 0, 0, time.UTC)))
	assert.False(t, c.Contains(time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)))
}

func TestFindMessagesScenario(t *testing.T) {
	srv := gmailtest.NewServer(t, gmailtest.Message{
		ID:       "m1",
		From:     "Example Bank <bank@example.com>",
		Subject:  "Your statement",
		Received: time.Date(2024, 1, 15, 14, 30, 22, 0, time.UTC),
	})
	c := newTestClient(t, srv, FetchModeFull)

	refs, errs := collect(t, c, mustCriteria(t, "2024-01-01", "2024-01-31", "from:bank@example.com", 100))
	require.Empty(t, errs)
	require.Len(t, refs, 1)

	assert.Equal(t, "m1", refs[0].ID)
	assert.Equal(t, "bank@example.com", refs[0].Sender)
	assert.Equal(t, "Your statement", refs[0].Subject)
	assert.True(t, refs[0].Received.Equal(time.Date(2024, 1, 15, 14, 30, 22, 0, time.UTC)))

	assert.Equal(t, []string{"from:bank@example.com after:1704067199 before:1706745600"}, srv.Queries())
}

func TestFindMessagesFiltersOutsideRange(t *testing.T) {
	srv := gmailtest.NewServer(t,
		gmailtest.Message{ID: "before", From: "a@example.com", Received: time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC)},
		gmailtest.Message{ID: "first", From: "a@example.com", Received: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		gmailtest.Message{ID: "last", From: "a@example.com", Received: time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)},
		gmailtest.Message{ID: "after", From: "a@example.com", Received: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
	)
	c := newTestClient(t, srv, FetchModeFull)
	criteria := mustCriteria(t, "2024-01-01", "2024-01-31", "", 100)

	refs, errs := collect(t, c, criteria)
	require.Empty(t, errs)

	var ids []string
	for _, r := range refs {
		ids = append(ids, r.ID)
		assert.True(t, criteria.Contains(r.Received))
	}
	assert.Equal(t, []string{"first", "last"}, ids)
}

func TestFindMessagesPagination(t *testing.T) {
	var msgs []gmailtest.Message
	for i := range 7 {
		msgs = append(msgs, gmailtest.Message{
			ID:       fmt.Sprintf("m%d", i),
			From:     "a@example.com",
			Received: time.Date(2024, 1, 10, i, 0, 0, 0, time.UTC),
		})
	}

	t.Run("follows page tokens in provider order", func(t *testing.T) {
		srv := gmailtest.NewServer(t, msgs...)
		srv.SetPageSize(3)
		c := newTestClient(t, srv, FetchModeFull)

		refs, errs := collect(t, c, mustCriteria(t, "2024-01-01", "2024-01-31", "", 100))
		require.Empty(t, errs)
		require.Len(t, refs, 7)
		for i, r := range refs {
			assert.Equal(t, fmt.Sprintf("m%d", i), r.ID)
		}
		assert.Equal(t, 3, srv.Requests(gmailtest.OpList))
	})

	t.Run("stops at max results", func(t *testing.T) {
		srv := gmailtest.NewServer(t, msgs...)
		srv.SetPageSize(3)
		c := newTestClient(t, srv, FetchModeFull)

		refs, errs := collect(t, c, mustCriteria(t, "2024-01-01", "2024-01-31", "", 4))
		require.Empty(t, errs)
		assert.Len(t, refs, 4)
		assert.Equal(t, 2, srv.Requests(gmailtest.OpList))
		assert.Equal(t, 4, srv.Requests(gmailtest.OpGet))
	})

	t.Run("restartable", func(t *testing.T) {
		srv := gmailtest.NewServer(t, msgs...)
		c := newTestClient(t, srv, FetchModeFull)
		seq := c.FindMessages(context.Background(), mustCriteria(t, "2024-01-01", "2024-01-31", "", 100))

		count := func() int {
			n := 0
			for _, err := range seq {
				require.NoError(t, err)
				n++
			}
			return n
		}
		assert.Equal(t, 7, count())
		assert.Equal(t, 7, count())
	})

	t.Run("early break", func(t *testing.T) {
		srv := gmailtest.NewServer(t, msgs...)
		c := newTestClient(t, srv, FetchModeFull)
		for range c.FindMessages(context.Background(), mustCriteria(t, "2024-01-01", "2024-01-31", "", 100)) {
			break
		}
		assert.Equal(t, 1, srv.Requests(gmailtest.OpGet))
	})
}

func TestFindMessagesErrors(t *testing.T) {
	received := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

	t.Run("rejected query is a validation error", func(t *testing.T) {
		srv := gmailtest.NewServer(t)
		srv.Fail(gmailtest.OpList, 400)
		c := newTestClient(t, srv, FetchModeFull)

		refs, errs := collect(t, c, mustCriteria(t, "2024-01-01", "2024-01-31", "bogus:(", 10))
		assert.Empty(t, refs)
		require.Len(t, errs, 1)
		assert.True(t, fetcherr.IsValidation(errs[0]))
		assert.Equal(t, 1, srv.Requests(gmailtest.OpList))
	})

	t.Run("rate limit is retried", func(t *testing.T) {
		srv := gmailtest.NewServer(t, gmailtest.Message{ID: "m1", From: "a@example.com", Received: received})
		srv.Fail(gmailtest.OpList, 429, 503)
		c := newTestClient(t, srv, FetchModeFull)

		refs, errs := collect(t, c, mustCriteria(t, "2024-01-01", "2024-01-31", "", 10))
		require.Empty(t, errs)
		assert.Len(t, refs, 1)
		assert.Equal(t, 3, srv.Requests(gmailtest.OpList))
	})

	t.Run("forbidden rate limit reason is retried", func(t *testing.T) {
		srv := gmailtest.NewServer(t, gmailtest.Message{ID: "m1", From: "a@example.com", Received: received})
		srv.FailWithReason(gmailtest.OpList, 403, "rateLimitExceeded", "")
		c := newTestClient(t, srv, FetchModeFull)

		refs, errs := collect(t, c, mustCriteria(t, "2024-01-01", "2024-01-31", "", 10))
		require.Empty(t, errs)
		assert.Len(t, refs, 1)
	})

	t.Run("exhausted retries end the stream", func(t *testing.T) {
		srv := gmailtest.NewServer(t, gmailtest.Message{ID: "m1", From: "a@example.com", Received: received})
		srv.Fail(gmailtest.OpList, 429, 429, 429, 429)
		c := newTestClient(t, srv, FetchModeFull)

		refs, errs := collect(t, c, mustCriteria(t, "2024-01-01", "2024-01-31", "", 10))
		assert.Empty(t, refs)
		require.Len(t, errs, 1)
		assert.True(t, fetcherr.IsRateLimit(errs[0]))
		assert.False(t, fetcherr.IsFatal(errs[0]))
	})

	t.Run("metadata failure is item level", func(t *testing.T) {
		srv := gmailtest.NewServer(t,
			gmailtest.Message{ID: "m1", From: "a@example.com", Received: received},
			gmailtest.Message{ID: "m2", From: "b@example.com", Received: received},
		)
		srv.Fail(gmailtest.OpGet, 404)
		c := newTestClient(t, srv, FetchModeFull)

		refs, errs := collect(t, c, mustCriteria(t, "2024-01-01", "2024-01-31", "", 10))
		require.Len(t, errs, 1)
		var merr *MessageError
		require.True(t, errors.As(errs[0], &merr))
		assert.Equal(t, "m1", merr.MessageID)
		require.Len(t, refs, 1)
		assert.Equal(t, "m2", refs[0].ID)
	})

	t.Run("invalid criteria", func(t *testing.T) {
		srv := gmailtest.NewServer(t)
		c := newTestClient(t, srv, FetchModeFull)

		_, errs := collect(t, c, SearchCriteria{})
		require.Len(t, errs, 1)
		assert.True(t, fetcherr.IsValidation(errs[0]))
		assert.Zero(t, srv.Requests(gmailtest.OpList))
	})
}

func TestFindMessagesDateHeaderFallback(t *testing.T) {
	received := time.Date(2024, 1, 20, 8, 15, 0, 0, time.UTC)
	srv := gmailtest.NewServer(t, gmailtest.Message{
		ID:             "m1",
		From:           "=?UTF-8?Q?B=C3=A4nk?= <bank@example.com>",
		Subject:        "=?UTF-8?Q?Kontoauszug_J=C3=A4nner?=",
		Received:       received,
		NoInternalDate: true,
	})
	c := newTestClient(t, srv, FetchModeFull)

	refs, errs := collect(t, c, mustCriteria(t, "2024-01-01", "2024-01-31", "", 10))
	require.Empty(t, errs)
	require.Len(t, refs, 1)
	assert.True(t, refs[0].Received.Equal(received))
	assert.Equal(t, "bank@example.com", refs[0].Sender)
	assert.Equal(t, "Kontoauszug Jänner", refs[0].Subject)
}
