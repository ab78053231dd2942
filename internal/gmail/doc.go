// Package gmail locates messages in a Gmail mailbox and extracts their PDF
// attachments.
//
// The package offers two operations on top of the Gmail API:
//   - FindMessages pages through the messages matching a date window and
//     query fragment and yields one MessageRef per message
//   - Extract fetches a message and returns one AttachmentRecord per PDF
//     candidate part
//
// Every API call goes through a single retry policy: rate limits and
// server errors are retried with exponential backoff (honoring
// Retry-After), everything else is classified into the fetcherr taxonomy
// and returned immediately.
//
// Example usage:
//
//	client, err := gmail.NewClient(ctx, gmail.Options{HTTPClient: session.HTTPClient()})
//	if err != nil {
//	    return err
//	}
//
//	for ref, err := range client.FindMessages(ctx, criteria) {
//	    if err != nil {
//	        continue
//	    }
//	    records, err := client.Extract(ctx, ref)
//	    ...
//	}
package gmail
