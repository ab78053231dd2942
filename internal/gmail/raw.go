package gmail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/teemow/pdffetch/internal/logging"
)

// extractRaw downloads the RFC 822 source and walks its MIME tree locally.
func (c *Client) extractRaw(ctx context.Context, ref MessageRef) ([]AttachmentRecord, error) {
	msg, err := c.getMessage(ctx, ref.ID, "raw")
	if err != nil {
		return nil, err
	}
	raw, err := decodeBase64(msg.Raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode raw message %s: %w", ref.ID, err)
	}
	return parseRaw(ref, raw, c.logger.Warn)
}

// parseRaw extracts PDF candidate records from an RFC 822 message.
func parseRaw(ref MessageRef, raw []byte, warn func(string, ...any)) ([]AttachmentRecord, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("failed to parse message %s: %w", ref.ID, err)
	}

	var records []AttachmentRecord
	walkErr := entity.Walk(func(path []int, part *message.Entity, err error) error {
		// Walk only passes unknown charset or encoding errors here; the
		// body is still readable as is.
		if err != nil {
			warn("part has unknown charset or encoding",
				logging.MessageID(ref.ID),
				logging.Err(err))
		}
		if part == nil || part.MultipartReader() != nil {
			return nil
		}

		mimeType, params, _ := part.Header.ContentType()
		ah := mail.AttachmentHeader{Header: part.Header}
		filename, ferr := ah.Filename()
		if ferr != nil || filename == "" {
			filename = params["name"]
		}

		kind, reason := classifyPart(mimeType, filename)
		if kind == partIgnore {
			return nil
		}

		rec := AttachmentRecord{
			Message:  ref,
			PartID:   partID(path),
			Filename: filename,
			MimeType: mimeType,
		}
		if kind == partSkip {
			rec.SkipReason = reason
		} else {
			rec.Data, rec.Err = readPart(part.Body)
		}
		if rec.Err != nil {
			warn("failed to read attachment",
				logging.MessageID(ref.ID),
				logging.Filename(filename),
				logging.Err(rec.Err))
		}
		records = append(records, rec)
		return nil
	})
	if walkErr != nil {
		// An unreadable part ends the walk. Parts read so far are kept and
		// the rest of the message becomes one failed record.
		warn("malformed MIME part",
			logging.MessageID(ref.ID),
			logging.Err(walkErr))
		records = append(records, AttachmentRecord{
			Message: ref,
			Err:     fmt.Errorf("malformed part in message %s: %w", ref.ID, walkErr),
		})
	}
	return records, nil
}

// readPart reads a transfer-decoded body, enforcing MaxAttachmentSize.
func readPart(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxAttachmentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment data: %w", err)
	}
	if len(data) > MaxAttachmentSize {
		return nil, fmt.Errorf("attachment exceeds maximum allowed size (%d bytes)", MaxAttachmentSize)
	}
	return data, nil
}

// partID renders a Walk path the way Gmail numbers parts ("0", "1.0").
func partID(path []int) string {
	if len(path) == 0 {
		return ""
	}
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ".")
}
