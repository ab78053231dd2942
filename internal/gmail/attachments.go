package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"path"
	"strings"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/teemow/pdffetch/internal/logging"
)

// pdfMimeTypes are the declared content types accepted as PDF.
var pdfMimeTypes = map[string]bool{
	"application/pdf":   true,
	"application/x-pdf": true,
}

// genericMimeTypes say nothing about the content; the filename decides.
var genericMimeTypes = map[string]bool{
	"":                           true,
	"application/octet-stream":   true,
	"binary/octet-stream":        true,
	"application/download":       true,
	"application/x-download":     true,
	"application/force-download": true,
	"application/unknown":        true,
}

type partKind int

const (
	partIgnore partKind = iota
	partPDF
	partSkip
)

// classifyPart decides whether a leaf part is a PDF attachment. A specific
// non-PDF content type wins over a .pdf filename.
func classifyPart(mimeType, filename string) (partKind, string) {
	mt := normalizeMimeType(mimeType)
	hasPDFExt := strings.EqualFold(path.Ext(filename), ".pdf")

	switch {
	case pdfMimeTypes[mt]:
		return partPDF, ""
	case hasPDFExt && genericMimeTypes[mt]:
		return partPDF, ""
	case hasPDFExt:
		return partSkip, fmt.Sprintf("declared content type %s is not PDF", mt)
	default:
		return partIgnore, ""
	}
}

func normalizeMimeType(v string) string {
	if mt, _, err := mime.ParseMediaType(v); err == nil {
		return mt
	}
	mt, _, _ := strings.Cut(v, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// Extract returns one record per PDF candidate part of ref's message, in
// part order. Failures on a single part are carried on its record; the
// returned error is reserved for failing to fetch the message itself.
func (c *Client) Extract(ctx context.Context, ref MessageRef) ([]AttachmentRecord, error) {
	if c.mode == FetchModeRaw {
		return c.extractRaw(ctx, ref)
	}
	return c.extractFull(ctx, ref)
}

func (c *Client) extractFull(ctx context.Context, ref MessageRef) ([]AttachmentRecord, error) {
	msg, err := c.getMessage(ctx, ref.ID, "full")
	if err != nil {
		return nil, err
	}

	var records []AttachmentRecord
	walkParts(msg.Payload, func(part *gmail.MessagePart) {
		if len(part.Parts) > 0 {
			return
		}
		kind, reason := classifyPart(part.MimeType, part.Filename)
		if kind == partIgnore {
			return
		}

		rec := AttachmentRecord{
			Message:  ref,
			PartID:   part.PartId,
			Filename: part.Filename,
			MimeType: part.MimeType,
		}
		if kind == partSkip {
			rec.SkipReason = reason
		} else {
			rec.Data, rec.Err = c.partData(ctx, ref.ID, part)
		}
		if rec.Err != nil {
			c.logger.Warn("failed to read attachment",
				logging.MessageID(ref.ID),
				logging.Filename(part.Filename),
				logging.Err(rec.Err))
		}
		records = append(records, rec)
	})

	return records, nil
}

// partData returns the decoded body of part, fetching it by attachment id
// when Gmail did not inline it.
func (c *Client) partData(ctx context.Context, messageID string, part *gmail.MessagePart) ([]byte, error) {
	if part.Body == nil {
		return nil, nil
	}
	if part.Body.Size > MaxAttachmentSize {
		return nil, fmt.Errorf("attachment size (%d bytes) exceeds maximum allowed size (%d bytes)", part.Body.Size, MaxAttachmentSize)
	}

	encoded := part.Body.Data
	if part.Body.AttachmentId != "" {
		body, err := c.getAttachment(ctx, messageID, part.Body.AttachmentId)
		if err != nil {
			return nil, err
		}
		encoded = body.Data
	}
	if encoded == "" {
		return nil, nil
	}

	data, err := decodeBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment data: %w", err)
	}
	if len(data) > MaxAttachmentSize {
		return nil, fmt.Errorf("attachment size (%d bytes) exceeds maximum allowed size (%d bytes)", len(data), MaxAttachmentSize)
	}
	return data, nil
}

// decodeBase64 decodes Gmail's base64url payloads, tolerating missing
// padding and standard-alphabet input.
func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	var firstErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// walkParts recursively walks through message parts
func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}
	fn(part)
	for _, p := range part.Parts {
		walkParts(p, fn)
	}
}
