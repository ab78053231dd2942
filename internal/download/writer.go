// Package download writes extracted PDF attachments to a directory under
// collision-safe, descriptive filenames.
package download

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/teemow/pdffetch/internal/fetcherr"
	"github.com/teemow/pdffetch/internal/gmail"
	"github.com/teemow/pdffetch/internal/logging"
)

const (
	// maxComponentLen bounds each sanitized filename component.
	maxComponentLen = 80

	// maxCollisions bounds the numeric disambiguator search.
	maxCollisions = 10000

	timestampLayout = "20060102_150405"
	pdfExt          = ".pdf"
)

var unsafeRun = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Status is the result class of one write attempt.
type Status string

const (
	StatusWritten Status = "written"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome records what happened to one attachment record.
type Outcome struct {
	Status    Status `json:"status" yaml:"status"`
	MessageID string `json:"message_id" yaml:"message_id"`
	Sender    string `json:"sender,omitempty" yaml:"sender,omitempty"`
	Original  string `json:"original_filename,omitempty" yaml:"original_filename,omitempty"`
	Filename  string `json:"filename,omitempty" yaml:"filename,omitempty"`
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`
	Size      int64  `json:"size,omitempty" yaml:"size,omitempty"`
	Reason    string `json:"reason,omitempty" yaml:"reason,omitempty"`

	// Err is the cause of a failed outcome.
	Err error `json:"-" yaml:"-"`
}

// Writer writes attachment records into one download directory.
type Writer struct {
	fs     afero.Fs
	dir    string
	loc    *time.Location
	logger *slog.Logger

	mu       sync.Mutex
	prepared bool
}

// NewWriter returns a Writer for dir. Timestamps in filenames use loc
// (UTC when nil).
func NewWriter(fs afero.Fs, dir string, loc *time.Location, logger *slog.Logger) *Writer {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{fs: fs, dir: dir, loc: loc, logger: logger}
}

// Dir returns the download directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Write persists rec and reports the outcome. It never overwrites an
// existing file.
func (w *Writer) Write(rec gmail.AttachmentRecord) Outcome {
	out := Outcome{
		MessageID: rec.Message.ID,
		Sender:    rec.Message.Sender,
		Original:  rec.Filename,
	}

	switch {
	case rec.Err != nil:
		return w.fail(out, rec.Err)
	case rec.SkipReason != "":
		return w.skip(out, rec.SkipReason)
	case len(rec.Data) == 0:
		return w.skip(out, "empty attachment")
	}

	if err := w.prepare(); err != nil {
		return w.fail(out, err)
	}

	base := Filename(rec.Message.Received.In(w.loc), rec.Message.Sender, rec.Filename)
	path, err := w.create(base, rec.Data)
	if err != nil {
		return w.fail(out, err)
	}

	out.Status = StatusWritten
	out.Path = path
	out.Filename = filepath.Base(path)
	out.Size = rec.Size()
	w.logger.Info("attachment saved",
		logging.MessageID(out.MessageID),
		logging.Filename(out.Filename),
		logging.Path(out.Path),
		slog.Int64("size", out.Size),
		logging.Status(logging.StatusSuccess))
	return out
}

func (w *Writer) skip(out Outcome, reason string) Outcome {
	out.Status = StatusSkipped
	out.Reason = reason
	w.logger.Info("attachment skipped",
		logging.MessageID(out.MessageID),
		logging.Filename(out.Original),
		slog.String("reason", reason),
		logging.Status(logging.StatusSkipped))
	return out
}

func (w *Writer) fail(out Outcome, err error) Outcome {
	out.Status = StatusFailed
	out.Reason = err.Error()
	out.Err = err
	w.logger.Error("attachment failed",
		logging.MessageID(out.MessageID),
		logging.Filename(out.Original),
		logging.Status(logging.StatusError),
		logging.Err(err))
	return out
}

// prepare creates the download directory once.
func (w *Writer) prepare() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.prepared {
		return nil
	}
	if err := w.fs.MkdirAll(w.dir, 0o755); err != nil {
		return &fetcherr.FilesystemError{Op: "mkdir", Path: w.dir, Err: err}
	}
	w.prepared = true
	return nil
}

// create writes data under base, appending _1, _2, ... before the extension
// until an unused name is found.
func (w *Writer) create(base string, data []byte) (string, error) {
	stem := strings.TrimSuffix(base, pdfExt)
	for i := 0; i < maxCollisions; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", stem, i, pdfExt)
		}
		path := filepath.Join(w.dir, name)

		f, err := w.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", &fetcherr.FilesystemError{Op: "create", Path: path, Err: err}
		}

		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			_ = w.fs.Remove(path)
			return "", &fetcherr.FilesystemError{Op: "write", Path: path, Err: err}
		}
		if err := f.Close(); err != nil {
			_ = w.fs.Remove(path)
			return "", &fetcherr.FilesystemError{Op: "close", Path: path, Err: err}
		}
		return path, nil
	}
	return "", &fetcherr.FilesystemError{
		Op:   "create",
		Path: filepath.Join(w.dir, base),
		Err:  fmt.Errorf("no free filename after %d attempts", maxCollisions),
	}
}

// Filename builds YYYYMMDD_HHMMSS_{sender}_{original}.pdf.
func Filename(received time.Time, sender, original string) string {
	name := original
	if strings.EqualFold(filepath.Ext(name), pdfExt) {
		name = name[:len(name)-len(pdfExt)]
	}
	return fmt.Sprintf("%s_%s_%s%s",
		received.Format(timestampLayout),
		sanitizeOr(sender, "unknown"),
		sanitizeOr(name, "attachment"),
		pdfExt)
}

// Sanitize replaces every run of characters outside [A-Za-z0-9_-] with a
// single underscore, trims underscores at both ends and truncates the
// result. Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string) string {
	s = unsafeRun.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > maxComponentLen {
		s = strings.TrimRight(s[:maxComponentLen], "_")
	}
	return s
}

func sanitizeOr(s, fallback string) string {
	if v := Sanitize(s); v != "" {
		return v
	}
	return fallback
}
