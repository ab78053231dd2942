// Package history keeps a local SQLite record of past fetch runs.
//
// The history is informational: it is never consulted to decide whether
// an attachment should be downloaded again.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/teemow/pdffetch/internal/download"
	"github.com/teemow/pdffetch/internal/logging"
	"github.com/teemow/pdffetch/internal/run"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Run is a stored run summary.
type Run struct {
	ID               string    `db:"id" json:"id" yaml:"id"`
	StartedAt        time.Time `db:"-" json:"started_at" yaml:"started_at"`
	FinishedAt       time.Time `db:"-" json:"finished_at" yaml:"finished_at"`
	State            string    `db:"state" json:"state" yaml:"state"`
	StartDate        string    `db:"start_date" json:"start_date" yaml:"start_date"`
	EndDate          string    `db:"end_date" json:"end_date" yaml:"end_date"`
	Query            string    `db:"query" json:"query" yaml:"query"`
	MaxResults       int       `db:"max_results" json:"max_results" yaml:"max_results"`
	DownloadDir      string    `db:"download_dir" json:"download_dir" yaml:"download_dir"`
	FetchMode        string    `db:"fetch_mode" json:"fetch_mode" yaml:"fetch_mode"`
	MessagesExamined int       `db:"messages_examined" json:"messages_examined" yaml:"messages_examined"`
	AttachmentsFound int       `db:"attachments_found" json:"attachments_found" yaml:"attachments_found"`
	FilesWritten     int       `db:"files_written" json:"files_written" yaml:"files_written"`
	Skipped          int       `db:"skipped" json:"skipped" yaml:"skipped"`
	Failed           int       `db:"failed" json:"failed" yaml:"failed"`
	BytesWritten     int64     `db:"bytes_written" json:"bytes_written" yaml:"bytes_written"`
	Error            string    `db:"error" json:"error,omitempty" yaml:"error,omitempty"`

	StartedAtMillis  int64 `db:"started_at" json:"-" yaml:"-"`
	FinishedAtMillis int64 `db:"finished_at" json:"-" yaml:"-"`
}

// Outcome is a stored attachment outcome.
type Outcome struct {
	RunID            string `db:"run_id" json:"-" yaml:"-"`
	Seq              int    `db:"seq" json:"seq" yaml:"seq"`
	MessageID        string `db:"message_id" json:"message_id" yaml:"message_id"`
	Status           string `db:"status" json:"status" yaml:"status"`
	OriginalFilename string `db:"original_filename" json:"original_filename,omitempty" yaml:"original_filename,omitempty"`
	Filename         string `db:"filename" json:"filename,omitempty" yaml:"filename,omitempty"`
	Path             string `db:"path" json:"path,omitempty" yaml:"path,omitempty"`
	Size             int64  `db:"size" json:"size,omitempty" yaml:"size,omitempty"`
	Reason           string `db:"reason" json:"reason,omitempty" yaml:"reason,omitempty"`
}

// MessageError is a stored message-level failure.
type MessageError struct {
	RunID     string `db:"run_id" json:"-" yaml:"-"`
	Seq       int    `db:"seq" json:"seq" yaml:"seq"`
	MessageID string `db:"message_id" json:"message_id,omitempty" yaml:"message_id,omitempty"`
	Reason    string `db:"reason" json:"reason" yaml:"reason"`
}

// Store is a SQLite-backed run history.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open opens (or creates) the history database at path and applies
// pending migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	dsn, err := fileDSN(path)
	if err != nil {
		return nil, err
	}
	return open(dsn, logger)
}

// fileDSN renders path as an SQLite file URI. The path is percent-encoded
// so characters like '?' and '#' stay part of the file name.
func fileDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve history path: %w", err)
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u := url.URL{
		Scheme:   "file",
		Path:     p,
		RawQuery: "_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)",
	}
	return u.String(), nil
}

func open(dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}

	s := &Store{db: db, logger: logging.WithOperation(logger, "history")}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate applies all pending migrations embedded in the binary.
func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(s.db.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	m.Log = logging.NewMigrateLogger(s.logger, false)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a finished run with its outcomes.
func (s *Store) Record(ctx context.Context, sum *run.Summary) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := fromSummary(sum)
	const insertRun = `
		INSERT OR REPLACE INTO runs (
			id, started_at, finished_at, state, start_date, end_date,
			query, max_results, download_dir, fetch_mode,
			messages_examined, attachments_found, files_written,
			skipped, failed, bytes_written, error
		) VALUES (
			:id, :started_at, :finished_at, :state, :start_date, :end_date,
			:query, :max_results, :download_dir, :fetch_mode,
			:messages_examined, :attachments_found, :files_written,
			:skipped, :failed, :bytes_written, :error
		)`
	if _, err := tx.NamedExecContext(ctx, insertRun, row); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM outcomes WHERE run_id = ?`, sum.RunID); err != nil {
		return fmt.Errorf("clear outcomes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM message_errors WHERE run_id = ?`, sum.RunID); err != nil {
		return fmt.Errorf("clear message errors: %w", err)
	}

	const insertOutcome = `
		INSERT INTO outcomes (
			run_id, seq, message_id, status, original_filename,
			filename, path, size, reason
		) VALUES (
			:run_id, :seq, :message_id, :status, :original_filename,
			:filename, :path, :size, :reason
		)`
	for i, o := range sum.Outcomes {
		if _, err := tx.NamedExecContext(ctx, insertOutcome, fromOutcome(sum.RunID, i, o)); err != nil {
			return fmt.Errorf("insert outcome %d: %w", i, err)
		}
	}

	const insertMessageError = `
		INSERT INTO message_errors (run_id, seq, message_id, reason)
		VALUES (:run_id, :seq, :message_id, :reason)`
	for i, me := range sum.MessageErrors {
		rec := MessageError{RunID: sum.RunID, Seq: i, MessageID: me.MessageID, Reason: me.Reason}
		if _, err := tx.NamedExecContext(ctx, insertMessageError, rec); err != nil {
			return fmt.Errorf("insert message error %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	s.logger.Debug("run recorded", logging.RunID(sum.RunID), slog.Int("outcomes", len(sum.Outcomes)))
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []Run
	if err := s.db.SelectContext(ctx, &runs,
		`SELECT * FROM runs ORDER BY started_at DESC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	for i := range runs {
		runs[i].fillTimes()
	}
	return runs, nil
}

// Get returns one run with its outcomes and message errors.
func (s *Store) Get(ctx context.Context, id string) (*Run, []Outcome, []MessageError, error) {
	var r Run
	if err := s.db.GetContext(ctx, &r, `SELECT * FROM runs WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil, ErrNotFound
		}
		return nil, nil, nil, fmt.Errorf("get run: %w", err)
	}
	r.fillTimes()

	var outcomes []Outcome
	if err := s.db.SelectContext(ctx, &outcomes,
		`SELECT * FROM outcomes WHERE run_id = ? ORDER BY seq`, id); err != nil {
		return nil, nil, nil, fmt.Errorf("list outcomes: %w", err)
	}

	var msgErrs []MessageError
	if err := s.db.SelectContext(ctx, &msgErrs,
		`SELECT * FROM message_errors WHERE run_id = ? ORDER BY seq`, id); err != nil {
		return nil, nil, nil, fmt.Errorf("list message errors: %w", err)
	}
	return &r, outcomes, msgErrs, nil
}

// Prune deletes runs that started before cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

func (r *Run) fillTimes() {
	r.StartedAt = time.UnixMilli(r.StartedAtMillis)
	r.FinishedAt = time.UnixMilli(r.FinishedAtMillis)
}

func fromSummary(s *run.Summary) Run {
	return Run{
		ID:               s.RunID,
		StartedAtMillis:  s.StartedAt.UnixMilli(),
		FinishedAtMillis: s.FinishedAt.UnixMilli(),
		State:            string(s.State),
		StartDate:        s.StartDate,
		EndDate:          s.EndDate,
		Query:            s.Query,
		MaxResults:       s.MaxResults,
		DownloadDir:      s.DownloadDir,
		FetchMode:        s.FetchMode,
		MessagesExamined: s.MessagesExamined,
		AttachmentsFound: s.AttachmentsFound,
		FilesWritten:     s.FilesWritten,
		Skipped:          s.Skipped,
		Failed:           s.Failed,
		BytesWritten:     s.BytesWritten,
		Error:            s.Error,
	}
}

func fromOutcome(runID string, seq int, o download.Outcome) Outcome {
	return Outcome{
		RunID:            runID,
		Seq:              seq,
		MessageID:        o.MessageID,
		Status:           string(o.Status),
		OriginalFilename: o.Original,
		Filename:         o.Filename,
		Path:             o.Path,
		Size:             o.Size,
		Reason:           o.Reason,
	}
}
