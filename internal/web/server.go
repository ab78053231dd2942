package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/teemow/pdffetch/internal/history"
	"github.com/teemow/pdffetch/internal/instrumentation"
	"github.com/teemow/pdffetch/internal/logging"
	"github.com/teemow/pdffetch/internal/run"
)

const (
	// DefaultReadHeaderTimeout is the default read header timeout for the web server.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultWriteTimeout covers streaming a downloaded PDF back to the browser.
	DefaultWriteTimeout = 60 * time.Second

	// DefaultIdleTimeout is the default idle timeout for the web server.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultShutdownTimeout is the default timeout for graceful server shutdown.
	DefaultShutdownTimeout = 30 * time.Second
)

//go:embed templates/*.html
var templatesFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templatesFS, "templates/index.html"))

// Fetcher executes one fetch run. *run.Runner implements it.
type Fetcher interface {
	Run(ctx context.Context, req run.Request) (*run.Summary, error)
}

// HistoryLister lists past runs. *history.Store implements it.
type HistoryLister interface {
	Recent(ctx context.Context, limit int) ([]history.Run, error)
}

// Options configures a Server.
type Options struct {
	Fetcher Fetcher
	// History is optional; without it /api/jobs lists in-memory jobs.
	History HistoryLister
	// FS defaults to the OS filesystem.
	FS       afero.Fs
	Location *time.Location

	DefaultDownloadDir string
	DefaultQuery       string
	DefaultMaxResults  int

	// MetricsHandler is mounted on /metrics when set.
	MetricsHandler http.Handler
	Metrics        *instrumentation.Metrics
	Logger         *slog.Logger
	Version        string
}

// Server is the local web UI.
type Server struct {
	opts    Options
	fs      afero.Fs
	logger  *slog.Logger
	jobs    *jobManager
	health  *HealthChecker
	handler http.Handler

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a Server.
func NewServer(opts Options) (*Server, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("web server requires a fetcher")
	}
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.DefaultMaxResults <= 0 {
		opts.DefaultMaxResults = 100
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	logger := logging.WithOperation(opts.Logger, "web")
	s := &Server{
		opts:   opts,
		fs:     opts.FS,
		logger: logger,
		jobs:   newJobManager(opts.Fetcher, logger),
	}
	s.health = NewHealthChecker(s.jobs.Active)
	s.handler = s.middleware(s.routes())
	return s, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /api/fetch", s.handleFetch)
	mux.HandleFunc("GET /api/status/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/results/{id}", s.handleResults)
	mux.HandleFunc("GET /api/download/{id}/{filename}", s.handleDownload)
	mux.HandleFunc("GET /api/jobs", s.handleJobs)
	mux.HandleFunc("POST /api/directories/validate", s.handleValidateDirectory)
	s.health.RegisterHealthEndpoints(mux)
	if s.opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.opts.MetricsHandler)
	}
	return mux
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe listens on addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a graceful
// shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.health.SetReady(true)
	s.logger.Info("starting web server", slog.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, cancels jobs and waits for them.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.MarkShuttingDown()
	s.logger.Info("shutting down web server")

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := s.jobs.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for jobs: %w", err))
	}
	return errors.Join(errs...)
}
