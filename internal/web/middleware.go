package web

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/teemow/pdffetch/internal/logging"
)

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// middleware logs and measures every request and turns handler panics
// into 500 responses.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("panic serving request",
					slog.String("method", r.Method),
					logging.Path(r.URL.Path),
					slog.Any("panic", p),
					slog.String("stack", string(debug.Stack())))
				if rec.status == 0 {
					writeError(rec, http.StatusInternalServerError, "internal server error")
				}
			}

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			duration := time.Since(start)
			// The matched pattern keeps job ids and filenames out of metric labels.
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			s.opts.Metrics.RecordHTTPRequest(r.Context(), r.Method, route, status, duration)
			s.logger.Debug("http request",
				slog.String("method", r.Method),
				logging.Path(r.URL.Path),
				slog.Int("status", status),
				logging.Duration(duration))
		}()

		next.ServeHTTP(rec, r)
	})
}
