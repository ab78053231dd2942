package web

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/teemow/pdffetch/internal/download"
	"github.com/teemow/pdffetch/internal/gmail"
	"github.com/teemow/pdffetch/internal/history"
	"github.com/teemow/pdffetch/internal/logging"
	"github.com/teemow/pdffetch/internal/report"
	"github.com/teemow/pdffetch/internal/run"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 64 << 10

type fetchRequest struct {
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	DownloadDir string `json:"download_dir"`
}

type fetchResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type statusResponse struct {
	Job
	Results *resultsResponse `json:"results,omitempty"`
}

type fileInfo struct {
	Filename  string `json:"filename"`
	Original  string `json:"original_filename,omitempty"`
	MessageID string `json:"message_id"`
	Size      int64  `json:"size"`
	SizeHuman string `json:"size_human"`
}

type resultsResponse struct {
	Files       []fileInfo   `json:"files"`
	Summary     *run.Summary `json:"summary,omitempty"`
	DownloadDir string       `json:"download_dir"`
}

type jobsResponse struct {
	Jobs []Job         `json:"jobs"`
	Runs []history.Run `json:"runs,omitempty"`
}

type indexData struct {
	StartDate   string
	EndDate     string
	Query       string
	MaxResults  int
	DownloadDir string
	Version     string
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	today := time.Now().In(s.opts.Location)
	data := indexData{
		StartDate:   today.AddDate(0, 0, -30).Format(gmail.DateLayout),
		EndDate:     today.Format(gmail.DateLayout),
		Query:       s.opts.DefaultQuery,
		MaxResults:  s.opts.DefaultMaxResults,
		DownloadDir: s.opts.DefaultDownloadDir,
		Version:     s.opts.Version,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		s.logger.Error("failed to render index page", logging.Err(err))
	}
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.StartDate) == "" || strings.TrimSpace(req.EndDate) == "" {
		writeError(w, http.StatusBadRequest, "start_date and end_date are required")
		return
	}
	if req.MaxResults <= 0 {
		req.MaxResults = s.opts.DefaultMaxResults
	}
	if strings.TrimSpace(req.DownloadDir) == "" {
		req.DownloadDir = s.opts.DefaultDownloadDir
	}
	if req.DownloadDir == "" {
		writeError(w, http.StatusBadRequest, "download_dir is required")
		return
	}

	criteria, err := gmail.NewSearchCriteria(req.StartDate, req.EndDate, req.Query, req.MaxResults, s.opts.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := s.jobs.Start(run.Request{Criteria: criteria, DownloadDir: req.DownloadDir})
	writeJSON(w, http.StatusOK, fetchResponse{
		JobID:   job.ID,
		Status:  "started",
		Message: "PDF fetch started",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	resp := statusResponse{Job: job}
	if job.Status == JobCompleted {
		resp.Results = results(job)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if !job.Finished() {
		writeError(w, http.StatusConflict, "job has not finished")
		return
	}
	writeJSON(w, http.StatusOK, results(job))
}

func results(job Job) *resultsResponse {
	res := &resultsResponse{
		Files:       []fileInfo{},
		Summary:     job.Summary,
		DownloadDir: job.DownloadDir,
	}
	if job.Summary == nil {
		return res
	}
	for _, o := range job.Summary.Written() {
		res.Files = append(res.Files, fileInfo{
			Filename:  o.Filename,
			Original:  o.Original,
			MessageID: o.MessageID,
			Size:      o.Size,
			SizeHuman: report.FormatSize(o.Size),
		})
	}
	return res
}

// handleDownload serves a file only if the job wrote it.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	name := r.PathValue("filename")

	var outcome *download.Outcome
	if job.Summary != nil {
		for _, o := range job.Summary.Written() {
			if o.Filename == name {
				outcome = &o
				break
			}
		}
	}
	if outcome == nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	f, err := s.fs.Open(outcome.Path)
	if err != nil {
		s.logger.Warn("written file is gone", logging.Path(outcome.Path), logging.Err(err))
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	resp := jobsResponse{Jobs: s.jobs.List()}
	if s.opts.History != nil {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		runs, err := s.opts.History.Recent(r.Context(), limit)
		if err != nil {
			s.logger.Error("failed to list run history", logging.Err(err))
			writeError(w, http.StatusInternalServerError, "failed to list run history")
			return
		}
		resp.Runs = runs
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
