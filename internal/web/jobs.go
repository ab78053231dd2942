package web

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/pdffetch/internal/logging"
	"github.com/teemow/pdffetch/internal/run"
)

// JobStatus is the coarse state of a web job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// maxRetainedJobs bounds the in-memory job table. Finished jobs beyond it
// are forgotten oldest first; the history store keeps the long-term record.
const maxRetainedJobs = 50

// Job is the browser-facing view of one run.
type Job struct {
	ID          string       `json:"job_id"`
	Status      JobStatus    `json:"status"`
	Progress    int          `json:"progress"`
	Message     string       `json:"message"`
	Error       string       `json:"error,omitempty"`
	DownloadDir string       `json:"download_dir"`
	RunID       string       `json:"run_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	Summary     *run.Summary `json:"-"`
}

// Finished reports whether the job reached a final status.
func (j Job) Finished() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// jobManager owns the job table and runs jobs one at a time.
type jobManager struct {
	fetcher Fetcher
	logger  *slog.Logger

	mu    sync.Mutex
	jobs  map[string]*Job
	order []string

	// slot holds a token while a run executes.
	slot chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newJobManager(fetcher Fetcher, logger *slog.Logger) *jobManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &jobManager{
		fetcher: fetcher,
		logger:  logger,
		jobs:    make(map[string]*Job),
		slot:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start queues req and returns the new job.
func (m *jobManager) Start(req run.Request) Job {
	job := &Job{
		ID:          uuid.NewString(),
		Status:      JobQueued,
		Message:     "Waiting for the previous run to finish...",
		DownloadDir: req.DownloadDir,
		CreatedAt:   time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	m.evictLocked()
	snapshot := *job
	m.mu.Unlock()

	m.wg.Add(1)
	go m.execute(job.ID, req)
	return snapshot
}

func (m *jobManager) execute(id string, req run.Request) {
	defer m.wg.Done()
	logger := m.logger.With(slog.String("job_id", id))

	select {
	case m.slot <- struct{}{}:
	case <-m.ctx.Done():
		m.finish(id, nil, m.ctx.Err())
		return
	}
	defer func() { <-m.slot }()

	m.update(id, func(j *Job) {
		j.Status = JobRunning
		j.Progress = 5
		j.Message = "Starting..."
	})

	req.Observer = run.ObserverFunc(func(e run.Event) {
		m.update(id, func(j *Job) { applyEvent(j, e) })
	})

	logger.Info("web job started", logging.Path(req.DownloadDir))
	summary, err := m.fetcher.Run(m.ctx, req)
	m.finish(id, summary, err)
	if err != nil {
		logger.Warn("web job failed", logging.Err(err))
		return
	}
	logger.Info("web job completed", slog.Int("files_written", summary.FilesWritten))
}

func (m *jobManager) finish(id string, summary *run.Summary, err error) {
	m.update(id, func(j *Job) {
		j.Summary = summary
		if summary != nil {
			j.RunID = summary.RunID
		}
		if err != nil {
			j.Status = JobFailed
			j.Error = err.Error()
			j.Message = "Run failed"
			return
		}
		j.Status = JobCompleted
		j.Progress = 100
		j.Message = fmt.Sprintf("Downloaded %d PDF file(s)", summary.FilesWritten)
	})
}

// applyEvent maps run events onto the job's progress bar: authentication
// to 10%, search to 20%, messages spread over 20..95%.
func applyEvent(j *Job, e run.Event) {
	if e.RunID != "" {
		j.RunID = e.RunID
	}
	switch {
	case e.Outcome != nil:
		if e.Outcome.Filename != "" {
			j.Message = "Saved " + e.Outcome.Filename
		}
	case e.Current > 0:
		if e.Max > 0 {
			j.Progress = 20 + 75*min(e.Current, e.Max)/e.Max
		}
		j.Message = fmt.Sprintf("Processing email %d of up to %d", e.Current, e.Max)
	default:
		switch e.State {
		case run.StateAuthenticating:
			j.Progress = 10
			j.Message = "Authenticating with Gmail..."
		case run.StateSearching:
			j.Progress = 20
			j.Message = "Searching for emails..."
		case run.StateSummarizing:
			j.Progress = 95
			j.Message = "Summarizing..."
		}
	}
}

func (m *jobManager) update(id string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		fn(j)
	}
}

// Get returns a copy of the job.
func (m *jobManager) Get(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// List returns copies of the retained jobs, newest first.
func (m *jobManager) List() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, *m.jobs[m.order[i]])
	}
	return out
}

// Active reports whether a run is executing.
func (m *jobManager) Active() bool {
	return len(m.slot) > 0
}

// evictLocked drops the oldest finished jobs above the retention bound.
func (m *jobManager) evictLocked() {
	for i := 0; len(m.order) > maxRetainedJobs && i < len(m.order); {
		id := m.order[i]
		if !m.jobs[id].Finished() {
			i++
			continue
		}
		delete(m.jobs, id)
		m.order = append(m.order[:i], m.order[i+1:]...)
	}
}

// Shutdown cancels running and queued jobs and waits for them, or for ctx.
func (m *jobManager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
