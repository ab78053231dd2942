// Package web serves the local browser interface of pdffetch.
//
// The server is a thin caller of the run orchestrator. A form submitted to
// /api/fetch becomes a job; jobs execute one at a time in the background and
// their progress is polled through /api/status/{id}. Written files can be
// downloaded back through the browser, but only files the job itself
// produced.
//
// # Endpoints
//
//   - GET  /                              form page
//   - POST /api/fetch                     start a job
//   - GET  /api/status/{id}               job progress
//   - GET  /api/results/{id}              files and summary of a finished job
//   - GET  /api/download/{id}/{filename}  one written file
//   - GET  /api/jobs                      recent runs from the history store
//   - POST /api/directories/validate      check a download directory
//   - GET  /healthz, /readyz, /healthz/detailed
//   - GET  /metrics                       when Prometheus export is enabled
package web
