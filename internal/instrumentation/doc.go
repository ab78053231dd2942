// Package instrumentation provides OpenTelemetry metrics and tracing for
// pdffetch.
//
// # Metrics
//
// Fetch pipeline:
//   - pdffetch_runs_total / pdffetch_run_duration_seconds by result and fetch mode
//   - pdffetch_messages_examined_total by status
//   - pdffetch_attachments_total by outcome (written, skipped, failed)
//   - pdffetch_attachment_bytes_written_total
//   - pdffetch_active_runs
//
// Google API and OAuth:
//   - google_api_operations_total / google_api_operation_duration_seconds
//   - oauth_auth_total, oauth_token_refresh_total
//
// Web UI and MCP:
//   - http_requests_total / http_request_duration_seconds
//   - mcp_tool_invocations_total / mcp_tool_duration_seconds
//
// # Tracing
//
// Spans cover a whole run (pdffetch.run), each Gmail call
// (google.gmail.<operation>), OAuth session setup, and MCP tool calls.
//
// # Configuration
//
// Instrumentation is configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: prometheus, otlp, stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout, none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - METRICS_DETAILED_LABELS: add sender domains to attachment metrics
package instrumentation
