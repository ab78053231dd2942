// Package pdf_tools exposes the PDF fetch run as MCP tools.
//
// Available tools:
//   - gmail_fetch_pdfs: download the PDF attachments of emails received in a
//     date range and return the run summary as JSON
//   - gmail_pdf_history: list recent fetch runs (registered when a history
//     store is configured)
package pdf_tools
