package pdf_tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/pdffetch/internal/history"
	"github.com/teemow/pdffetch/internal/instrumentation"
	"github.com/teemow/pdffetch/internal/run"
	"github.com/teemow/pdffetch/internal/tools/common"
)

// Tool names.
const (
	ToolFetchPDFs = "gmail_fetch_pdfs"
	ToolHistory   = "gmail_pdf_history"
)

// Fetcher executes one fetch run. *run.Runner implements it.
type Fetcher interface {
	Run(ctx context.Context, req run.Request) (*run.Summary, error)
}

// HistoryLister lists past runs. *history.Store implements it.
type HistoryLister interface {
	Recent(ctx context.Context, limit int) ([]history.Run, error)
}

// Config wires the tools to a runner and its defaults.
type Config struct {
	Fetcher Fetcher
	// History is optional; gmail_pdf_history is only registered with it.
	History  HistoryLister
	Location *time.Location

	DefaultDownloadDir string
	DefaultQuery       string
	DefaultMaxResults  int

	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// RegisterPDFTools registers the PDF tools with the MCP server.
func RegisterPDFTools(s *mcpserver.MCPServer, cfg Config) error {
	if cfg.Fetcher == nil {
		return errors.New("pdf tools require a fetcher")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.DefaultMaxResults <= 0 {
		cfg.DefaultMaxResults = 100
	}

	fetchTool := mcp.NewTool(ToolFetchPDFs,
		mcp.WithDescription("Download the PDF attachments of Gmail messages received between two dates into a local directory. Returns the run summary as JSON."),
		mcp.WithString("start_date",
			mcp.Required(),
			mcp.Description("First day to include, YYYY-MM-DD"),
		),
		mcp.WithString("end_date",
			mcp.Required(),
			mcp.Description("Last day to include, YYYY-MM-DD"),
		),
		mcp.WithString("query",
			mcp.Description(fmt.Sprintf("Additional Gmail search filter (default: %q)", cfg.DefaultQuery)),
		),
		mcp.WithNumber("max_results",
			mcp.Description(fmt.Sprintf("Maximum number of emails to examine (default: %d)", cfg.DefaultMaxResults)),
		),
		mcp.WithString("download_dir",
			mcp.Description(fmt.Sprintf("Directory to save PDFs into (default: %q)", cfg.DefaultDownloadDir)),
		),
	)
	s.AddTool(fetchTool, common.InstrumentedToolHandler(ToolFetchPDFs, cfg.Metrics, cfg.Logger,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleFetchPDFs(ctx, request, cfg)
		}))

	if cfg.History != nil {
		historyTool := mcp.NewTool(ToolHistory,
			mcp.WithDescription("List recent PDF fetch runs, newest first"),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of runs to return (default: 20)"),
			),
		)
		s.AddTool(historyTool, common.InstrumentedToolHandler(ToolHistory, cfg.Metrics, cfg.Logger,
			func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return handleHistory(ctx, request, cfg)
			}))
	}

	return nil
}
