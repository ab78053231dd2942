package pdf_tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/pdffetch/internal/gmail"
	"github.com/teemow/pdffetch/internal/run"
)

func handleFetchPDFs(ctx context.Context, request mcp.CallToolRequest, cfg Config) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	startDate, _ := args["start_date"].(string)
	endDate, _ := args["end_date"].(string)
	if startDate == "" || endDate == "" {
		return mcp.NewToolResultError("start_date and end_date are required"), nil
	}

	query := cfg.DefaultQuery
	if q, ok := args["query"].(string); ok && q != "" {
		query = q
	}
	maxResults := cfg.DefaultMaxResults
	if n, ok := args["max_results"].(float64); ok && n > 0 {
		maxResults = int(n)
	}
	downloadDir := cfg.DefaultDownloadDir
	if d, ok := args["download_dir"].(string); ok && d != "" {
		downloadDir = d
	}
	if downloadDir == "" {
		return mcp.NewToolResultError("download_dir is required"), nil
	}

	criteria, err := gmail.NewSearchCriteria(startDate, endDate, query, maxResults, cfg.Location)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	summary, err := cfg.Fetcher.Run(ctx, run.Request{Criteria: criteria, DownloadDir: downloadDir})
	if err != nil {
		msg := fmt.Sprintf("fetch failed: %v", err)
		if summary != nil && summary.FilesWritten > 0 {
			msg += fmt.Sprintf(" (%d file(s) were written before the failure)", summary.FilesWritten)
		}
		return mcp.NewToolResultError(msg), nil
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode summary: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func handleHistory(ctx context.Context, request mcp.CallToolRequest, cfg Config) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	limit := 20
	if n, ok := args["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}

	runs, err := cfg.History.Recent(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}

	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode runs: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
