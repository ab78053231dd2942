package common

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/teemow/pdffetch/internal/instrumentation"
)

func TestInstrumentedToolHandler(t *testing.T) {
	metrics, err := instrumentation.NewMetrics(noop.NewMeterProvider().Meter("test"), false)
	require.NoError(t, err)

	tests := []struct {
		name    string
		metrics *instrumentation.Metrics
		result  *mcp.CallToolResult
		err     error
	}{
		{name: "success without metrics", result: mcp.NewToolResultText("ok")},
		{name: "success with metrics", metrics: metrics, result: mcp.NewToolResultText("ok")},
		{name: "tool error result", metrics: metrics, result: mcp.NewToolResultError("bad input")},
		{name: "handler error", metrics: metrics, err: errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				called = true
				return tt.result, tt.err
			}

			wrapped := InstrumentedToolHandler("test_tool", tt.metrics, nil, handler)
			result, err := wrapped(context.Background(), mcp.CallToolRequest{})

			assert.True(t, called)
			assert.Equal(t, tt.err, err)
			assert.Equal(t, tt.result, result)
		})
	}
}
