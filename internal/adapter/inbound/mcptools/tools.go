// Package mcptools exposes the aggregated description to MCP clients.
package mcptools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/i2y/oasgate/internal/aggregate"
	"github.com/i2y/oasgate/internal/usecase"
)

// Tool names.
const (
	ToolGetAggregatedOpenAPI = "get_aggregated_openapi"
	ToolListAPISources       = "list_api_sources"
)

// Aggregator runs one aggregation.
type Aggregator interface {
	Execute(ctx context.Context) usecase.AggregationResult
}

// SourceLister describes the configured sources.
type SourceLister interface {
	Execute(ctx context.Context) (usecase.SourcesOverview, error)
}

// Tools holds the MCP tool handlers.
type Tools struct {
	aggregator Aggregator
	lister     SourceLister
	logger     *slog.Logger
}

// NewTools creates a new Tools.
func NewTools(aggregator Aggregator, lister SourceLister, logger *slog.Logger) *Tools {
	return &Tools{
		aggregator: aggregator,
		lister:     lister,
		logger:     logger.With("component", "mcp_tools"),
	}
}

// Register adds every tool to srv.
func (t *Tools) Register(srv usecase.MCPServerAdapter) {
	srv.AddTool(mcp.NewTool(ToolGetAggregatedOpenAPI,
		mcp.WithDescription("Fetch every configured API source and return the merged OpenAPI 3 description as JSON. Sources that fail are left out."),
	), t.GetAggregatedOpenAPI)

	srv.AddTool(mcp.NewTool(ToolListAPISources,
		mcp.WithDescription("List the configured API sources and the outcome of the most recent aggregation."),
	), t.ListAPISources)

	t.logger.Info("Registered MCP tools", slog.Int("count", 2))
}

// GetAggregatedOpenAPI handles the get_aggregated_openapi tool.
func (t *Tools) GetAggregatedOpenAPI(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requestID := uuid.NewString()
	res := t.aggregator.Execute(usecase.WithRequestID(ctx, requestID))

	body, err := aggregate.Encode(res.Document)
	if err != nil {
		t.logger.Error("Failed to encode aggregated document",
			slog.String("request_id", requestID), slog.Any("error", err))
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode aggregated document: %v", err)), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}

// ListAPISources handles the list_api_sources tool.
func (t *Tools) ListAPISources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	overview, err := t.lister.Execute(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, err := json.MarshalIndent(overview, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode sources: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}
