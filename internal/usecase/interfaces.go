package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/i2y/oasgate/internal/domain"
	// Import mcp types needed for the adapter interface
	"github.com/mark3labs/mcp-go/mcp"
	// Import server type for the handler function
	mcpGoServer "github.com/mark3labs/mcp-go/server"
)

// Standard errors returned by use cases and adapters.
var (
	ErrNoReport = errors.New("no aggregation report recorded")
)

// --- Source Related ---

// DocumentFetcher retrieves and parses the API description of one source.
// Failures are returned as *domain.SourceError; callers treat any error as
// "source absent" for the current run.
type DocumentFetcher interface {
	Fetch(ctx context.Context, source domain.SourceDescriptor) (domain.APISchema, error)
}

// ReportRepository keeps the most recent aggregation report so that
// operators can tell "no sources configured" apart from "all sources
// failed" without reading logs.
type ReportRepository interface {
	// SaveReport replaces the stored report.
	SaveReport(ctx context.Context, report domain.AggregationReport) error

	// LatestReport returns the most recently saved report, or ErrNoReport.
	LatestReport(ctx context.Context) (*domain.AggregationReport, error)
}

// MetricsRecorder receives fetch and aggregation measurements.
type MetricsRecorder interface {
	// ObserveFetch records one source fetch. code is empty on success.
	ObserveFetch(source string, code domain.ErrorCode, duration time.Duration)
	// ObserveAggregation records one completed run.
	ObserveAggregation(duration time.Duration, sources, failed int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveFetch(string, domain.ErrorCode, time.Duration) {}
func (nopMetrics) ObserveAggregation(time.Duration, int, int)          {}

// --- MCP Server Abstraction ---

// MCPServerAdapter is the subset of the mcp-go server used to register
// tools. It keeps callers independent of the concrete server type.
type MCPServerAdapter interface {
	AddTool(tool mcp.Tool, handlerFunc mcpGoServer.ToolHandlerFunc)
}
