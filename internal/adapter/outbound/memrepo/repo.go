package memrepo

import (
	"context"
	"log/slog"
	"sync"

	"github.com/i2y/oasgate/internal/domain"
	"github.com/i2y/oasgate/internal/usecase"
)

// InMemoryReportRepository provides an in-memory implementation of the
// ReportRepository.
// NOTE: This implementation is not persistent and data will be lost on restart.
type InMemoryReportRepository struct {
	mu     sync.RWMutex
	latest *domain.AggregationReport
	runs   int
	logger *slog.Logger
}

// NewInMemoryReportRepository creates a new in-memory repository.
func NewInMemoryReportRepository(logger *slog.Logger) *InMemoryReportRepository {
	return &InMemoryReportRepository{
		logger: logger.With("component", "mem_repo"),
	}
}

// SaveReport replaces the stored report with a copy of report.
func (r *InMemoryReportRepository) SaveReport(ctx context.Context, report domain.AggregationReport) error {
	stored := copyReport(report)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.latest = &stored
	r.runs++
	r.logger.Debug("Saved aggregation report",
		slog.String("request_id", report.RequestID),
		slog.Int("sources", len(report.Sources)),
		slog.Int("failed", report.Failed()),
		slog.Int("runs", r.runs))
	return nil
}

// LatestReport returns a copy of the most recently saved report.
func (r *InMemoryReportRepository) LatestReport(ctx context.Context) (*domain.AggregationReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.latest == nil {
		return nil, usecase.ErrNoReport
	}
	out := copyReport(*r.latest)
	return &out, nil
}

// Runs returns how many reports have been saved since startup.
func (r *InMemoryReportRepository) Runs() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runs
}

func copyReport(in domain.AggregationReport) domain.AggregationReport {
	out := in
	out.Sources = make([]domain.SourceReport, len(in.Sources))
	for i, sr := range in.Sources {
		sr.DroppedPaths = append([]string(nil), sr.DroppedPaths...)
		sr.DroppedSchemas = append([]string(nil), sr.DroppedSchemas...)
		out.Sources[i] = sr
	}
	return out
}
