package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/i2y/oasgate/internal/domain"
)

// SourcesOverview is the configured registry together with the outcome of
// the most recent aggregation run, if any.
type SourcesOverview struct {
	Sources    []domain.SourceDescriptor `json:"sources"`
	LastReport *domain.AggregationReport `json:"last_report"`
}

// ListSourcesUseCase provides the functionality to inspect configured sources.
type ListSourcesUseCase struct {
	sources    []domain.SourceDescriptor
	repository ReportRepository
	logger     *slog.Logger
}

// NewListSourcesUseCase creates a new ListSourcesUseCase.
func NewListSourcesUseCase(sources []domain.SourceDescriptor, repository ReportRepository, logger *slog.Logger) *ListSourcesUseCase {
	return &ListSourcesUseCase{
		sources:    append([]domain.SourceDescriptor(nil), sources...),
		repository: repository,
		logger:     logger.With("usecase", "ListSources"),
	}
}

// Execute returns the registry and the last stored report. A missing
// report is not an error; LastReport is nil until the first run.
func (uc *ListSourcesUseCase) Execute(ctx context.Context) (SourcesOverview, error) {
	overview := SourcesOverview{Sources: append([]domain.SourceDescriptor(nil), uc.sources...)}
	if uc.repository == nil {
		return overview, nil
	}

	report, err := uc.repository.LatestReport(ctx)
	switch {
	case errors.Is(err, ErrNoReport):
		uc.logger.Debug("No aggregation report recorded yet")
	case err != nil:
		uc.logger.Error("Failed to load latest aggregation report", slog.Any("error", err))
		return SourcesOverview{}, fmt.Errorf("failed to load latest aggregation report: %w", err)
	default:
		overview.LastReport = report
	}
	uc.logger.Debug("Listed sources", slog.Int("count", len(overview.Sources)))
	return overview, nil
}
