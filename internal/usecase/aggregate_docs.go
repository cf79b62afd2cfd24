package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/i2y/oasgate/internal/aggregate"
	"github.com/i2y/oasgate/internal/domain"
)

var tracer = otel.Tracer("github.com/i2y/oasgate/internal/usecase")

// AggregateOptions tunes one AggregateDocsUseCase.
type AggregateOptions struct {
	// Info is copied into every merged document.
	Info openapi3.Info
	// RewriteMode selects how schema references are rewritten.
	RewriteMode aggregate.RewriteMode
	// SourceTimeout bounds one source fetch, retries included. Zero means
	// no bound beyond the fetcher's own.
	SourceTimeout time.Duration
	// Concurrency limits simultaneous fetches. Zero or less is unlimited.
	Concurrency int
}

// AggregationResult is the output of one run.
type AggregationResult struct {
	Document *openapi3.T
	Report   domain.AggregationReport
}

// AggregateDocsUseCase fetches every configured source and merges their
// descriptions into one document.
type AggregateDocsUseCase struct {
	sources []domain.SourceDescriptor
	fetcher DocumentFetcher
	reports ReportRepository
	metrics MetricsRecorder
	opts    AggregateOptions
	logger  *slog.Logger
}

// NewAggregateDocsUseCase creates a new AggregateDocsUseCase. sources are
// merged in the given order. reports and metrics may be nil.
func NewAggregateDocsUseCase(
	sources []domain.SourceDescriptor,
	fetcher DocumentFetcher,
	reports ReportRepository,
	metrics MetricsRecorder,
	opts AggregateOptions,
	logger *slog.Logger,
) *AggregateDocsUseCase {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if opts.RewriteMode == "" {
		opts.RewriteMode = aggregate.RewriteDeep
	}
	if opts.Info.Title == "" {
		opts.Info.Title = "Aggregated API"
	}
	if opts.Info.Version == "" {
		opts.Info.Version = "v1"
	}
	return &AggregateDocsUseCase{
		sources: append([]domain.SourceDescriptor(nil), sources...),
		fetcher: fetcher,
		reports: reports,
		metrics: metrics,
		opts:    opts,
		logger:  logger.With("usecase", "AggregateDocs"),
	}
}

// Sources returns the configured descriptors in merge order.
func (uc *AggregateDocsUseCase) Sources() []domain.SourceDescriptor {
	return append([]domain.SourceDescriptor(nil), uc.sources...)
}

type fetchOutcome struct {
	schema   domain.APISchema
	err      error
	duration time.Duration
}

// Execute runs one aggregation. Per-source failures are logged and
// recorded in the report, never returned: if every source fails the
// result is an empty, well-formed document.
//
// Fetches run concurrently, but results are merged one at a time in
// registry order, so the first configured source wins path collisions
// regardless of which fetch completes first. Cancellation of ctx is not
// propagated to in-flight fetches.
func (uc *AggregateDocsUseCase) Execute(ctx context.Context) AggregationResult {
	requestID := RequestIDFromContext(ctx)
	ctx, span := tracer.Start(ctx, "aggregate_docs",
		trace.WithAttributes(attribute.Int("sources.configured", len(uc.sources))))
	defer span.End()

	log := uc.logger
	if requestID != "" {
		log = log.With(slog.String("request_id", requestID))
	}
	log.Info("Starting aggregation", slog.Int("source_count", len(uc.sources)))

	report := domain.AggregationReport{
		RequestID: requestID,
		StartedAt: time.Now().UTC(),
		Sources:   make([]domain.SourceReport, 0, len(uc.sources)),
	}

	outcomes := uc.fetchAll(ctx)

	info := uc.opts.Info
	acc := aggregate.NewAccumulator(&info, uc.opts.RewriteMode, log)
	for i, src := range uc.sources {
		out := outcomes[i]
		sr := domain.SourceReport{
			Key:      src.Key,
			Name:     src.Name(),
			FetchURL: src.FetchURL,
			Duration: out.duration,
		}
		if out.err != nil {
			sr.Status = domain.SourceStatusFailed
			sr.ErrorCode = classify(out.err)
			sr.Error = out.err.Error()
			log.Error("Error aggregating API description from source",
				slog.String("source", src.Key),
				slog.String("error_code", string(sr.ErrorCode)),
				slog.Any("error", out.err))
			report.Sources = append(report.Sources, sr)
			continue
		}

		res := acc.Merge(src, out.schema.Document)
		sr.Status = domain.SourceStatusMerged
		sr.Schemas = res.Schemas
		sr.Paths = res.Paths
		sr.DroppedPaths = res.DroppedPaths
		sr.DroppedSchemas = res.DroppedSchemas
		if len(res.DroppedPaths) > 0 {
			log.Info("Paths already claimed by an earlier source were dropped",
				slog.String("source", src.Key),
				slog.Any("paths", res.DroppedPaths))
		}
		report.Sources = append(report.Sources, sr)
	}
	report.FinishedAt = time.Now().UTC()

	failed := report.Failed()
	elapsed := report.FinishedAt.Sub(report.StartedAt)
	uc.metrics.ObserveAggregation(elapsed, len(uc.sources), failed)
	span.SetAttributes(attribute.Int("sources.failed", failed))

	if uc.reports != nil {
		if err := uc.reports.SaveReport(ctx, report); err != nil {
			log.Warn("Failed to save aggregation report", slog.Any("error", err))
		}
	}

	doc := acc.Document()
	log.Info("Aggregation finished",
		slog.Int("merged_sources", len(uc.sources)-failed),
		slog.Int("failed_sources", failed),
		slog.Int("paths", doc.Paths.Len()),
		slog.Int("schemas", len(doc.Components.Schemas)),
		slog.Duration("elapsed", elapsed))

	return AggregationResult{Document: doc, Report: report}
}

// fetchAll fetches every source concurrently. The returned slice is indexed
// like uc.sources.
func (uc *AggregateDocsUseCase) fetchAll(ctx context.Context) []fetchOutcome {
	outcomes := make([]fetchOutcome, len(uc.sources))
	fetchCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	if uc.opts.Concurrency > 0 {
		g.SetLimit(uc.opts.Concurrency)
	}
	for i, src := range uc.sources {
		g.Go(func() error {
			outcomes[i] = uc.fetchOne(fetchCtx, src)
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors

	return outcomes
}

func (uc *AggregateDocsUseCase) fetchOne(ctx context.Context, src domain.SourceDescriptor) fetchOutcome {
	if uc.opts.SourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.opts.SourceTimeout)
		defer cancel()
	}

	start := time.Now()
	schema, err := uc.fetcher.Fetch(ctx, src)
	if err == nil && schema.Document == nil {
		err = domain.NewSourceError(domain.ErrCodeSourceMalformed, src.Key, "fetcher returned no document", nil)
	}
	d := time.Since(start)

	var code domain.ErrorCode
	if err != nil {
		code = classify(err)
	}
	uc.metrics.ObserveFetch(src.Key, code, d)
	return fetchOutcome{schema: schema, err: err, duration: d}
}

// classify maps a fetch error to an error code. Anything that is not a
// malformed document counts as unreachable, timeouts included.
func classify(err error) domain.ErrorCode {
	if code := domain.CodeOf(err); code != "" {
		return code
	}
	if errors.Is(err, domain.ErrSourceMalformed) {
		return domain.ErrCodeSourceMalformed
	}
	return domain.ErrCodeSourceUnreachable
}
