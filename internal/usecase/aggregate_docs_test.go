package usecase_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/i2y/oasgate/internal/aggregate"
	"github.com/i2y/oasgate/internal/domain"
	"github.com/i2y/oasgate/internal/usecase"
)

// MockDocumentFetcher is a mock implementation of the DocumentFetcher interface.
type MockDocumentFetcher struct {
	mock.Mock
}

func (m *MockDocumentFetcher) Fetch(ctx context.Context, src domain.SourceDescriptor) (domain.APISchema, error) {
	args := m.Called(ctx, src)
	return args.Get(0).(domain.APISchema), args.Error(1)
}

// MockReportRepository is a mock implementation of the ReportRepository interface.
type MockReportRepository struct {
	mock.Mock
}

func (m *MockReportRepository) SaveReport(ctx context.Context, report domain.AggregationReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

func (m *MockReportRepository) LatestReport(ctx context.Context) (*domain.AggregationReport, error) {
	args := m.Called(ctx)
	result := args.Get(0)
	if result == nil {
		return nil, args.Error(1)
	}
	return result.(*domain.AggregationReport), args.Error(1)
}

// docFetcher parses a fresh document on every call so that runs never
// share a tree. Keys missing from docs fail as unreachable.
type docFetcher struct {
	mu     sync.Mutex
	docs   map[string]string
	errs   map[string]error
	delays map[string]time.Duration
	calls  []string
}

func (f *docFetcher) Fetch(ctx context.Context, src domain.SourceDescriptor) (domain.APISchema, error) {
	f.mu.Lock()
	f.calls = append(f.calls, src.Key)
	f.mu.Unlock()

	if d := f.delays[src.Key]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return domain.APISchema{}, ctx.Err()
		}
	}
	if err := f.errs[src.Key]; err != nil {
		return domain.APISchema{}, err
	}
	data, ok := f.docs[src.Key]
	if !ok {
		return domain.APISchema{}, domain.NewSourceError(domain.ErrCodeSourceUnreachable, src.Key, "no such source", nil)
	}
	doc, err := openapi3.NewLoader().LoadFromData([]byte(data))
	if err != nil {
		return domain.APISchema{}, domain.NewSourceError(domain.ErrCodeSourceMalformed, src.Key, "parse", err)
	}
	return domain.APISchema{Source: src.Key, URL: src.FetchURL, RawData: []byte(data), Document: doc}, nil
}

const storeDoc = `{
  "openapi": "3.0.1",
  "info": {"title": "store", "version": "v1"},
  "paths": {
    "/api/files/{id}": {"get": {"summary": "store", "responses": {"200": {"description": "ok",
      "content": {"application/json": {"schema": {"$ref": "#/components/schemas/File"}}}}}}}
  },
  "components": {"schemas": {
    "File": {"type": "object", "properties": {"meta": {"$ref": "#/components/schemas/Meta"}}},
    "Meta": {"type": "object"}
  }}
}`

const analysisDoc = `{
  "openapi": "3.0.1",
  "info": {"title": "analysis", "version": "v1"},
  "paths": {
    "/api/analysis/{id}": {"get": {"summary": "analysis", "responses": {"200": {"description": "ok",
      "content": {"application/json": {"schema": {"$ref": "#/components/schemas/Result"}}}}}}}
  },
  "components": {"schemas": {"Result": {"type": "object"}}}
}`

var (
	storeSource = domain.SourceDescriptor{
		Key: "files", DisplayName: "File Storing Service", FetchURL: "http://store/swagger.json",
		GatewayPathPrefix: "/files", SourcePathPrefix: "/api/files",
	}
	analysisSource = domain.SourceDescriptor{
		Key: "analysis", DisplayName: "File Analysis Service", FetchURL: "http://analysis/swagger.json",
		GatewayPathPrefix: "/analysis", SourcePathPrefix: "/api/analysis",
	}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newUseCase(sources []domain.SourceDescriptor, fetcher usecase.DocumentFetcher, opts usecase.AggregateOptions, logger *slog.Logger) *usecase.AggregateDocsUseCase {
	return usecase.NewAggregateDocsUseCase(sources, fetcher, nil, nil, opts, logger)
}

func TestAggregateDocsUseCase_Execute(t *testing.T) {
	ctx := context.Background()
	both := []domain.SourceDescriptor{storeSource, analysisSource}

	tests := []struct {
		name        string
		sources     []domain.SourceDescriptor
		fetcher     *docFetcher
		wantPaths   []string
		wantSchemas []string
		wantFailed  map[string]domain.ErrorCode
	}{
		{
			name:        "Success - both sources merged",
			sources:     both,
			fetcher:     &docFetcher{docs: map[string]string{"files": storeDoc, "analysis": analysisDoc}},
			wantPaths:   []string{"/files/{id}", "/analysis/{id}"},
			wantSchemas: []string{"files_File", "files_Meta", "analysis_Result"},
		},
		{
			name:    "Partial failure - unreachable source skipped",
			sources: both,
			fetcher: &docFetcher{
				docs: map[string]string{"analysis": analysisDoc},
				errs: map[string]error{"files": domain.NewSourceError(domain.ErrCodeSourceUnreachable, "files", "GET failed", errors.New("connection refused"))},
			},
			wantPaths:   []string{"/analysis/{id}"},
			wantSchemas: []string{"analysis_Result"},
			wantFailed:  map[string]domain.ErrorCode{"files": domain.ErrCodeSourceUnreachable},
		},
		{
			name:        "Partial failure - malformed source skipped",
			sources:     both,
			fetcher:     &docFetcher{docs: map[string]string{"files": storeDoc, "analysis": `{"openapi": `}},
			wantPaths:   []string{"/files/{id}"},
			wantSchemas: []string{"files_File", "files_Meta"},
			wantFailed:  map[string]domain.ErrorCode{"analysis": domain.ErrCodeSourceMalformed},
		},
		{
			name:    "All sources fail - empty document",
			sources: both,
			fetcher: &docFetcher{},
			wantFailed: map[string]domain.ErrorCode{
				"files":    domain.ErrCodeSourceUnreachable,
				"analysis": domain.ErrCodeSourceUnreachable,
			},
		},
		{
			name:    "No sources configured - empty document",
			fetcher: &docFetcher{},
		},
		{
			name:    "Plain error classified as unreachable",
			sources: []domain.SourceDescriptor{storeSource},
			fetcher: &docFetcher{errs: map[string]error{"files": errors.New("boom")}},
			wantFailed: map[string]domain.ErrorCode{
				"files": domain.ErrCodeSourceUnreachable,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&logs, nil))
			uc := newUseCase(tt.sources, tt.fetcher, usecase.AggregateOptions{}, logger)

			res := uc.Execute(ctx)

			require.NotNil(t, res.Document)
			assert.ElementsMatch(t, tt.wantPaths, keys(res.Document.Paths.Map()))
			assert.ElementsMatch(t, tt.wantSchemas, keys(res.Document.Components.Schemas))

			require.Len(t, res.Report.Sources, len(tt.sources))
			for i, sr := range res.Report.Sources {
				assert.Equal(t, tt.sources[i].Key, sr.Key, "report must follow registry order")
				if code, failed := tt.wantFailed[sr.Key]; failed {
					assert.Equal(t, domain.SourceStatusFailed, sr.Status)
					assert.Equal(t, code, sr.ErrorCode)
					assert.NotEmpty(t, sr.Error)
					assert.Contains(t, logs.String(), "source="+sr.Key)
				} else {
					assert.Equal(t, domain.SourceStatusMerged, sr.Status)
				}
			}
			assert.Equal(t, len(tt.wantFailed), res.Report.Failed())
			assert.Equal(t, len(tt.wantFailed), bytes.Count(logs.Bytes(), []byte("level=ERROR")),
				"exactly one error entry per failed source")
		})
	}
}

func TestAggregateDocsUseCase_RegistryOrderWinsRegardlessOfCompletion(t *testing.T) {
	shadow := domain.SourceDescriptor{
		Key: "shadow", FetchURL: "http://shadow/swagger.json",
		GatewayPathPrefix: "/files", SourcePathPrefix: "/api/files",
	}
	shadowDoc := `{"openapi":"3.0.1","info":{"title":"shadow","version":"v1"},"paths":{
	  "/api/files/{id}":{"get":{"summary":"shadow","responses":{"200":{"description":"ok"}}}}}}`

	fetcher := &docFetcher{
		docs: map[string]string{"files": storeDoc, "shadow": shadowDoc},
		// The first source completes last.
		delays: map[string]time.Duration{"files": 50 * time.Millisecond},
	}
	uc := newUseCase([]domain.SourceDescriptor{storeSource, shadow}, fetcher, usecase.AggregateOptions{}, testLogger())

	res := uc.Execute(context.Background())

	assert.Equal(t, "store", res.Document.Paths.Value("/files/{id}").Get.Summary)
	assert.Equal(t, []string{"/files/{id}"}, res.Report.Sources[1].DroppedPaths)
	assert.Equal(t, 0, res.Report.Sources[1].Paths)
}

func TestAggregateDocsUseCase_MergeLogsCarryRequestID(t *testing.T) {
	shadow := domain.SourceDescriptor{
		Key: "shadow", FetchURL: "http://shadow/swagger.json",
		GatewayPathPrefix: "/files", SourcePathPrefix: "/api/files",
	}
	shadowDoc := `{"openapi":"3.0.1","info":{"title":"shadow","version":"v1"},"paths":{
	  "/api/files/{id}":{"get":{"summary":"shadow","responses":{"200":{"description":"ok"}}}}}}`

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	fetcher := &docFetcher{docs: map[string]string{"files": storeDoc, "shadow": shadowDoc}}
	uc := newUseCase([]domain.SourceDescriptor{storeSource, shadow}, fetcher, usecase.AggregateOptions{}, logger)

	uc.Execute(usecase.WithRequestID(context.Background(), "req-collide"))

	var claimed []string
	for _, line := range strings.Split(logs.String(), "\n") {
		if strings.Contains(line, "Path already claimed") {
			claimed = append(claimed, line)
		}
	}
	require.Len(t, claimed, 1)
	assert.Contains(t, claimed[0], "request_id=req-collide")
	assert.Contains(t, claimed[0], "source=shadow")
	assert.Contains(t, claimed[0], "component=accumulator")
}

func TestAggregateDocsUseCase_SourceTimeout(t *testing.T) {
	fetcher := &docFetcher{
		docs:   map[string]string{"files": storeDoc, "analysis": analysisDoc},
		delays: map[string]time.Duration{"files": time.Second},
	}
	uc := newUseCase(
		[]domain.SourceDescriptor{storeSource, analysisSource},
		fetcher,
		usecase.AggregateOptions{SourceTimeout: 20 * time.Millisecond},
		testLogger(),
	)

	start := time.Now()
	res := uc.Execute(context.Background())

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, domain.SourceStatusFailed, res.Report.Sources[0].Status)
	assert.Equal(t, domain.ErrCodeSourceUnreachable, res.Report.Sources[0].ErrorCode)
	assert.Equal(t, domain.SourceStatusMerged, res.Report.Sources[1].Status)
	assert.ElementsMatch(t, []string{"/analysis/{id}"}, keys(res.Document.Paths.Map()))
}

func TestAggregateDocsUseCase_CallerCancellationNotPropagated(t *testing.T) {
	mockFetcher := new(MockDocumentFetcher)
	doc, err := openapi3.NewLoader().LoadFromData([]byte(analysisDoc))
	require.NoError(t, err)

	liveCtx := mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })
	mockFetcher.On("Fetch", liveCtx, analysisSource).Return(domain.APISchema{Source: "analysis", Document: doc}, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	uc := newUseCase([]domain.SourceDescriptor{analysisSource}, mockFetcher, usecase.AggregateOptions{}, testLogger())
	res := uc.Execute(ctx)

	assert.Equal(t, domain.SourceStatusMerged, res.Report.Sources[0].Status)
	assert.Equal(t, 1, res.Document.Paths.Len())
	mockFetcher.AssertExpectations(t)
}

func TestAggregateDocsUseCase_NilDocumentIsMalformed(t *testing.T) {
	mockFetcher := new(MockDocumentFetcher)
	mockFetcher.On("Fetch", mock.Anything, storeSource).Return(domain.APISchema{Source: "files"}, nil).Once()

	uc := newUseCase([]domain.SourceDescriptor{storeSource}, mockFetcher, usecase.AggregateOptions{}, testLogger())
	res := uc.Execute(context.Background())

	assert.Equal(t, domain.ErrCodeSourceMalformed, res.Report.Sources[0].ErrorCode)
	mockFetcher.AssertExpectations(t)
}

func TestAggregateDocsUseCase_Idempotent(t *testing.T) {
	fetcher := &docFetcher{docs: map[string]string{"files": storeDoc, "analysis": analysisDoc}}
	uc := newUseCase([]domain.SourceDescriptor{storeSource, analysisSource}, fetcher, usecase.AggregateOptions{}, testLogger())

	first, err := aggregate.Encode(uc.Execute(context.Background()).Document)
	require.NoError(t, err)
	second, err := aggregate.Encode(uc.Execute(context.Background()).Document)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestAggregateDocsUseCase_DeepRewriteByDefault(t *testing.T) {
	fetcher := &docFetcher{docs: map[string]string{"files": storeDoc}}
	uc := newUseCase([]domain.SourceDescriptor{storeSource}, fetcher, usecase.AggregateOptions{}, testLogger())

	doc := uc.Execute(context.Background()).Document

	file := doc.Components.Schemas["files_File"].Value
	assert.Equal(t, "#/components/schemas/files_Meta", file.Properties["meta"].Ref)
}

func TestAggregateDocsUseCase_OperationsMode(t *testing.T) {
	fetcher := &docFetcher{docs: map[string]string{"files": storeDoc}}
	uc := newUseCase([]domain.SourceDescriptor{storeSource}, fetcher,
		usecase.AggregateOptions{RewriteMode: aggregate.RewriteOperations}, testLogger())

	doc := uc.Execute(context.Background()).Document

	file := doc.Components.Schemas["files_File"].Value
	assert.Equal(t, "#/components/schemas/Meta", file.Properties["meta"].Ref)
}

func TestAggregateDocsUseCase_InfoAndRequestID(t *testing.T) {
	uc := newUseCase(nil, &docFetcher{}, usecase.AggregateOptions{
		Info: openapi3.Info{Title: "Gateway", Version: "2", Description: "merged"},
	}, testLogger())

	res := uc.Execute(usecase.WithRequestID(context.Background(), "req-1"))

	assert.Equal(t, "Gateway", res.Document.Info.Title)
	assert.Equal(t, "2", res.Document.Info.Version)
	assert.Equal(t, "merged", res.Document.Info.Description)
	assert.Equal(t, "req-1", res.Report.RequestID)
	assert.False(t, res.Report.FinishedAt.Before(res.Report.StartedAt))

	// Each run gets its own Info.
	again := uc.Execute(context.Background())
	assert.NotSame(t, res.Document.Info, again.Document.Info)
}

func TestAggregateDocsUseCase_ConcurrencyLimit(t *testing.T) {
	sources := []domain.SourceDescriptor{storeSource, analysisSource}
	fetcher := &docFetcher{docs: map[string]string{"files": storeDoc, "analysis": analysisDoc}}
	uc := newUseCase(sources, fetcher, usecase.AggregateOptions{Concurrency: 1}, testLogger())

	res := uc.Execute(context.Background())

	assert.Zero(t, res.Report.Failed())
	assert.ElementsMatch(t, []string{"files", "analysis"}, fetcher.calls)
}

func TestAggregateDocsUseCase_SavesReport(t *testing.T) {
	repo := new(MockReportRepository)
	repo.On("SaveReport", mock.Anything, mock.MatchedBy(func(r domain.AggregationReport) bool {
		return len(r.Sources) == 1 && r.Sources[0].Status == domain.SourceStatusMerged
	})).Return(errors.New("disk full")).Once()

	fetcher := &docFetcher{docs: map[string]string{"analysis": analysisDoc}}
	uc := usecase.NewAggregateDocsUseCase([]domain.SourceDescriptor{analysisSource}, fetcher, repo, nil, usecase.AggregateOptions{}, testLogger())

	res := uc.Execute(context.Background())

	// A failing repository does not affect the document.
	assert.Equal(t, 1, res.Document.Paths.Len())
	repo.AssertExpectations(t)
}

func TestAggregateDocsUseCase_Sources(t *testing.T) {
	uc := newUseCase([]domain.SourceDescriptor{storeSource, analysisSource}, &docFetcher{}, usecase.AggregateOptions{}, testLogger())

	got := uc.Sources()
	got[0].Key = "mutated"

	assert.Equal(t, "files", uc.Sources()[0].Key)
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
