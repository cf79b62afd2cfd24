package router_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/i2y/oasgate/internal/adapter/outbound/router"
	"github.com/i2y/oasgate/internal/domain"
)

// MockDocumentFetcher is a mock implementation of the DocumentFetcher interface.
type MockDocumentFetcher struct {
	mock.Mock
}

func (m *MockDocumentFetcher) Fetch(ctx context.Context, src domain.SourceDescriptor) (domain.APISchema, error) {
	args := m.Called(ctx, src)
	return args.Get(0).(domain.APISchema), args.Error(1)
}

func TestRouter_Fetch(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tests := []struct {
		name      string
		url       string
		wantRoute string // "http", "github" or "" for an error
	}{
		{name: "http", url: "http://files/swagger.json", wantRoute: "http"},
		{name: "https upper case", url: "HTTPS://files/swagger.json", wantRoute: "http"},
		{name: "github", url: "github://acme/files/openapi.yaml", wantRoute: "github"},
		{name: "unknown scheme", url: "ftp://files/swagger.json"},
		{name: "no scheme", url: "files/swagger.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpFetcher, ghFetcher := new(MockDocumentFetcher), new(MockDocumentFetcher)
			src := domain.SourceDescriptor{Key: "files", FetchURL: tt.url}
			want := domain.APISchema{Source: "files"}
			switch tt.wantRoute {
			case "http":
				httpFetcher.On("Fetch", mock.Anything, src).Return(want, nil).Once()
			case "github":
				ghFetcher.On("Fetch", mock.Anything, src).Return(want, nil).Once()
			}

			got, err := router.NewRouter(httpFetcher, ghFetcher, logger).Fetch(context.Background(), src)

			if tt.wantRoute == "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrSourceUnreachable)
			} else {
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
			httpFetcher.AssertExpectations(t)
			ghFetcher.AssertExpectations(t)
		})
	}
}

func TestRouter_GitHubDisabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	r := router.NewRouter(new(MockDocumentFetcher), nil, logger)

	_, err := r.Fetch(context.Background(), domain.SourceDescriptor{Key: "files", FetchURL: "github://acme/files/openapi.yaml"})

	assert.ErrorIs(t, err, domain.ErrSourceUnreachable)
}
