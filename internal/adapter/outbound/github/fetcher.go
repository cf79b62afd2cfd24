package github

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/i2y/oasgate/internal/adapter/outbound/openapi"
	"github.com/i2y/oasgate/internal/domain"
)

// Fetcher implements usecase.DocumentFetcher for sources whose URL is a
// github:// file.
type Fetcher struct {
	ghClient *GHClient
	logger   *slog.Logger
}

// NewFetcher creates a new GitHub description fetcher
func NewFetcher(client *GHClient, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = NewGHClient()
	}
	return &Fetcher{
		ghClient: client,
		logger:   logger.With("component", "github_fetcher"),
	}
}

// Fetch retrieves and parses a description stored in a GitHub repository.
// Headers on the descriptor are ignored; gh handles authentication.
func (f *Fetcher) Fetch(ctx context.Context, src domain.SourceDescriptor) (domain.APISchema, error) {
	log := f.logger.With(slog.String("source", src.Key))

	if !IsGitHubURL(src.FetchURL) {
		return domain.APISchema{}, domain.NewSourceError(domain.ErrCodeSourceUnreachable, src.Key,
			fmt.Sprintf("not a GitHub URL: %s", src.FetchURL), nil)
	}

	log.Debug("Fetching API description from GitHub", slog.String("url", src.FetchURL))
	content, err := f.ghClient.FetchFile(ctx, src.FetchURL)
	if err != nil {
		return domain.APISchema{}, domain.NewSourceError(domain.ErrCodeSourceUnreachable, src.Key, "failed to fetch file from GitHub", err)
	}
	if len(content) == 0 {
		return domain.APISchema{}, domain.NewSourceError(domain.ErrCodeSourceMalformed, src.Key, "empty file", nil)
	}

	doc, format, err := openapi.ParseDocument(ctx, content)
	if err != nil {
		return domain.APISchema{}, domain.NewSourceError(domain.ErrCodeSourceMalformed, src.Key, "invalid API description", err)
	}
	if validateErr := doc.Validate(ctx); validateErr != nil {
		log.Warn("API description validation failed", slog.Any("validation_error", validateErr))
	}

	return domain.APISchema{
		Source:   src.Key,
		URL:      src.FetchURL,
		Format:   format,
		RawData:  content,
		Document: doc,
	}, nil
}

// LoadGitHubConfig loads a configuration file from GitHub
func LoadGitHubConfig(ctx context.Context, githubURL string) ([]byte, error) {
	if !IsGitHubURL(githubURL) {
		return nil, fmt.Errorf("not a GitHub URL: %s", githubURL)
	}

	content, err := NewGHClient().FetchFile(ctx, githubURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch config from GitHub: %w", err)
	}
	return content, nil
}
