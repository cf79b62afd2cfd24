package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/i2y/oasgate/internal/adapter/outbound/github"
	"github.com/i2y/oasgate/internal/domain"
	"github.com/i2y/oasgate/internal/usecase"
)

// Router implements usecase.DocumentFetcher and routes fetches based on the
// scheme of the source URL.
type Router struct {
	httpFetcher   usecase.DocumentFetcher
	githubFetcher usecase.DocumentFetcher
	logger        *slog.Logger
}

// NewRouter creates a new fetch router. githubFetcher may be nil, in which
// case github:// sources fail as unreachable.
func NewRouter(httpFetcher, githubFetcher usecase.DocumentFetcher, logger *slog.Logger) *Router {
	return &Router{
		httpFetcher:   httpFetcher,
		githubFetcher: githubFetcher,
		logger:        logger.With("component", "fetch_router"),
	}
}

// Fetch routes src to the fetcher for its URL scheme.
func (r *Router) Fetch(ctx context.Context, src domain.SourceDescriptor) (domain.APISchema, error) {
	lower := strings.ToLower(src.FetchURL)

	switch {
	case github.IsGitHubURL(src.FetchURL):
		if r.githubFetcher == nil {
			return domain.APISchema{}, domain.NewSourceError(domain.ErrCodeSourceUnreachable, src.Key, "GitHub sources are disabled", nil)
		}
		r.logger.Debug("Routing to GitHub fetcher", slog.String("source", src.Key))
		return r.githubFetcher.Fetch(ctx, src)

	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return r.httpFetcher.Fetch(ctx, src)

	default:
		r.logger.Debug("Unknown source URL scheme", slog.String("source", src.Key), slog.String("url", src.FetchURL))
		return domain.APISchema{}, domain.NewSourceError(domain.ErrCodeSourceUnreachable, src.Key,
			fmt.Sprintf("unsupported URL scheme: %s", src.FetchURL), nil)
	}
}
