package openapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const userAgent = "oasgate/1.0"

// probeTimeout bounds a single discovery probe.
const probeTimeout = 5 * time.Second

// Common description paths used by various frameworks
var commonOpenAPIPaths = []string{
	"/swagger/v1/swagger.json", // .NET default
	"/openapi.json",            // FastAPI default
	"/docs/openapi.json",       // Alternative FastAPI path
	"/swagger.json",            // Swagger 2.0
	"/v3/api-docs",             // SpringDoc OpenAPI 3.0
	"/api-docs",                // SpringFox
	"/api/openapi.json",        // Custom API prefix
	"/api/v1/openapi.json",     // Versioned API
	"/api/swagger.json",        // Alternative swagger path
	"/_spec",                   // Some Node.js frameworks
	"/spec",                    // Alternative spec path
	"/api-spec.json",           // Custom spec name
}

// AutoDiscoverer finds a published description under a service's base URL.
type AutoDiscoverer struct {
	client *http.Client
	logger *slog.Logger
}

// NewAutoDiscoverer creates a new AutoDiscoverer. Probes are single attempts
// on client; they are never retried.
func NewAutoDiscoverer(client *http.Client, logger *slog.Logger) *AutoDiscoverer {
	if client == nil {
		client = http.DefaultClient
	}
	return &AutoDiscoverer{
		client: client,
		logger: logger.With("component", "openapi_autodiscoverer"),
	}
}

// ResolveSchemaSource returns the URL to fetch for source. A URL that
// already names a description is returned as-is; a base URL is probed. When
// nothing is found the original source is returned so that the fetch
// reports the real failure.
func (d *AutoDiscoverer) ResolveSchemaSource(ctx context.Context, source string, headers map[string]string) string {
	log := d.logger.With(slog.String("source", source))

	if looksLikeDescriptionURL(source) {
		log.Debug("Source appears to be a direct description URL")
		return source
	}

	discovered, err := d.DiscoverSchema(ctx, source, headers)
	if err != nil {
		log.Warn("Auto-discovery failed, using original source", slog.Any("error", err))
		return source
	}
	return discovered
}

// DiscoverSchema probes commonOpenAPIPaths under baseURL in order and
// returns the first that answers 200 with a JSON or YAML content type.
func (d *AutoDiscoverer) DiscoverSchema(ctx context.Context, baseURL string, headers map[string]string) (string, error) {
	log := d.logger.With(slog.String("base_url", baseURL))

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", fmt.Errorf("base URL must include scheme (http:// or https://)")
	}

	base := strings.TrimRight(baseURL, "/")
	for _, path := range commonOpenAPIPaths {
		testURL := base + path
		valid, err := d.probe(ctx, testURL, headers)
		if err != nil {
			log.Debug("Error checking path", slog.String("url", testURL), slog.Any("error", err))
			continue
		}
		if valid {
			log.Info("Found API description", slog.String("url", testURL))
			return testURL, nil
		}
	}

	return "", fmt.Errorf("no API description found at base URL: %s", baseURL)
}

func (d *AutoDiscoverer) probe(ctx context.Context, testURL string, headers map[string]string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, testURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json, application/vnd.oai.openapi+json, application/yaml")
	req.Header.Set("User-Agent", userAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	contentType := resp.Header.Get("Content-Type")
	return strings.Contains(contentType, "json") || strings.Contains(contentType, "yaml"), nil
}

func looksLikeDescriptionURL(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasSuffix(lower, ".json") ||
		strings.HasSuffix(lower, ".yaml") ||
		strings.HasSuffix(lower, ".yml") ||
		strings.Contains(lower, "openapi") ||
		strings.Contains(lower, "swagger") ||
		strings.Contains(lower, "api-docs")
}
