package openapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/i2y/oasgate/internal/domain"
)

var tracer = otel.Tracer("github.com/i2y/oasgate/internal/adapter/outbound/openapi")

// errUnexpectedStatus marks a source that answered with a non-2xx status
// that retryablehttp did not retry. It does not count against the breaker.
var errUnexpectedStatus = errors.New("unexpected status")

// FetcherOptions configures a SchemaFetcher. Zero values fall back to the
// defaults below.
type FetcherOptions struct {
	// Timeout bounds one HTTP attempt.
	Timeout time.Duration
	// RetryMax is the number of retries after the first attempt.
	RetryMax int
	// RetryWaitMin and RetryWaitMax bound the backoff between attempts.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// BreakerThreshold is the number of consecutive failed fetches that
	// opens a source's breaker. Zero disables the breaker.
	BreakerThreshold uint32
	// BreakerOpenTimeout is how long an open breaker rejects fetches
	// before letting one through.
	BreakerOpenTimeout time.Duration
}

const (
	defaultTimeout      = 10 * time.Second
	defaultRetryWaitMin = 100 * time.Millisecond
	defaultRetryWaitMax = 2 * time.Second
	defaultOpenTimeout  = 30 * time.Second
)

// SchemaFetcher implements the usecase.DocumentFetcher interface for
// OpenAPI 3 and Swagger 2 descriptions published over HTTP.
type SchemaFetcher struct {
	client         *retryablehttp.Client
	opts           FetcherOptions
	logger         *slog.Logger
	autoDiscoverer *AutoDiscoverer

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewSchemaFetcher creates a new SchemaFetcher. client is the transport for
// single attempts; nil uses a client with opts.Timeout.
func NewSchemaFetcher(client *http.Client, opts FetcherOptions, logger *slog.Logger) *SchemaFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = defaultRetryWaitMin
	}
	if opts.RetryWaitMax < opts.RetryWaitMin {
		opts.RetryWaitMax = max(defaultRetryWaitMax, opts.RetryWaitMin)
	}
	if opts.BreakerOpenTimeout <= 0 {
		opts.BreakerOpenTimeout = defaultOpenTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	logger = logger.With("component", "openapi_fetcher")

	rc := retryablehttp.NewClient()
	rc.HTTPClient = client
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = opts.RetryWaitMin
	rc.RetryWaitMax = opts.RetryWaitMax
	rc.Logger = retryLogger{logger.With("subsystem", "retryablehttp")}

	return &SchemaFetcher{
		client:         rc,
		opts:           opts,
		logger:         logger,
		autoDiscoverer: NewAutoDiscoverer(client, logger),
		breakers:       make(map[string]*gobreaker.CircuitBreaker),
	}
}

// retryLogger adapts slog to retryablehttp.LeveledLogger at debug level.
// A failed fetch is reported once by the caller, with its source key.
type retryLogger struct {
	logger *slog.Logger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

// Fetch retrieves and parses the description of one source. Every failure
// is a *domain.SourceError.
func (f *SchemaFetcher) Fetch(ctx context.Context, src domain.SourceDescriptor) (domain.APISchema, error) {
	ctx, span := tracer.Start(ctx, "fetch_source", trace.WithAttributes(
		attribute.String("source.key", src.Key),
		attribute.String("source.url", src.FetchURL),
	))
	defer span.End()

	schema, err := f.fetch(ctx, src)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.CodeOf(err)))
	}
	return schema, err
}

func (f *SchemaFetcher) fetch(ctx context.Context, src domain.SourceDescriptor) (domain.APISchema, error) {
	log := f.logger.With(slog.String("source", src.Key))

	target := src.FetchURL
	if src.Discover {
		target = f.autoDiscoverer.ResolveSchemaSource(ctx, src.FetchURL, src.Headers)
		if target != src.FetchURL {
			log.Debug("Auto-discovered API description", slog.String("resolved_url", target))
		}
	}

	log.Debug("Fetching API description", slog.String("url", target))
	body, err := f.download(ctx, src, target)
	if err != nil {
		return domain.APISchema{}, err
	}

	doc, format, err := ParseDocument(ctx, body)
	if err != nil {
		return domain.APISchema{}, domain.NewSourceError(domain.ErrCodeSourceMalformed, src.Key, "invalid API description", err)
	}
	if validateErr := doc.Validate(ctx); validateErr != nil {
		log.Warn("API description validation failed", slog.Any("validation_error", validateErr))
	}

	log.Debug("Fetched API description",
		slog.String("format", string(format)),
		slog.Int("bytes", len(body)))
	return domain.APISchema{
		Source:   src.Key,
		URL:      target,
		Format:   format,
		RawData:  body,
		Document: doc,
	}, nil
}

// download performs the GET through the source's breaker. Transport errors,
// timeouts and retryable statuses (5xx, 429) that exhausted their retries
// count against the breaker. A non-retryable status such as 404 and a
// malformed body do not.
func (f *SchemaFetcher) download(ctx context.Context, src domain.SourceDescriptor, target string) ([]byte, error) {
	get := func() (interface{}, error) {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, domain.NewSourceError(domain.ErrCodeSourceUnreachable, src.Key, "failed to create request", err)
		}
		req.Header.Set("Accept", "application/json, application/yaml, application/vnd.oai.openapi+json")
		req.Header.Set("User-Agent", userAgent)
		for key, value := range src.Headers {
			req.Header.Set(key, value)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, domain.NewSourceError(domain.ErrCodeSourceUnreachable, src.Key, "GET "+target+" failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, domain.NewSourceError(domain.ErrCodeSourceUnreachable, src.Key,
				fmt.Sprintf("GET %s returned status %s", target, resp.Status), errUnexpectedStatus)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, domain.NewSourceError(domain.ErrCodeSourceUnreachable, src.Key, "failed to read response body", err)
		}
		return body, nil
	}

	cb := f.breaker(src.Key)
	var (
		out interface{}
		err error
	)
	if cb == nil {
		out, err = get()
	} else {
		out, err = cb.Execute(get)
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domain.NewSourceError(domain.ErrCodeSourceUnreachable, src.Key, "circuit breaker open", err)
	}
	if err != nil {
		return nil, err
	}

	body := out.([]byte)
	if len(body) == 0 {
		return nil, domain.NewSourceError(domain.ErrCodeSourceMalformed, src.Key, "empty response body", nil)
	}
	return body, nil
}

// breaker returns the breaker for key, creating it on first use.
func (f *SchemaFetcher) breaker(key string) *gobreaker.CircuitBreaker {
	if f.opts.BreakerThreshold == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if cb, ok := f.breakers[key]; ok {
		return cb
	}
	threshold := f.opts.BreakerThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     f.opts.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errUnexpectedStatus)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			f.logger.Info("circuit breaker state change",
				slog.String("source", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	f.breakers[key] = cb
	return cb
}

type versionProbe struct {
	OpenAPI string `yaml:"openapi"`
	Swagger string `yaml:"swagger"`
}

// ParseDocument loads a JSON or YAML description. Swagger 2 documents are
// converted to OpenAPI 3.
func ParseDocument(ctx context.Context, data []byte) (*openapi3.T, domain.SchemaFormat, error) {
	var probe versionProbe
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, "", fmt.Errorf("failed to decode document: %w", err)
	}

	loader := &openapi3.Loader{Context: ctx}
	switch {
	case probe.OpenAPI != "":
		doc, err := loader.LoadFromData(data)
		if err != nil {
			return nil, "", fmt.Errorf("failed to parse OpenAPI document: %w", err)
		}
		return doc, domain.SchemaFormatOpenAPI3, nil

	case probe.Swagger != "":
		v3, err := convertSwagger2(data)
		if err != nil {
			return nil, "", err
		}
		// Round-trip so that the loader resolves every reference.
		encoded, err := json.Marshal(v3)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode converted document: %w", err)
		}
		doc, err := loader.LoadFromData(encoded)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load converted document: %w", err)
		}
		return doc, domain.SchemaFormatSwagger2, nil

	default:
		return nil, "", errors.New("document has neither an openapi nor a swagger version field")
	}
}

func convertSwagger2(data []byte) (*openapi3.T, error) {
	var doc2 openapi2.T
	if err := json.Unmarshal(data, &doc2); err != nil {
		// Not JSON; go through a generic YAML decode.
		var generic map[string]interface{}
		if yerr := yaml.Unmarshal(data, &generic); yerr != nil {
			return nil, fmt.Errorf("failed to decode Swagger 2 document: %w", yerr)
		}
		asJSON, jerr := json.Marshal(generic)
		if jerr != nil {
			return nil, fmt.Errorf("failed to decode Swagger 2 document: %w", jerr)
		}
		if err := json.Unmarshal(asJSON, &doc2); err != nil {
			return nil, fmt.Errorf("failed to decode Swagger 2 document: %w", err)
		}
	}
	doc3, err := openapi2conv.ToV3(&doc2)
	if err != nil {
		return nil, fmt.Errorf("failed to convert Swagger 2 document: %w", err)
	}
	return doc3, nil
}
