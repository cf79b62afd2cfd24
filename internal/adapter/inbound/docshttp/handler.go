package docshttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/i2y/oasgate/internal/aggregate"
	"github.com/i2y/oasgate/internal/usecase"
)

// Route paths served by Handlers.
const (
	AggregatedDocPath = "/swagger/custom/aggregated-v1/swagger.json"
	SwaggerUIPath     = "/swagger"
	SourcesPath       = "/admin/sources"
	HealthPath        = "/healthz"
	MetricsPath       = "/metrics"
)

// Response headers set on the aggregated document.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderSources       = "X-Aggregation-Sources"
	HeaderFailedSources = "X-Aggregation-Failed-Sources"
)

// Aggregator runs one aggregation.
type Aggregator interface {
	Execute(ctx context.Context) usecase.AggregationResult
}

// SourceLister describes the configured sources.
type SourceLister interface {
	Execute(ctx context.Context) (usecase.SourcesOverview, error)
}

// Handlers struct holds dependencies for the HTTP handlers.
type Handlers struct {
	aggregator Aggregator
	lister     SourceLister
	logger     *slog.Logger
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(aggregator Aggregator, lister SourceLister, logger *slog.Logger) *Handlers {
	return &Handlers{
		aggregator: aggregator,
		lister:     lister,
		logger:     logger.With("component", "docshttp_handler"),
	}
}

// RegisterDocsRoutes sets up the aggregated document and its UI.
func (h *Handlers) RegisterDocsRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+AggregatedDocPath, h.handleAggregatedDoc)
	mux.HandleFunc("GET "+SwaggerUIPath, h.handleSwaggerUI)
}

// RegisterAdminRoutes sets up the HTTP routes for admin endpoints.
func (h *Handlers) RegisterAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+SourcesPath, h.handleListSources)
}

// RegisterHealthRoutes sets up liveness and, when metrics is non-nil, the
// metrics endpoint.
func (h *Handlers) RegisterHealthRoutes(mux *http.ServeMux, metrics http.Handler) {
	mux.HandleFunc("GET "+HealthPath, h.handleHealth)
	if metrics != nil {
		mux.Handle("GET "+MetricsPath, metrics)
	}
}

// handleAggregatedDoc implements GET /swagger/custom/aggregated-v1/swagger.json.
// Source failures never fail the request; only encoding does.
func (h *Handlers) handleAggregatedDoc(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(HeaderRequestID, requestID)
	log := h.logger.With(slog.String("request_id", requestID))

	res := h.aggregator.Execute(usecase.WithRequestID(r.Context(), requestID))

	body, err := aggregate.Encode(res.Document)
	if err != nil {
		log.Error("Failed to encode aggregated document", slog.Any("error", err))
		http.Error(w, "Failed to encode aggregated document", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderSources, strconv.Itoa(len(res.Report.Sources)))
	w.Header().Set(HeaderFailedSources, strconv.Itoa(res.Report.Failed()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Warn("Failed to write aggregated document", slog.Any("error", err))
	}
}

// handleListSources implements GET /admin/sources
func (h *Handlers) handleListSources(w http.ResponseWriter, r *http.Request) {
	overview, err := h.lister.Execute(r.Context())
	if err != nil {
		h.logger.Error("Failed to list sources", slog.Any("error", err))
		http.Error(w, fmt.Sprintf("Failed to list sources: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, overview)
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) handleSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, swaggerUIPage, AggregatedDocPath)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write JSON response", slog.Any("error", err))
	}
}

const swaggerUIPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Aggregated API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.onload = function () {
      window.ui = SwaggerUIBundle({url: %q, dom_id: "#swagger-ui"});
    };
  </script>
</body>
</html>
`
