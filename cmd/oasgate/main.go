package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/getkin/kin-openapi/openapi3"
	mcpGoServer "github.com/mark3labs/mcp-go/server"

	"github.com/i2y/oasgate/configs"
	"github.com/i2y/oasgate/internal/adapter/inbound/docshttp"
	"github.com/i2y/oasgate/internal/adapter/inbound/mcptools"
	"github.com/i2y/oasgate/internal/adapter/outbound/github"
	"github.com/i2y/oasgate/internal/adapter/outbound/memrepo"
	"github.com/i2y/oasgate/internal/adapter/outbound/metrics"
	"github.com/i2y/oasgate/internal/adapter/outbound/openapi"
	"github.com/i2y/oasgate/internal/adapter/outbound/router"
	"github.com/i2y/oasgate/internal/aggregate"
	"github.com/i2y/oasgate/internal/usecase"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const version = "0.1.0"

func main() {
	// === Command Line Flags ===
	var transport string
	var dump bool
	flag.StringVar(&transport, "transport", "http", "Transport mode: http or stdio (MCP over stdin/stdout)")
	flag.BoolVar(&dump, "dump", false, "Aggregate once, write the document to stdout and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === Configuration ===
	cfg, err := configs.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// === Logging ===
	logLevel := cfg.ParsedLogLevel()
	var logger *slog.Logger

	if transport == "stdio" {
		// In STDIO mode, log to file to avoid interfering with stdio communication
		logFile, err := os.OpenFile("/tmp/oasgate.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: logLevel}))
		} else {
			defer logFile.Close()
			logger = slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: logLevel}))
		}
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	}

	slog.SetDefault(logger)
	logger.Info("Logger initialized.", slog.String("level", logLevel.String()), slog.String("transport", transport))

	// === OpenTelemetry Initialization ===
	shutdownOtel, err := initOtelProvider(cfg)
	if err != nil {
		logger.Error("Failed to initialize OpenTelemetry.", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			logger.Error("Failed to shutdown OpenTelemetry TracerProvider.", slog.Any("error", err))
		}
	}()

	// === Dependency Injection ===
	rewriteMode, _ := cfg.ParsedRewriteMode() // validated by configs.Load
	recorder := metrics.NewRecorder()
	reports := memrepo.NewInMemoryReportRepository(logger)

	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}
	httpFetcher := openapi.NewSchemaFetcher(httpClient, openapi.FetcherOptions{
		Timeout:            cfg.HTTPClientTimeout,
		RetryMax:           cfg.FetchRetries,
		RetryWaitMin:       cfg.RetryWaitMin,
		RetryWaitMax:       cfg.RetryWaitMax,
		BreakerThreshold:   cfg.BreakerFailureThreshold,
		BreakerOpenTimeout: cfg.BreakerOpenTimeout,
	}, logger)
	var ghFetcher usecase.DocumentFetcher
	if cfg.GitHubSources {
		ghFetcher = github.NewFetcher(nil, logger)
	}
	fetcher := router.NewRouter(httpFetcher, ghFetcher, logger)
	logger.Debug("Fetchers initialized.",
		slog.Duration("timeout", cfg.HTTPClientTimeout),
		slog.Int("retries", cfg.FetchRetries),
		slog.Bool("github_sources", cfg.GitHubSources))

	aggregateUC := usecase.NewAggregateDocsUseCase(cfg.Sources, fetcher, reports, recorder, usecase.AggregateOptions{
		Info: openapi3.Info{
			Title:       cfg.Document.Title,
			Version:     cfg.Document.Version,
			Description: cfg.Document.Description,
		},
		RewriteMode:   rewriteMode,
		SourceTimeout: cfg.SourceTimeout,
		Concurrency:   cfg.FetchConcurrency,
	}, logger)
	listUC := usecase.NewListSourcesUseCase(cfg.Sources, reports, logger)
	logger.Info("Sources configured.", slog.Int("count", len(cfg.Sources)), slog.String("rewrite_mode", string(rewriteMode)))

	if dump {
		res := aggregateUC.Execute(ctx)
		if err := aggregate.WriteDocument(os.Stdout, res.Document); err != nil {
			logger.Error("Failed to write aggregated document.", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	// === MCP Server (mark3labs/mcp-go) ===
	mcpSrv := mcpGoServer.NewMCPServer("oasgate", version)
	mcptools.NewTools(aggregateUC, listUC, logger).Register(mcpSrv)

	// === Transport Mode Selection ===
	switch transport {
	case "stdio":
		logger.Info("Starting in STDIO mode")
		stdioServer := mcpGoServer.NewStdioServer(mcpSrv)
		if err := stdioServer.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("STDIO server error", slog.Any("error", err))
			os.Exit(1)
		}

	case "http":
		runHTTP(ctx, stop, cfg, aggregateUC, listUC, recorder, mcpSrv, logger)

	default:
		logger.Error("Invalid transport mode", slog.String("transport", transport))
		os.Exit(1)
	}
}

func runHTTP(
	ctx context.Context,
	stop context.CancelFunc,
	cfg *configs.Config,
	aggregateUC *usecase.AggregateDocsUseCase,
	listUC *usecase.ListSourcesUseCase,
	recorder *metrics.Recorder,
	mcpSrv *mcpGoServer.MCPServer,
	logger *slog.Logger,
) {
	// === Gateway HTTP Server Setup ===
	mux := http.NewServeMux()
	handlers := docshttp.NewHandlers(aggregateUC, listUC, logger)
	if cfg.DocsEnabled() {
		handlers.RegisterDocsRoutes(mux)
		logger.Info("Aggregated API description enabled.",
			slog.String("document", docshttp.AggregatedDocPath),
			slog.String("ui", docshttp.SwaggerUIPath))
	} else {
		logger.Info("Aggregated API description disabled outside development.", slog.String("environment", cfg.Environment))
	}
	handlers.RegisterAdminRoutes(mux)
	handlers.RegisterHealthRoutes(mux, recorder.Handler())

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}
	go func() {
		logger.Info("Gateway HTTP server starting.", slog.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Gateway HTTP server failed to start.", slog.Any("error", err))
			stop()
		}
	}()

	// === MCP SSE Server Startup ===
	var sseServer *mcpGoServer.SSEServer
	if cfg.MCPListenAddr != "" {
		sseServer = mcpGoServer.NewSSEServer(mcpSrv, mcpGoServer.WithBaseURL("http://"+cfg.MCPListenAddr))
		go func() {
			logger.Info("MCP SSE server starting.", slog.String("address", cfg.MCPListenAddr))
			if err := sseServer.Start(cfg.MCPListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("MCP SSE server failed to start.", slog.Any("error", err))
				stop()
			}
		}()
	}

	// Wait for interrupt signal.
	<-ctx.Done()

	// === Server Shutdown ===
	logger.Info("Shutting down servers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Gateway HTTP server graceful shutdown failed.", slog.Any("error", err))
	}
	if sseServer != nil {
		if err := sseServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("MCP SSE server graceful shutdown failed.", slog.Any("error", err))
		}
	}
	logger.Info("Servers shut down gracefully.")
}

// initOtelProvider initializes the OpenTelemetry SDK and sets up the OTLP trace exporter.
// It returns a shutdown function to be called on application exit.
func initOtelProvider(cfg *configs.Config) (func(context.Context) error, error) {
	ctx := context.Background()

	if cfg.OtelExporterOtlpEndpoint == "" {
		slog.Info("OASGATE_OTEL_EXPORTER_OTLP_ENDPOINT not set, OpenTelemetry tracing disabled.")
		return func(context.Context) error { return nil }, nil
	}

	slog.Info("Initializing OTLP exporter.", slog.String("endpoint", cfg.OtelExporterOtlpEndpoint))

	grpcOpts := []grpc.DialOption{}
	if cfg.OtelExporterOtlpInsecure {
		grpcOpts = append(grpcOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		slog.Warn("Using insecure connection for OTLP exporter.")
	}

	conn, err := grpc.NewClient(cfg.OtelExporterOtlpEndpoint, grpcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to OTLP endpoint: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("oasgate"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(r),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	slog.Info("OpenTelemetry TracerProvider configured.")

	return func(ctx context.Context) error {
		providerErr := tp.Shutdown(ctx)
		connErr := conn.Close()
		return errors.Join(providerErr, connErr)
	}, nil
}
