package configs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/i2y/oasgate/internal/adapter/outbound/github"
	"github.com/i2y/oasgate/internal/aggregate"
	"github.com/i2y/oasgate/internal/domain"
)

const envPrefix = "oasgate"

// DocumentInfo is the info block of the aggregated document.
type DocumentInfo struct {
	Title       string `yaml:"title"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

// FileConfig defines the structure loaded from the YAML configuration file.
type FileConfig struct {
	Document DocumentInfo              `yaml:"document"`
	Sources  []domain.SourceDescriptor `yaml:"sources"`
}

// Config holds the final application configuration, merged from file and environment variables.
// Fields are loaded from environment variables with the prefix "OASGATE_", potentially overriding file settings.
type Config struct {
	// Config File Path (Loaded first from env)
	ConfigFilePath string `envconfig:"CONFIG_FILE" default:"configs/oasgate.yaml"`

	// File-loaded fields
	Document DocumentInfo              `ignored:"true"`
	Sources  []domain.SourceDescriptor `ignored:"true"`

	// Environment-overridable fields
	ListenAddr    string `envconfig:"LISTEN_ADDR" default:":8080"`
	MCPListenAddr string `envconfig:"MCP_LISTEN_ADDR"`
	Environment   string `envconfig:"ENVIRONMENT" default:"production"`

	HTTPClientTimeout       time.Duration `envconfig:"HTTP_CLIENT_TIMEOUT" default:"10s"`
	SourceTimeout           time.Duration `envconfig:"SOURCE_TIMEOUT" default:"30s"`
	FetchRetries            int           `envconfig:"FETCH_RETRIES" default:"2"`
	RetryWaitMin            time.Duration `envconfig:"RETRY_WAIT_MIN" default:"200ms"`
	RetryWaitMax            time.Duration `envconfig:"RETRY_WAIT_MAX" default:"2s"`
	FetchConcurrency        int           `envconfig:"FETCH_CONCURRENCY" default:"8"`
	BreakerFailureThreshold uint32        `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	BreakerOpenTimeout      time.Duration `envconfig:"BREAKER_OPEN_TIMEOUT" default:"30s"`
	RewriteMode             string        `envconfig:"REWRITE_MODE" default:"deep"`
	GitHubSources           bool          `envconfig:"GITHUB_SOURCES" default:"true"`

	ShutdownTimeout          time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
	ServerReadTimeout        time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"5s"`
	ServerWriteTimeout       time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"60s"`
	ServerIdleTimeout        time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"120s"`
	OtelExporterOtlpEndpoint string        `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelExporterOtlpInsecure bool          `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	LogLevel                 string        `envconfig:"LOG_LEVEL" default:"info"`
}

// ParsedLogLevel returns the slog.Level based on the configured LogLevel string.
func (c *Config) ParsedLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		fallthrough
	default:
		return slog.LevelInfo
	}
}

// DocsEnabled reports whether the aggregated document and its UI are served.
func (c *Config) DocsEnabled() bool {
	return strings.EqualFold(c.Environment, "development")
}

// ParsedRewriteMode returns the configured reference rewrite mode.
func (c *Config) ParsedRewriteMode() (aggregate.RewriteMode, error) {
	return aggregate.ParseRewriteMode(c.RewriteMode)
}

// Validate checks values that envconfig and YAML decoding cannot.
func (c *Config) Validate() error {
	var errs []error
	if err := domain.ValidateSources(c.Sources); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ParsedRewriteMode(); err != nil {
		errs = append(errs, err)
	}
	if c.FetchRetries < 0 {
		errs = append(errs, fmt.Errorf("FETCH_RETRIES must not be negative, got %d", c.FetchRetries))
	}
	if c.RetryWaitMax < c.RetryWaitMin {
		errs = append(errs, fmt.Errorf("RETRY_WAIT_MAX (%s) must not be below RETRY_WAIT_MIN (%s)", c.RetryWaitMax, c.RetryWaitMin))
	}
	if c.HTTPClientTimeout <= 0 {
		errs = append(errs, errors.New("HTTP_CLIENT_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// Load loads configuration first from environment variables (to get file path),
// then from the specified YAML file, and finally merges/overrides with environment variables again.
func Load() (*Config, error) {
	// 1. Load initial config from Env (primarily to get ConfigFilePath)
	var initialCfg Config
	if err := envconfig.Process(envPrefix, &initialCfg); err != nil {
		return nil, fmt.Errorf("failed to process initial environment variables: %w", err)
	}

	// 2. Load config from YAML file if path is specified
	fileCfg := FileConfig{}
	if initialCfg.ConfigFilePath != "" {
		yamlFile, err := readConfigFile(initialCfg.ConfigFilePath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(yamlFile, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file '%s': %w", initialCfg.ConfigFilePath, err)
		}
	} else {
		slog.Info("No config file path specified (OASGATE_CONFIG_FILE), using defaults/env vars only.")
	}

	// 3. Create final config, starting with file values, then process Env vars again for overrides.
	finalCfg := initialCfg
	finalCfg.Document = fileCfg.Document
	finalCfg.Sources = fileCfg.Sources

	if err := envconfig.Process(envPrefix, &finalCfg); err != nil {
		return nil, fmt.Errorf("failed to process overriding environment variables: %w", err)
	}

	if err := finalCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &finalCfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	if github.IsGitHubURL(path) {
		data, err := github.LoadGitHubConfig(context.Background(), path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from GitHub '%s': %w", path, err)
		}
		slog.Info("Loaded configuration from GitHub.", "url", path)
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	slog.Info("Loaded configuration from file.", "path", path)
	return data, nil
}
