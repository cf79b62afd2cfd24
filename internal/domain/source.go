package domain

import (
	"errors"
	"fmt"
	"regexp"
)

// SourceDescriptor describes one backend service whose API description is
// merged into the gateway document. Descriptors are loaded once at startup
// and never modified afterwards.
type SourceDescriptor struct {
	// Key is unique across the registry and prefixes every schema name
	// taken from this source.
	Key string `yaml:"key" json:"key"`
	// DisplayName is a human readable label for logs and the admin API.
	DisplayName string `yaml:"name" json:"name"`
	// FetchURL is where the source publishes its description.
	FetchURL string `yaml:"url" json:"url"`
	// GatewayPathPrefix is the public prefix the gateway exposes the
	// source's routes under (e.g. "/files").
	GatewayPathPrefix string `yaml:"gateway_path_prefix" json:"gateway_path_prefix"`
	// SourcePathPrefix is the prefix of the source's own routes that is
	// replaced by GatewayPathPrefix (e.g. "/api/files").
	SourcePathPrefix string `yaml:"source_path_prefix" json:"source_path_prefix"`
	// Headers are sent with every fetch of this source's description.
	Headers map[string]string `yaml:"headers,omitempty" json:"-"`
	// Discover treats FetchURL as a base URL and probes well-known
	// description paths below it.
	Discover bool `yaml:"discover,omitempty" json:"discover,omitempty"`
}

// Name returns DisplayName, falling back to Key.
func (d SourceDescriptor) Name() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Key
}

// sourceKeyPattern restricts keys to OpenAPI component-name characters
// minus '_'. The key is joined to schema names with '_', so a key without
// one keeps "{key}_{name}" unique across sources.
var sourceKeyPattern = regexp.MustCompile(`^[A-Za-z0-9.\-]+$`)

// Validate checks a single descriptor.
func (d SourceDescriptor) Validate() error {
	if d.Key == "" {
		return errors.New("source key is required")
	}
	if !sourceKeyPattern.MatchString(d.Key) {
		return fmt.Errorf("source key %q may only contain letters, digits, '.' and '-'", d.Key)
	}
	if d.FetchURL == "" {
		return fmt.Errorf("source %q: url is required", d.Key)
	}
	return nil
}

// ValidateSources checks every descriptor and rejects duplicate keys.
// Order is preserved by the caller; it is the merge order.
func ValidateSources(sources []SourceDescriptor) error {
	seen := make(map[string]struct{}, len(sources))
	var errs []error
	for i, s := range sources {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("sources[%d]: %w", i, err))
			continue
		}
		if _, dup := seen[s.Key]; dup {
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate source key %q", i, s.Key))
			continue
		}
		seen[s.Key] = struct{}{}
	}
	return errors.Join(errs...)
}
