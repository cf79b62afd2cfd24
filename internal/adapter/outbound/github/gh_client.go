package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os/exec"
	"strings"
)

// Scheme is the URL scheme of files read through the gh CLI.
const Scheme = "github://"

// runFunc runs name with args and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// GHClient wraps the gh CLI command for GitHub operations
type GHClient struct {
	run runFunc
}

// NewGHClient creates a new GitHub client
func NewGHClient() *GHClient {
	return &GHClient{run: execRun}
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%s command failed: %s", name, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%s command failed: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// Location is a parsed github:// URL.
type Location struct {
	Owner string
	Repo  string
	Path  string
	Ref   string
}

// ParseURL parses a github:// URL into its components
// Format: github://owner/repo/path/to/file[@ref]
func ParseURL(githubURL string) (Location, error) {
	if !IsGitHubURL(githubURL) {
		return Location{}, fmt.Errorf("invalid GitHub URL format: %s", githubURL)
	}
	urlPath := strings.TrimPrefix(githubURL, Scheme)

	var loc Location
	if at := strings.LastIndex(urlPath, "@"); at >= 0 {
		loc.Ref = urlPath[at+1:]
		urlPath = urlPath[:at]
	}

	pathParts := strings.SplitN(urlPath, "/", 3)
	if len(pathParts) < 3 || pathParts[0] == "" || pathParts[1] == "" || pathParts[2] == "" {
		return Location{}, fmt.Errorf("invalid GitHub URL format: expected github://owner/repo/path/to/file")
	}
	loc.Owner, loc.Repo, loc.Path = pathParts[0], pathParts[1], pathParts[2]
	return loc, nil
}

// apiPath is the contents API path for loc.
func (l Location) apiPath() string {
	p := fmt.Sprintf("repos/%s/%s/contents/%s", l.Owner, l.Repo, l.Path)
	if l.Ref != "" {
		p += "?ref=" + l.Ref
	}
	return p
}

// FetchFile retrieves a file from GitHub using the gh CLI. Authentication is
// whatever gh is logged in with.
func (c *GHClient) FetchFile(ctx context.Context, githubURL string) ([]byte, error) {
	loc, err := ParseURL(githubURL)
	if err != nil {
		return nil, err
	}

	out, err := c.run(ctx, "gh", "api", loc.apiPath(), "--jq", ".content")
	if err != nil {
		return nil, err
	}

	// The contents API wraps base64 at 60 columns.
	encoded := strings.Join(strings.Fields(string(out)), "")
	if encoded == "" {
		return nil, fmt.Errorf("empty response from GitHub")
	}
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 content: %w", err)
	}
	return content, nil
}

// CheckAuth verifies that the gh CLI is installed and authenticated
func (c *GHClient) CheckAuth(ctx context.Context) error {
	_, err := c.run(ctx, "gh", "auth", "status")
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not found"):
		return fmt.Errorf("gh CLI is not installed. Please install it from https://cli.github.com/")
	case strings.Contains(msg, "not logged in"):
		return fmt.Errorf("gh CLI is not authenticated. Please run 'gh auth login' first")
	default:
		return fmt.Errorf("gh auth check failed: %w", err)
	}
}

// IsGitHubURL checks if a URL is a GitHub URL
func IsGitHubURL(url string) bool {
	return strings.HasPrefix(url, Scheme)
}
