package cliproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	authFilesPath    = "/v0/management/auth-files"
	downloadPath     = "/v0/management/auth-files/download"
	maxDownloadBytes = 1 << 20
	defaultTimeout   = 15 * time.Second
)

// ErrNotConfigured is returned when a call is made without a usable Config.
var ErrNotConfigured = errors.New("cliproxy: not configured")

// ErrResponseTooLarge is returned when a response body exceeds the read limit.
var ErrResponseTooLarge = errors.New("cliproxy: response too large")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cliproxy %s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

// Client calls the CLIProxyAPI management API.
type Client struct {
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a Client. A nil httpClient gets a default with a timeout.
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{http: httpClient, logger: logger.With("component", "cliproxy")}
}

type authFilesResponse struct {
	Files []AuthFile `json:"files"`
}

// ListAuthFiles fetches the account catalog.
func (c *Client) ListAuthFiles(ctx context.Context, cfg Config) ([]AuthFile, error) {
	body, err := c.get(ctx, cfg, "list auth files", authFilesPath, nil)
	if err != nil {
		return nil, err
	}

	var resp authFilesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("cliproxy list auth files: invalid response: %w", err)
	}
	c.logger.Debug("listed auth files", "count", len(resp.Files))
	return resp.Files, nil
}

// DownloadByName fetches the raw credential payload of the named auth file.
func (c *Client) DownloadByName(ctx context.Context, cfg Config, name string) ([]byte, error) {
	return c.get(ctx, cfg, "download auth file", downloadPath, url.Values{"name": {name}})
}

func (c *Client) get(ctx context.Context, cfg Config, op, path string, query url.Values) ([]byte, error) {
	cfg = cfg.Normalized()
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}

	endpoint := cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("cliproxy %s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cliproxy %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("cliproxy %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	if len(body) > maxDownloadBytes {
		return nil, fmt.Errorf("cliproxy %s: %w (limit %d bytes)", op, ErrResponseTooLarge, maxDownloadBytes)
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
