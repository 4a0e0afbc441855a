// Package gateway provides the authenticated HTTP client for the hosted
// Frigade API.
//
// It normalizes transport failures and non-2xx responses into a uniform
// TransportError shape so callers can degrade gracefully instead of crashing.
// Retry policy belongs to callers; every request here is single-attempt.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/frigade/frigade-go/internal/models"
)

// Default configuration constants
const (
	// DefaultBaseURL is the public endpoint of the hosted Frigade API.
	DefaultBaseURL = "https://api.frigade.com/v1/public"
	// DefaultTimeout bounds a single request round-trip.
	DefaultTimeout = 10 * time.Second
	// maxErrorBodyBytes limits how much of an error response body is kept for diagnostics.
	maxErrorBodyBytes = 512
)

// Opts holds configuration options for the gateway client.
type Opts struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Option defines a configuration option for the gateway client.
type Option func(*Opts)

// WithBaseURL overrides the hosted API endpoint (primarily for tests).
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithHTTPClient supplies a custom http.Client (proxies, instrumentation).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// Client issues authenticated requests against the hosted API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a gateway client for the given public API key, applying
// any provided options for customization.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, models.ErrEmptyAPIKey
	}
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	slog.Debug("gateway.NewClient: created client", "baseURL", cfg.BaseURL, "timeout", cfg.Timeout)
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
	}, nil
}

// Do issues a single request to the hosted API. The path is relative
// (e.g. "/flows"); body, when non-nil, is serialized as JSON. Failures are
// returned as *models.TransportError; the raw response body is returned on
// success so callers can decode their own envelope.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	url := c.baseURL + path

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			slog.Error("gateway.Do: marshal request body failed", "method", method, "path", path, "error", err)
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		slog.Error("gateway.Do: create request failed", "method", method, "path", path, "error", err)
		return nil, &models.TransportError{Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("gateway.Do: issuing request", "method", method, "path", path, "body_set", body != nil)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("gateway.Do: request failed", "method", method, "path", path, "error", err)
		return nil, &models.TransportError{Message: err.Error()}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("gateway.Do: read response failed", "method", method, "path", path, "error", err)
		return nil, &models.TransportError{StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(payload))
		if len(msg) > maxErrorBodyBytes {
			msg = msg[:maxErrorBodyBytes]
		}
		slog.Error("gateway.Do: non-2xx response", "method", method, "path", path, "status", resp.StatusCode)
		return nil, &models.TransportError{StatusCode: resp.StatusCode, Message: msg}
	}

	slog.Debug("gateway.Do: request succeeded", "method", method, "path", path, "status", resp.StatusCode)
	return payload, nil
}

// Get issues a GET request to the given relative path.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post issues a POST request with a JSON body to the given relative path.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}
