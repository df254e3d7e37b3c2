// Package client is a Go client for the whydah REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Setting is one configuration entry with value, enabled and type
type Setting map[string]any

// ServiceConfig maps setting names to settings
type ServiceConfig map[string]Setting

// Health is the server health report
type Health struct {
	Status      string `json:"status"`
	Services    int    `json:"services"`
	LastRefresh string `json:"last_refresh,omitempty"`
	Circuit     string `json:"circuit"`
	Error       string `json:"error,omitempty"`
}

// Config holds client configuration
type Config struct {
	Endpoint   string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultConfig returns a config pointing at a local server
func DefaultConfig() Config {
	return Config{
		Endpoint:   "http://localhost:5000",
		Timeout:    10 * time.Second,
		MaxRetries: 2,
	}
}

// Client talks to a whydah server
type Client struct {
	endpoint   string
	httpClient *http.Client
	maxRetries int
	tracer     trace.Tracer
}

// Option configures the Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTracerProvider sets where client spans go
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracer = tp.Tracer("whydah.client")
	}
}

// New creates a client
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0")
	}

	c := &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		tracer:     otel.Tracer("whydah.client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Services lists the cached service names
func (c *Client) Services(ctx context.Context) ([]string, error) {
	var services []string
	if err := c.do(ctx, http.MethodGet, "/config", nil, &services); err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	return services, nil
}

// GetConfig fetches the full config of a service
func (c *Client) GetConfig(ctx context.Context, service string) (ServiceConfig, error) {
	return c.GetFilteredConfig(ctx, service, "")
}

// GetFilteredConfig fetches the settings of a service matching filter, an
// expression over name, value, enabled and type.
func (c *Client) GetFilteredConfig(ctx context.Context, service, filter string) (ServiceConfig, error) {
	path := "/config/" + url.PathEscape(service)
	if filter != "" {
		path += "?filter=" + url.QueryEscape(filter)
	}

	var cfg ServiceConfig
	if err := c.do(ctx, http.MethodGet, path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("failed to get config for %s: %w", service, err)
	}
	return cfg, nil
}

// UpdateValue sets the value of a setting in the server cache
func (c *Client) UpdateValue(ctx context.Context, service, setting, value string) error {
	path := fmt.Sprintf("/config/%s/%s", url.PathEscape(service), url.PathEscape(setting))
	return c.update(ctx, path, value)
}

// UpdateProperty sets value, enabled or type of a setting in the server cache
func (c *Client) UpdateProperty(ctx context.Context, service, setting, property, value string) error {
	path := fmt.Sprintf("/config/%s/%s/%s",
		url.PathEscape(service), url.PathEscape(setting), url.PathEscape(property))
	return c.update(ctx, path, value)
}

func (c *Client) update(ctx context.Context, path, value string) error {
	body := map[string]string{"value": value}
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	return nil
}

// Refresh asks the server to pull the repository and reload
func (c *Client) Refresh(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/config/refresh", nil, nil); err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	return nil
}

// Health fetches the health report
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	return &h, nil
}

// do performs a request, retrying reads with a linear backoff
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	ctx, span := c.tracer.Start(ctx, "whydah."+strings.ToLower(method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.path", path)),
	)
	defer span.End()

	retries := 0
	if method == http.MethodGet {
		retries = c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 200 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.doOnce(ctx, method, path, body, result)
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newHTTPError(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func shouldRetry(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}
	// network errors, unless the caller gave up
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// HTTPError is a non-2xx response. Code and Message come from the server's
// JSON error body when it has one.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
	Context    map[string]any
}

func newHTTPError(status int, body []byte) *HTTPError {
	e := &HTTPError{StatusCode: status}

	var payload struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Context map[string]any `json:"context"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		e.Code = payload.Code
		e.Message = payload.Message
		e.Context = payload.Context
	} else {
		e.Message = strings.TrimSpace(string(body))
	}
	return e
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	return statusOf(err) == http.StatusNotFound
}

// IsInvalid reports whether the server rejected the request as malformed
func IsInvalid(err error) bool {
	return statusOf(err) == http.StatusBadRequest
}

func statusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
