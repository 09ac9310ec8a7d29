// Package httpclient wraps resty with the retry policy shared by the
// metadata API client and the HLS streaming client
package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// StatusError is returned for HTTP responses with a 4xx/5xx status
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP error %d for %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("HTTP error %d for %s: %s", e.StatusCode, e.URL, e.Body)
}

// IsStatus reports whether err carries the given HTTP status code
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// Client wraps resty.Client with retry logic and timeout handling
type Client struct {
	resty      *resty.Client
	maxRetries int
	timeout    time.Duration
	debug      bool
	logger     *slog.Logger
}

// ClientConfig holds configuration for the HTTP client
type ClientConfig struct {
	Timeout time.Duration
	// MaxRetries < 0 disables retries, 0 selects the default
	MaxRetries int
	UserAgent  string
	Debug      bool
	Logger     *slog.Logger
	Transport  http.RoundTripper
}

// DefaultClientConfig returns sensible defaults for HTTP client
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		UserAgent:  defaultUserAgent,
	}
}

// NewClient creates a new HTTP client with the given configuration
func NewClient(config ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	switch {
	case config.MaxRetries == 0:
		config.MaxRetries = 3
	case config.MaxRetries < 0:
		config.MaxRetries = 0
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}

	restyClient := resty.New().
		SetTimeout(config.Timeout).
		SetRetryCount(config.MaxRetries).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("User-Agent", config.UserAgent).
		SetHeader("Accept", "application/json, application/vnd.apple.mpegurl, */*").
		SetHeader("Accept-Language", "en-US,en;q=0.9")

	if config.Transport != nil {
		restyClient.SetTransport(config.Transport)
	}

	restyClient.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() >= 500 || r.StatusCode() == http.StatusTooManyRequests
	})

	client := &Client{
		resty:      restyClient,
		maxRetries: config.MaxRetries,
		timeout:    config.Timeout,
		debug:      config.Debug,
		logger:     config.Logger,
	}

	if config.Debug && config.Logger != nil {
		restyClient.OnBeforeRequest(func(c *resty.Client, r *resty.Request) error {
			client.logRequest(r)
			return nil
		})
		restyClient.OnAfterResponse(func(c *resty.Client, r *resty.Response) error {
			client.logResponse(r)
			return nil
		})
	}

	return client
}

// Get performs a GET request with context support
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*resty.Response, error) {
	req := c.resty.R().SetContext(ctx)
	for key, value := range headers {
		req.SetHeader(key, value)
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET request failed for %s: %w", url, err)
	}

	if resp.StatusCode() >= 400 {
		return resp, &StatusError{URL: url, StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 200)}
	}

	return resp, nil
}

// GetBytes performs a GET request and returns the raw body
func (c *Client) GetBytes(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	resp, err := c.Get(ctx, url, headers)
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// GetJSON performs a GET request and decodes the JSON body into result
func (c *Client) GetJSON(ctx context.Context, url string, result interface{}) error {
	resp, err := c.Get(ctx, url, map[string]string{"Accept": "application/json"})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body(), result); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", url, err)
	}
	return nil
}

// SetHeader sets a default header for all requests
func (c *Client) SetHeader(key, value string) {
	c.resty.SetHeader(key, value)
}

// SetHeaders sets multiple default headers
func (c *Client) SetHeaders(headers map[string]string) {
	c.resty.SetHeaders(headers)
}

// GetTimeout returns the configured timeout
func (c *Client) GetTimeout() time.Duration {
	return c.timeout
}

// GetMaxRetries returns the configured max retries
func (c *Client) GetMaxRetries() int {
	return c.maxRetries
}

func (c *Client) logRequest(r *resty.Request) {
	c.logger.Debug("HTTP Request",
		"method", r.Method,
		"url", r.URL,
	)
}

func (c *Client) logResponse(r *resty.Response) {
	c.logger.Debug("HTTP Response",
		"status", r.StatusCode(),
		"url", r.Request.URL,
		"time", r.Time(),
		"body", truncate(r.String(), 1000),
	)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}
