package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Response is what a Transport returns for a completed request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Truncated is set when the body exceeded the size limit and was cut off
	Truncated bool
}

// Transport is the fetch capability the client is built on.
// Implementations return a *TransportError when no response was received.
type Transport interface {
	Fetch(ctx context.Context, url string) (*Response, error)
}

// TransportConfig holds HTTP transport settings.
type TransportConfig struct {
	// User-Agent header sent with every request
	UserAgent string

	// Per-request timeout (0 disables it)
	Timeout time.Duration

	// Upper bound on a response body; larger bodies are cut off and marked Truncated
	MaxBodyBytes int64
}

// DefaultTransportConfig returns a safe default configuration.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		UserAgent:    "myhn-collector/0.1",
		Timeout:      30 * time.Second,
		MaxBodyBytes: 1 << 20,
	}
}

// HTTPTransport implements Transport over net/http.
type HTTPTransport struct {
	httpClient *http.Client
	config     TransportConfig
}

// NewHTTPTransport creates an HTTP transport.
func NewHTTPTransport(cfg TransportConfig) *HTTPTransport {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultTransportConfig().MaxBodyBytes
	}
	return &HTTPTransport{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
	}
}

// Fetch performs a GET request and reads the body.
func (t *HTTPTransport) Fetch(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if t.config.UserAgent != "" {
		req.Header.Set("User-Agent", t.config.UserAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.config.MaxBodyBytes+1))
	if err != nil {
		return nil, &TransportError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}

	truncated := int64(len(body)) > t.config.MaxBodyBytes
	if truncated {
		body = body[:t.config.MaxBodyBytes]
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Truncated:  truncated,
	}, nil
}
