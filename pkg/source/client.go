// Package source is the client for the remote item API: the current max item
// id and single items by id.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the public Hacker News API root.
const DefaultBaseURL = "https://hacker-news.firebaseio.com/v0"

// Endpoint labels for metrics.
const (
	endpointMaxItem = "maxitem"
	endpointItem    = "item"
)

// Prometheus metrics for source requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_requests_total",
		Help: "Total item API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hn_request_duration_seconds",
		Help:    "Item API request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_errors_total",
		Help: "Total item API errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, without trailing slash
	BaseURL string
}

// DefaultConfig returns the configuration for the public API.
func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL}
}

// Client talks to the item API through a Transport.
type Client struct {
	transport Transport
	baseURL   string
	logger    zerolog.Logger
}

// New creates a new source client.
func New(transport Transport, cfg Config) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	return &Client{
		transport: transport,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		logger:    log.With().Str("component", "source").Logger(),
	}, nil
}

// MaxID returns the current largest item id.
// A successful response whose body is not an integer is a SourceError.
func (c *Client) MaxID(ctx context.Context) (int64, error) {
	url := c.baseURL + "/maxitem.json"

	resp, err := c.get(ctx, endpointMaxItem, url)
	if err != nil {
		return 0, err
	}

	id, err := strconv.ParseInt(string(bytes.TrimSpace(resp.Body)), 10, 64)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return 0, &SourceError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassDecode,
			Message:    "max item body is not an integer",
			Err:        err,
		}
	}

	return id, nil
}

// FetchItem returns the raw JSON body for an item.
// It returns ErrItemNotFound when the API answers with an empty or null body.
func (c *Client) FetchItem(ctx context.Context, id int64) ([]byte, error) {
	url := fmt.Sprintf("%s/item/%d.json", c.baseURL, id)

	resp, err := c.get(ctx, endpointItem, url)
	if err != nil {
		return nil, err
	}

	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		c.logger.Debug().Int64("id", id).Msg("Item not found")
		return nil, ErrItemNotFound
	}

	return body, nil
}

// get executes one request and turns non-2xx statuses and transport
// failures into SourceErrors.
func (c *Client) get(ctx context.Context, endpoint, url string) (*Response, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	c.logger.Debug().Str("url", url).Msg("Fetching")

	resp, err := c.transport.Fetch(ctx, url)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()

		serr := &SourceError{
			URL:     url,
			Class:   ErrorClassNetwork,
			Message: "request failed",
			Err:     err,
		}
		var terr *TransportError
		if !errors.As(err, &terr) {
			serr.Err = &TransportError{URL: url, Err: err}
		}
		return nil, serr
	}

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		class := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Str("url", url).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Source request error")

		return nil, &SourceError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    http.StatusText(resp.StatusCode),
			RetryAfter: parseRetryAfter(resp.Header, time.Now()),
		}
	}

	if resp.Truncated {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		c.logger.Warn().
			Str("url", url).
			Int("bytes", len(resp.Body)).
			Msg("Response body exceeds size limit")

		return nil, &SourceError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassDecode,
			Message:    fmt.Sprintf("body larger than %d bytes", len(resp.Body)),
		}
	}

	return resp, nil
}

// classifyStatus categorizes a non-2xx status for observability and pacing.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	default:
		return ErrorClassServer
	}
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(header http.Header, now time.Time) time.Duration {
	if header == nil {
		return 0
	}
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
